// Package store provides persistent storage for the LISA backend using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces per entity family:
//
//   - RoleStore: simulated-user role definitions
//   - TemplateStore: behavior templates bound to roles
//   - AgentStore: agent records and their lifecycle status fields
//   - BuildStore: build attempts with the in-flight exclusivity invariant
//   - ActivityStore: append-only agent activity log
//   - ApplicationStore: application templates used by behavior payloads
//   - ServerStore: deployment target inventory
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries. MockStore provides
// an in-memory implementation for tests of higher layers.
//
// # Write ownership
//
// The agents row is shared by three independent writers (build orchestrator,
// deployment orchestrator, heartbeat tracker). Each writer uses a field-scoped
// update method (UpdateAgentStatus, SetAgentDeployOutcome, TouchAgentHeartbeat)
// so concurrent writers never clobber fields they do not own. There is no
// whole-row agent update.
//
// # Soft deletion
//
// Roles, behavior templates, and application templates are soft-deleted via an
// is_active flag. Read queries filter on the flag; references from existing
// agents stay readable after the referenced row is deactivated.
package store
