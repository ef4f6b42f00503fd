// ABOUTME: Store interfaces and data types for LISA backend persistence
// ABOUTME: Defines Role, BehaviorTemplate, Agent, AgentBuild, AgentActivity and friends

package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when a unique name constraint would be violated.
	ErrDuplicateName = errors.New("name already exists")

	// ErrRoleInUse is returned when deleting a role still referenced by active agents.
	ErrRoleInUse = errors.New("role is referenced by active agents")

	// ErrBuildInFlight is returned by CreateBuildExclusive when the agent already
	// has a pending or building row and force was not set.
	ErrBuildInFlight = errors.New("build already in progress")

	// ErrBuildActive is returned when deleting a build that is still pending or building.
	ErrBuildActive = errors.New("build is still in progress")
)

// OSType identifies the target operating system for templates and agents.
type OSType string

const (
	OSWindows OSType = "windows"
	OSLinux   OSType = "linux"
)

// ValidOSType reports whether s is a supported OS type.
func ValidOSType(s string) bool {
	return OSType(s) == OSWindows || OSType(s) == OSLinux
}

// AgentStatus enumerates the agent lifecycle states. The build orchestrator
// owns configured/building/built/error, the deployment orchestrator owns
// deploying/deployed/deployment_failed, and the heartbeat tracker owns
// active/stopping/offline.
type AgentStatus string

const (
	AgentConfigured   AgentStatus = "configured"
	AgentBuilding     AgentStatus = "building"
	AgentBuilt        AgentStatus = "built"
	AgentError        AgentStatus = "error"
	AgentDeploying    AgentStatus = "deploying"
	AgentDeployed     AgentStatus = "deployed"
	AgentDeployFailed AgentStatus = "deployment_failed"
	AgentActive       AgentStatus = "active"
	AgentStopping     AgentStatus = "stopping"
	AgentOffline      AgentStatus = "offline"
)

// BuildStatus enumerates the states of a single build attempt.
type BuildStatus string

const (
	BuildPending  BuildStatus = "pending"
	BuildBuilding BuildStatus = "building"
	BuildReady    BuildStatus = "ready"
	BuildFailed   BuildStatus = "failed"
)

// ActivityType tags entries in the agent activity log. The column is free-form;
// these are the types written by the core components.
type ActivityType string

const (
	ActivityHeartbeat       ActivityType = "heartbeat"
	ActivityStatistics      ActivityType = "statistics"
	ActivityDeployInitiated ActivityType = "deployment_initiated"
	ActivityDeploySuccess   ActivityType = "deployment_success"
	ActivityDeployError     ActivityType = "deployment_error"
)

// Role is a named job-function category grouping templates and agents.
type Role struct {
	ID          string
	Name        string
	Description string
	Category    string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BehaviorTemplate is a reusable behavior payload bound to a role and OS type.
// Name is unique within the owning role.
type BehaviorTemplate struct {
	ID           string
	Name         string
	RoleID       string
	OSType       OSType
	TemplateData map[string]any
	Version      string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Agent is a tracked simulated-user configuration. AgentID is the globally
// unique external identifier (USRnnnnnnn); it is generated once and never
// reused. LastSeen is nil until the first heartbeat arrives.
type Agent struct {
	ID              string
	AgentID         string
	Name            string
	RoleID          string
	TemplateID      string
	Status          AgentStatus
	OSType          OSType
	Config          map[string]any
	InjectionTarget string
	StealthLevel    string
	LastSeen        *time.Time
	LastActivity    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AgentBuild is one attempt to produce a deployable artifact for an agent.
// BuildConfig is a snapshot taken at trigger time; later agent or template
// edits never alter a historical build record.
type AgentBuild struct {
	ID          string
	AgentRef    string // agents.id owning this build
	BuildConfig map[string]any
	BinaryPath  string
	BinarySize  int64
	BuildStatus BuildStatus
	BuildLog    string
	BuildTime   int64 // seconds
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// BuildOutcome carries the terminal fields written when a build completes.
type BuildOutcome struct {
	Status      BuildStatus
	BinaryPath  string
	BinarySize  int64
	BuildLog    string
	BuildTime   int64
	CompletedAt time.Time
}

// AgentActivity is an append-only log entry for an agent. Entries are never
// updated or deleted by normal flow.
type AgentActivity struct {
	ID           string
	AgentRef     string // agents.id owning this activity
	ActivityType ActivityType
	ActivityData map[string]any
	Timestamp    time.Time
}

// ApplicationTemplate describes an application agents can simulate using.
type ApplicationTemplate struct {
	ID             string
	Name           string
	DisplayName    string
	Category       string
	Description    string
	Version        string
	Author         string
	TemplateConfig map[string]any
	OSType         OSType
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Server is an inventory record for a deployment target host.
type Server struct {
	ID          string
	Name        string
	Description string
	IP          string
	Login       string
	Credential  string
	OS          string
	CreatedAt   time.Time
}

// AgentFilter narrows ListAgents results. Zero values mean no filter.
type AgentFilter struct {
	Status AgentStatus
	OSType OSType
	RoleID string
	Limit  int
	Offset int
}

// BuildFilter narrows ListBuilds results. Zero values mean no filter.
type BuildFilter struct {
	Status   BuildStatus
	AgentRef string
	Limit    int
	Offset   int
}

// ActivityFilter narrows ListActivities results. Zero values mean no filter.
type ActivityFilter struct {
	AgentRef     string
	ActivityType ActivityType
	Limit        int
}

// TemplateFilter narrows ListTemplates results. Zero values mean no filter.
type TemplateFilter struct {
	OSType OSType
	RoleID string
	Limit  int
	Offset int
}

// StatusCounts maps an enumerated value to the number of rows carrying it.
type StatusCounts map[string]int

// RoleStore defines persistence operations for roles.
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleAny(ctx context.Context, id string) (*Role, error) // includes soft-deleted rows
	ListRoles(ctx context.Context, category string, limit, offset int) ([]*Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	SoftDeleteRole(ctx context.Context, id string) error
}

// TemplateStore defines persistence operations for behavior templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tmpl *BehaviorTemplate) error
	GetTemplate(ctx context.Context, id string) (*BehaviorTemplate, error)
	GetTemplateAny(ctx context.Context, id string) (*BehaviorTemplate, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*BehaviorTemplate, error)
}

// AgentStore defines persistence operations for agents. Status mutation is
// split into field-scoped methods, one per writing component.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByAgentID(ctx context.Context, agentID string) (*Agent, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]*Agent, error)

	// UpdateAgentStatus writes only the status column (build orchestrator).
	UpdateAgentStatus(ctx context.Context, id string, status AgentStatus) error

	// SetAgentDeployOutcome writes status, injection target, and last_seen
	// together (deployment orchestrator). injectionTarget and lastSeen are
	// only written on success paths where they are non-zero.
	SetAgentDeployOutcome(ctx context.Context, id string, status AgentStatus, injectionTarget string, lastSeen *time.Time) error

	// TouchAgentHeartbeat writes status, last_seen, and last_activity
	// (heartbeat tracker). An empty lastActivity leaves the column untouched.
	TouchAgentHeartbeat(ctx context.Context, id string, status AgentStatus, lastSeen time.Time, lastActivity string) error

	// ListAgentsSeenSince returns agents in the given status whose last_seen
	// is at or after the cutoff.
	ListAgentsSeenSince(ctx context.Context, status AgentStatus, cutoff time.Time) ([]*Agent, error)

	// ListAgentsStale returns agents in the given status whose last_seen is
	// before the cutoff (agents that never checked in are excluded).
	ListAgentsStale(ctx context.Context, status AgentStatus, cutoff time.Time) ([]*Agent, error)

	CountAgents(ctx context.Context) (int, error)
	CountAgentsByStatus(ctx context.Context) (StatusCounts, error)
	CountActiveAgentsForRole(ctx context.Context, roleID string) (int, error)
}

// BuildStore defines persistence operations for agent builds.
type BuildStore interface {
	// CreateBuildExclusive inserts the build after verifying no pending or
	// building row exists for the same agent. The check and insert run in one
	// transaction. With force set the check is skipped. Returns
	// ErrBuildInFlight on conflict.
	CreateBuildExclusive(ctx context.Context, build *AgentBuild, force bool) error

	GetBuild(ctx context.Context, id string) (*AgentBuild, error)
	ListBuilds(ctx context.Context, filter BuildFilter) ([]*AgentBuild, error)

	// MarkBuildBuilding moves a pending build into the building state.
	MarkBuildBuilding(ctx context.Context, id string) error

	// CompleteBuild writes the terminal fields of a finished build.
	CompleteBuild(ctx context.Context, id string, outcome BuildOutcome) error

	// DeleteBuild hard-deletes a build record. Returns ErrBuildActive if the
	// build is still pending or building.
	DeleteBuild(ctx context.Context, id string) error

	CountBuildsByStatus(ctx context.Context) (StatusCounts, error)
}

// ActivityStore defines persistence operations for the activity log.
type ActivityStore interface {
	AppendActivity(ctx context.Context, activity *AgentActivity) error
	ListActivities(ctx context.Context, filter ActivityFilter) ([]*AgentActivity, error)
}

// ApplicationStore defines persistence operations for application templates.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app *ApplicationTemplate) error
	GetApplication(ctx context.Context, id string) (*ApplicationTemplate, error)
	ListApplications(ctx context.Context, category string, osType OSType, limit, offset int) ([]*ApplicationTemplate, error)
	ListApplicationCategories(ctx context.Context) ([]string, error)
}

// ServerStore defines persistence operations for the deployment target inventory.
type ServerStore interface {
	CreateServer(ctx context.Context, srv *Server) error
	GetServerByName(ctx context.Context, name string) (*Server, error)
	ListServers(ctx context.Context) ([]*Server, error)
}

// Store is the full persistence surface of the backend.
type Store interface {
	RoleStore
	TemplateStore
	AgentStore
	BuildStore
	ActivityStore
	ApplicationStore
	ServerStore

	// Close releases any resources held by the store.
	Close() error
}
