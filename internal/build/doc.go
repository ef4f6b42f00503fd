// Package build turns configured agents into deployable binaries. The
// orchestrator snapshots the agent's configuration, persists a build record,
// and runs the external builder in the background; at most one build per
// agent may be pending or building at a time unless the caller forces a
// rebuild.
package build
