// Package agentcfg assembles the configuration document an agent binary
// reads at startup: its identity, role summary, behavior template data, and
// the callback settings it uses to heartbeat back to the backend. Documents
// render to JSON, YAML, or TOML for download, and a JSON handoff file is
// written into the build workspace so builds can bake the config into the
// binary.
package agentcfg
