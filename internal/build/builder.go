// ABOUTME: Builder abstraction and external-process implementation
// ABOUTME: ExecBuilder shells out to the agent-builder toolchain

package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Request describes a single build invocation.
type Request struct {
	// AgentID is the external agent identifier the artifact is built for.
	AgentID string

	// TargetOS selects the build target ("windows" or "linux").
	TargetOS string

	// ConfigPath is the JSON handoff file baked into the binary.
	ConfigPath string

	// OutputPath is where the finished binary must be written.
	OutputPath string
}

// Result carries the artifact location and build log of a successful build.
type Result struct {
	BinaryPath string
	BinarySize int64
	Log        string
}

// Builder produces an agent binary from a build request.
type Builder interface {
	Build(ctx context.Context, req Request) (*Result, error)
}

// ExecBuilder implements Builder by invoking an external builder executable.
// The builder is called as:
//
//	<path> --config <config> --output <output> --os <target>
//
// Combined stdout and stderr become the build log.
type ExecBuilder struct {
	path string
}

// NewExecBuilder creates an ExecBuilder for the given executable path.
func NewExecBuilder(path string) *ExecBuilder {
	return &ExecBuilder{path: path}
}

// Build runs the external builder and stats the produced artifact.
func (b *ExecBuilder) Build(ctx context.Context, req Request) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.path,
		"--config", req.ConfigPath,
		"--output", req.OutputPath,
		"--os", req.TargetOS,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("builder failed: %w: %s", err, string(out))
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("builder produced no artifact: %w: %s", err, string(out))
	}

	return &Result{
		BinaryPath: req.OutputPath,
		BinarySize: info.Size(),
		Log:        string(out),
	}, nil
}
