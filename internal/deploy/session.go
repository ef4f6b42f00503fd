// ABOUTME: Transport abstraction for deployment targets
// ABOUTME: Session runs commands and pushes files; Dialer opens sessions

package deploy

import (
	"context"
	"io"
	"os"
)

// Target identifies a remote host and the credentials used to reach it.
// Either Password or KeyPath must be set.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
	KeyPath  string
}

// Session is an open connection to a deployment target.
type Session interface {
	// Run executes a command and returns its combined output. A non-zero
	// exit status is an error.
	Run(ctx context.Context, cmd string) (string, error)

	// Put writes the contents of r to the remote path with the given mode.
	Put(ctx context.Context, r io.Reader, remotePath string, mode os.FileMode) error

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer opens sessions to deployment targets.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Session, error)
}
