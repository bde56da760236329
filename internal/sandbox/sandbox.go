// Package sandbox defines the cloud sandbox collaborator: an opaque
// capability the Orchestrator uses to create, populate, and tear down an
// isolated execution environment. The real implementation talks to an
// external cloud runtime; this package only defines the contract plus an
// in-memory mock used by tests and by the reference daemon when no real
// provider is configured.
package sandbox

import "context"

// CommandResult is what commands.Run returns.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	PID      int // set only for background commands
}

// RunOptions controls commands.Run.
type RunOptions struct {
	Background bool
}

// Handle is an opaque reference to a provisioned sandbox.
type Handle interface {
	// ID returns the opaque sandbox_id.
	ID() string

	// WriteFile idempotently overwrites path with bytes.
	WriteFile(ctx context.Context, path string, content []byte) error

	// Run executes cmd, blocking in the foreground case and returning a pid
	// immediately when opts.Background is set.
	Run(ctx context.Context, cmd string, opts RunOptions) (CommandResult, error)

	// Host returns the externally reachable URL routed to the given
	// internal port.
	Host(ctx context.Context, port int) (string, error)

	// Destroy best-effort terminates the sandbox. Idempotent.
	Destroy(ctx context.Context) error
}

// Provider creates sandboxes from a named template.
type Provider interface {
	Create(ctx context.Context, template string) (Handle, error)
}
