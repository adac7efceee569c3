// Package sandbox defines the execution environment port. A runner launches
// the coding-agent process for one session and transports its output without
// interpreting it.
package sandbox

import (
	"context"
	"fmt"
)

// RunSpec describes one execution to launch.
type RunSpec struct {
	SessionID string            `json:"session_id"`
	TargetID  string            `json:"target_id"`
	RepoURL   string            `json:"repo_url"`
	Branch    string            `json:"branch"`
	Unit      string            `json:"unit"`
	Resume    bool              `json:"resume"` // continue in an existing worktree
	Env       map[string]string `json:"env,omitempty"`
}

// Chunk is one piece of process output.
type Chunk struct {
	Stream string `json:"stream"` // "stdout" | "stderr"
	Text   string `json:"text"`
}

// Status reports whether the process is still running and, once it has
// exited, its exit code.
type Status struct {
	Running  bool `json:"running"`
	ExitCode int  `json:"exit_code"`
}

// Handle identifies a started execution within its runner.
type Handle struct {
	ID     string `json:"id"`
	Runner string `json:"runner"`
}

// StartError marks a failure to launch the environment at all. It is a setup
// fault the session service retries a bounded number of times — distinct from
// the process failing after start, which is run content for the breaker.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("sandbox start: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Runner is the port interface for an isolated execution environment.
type Runner interface {
	// Name returns the unique identifier for this runner (e.g. "local", "nats").
	Name() string

	// Start launches the agent process for the given spec.
	// A failure to launch is returned as a *StartError.
	Start(ctx context.Context, spec RunSpec) (*Handle, error)

	// Stream returns the process output as a finite sequence of chunks.
	// The channel closes when the process exits.
	Stream(ctx context.Context, h *Handle) (<-chan Chunk, error)

	// Status reports whether the process is running and its exit code.
	Status(ctx context.Context, h *Handle) (Status, error)

	// Stop terminates the process. Stopping an already-exited process is not
	// an error.
	Stop(ctx context.Context, h *Handle) error
}
