// Package session defines the Session entity: one attempt to execute a unit
// of planned work (a sprint) against a target repository.
package session

import (
	"fmt"
	"time"

	"github.com/sprintpilot/sprintpilot/internal/domain"
)

// State is the lifecycle state of a session.
type State string

const (
	StateQueued     State = "queued"
	StateStarting   State = "starting"
	StateCloning    State = "cloning"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateCompleting State = "completing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateAborted    State = "aborted"
)

// Metrics accumulates execution statistics for a session.
type Metrics struct {
	FilesChanged int `json:"files_changed"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
	Cycles       int `json:"cycles"`
}

// Session represents a single execution attempt of a unit of work.
// It is owned exclusively by the session service and mutated only through
// state-machine-validated transitions. Terminal sessions are immutable.
type Session struct {
	ID           string            `json:"id"`
	TargetID     string            `json:"target_id"`
	Unit         string            `json:"unit"` // e.g. "sprint-3"
	Branch       string            `json:"branch"`
	State        State             `json:"state"`
	RequestedBy  string            `json:"requested_by,omitempty"`
	ChannelRef   string            `json:"channel_ref,omitempty"`
	PRURL        string            `json:"pr_url,omitempty"`
	Error        string            `json:"error,omitempty"`
	PauseReason  string            `json:"pause_reason,omitempty"`
	PauseContext map[string]string `json:"pause_context,omitempty"`
	Metrics      Metrics           `json:"metrics"`
	Revision     uint64            `json:"revision"`
	QueuedAt     time.Time         `json:"queued_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Validate checks the structural invariants of a session record.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if s.TargetID == "" {
		return fmt.Errorf("%w: target_id is required", domain.ErrValidation)
	}
	if s.Unit == "" {
		return fmt.Errorf("%w: unit is required", domain.ErrValidation)
	}
	if s.State != "" && !knownState(s.State) {
		return fmt.Errorf("%w: unknown state %q", domain.ErrValidation, s.State)
	}
	return nil
}

// Terminal reports whether the session has reached a terminal state.
func (s *Session) Terminal() bool {
	return TerminalState(s.State)
}

// StartRequest holds the fields needed to request a new session.
type StartRequest struct {
	TargetID    string `json:"target_id"`
	Unit        string `json:"unit"`
	Branch      string `json:"branch,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
	ChannelRef  string `json:"channel_ref,omitempty"`
}

// Validate checks the request has the required fields.
func (r *StartRequest) Validate() error {
	if r.TargetID == "" {
		return fmt.Errorf("%w: target_id is required", domain.ErrValidation)
	}
	if r.Unit == "" {
		return fmt.Errorf("%w: unit is required", domain.ErrValidation)
	}
	return nil
}
