// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by sprintpilot.
const (
	// Session lifecycle events, fanned out to UI/chat consumers.
	SubjectSessionQueued    = "sessions.queued"
	SubjectSessionStarted   = "sessions.started"
	SubjectSessionPaused    = "sessions.paused"
	SubjectSessionCompleted = "sessions.completed"
	SubjectSessionFailed    = "sessions.failed"
	SubjectSessionAborted   = "sessions.aborted"

	// Remote sandbox runner protocol (orchestrator <-> worker).
	SubjectRunStart  = "runs.start"
	SubjectRunOutput = "runs.output" // runs.output.{sessionID} — streaming chunks
	SubjectRunResult = "runs.result" // runs.result.{sessionID} — exit status
	SubjectRunCancel = "runs.cancel"

	// Streaming log lines for live tailing.
	SubjectLogLine = "logs.line"
)
