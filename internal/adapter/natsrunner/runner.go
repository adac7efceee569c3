// Package natsrunner implements the sandbox port over the message queue.
// The agent process runs on a remote worker; this adapter publishes a start
// request and relays the worker's streamed output and exit report back to
// the session service.
package natsrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sprintpilot/sprintpilot/internal/port/messagequeue"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
)

const outputBuffer = 256

type run struct {
	out      chan sandbox.Chunk
	cancels  []func()
	exitCode int
	running  bool
}

// Runner implements sandbox.Runner by delegating execution to a remote
// worker over the message queue.
type Runner struct {
	queue messagequeue.Queue

	mu   sync.Mutex
	runs map[string]*run
}

// New creates a Runner that speaks the runs.* protocol over the given queue.
func New(queue messagequeue.Queue) *Runner {
	return &Runner{
		queue: queue,
		runs:  make(map[string]*run),
	}
}

func (r *Runner) Name() string {
	return "nats"
}

// Start publishes a run request and subscribes to the worker's output and
// result subjects before the request goes out, so no early chunks are lost.
func (r *Runner) Start(ctx context.Context, spec sandbox.RunSpec) (*sandbox.Handle, error) {
	rn := &run{
		out:     make(chan sandbox.Chunk, outputBuffer),
		running: true,
	}

	r.mu.Lock()
	if _, exists := r.runs[spec.SessionID]; exists {
		r.mu.Unlock()
		return nil, &sandbox.StartError{Err: fmt.Errorf("session %s already running", spec.SessionID)}
	}
	r.runs[spec.SessionID] = rn
	r.mu.Unlock()

	outputSubject := messagequeue.SubjectRunOutput + "." + spec.SessionID
	resultSubject := messagequeue.SubjectRunResult + "." + spec.SessionID

	cancelOutput, err := r.queue.Subscribe(ctx, outputSubject, func(_ string, data []byte) error {
		var payload messagequeue.RunOutputPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode run output: %w", err)
		}
		r.emit(spec.SessionID, sandbox.Chunk{Stream: payload.Stream, Text: payload.Text})
		return nil
	})
	if err != nil {
		r.remove(spec.SessionID)
		return nil, &sandbox.StartError{Err: fmt.Errorf("subscribe %s: %w", outputSubject, err)}
	}
	rn.cancels = append(rn.cancels, cancelOutput)

	cancelResult, err := r.queue.Subscribe(ctx, resultSubject, func(_ string, data []byte) error {
		var payload messagequeue.RunResultPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode run result: %w", err)
		}
		r.finish(spec.SessionID, payload.ExitCode)
		return nil
	})
	if err != nil {
		cancelOutput()
		r.remove(spec.SessionID)
		return nil, &sandbox.StartError{Err: fmt.Errorf("subscribe %s: %w", resultSubject, err)}
	}
	rn.cancels = append(rn.cancels, cancelResult)

	startPayload, err := json.Marshal(messagequeue.RunStartPayload{
		SessionID: spec.SessionID,
		TargetID:  spec.TargetID,
		RepoURL:   spec.RepoURL,
		Branch:    spec.Branch,
		Unit:      spec.Unit,
		Resume:    spec.Resume,
		Env:       spec.Env,
	})
	if err != nil {
		r.teardown(spec.SessionID)
		return nil, &sandbox.StartError{Err: err}
	}

	if err := r.queue.Publish(ctx, messagequeue.SubjectRunStart, startPayload); err != nil {
		r.teardown(spec.SessionID)
		return nil, &sandbox.StartError{Err: err}
	}

	return &sandbox.Handle{ID: spec.SessionID, Runner: r.Name()}, nil
}

func (r *Runner) Stream(_ context.Context, h *sandbox.Handle) (<-chan sandbox.Chunk, error) {
	r.mu.Lock()
	rn, ok := r.runs[h.ID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("natsrunner: unknown run %s", h.ID)
	}
	return rn.out, nil
}

func (r *Runner) Status(_ context.Context, h *sandbox.Handle) (sandbox.Status, error) {
	r.mu.Lock()
	rn, ok := r.runs[h.ID]
	r.mu.Unlock()
	if !ok {
		return sandbox.Status{}, fmt.Errorf("natsrunner: unknown run %s", h.ID)
	}
	return sandbox.Status{Running: rn.running, ExitCode: rn.exitCode}, nil
}

// Stop asks the remote worker to cancel the run. Stopping a run that has
// already finished is a no-op.
func (r *Runner) Stop(ctx context.Context, h *sandbox.Handle) error {
	r.mu.Lock()
	rn, ok := r.runs[h.ID]
	running := ok && rn.running
	r.mu.Unlock()
	if !running {
		return nil
	}

	payload, err := json.Marshal(messagequeue.RunCancelPayload{SessionID: h.ID})
	if err != nil {
		return err
	}
	return r.queue.Publish(ctx, messagequeue.SubjectRunCancel, payload)
}

// emit forwards one output chunk to the session's stream. Chunks arriving
// after the run finished, or when the consumer has fallen too far behind,
// are dropped. Sends happen under the mutex so finish cannot close the
// channel mid-send.
func (r *Runner) emit(sessionID string, chunk sandbox.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.runs[sessionID]
	if !ok || !rn.running {
		return
	}
	select {
	case rn.out <- chunk:
	default:
		slog.Warn("run output buffer full, dropping chunk", "session_id", sessionID)
	}
}

// finish records the exit code and closes the output stream. Safe to call
// more than once for the same session.
func (r *Runner) finish(sessionID string, exitCode int) {
	r.mu.Lock()
	rn, ok := r.runs[sessionID]
	if !ok || !rn.running {
		r.mu.Unlock()
		return
	}
	rn.running = false
	rn.exitCode = exitCode
	close(rn.out)
	cancels := rn.cancels
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (r *Runner) teardown(sessionID string) {
	r.mu.Lock()
	rn, ok := r.runs[sessionID]
	delete(r.runs, sessionID)
	r.mu.Unlock()
	if ok {
		for _, cancel := range rn.cancels {
			cancel()
		}
	}
}

func (r *Runner) remove(sessionID string) {
	r.mu.Lock()
	delete(r.runs, sessionID)
	r.mu.Unlock()
}
