package natsrunner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/sprintpilot/sprintpilot/internal/port/messagequeue"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
)

// fakeQueue is an in-process messagequeue.Queue that dispatches published
// messages synchronously to exact-subject subscribers.
type fakeQueue struct {
	mu       sync.Mutex
	handlers map[string][]messagequeue.Handler
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[string][]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	q.mu.Lock()
	handlers := append([]messagequeue.Handler(nil), q.handlers[subject]...)
	q.mu.Unlock()
	for _, h := range handlers {
		if err := h(subject, data); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	q.handlers[subject] = append(q.handlers[subject], handler)
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

// fakeWorker answers runs.start by streaming a few output chunks and then
// reporting an exit code.
func startFakeWorker(t *testing.T, q *fakeQueue, lines []string, exitCode int) {
	t.Helper()
	_, err := q.Subscribe(context.Background(), messagequeue.SubjectRunStart, func(_ string, data []byte) error {
		var start messagequeue.RunStartPayload
		if err := json.Unmarshal(data, &start); err != nil {
			return err
		}
		for _, line := range lines {
			out, _ := json.Marshal(messagequeue.RunOutputPayload{
				SessionID: start.SessionID,
				Stream:    "stdout",
				Text:      line,
			})
			if err := q.Publish(context.Background(), messagequeue.SubjectRunOutput+"."+start.SessionID, out); err != nil {
				return err
			}
		}
		result, _ := json.Marshal(messagequeue.RunResultPayload{
			SessionID: start.SessionID,
			ExitCode:  exitCode,
		})
		return q.Publish(context.Background(), messagequeue.SubjectRunResult+"."+start.SessionID, result)
	})
	if err != nil {
		t.Fatalf("subscribe worker: %v", err)
	}
}

func TestRunner_StreamsOutputAndExit(t *testing.T) {
	q := newFakeQueue()
	startFakeWorker(t, q, []string{"cycle 1", "2 files changed"}, 0)

	r := New(q)
	ctx := context.Background()

	h, err := r.Start(ctx, sandbox.RunSpec{
		SessionID: "sess-1",
		TargetID:  "repo-a",
		RepoURL:   "https://example.com/repo-a.git",
		Branch:    "sprint/auth",
		Unit:      "auth",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.Runner != "nats" {
		t.Errorf("Runner = %q, want %q", h.Runner, "nats")
	}

	stream, err := r.Stream(ctx, h)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var got []string
	for chunk := range stream {
		got = append(got, chunk.Text)
	}
	if len(got) != 2 || got[0] != "cycle 1" || got[1] != "2 files changed" {
		t.Errorf("chunks = %v, want [cycle 1, 2 files changed]", got)
	}

	status, err := r.Status(ctx, h)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Error("Running = true after result, want false")
	}
	if status.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", status.ExitCode)
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	q := newFakeQueue()
	startFakeWorker(t, q, []string{"fatal: something broke"}, 1)

	r := New(q)
	ctx := context.Background()

	h, err := r.Start(ctx, sandbox.RunSpec{SessionID: "sess-2", TargetID: "repo-a", Unit: "auth"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := r.Stream(ctx, h)
	for range stream {
	}

	status, _ := r.Status(ctx, h)
	if status.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", status.ExitCode)
	}
}

func TestRunner_DuplicateStartRejected(t *testing.T) {
	q := newFakeQueue()
	r := New(q)
	ctx := context.Background()

	if _, err := r.Start(ctx, sandbox.RunSpec{SessionID: "sess-3", TargetID: "repo-a", Unit: "auth"}); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	_, err := r.Start(ctx, sandbox.RunSpec{SessionID: "sess-3", TargetID: "repo-a", Unit: "auth"})
	var startErr *sandbox.StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("second Start error = %v, want *sandbox.StartError", err)
	}
}

func TestRunner_StopAfterExitIsNoop(t *testing.T) {
	q := newFakeQueue()
	startFakeWorker(t, q, nil, 0)

	r := New(q)
	ctx := context.Background()

	h, err := r.Start(ctx, sandbox.RunSpec{SessionID: "sess-4", TargetID: "repo-a", Unit: "auth"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stream, _ := r.Stream(ctx, h)
	for range stream {
	}

	if err := r.Stop(ctx, h); err != nil {
		t.Errorf("Stop after exit: %v", err)
	}
}
