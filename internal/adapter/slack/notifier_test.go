package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sprintpilot/sprintpilot/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier("")
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendRendersSessionContext(t *testing.T) {
	var payload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Sprint complete",
		Message: "Draft PR opened",
		Level:   "success",
		Source:  "session.completed",
		Channel: "#deploys",
		Meta: map[string]string{
			"session": "sess-1",
			"target":  "repo-a",
			"unit":    "sprint-3",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg slackMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.Channel != "#deploys" {
		t.Errorf("channel = %q, want #deploys", msg.Channel)
	}

	var fieldText string
	for _, b := range msg.Blocks {
		for _, f := range b.Fields {
			fieldText += f.Text + "\n"
		}
	}
	for _, want := range []string{"sess-1", "repo-a", "sprint-3"} {
		if !strings.Contains(fieldText, want) {
			t.Errorf("fields missing %q in %q", want, fieldText)
		}
	}
}

func TestSendLevelPrefix(t *testing.T) {
	var payload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title: "Loop detected", Message: "paused", Level: "warning",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(payload), "[WARN] Loop detected") {
		t.Errorf("payload missing level prefix: %s", payload)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{Title: "Test", Message: "m", Level: "info"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}
