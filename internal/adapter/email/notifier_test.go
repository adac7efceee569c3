package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/sprintpilot/sprintpilot/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier(SMTPConfig{})
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	n := NewNotifier(SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "pilot@example.com",
		To:   "team@example.com",
	})
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Sprint failed",
		Message: "agent exited with code 2",
		Level:   "error",
		Source:  "session.failed",
		Meta:    map[string]string{"session": "sess-9", "target": "repo-b", "unit": "sprint-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "pilot@example.com" || len(gotTo) != 1 || gotTo[0] != "team@example.com" {
		t.Errorf("from/to = %q %v", gotFrom, gotTo)
	}

	msg := string(gotMsg)
	for _, want := range []string{
		"Subject: [error] Sprint failed",
		"agent exited with code 2",
		"session: sess-9",
		"target: repo-b",
		"Source: session.failed",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSendNoAuthWithoutPassword(t *testing.T) {
	var gotAuth smtp.Auth
	n := NewNotifier(SMTPConfig{Host: "h", Port: 25, From: "a@b", To: "c@d"})
	n.sendMail = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		gotAuth = a
		return nil
	}

	if err := n.Send(context.Background(), notifier.Notification{Title: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != nil {
		t.Error("expected nil auth when no password is configured")
	}
}
