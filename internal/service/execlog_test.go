package service

import (
	"context"
	"strings"
	"testing"

	"github.com/sprintpilot/sprintpilot/internal/adapter/memstore"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
)

func TestExecLog_AppendAndRead(t *testing.T) {
	svc := NewExecLogService(memstore.New(), nil)
	ctx := context.Background()

	for _, line := range []string{"cycle 1", "2 files changed", "cycle 2"} {
		if err := svc.Append(ctx, "sess-1", sandbox.Chunk{Stream: "stdout", Text: line}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := svc.Append(ctx, "sess-1", sandbox.Chunk{Stream: "stderr", Text: "warning: deprecation"}); err != nil {
		t.Fatalf("Append stderr: %v", err)
	}

	lines, err := svc.Read(ctx, "sess-1", "stdout")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(lines) != 3 || lines[0] != "cycle 1" || lines[2] != "cycle 2" {
		t.Fatalf("stdout = %v, want the three lines in order", lines)
	}

	stderr, err := svc.Read(ctx, "sess-1", "stderr")
	if err != nil {
		t.Fatalf("Read stderr: %v", err)
	}
	if len(stderr) != 1 {
		t.Fatalf("stderr = %v, want one line", stderr)
	}
}

func TestExecLog_Tail(t *testing.T) {
	svc := NewExecLogService(memstore.New(), nil)
	ctx := context.Background()

	for _, line := range []string{"a", "b", "c", "d"} {
		if err := svc.Append(ctx, "sess-1", sandbox.Chunk{Stream: "stdout", Text: line}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tail, err := svc.Tail(ctx, "sess-1", "stdout", 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(tail) != 2 || tail[0] != "c" || tail[1] != "d" {
		t.Fatalf("Tail = %v, want [c d]", tail)
	}
}

func TestExecLog_CounterReseedsAfterRestart(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	first := NewExecLogService(store, nil)
	for _, line := range []string{"one", "two"} {
		if err := first.Append(ctx, "sess-1", sandbox.Chunk{Stream: "stdout", Text: line}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// A fresh service over the same store must continue the sequence,
	// not overwrite it.
	second := NewExecLogService(store, nil)
	if err := second.Append(ctx, "sess-1", sandbox.Chunk{Stream: "stdout", Text: "three"}); err != nil {
		t.Fatalf("Append after restart: %v", err)
	}

	lines, err := second.Read(ctx, "sess-1", "stdout")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(lines) != 3 || lines[2] != "three" {
		t.Fatalf("lines = %v, want [one two three]", lines)
	}
}

func TestExecLog_Text(t *testing.T) {
	svc := NewExecLogService(memstore.New(), nil)
	ctx := context.Background()

	for _, line := range []string{"cycle 1", "done"} {
		if err := svc.Append(ctx, "sess-1", sandbox.Chunk{Stream: "stdout", Text: line}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	text, err := svc.Text(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "cycle 1\ndone\n" {
		t.Fatalf("Text = %q", text)
	}
	if !strings.HasSuffix(text, "\n") {
		t.Error("Text missing trailing newline")
	}
}
