package localexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
)

func TestBuildArgv(t *testing.T) {
	r := New("loa run --sprint {unit} --branch {branch}", "/tmp", 0)
	argv := r.buildArgv(sandbox.RunSpec{Unit: "sprint-3", Branch: "sprint/3"})
	want := []string{"loa", "run", "--sprint", "sprint-3", "--branch", "sprint/3"}
	if len(argv) != len(want) {
		t.Fatalf("got %v", argv)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %s, want %s", i, argv[i], want[i])
		}
	}
}

func TestStartStreamAndExit(t *testing.T) {
	// TargetID "." keeps cmd.Dir inside the existing temp dir.
	r := New("echo hello", t.TempDir(), time.Second)
	spec := sandbox.RunSpec{SessionID: "s-1", TargetID: "."}

	h, err := r.Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ch, err := r.Stream(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	for c := range ch {
		out.WriteString(c.Text)
	}
	if !strings.Contains(out.String(), "hello") {
		t.Errorf("expected echoed output, got %q", out.String())
	}

	st, err := r.Status(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if st.Running {
		t.Error("process should have exited")
	}
	if st.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", st.ExitCode)
	}
}

func TestStart_CommandNotFoundIsStartError(t *testing.T) {
	r := New("definitely-not-a-real-binary-xyz", t.TempDir(), time.Second)
	_, err := r.Start(context.Background(), sandbox.RunSpec{TargetID: "."})
	if err == nil {
		t.Fatal("expected start error")
	}
	var se *sandbox.StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected *sandbox.StartError, got %T", err)
	}
}

func TestStop_AlreadyExited(t *testing.T) {
	r := New("true", t.TempDir(), time.Second)
	h, err := r.Start(context.Background(), sandbox.RunSpec{TargetID: "."})
	if err != nil {
		t.Fatal(err)
	}
	ch, _ := r.Stream(context.Background(), h)
	for range ch {
	}
	if err := r.Stop(context.Background(), h); err != nil {
		t.Errorf("stopping an exited process must not error: %v", err)
	}
}

func TestStop_UndrainedOutput(t *testing.T) {
	// A consumer that walks away mid-stream (a tripped run) leaves the
	// output channel full; Stop must still reap the process promptly.
	r := New("seq 1 100000", t.TempDir(), time.Second)
	h, err := r.Start(context.Background(), sandbox.RunSpec{SessionID: "s-1", TargetID: "."})
	if err != nil {
		t.Fatal(err)
	}

	ch, err := r.Stream(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	<-ch // read one chunk, then abandon the stream

	done := make(chan error, 1)
	go func() { done <- r.Stop(context.Background(), h) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return; scanner goroutines still blocked")
	}

	st, err := r.Status(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if st.Running {
		t.Error("process still running after Stop")
	}
}

func TestLookup_UnknownHandle(t *testing.T) {
	r := New("true", t.TempDir(), time.Second)
	_, err := r.Status(context.Background(), &sandbox.Handle{ID: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown handle")
	}
}
