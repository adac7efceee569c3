// Package localexec implements the sandbox port by running the coding-agent
// CLI as a child process with piped output.
package localexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
)

const runnerName = "local"

// proc tracks one spawned agent process.
type proc struct {
	cmd      *exec.Cmd
	out      chan sandbox.Chunk
	done     chan struct{}
	quit     chan struct{} // closed by Stop; senders drop undrained output
	quitOnce sync.Once
	exitCode int
}

// Runner spawns agent processes locally. Safe for concurrent use.
type Runner struct {
	command     string // template with {unit} {branch} {repo} {session} placeholders
	workDir     string
	stopTimeout time.Duration

	// execCommand is swappable for testing.
	execCommand func(name string, args ...string) *exec.Cmd

	mu    sync.Mutex
	procs map[string]*proc
}

// New creates a local runner. command is the agent invocation template;
// workDir is the parent directory for per-target worktrees.
func New(command, workDir string, stopTimeout time.Duration) *Runner {
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &Runner{
		command:     command,
		workDir:     workDir,
		stopTimeout: stopTimeout,
		execCommand: exec.Command,
		procs:       make(map[string]*proc),
	}
}

func (r *Runner) Name() string { return runnerName }

// Start launches the agent process for the given spec.
func (r *Runner) Start(_ context.Context, spec sandbox.RunSpec) (*sandbox.Handle, error) {
	argv := r.buildArgv(spec)
	if len(argv) == 0 {
		return nil, &sandbox.StartError{Err: fmt.Errorf("empty sandbox command")}
	}

	// The process outlives the Start call; its lifetime is managed through
	// Stop, not through the caller's context.
	cmd := r.execCommand(argv[0], argv[1:]...)
	cmd.Dir = filepath.Join(r.workDir, spec.TargetID)
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &sandbox.StartError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &sandbox.StartError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &sandbox.StartError{Err: err}
	}

	p := &proc{
		cmd:  cmd,
		out:  make(chan sandbox.Chunk, 256),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.scanInto(&readers, "stdout", stdout)
	go p.scanInto(&readers, "stderr", stderr)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
		}
		close(p.out)
		close(p.done)
	}()

	h := &sandbox.Handle{ID: uuid.NewString(), Runner: runnerName}
	r.mu.Lock()
	r.procs[h.ID] = p
	r.mu.Unlock()
	return h, nil
}

// Stream returns the process output channel. It closes when the process exits.
func (r *Runner) Stream(_ context.Context, h *sandbox.Handle) (<-chan sandbox.Chunk, error) {
	p, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	return p.out, nil
}

// Status reports whether the process is still running.
func (r *Runner) Status(_ context.Context, h *sandbox.Handle) (sandbox.Status, error) {
	p, err := r.lookup(h)
	if err != nil {
		return sandbox.Status{}, err
	}
	select {
	case <-p.done:
		return sandbox.Status{Running: false, ExitCode: p.exitCode}, nil
	default:
		return sandbox.Status{Running: true}, nil
	}
}

// Stop terminates the process: SIGTERM first, SIGKILL after the stop timeout.
func (r *Runner) Stop(ctx context.Context, h *sandbox.Handle) error {
	p, err := r.lookup(h)
	if err != nil {
		return err
	}

	// The consumer may have stopped draining the stream (a tripped run, for
	// example). Release any scanner blocked on a send so the pipes drain and
	// the process can actually exit.
	p.quitOnce.Do(func() { close(p.quit) })

	select {
	case <-p.done:
		return nil // already exited
	default:
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(r.stopTimeout):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	case <-ctx.Done():
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	}

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("sandbox %s: process did not exit after kill", h.ID)
	}
	return nil
}

func (r *Runner) lookup(h *sandbox.Handle) (*proc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[h.ID]
	if !ok {
		return nil, fmt.Errorf("sandbox: unknown handle %q", h.ID)
	}
	return p, nil
}

// buildArgv substitutes spec fields into the command template and splits it
// on whitespace. Quoting is not supported; templates are trusted config.
func (r *Runner) buildArgv(spec sandbox.RunSpec) []string {
	repl := strings.NewReplacer(
		"{unit}", spec.Unit,
		"{branch}", spec.Branch,
		"{repo}", spec.RepoURL,
		"{session}", spec.SessionID,
	)
	return strings.Fields(repl.Replace(r.command))
}

func (p *proc) scanInto(wg *sync.WaitGroup, stream string, rd io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		select {
		case p.out <- sandbox.Chunk{Stream: stream, Text: sc.Text() + "\n"}:
		case <-p.quit:
			// Consumer is gone. Keep reading so the pipe empties and the
			// child is not blocked on a full buffer, but drop the output.
			for sc.Scan() {
			}
			return
		}
	}
}
