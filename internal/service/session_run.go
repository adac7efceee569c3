package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/sprintpilot/sprintpilot/internal/adapter/otel"
	"github.com/sprintpilot/sprintpilot/internal/domain/session"
	"github.com/sprintpilot/sprintpilot/internal/port/gitprovider"
	"github.com/sprintpilot/sprintpilot/internal/port/messagequeue"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
	"github.com/sprintpilot/sprintpilot/internal/resilience"
)

// defaultDetectInterval is how often a silent run is re-classified so the
// wall-clock trip does not depend on output arriving.
const defaultDetectInterval = time.Minute

// run drives one session from its admitted slot to a terminal state (or to
// paused). It is the only writer of the session record while it executes;
// a racing Abort surfaces here as a *session.TransitionError and ends the
// loop without further writes.
func (s *SessionService) run(id string, resume bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live := &liveRun{cancel: cancel}
	s.mu.Lock()
	s.live[id] = live
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.live, id)
		s.mu.Unlock()
	}()

	sess, _, err := s.load(ctx, id)
	if err != nil {
		slog.Error("run: load session failed", "session_id", id, "error", err)
		return
	}

	ctx, span := otel.StartSessionSpan(ctx, sess.ID, sess.TargetID, sess.Unit)
	defer span.End()

	t, err := s.deps.Targets.Get(ctx, sess.TargetID)
	if err != nil {
		s.fail(ctx, id, fmt.Errorf("target lookup: %w", err))
		return
	}

	if resume {
		// A resumed run detects over a fresh window. Re-seeding the buffer
		// with the pre-pause log would re-trip on the very lines the pause
		// was about.
		live.bufMu.Lock()
		live.buf.Reset()
		live.bufMu.Unlock()
	} else {
		// Recovery re-enters from the last persisted state; transitions
		// already recorded before a restart are not repeated.
		st := sess.State
		if st == session.StateQueued {
			if !s.step(ctx, id, session.StateStarting) {
				return
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.SessionsStarted.Add(ctx, 1)
			}
			st = session.StateStarting
		}
		if st == session.StateStarting {
			if !s.step(ctx, id, session.StateCloning) {
				return
			}
		}
	}

	spec := sandbox.RunSpec{
		SessionID: sess.ID,
		TargetID:  sess.TargetID,
		RepoURL:   t.RepoURL,
		Branch:    sess.Branch,
		Unit:      sess.Unit,
		// A run that already reached running keeps its workspace; the agent
		// continues there instead of starting the unit over.
		Resume: resume || sess.State == session.StateRunning,
	}
	if s.deps.RunEnv != nil {
		spec.Env = s.deps.RunEnv()
	}

	handle, err := s.startSandbox(ctx, spec)
	if err != nil {
		if resume {
			// Stay paused; the caller sees the session unchanged and can retry.
			slog.Error("resume: sandbox start failed", "session_id", id, "error", err)
			s.notifyByID(ctx, id, "error", "Resume failed",
				fmt.Sprintf("Sandbox failed to start: %v", err))
			return
		}
		s.fail(ctx, id, err)
		return
	}

	s.mu.Lock()
	live.handle = handle
	s.mu.Unlock()

	now := time.Now().UTC()
	var wasRunning bool
	sess, err = s.update(ctx, id, func(sess *session.Session) error {
		// Re-entering running after a restart is a no-op transition.
		wasRunning = sess.State == session.StateRunning
		if !wasRunning {
			if err := sess.Transition(session.StateRunning); err != nil {
				return err
			}
		}
		if sess.StartedAt == nil {
			sess.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		s.abandonRun(ctx, id, live, err)
		return
	}
	startedAt := *sess.StartedAt

	if !wasRunning {
		s.publishEvent(messagequeue.SubjectSessionStarted, sess, "")
		s.notify(sess, "info", "Session started",
			fmt.Sprintf("Unit %s is running on %s (branch %s).", sess.Unit, sess.TargetID, sess.Branch))
	}

	stream, err := s.deps.Runner.Stream(ctx, handle)
	if err != nil {
		s.fail(ctx, id, fmt.Errorf("sandbox stream: %w", err))
		return
	}

	interval := s.deps.DetectInterval
	if interval <= 0 {
		interval = defaultDetectInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var chunk sandbox.Chunk
		var open bool
		select {
		case chunk, open = <-stream:
		case <-ticker.C:
			// A silent agent still burns wall clock; check without waiting
			// for new output.
			if cls := s.deps.Detector.Detect(live.logText(), startedAt); cls.Tripped {
				s.pause(ctx, id, live, cls.Reason, cls.Context)
				return
			}
			continue
		}
		if !open {
			break
		}

		text := live.appendLog(chunk.Text)
		if err := s.deps.Logs.Append(ctx, id, chunk); err != nil {
			slog.Error("log append failed", "session_id", id, "error", err)
		}

		if cls := s.deps.Detector.Detect(text, startedAt); cls.Tripped {
			s.pause(ctx, id, live, cls.Reason, cls.Context)
			return
		}
	}

	status, err := s.deps.Runner.Status(ctx, handle)
	if err != nil {
		s.fail(ctx, id, fmt.Errorf("sandbox status: %w", err))
		return
	}

	text := live.logText()
	metrics := parseRunMetrics(text)
	metrics.Cycles = s.deps.Detector.CycleCount(text)

	if status.ExitCode == 0 && s.deps.Detector.IsSuccessfulCompletion(text) {
		s.complete(ctx, id, t.DefaultBranch, t.RepoURL, metrics)
		return
	}

	s.failWithMetrics(ctx, id, fmt.Errorf("agent exited with code %d without completing", status.ExitCode), metrics)
}

// step transitions the session and publishes the matching event. It returns
// false when the transition is illegal, which means another writer (abort)
// got there first.
func (s *SessionService) step(ctx context.Context, id string, to session.State) bool {
	_, err := s.update(ctx, id, func(sess *session.Session) error {
		return sess.Transition(to)
	})
	if err != nil {
		var te *session.TransitionError
		if errors.As(err, &te) {
			slog.Info("run superseded", "session_id", id, "attempted", to, "state", te.From)
		} else {
			slog.Error("run: transition failed", "session_id", id, "to", to, "error", err)
		}
		return false
	}
	_, phaseSpan := otel.StartPhaseSpan(ctx, id, string(to))
	phaseSpan.End()
	return true
}

// startSandbox launches the agent process, retrying bounded times on setup
// faults. Failures that are not *sandbox.StartError abort immediately.
func (s *SessionService) startSandbox(ctx context.Context, spec sandbox.RunSpec) (*sandbox.Handle, error) {
	cfg := s.deps.Retry
	cfg.MaxAttempts = s.deps.StartRetries + 1

	return resilience.Retry(ctx, cfg, func() (*sandbox.Handle, error) {
		handle, err := s.deps.Runner.Start(ctx, spec)
		if err != nil {
			var se *sandbox.StartError
			if errors.As(err, &se) {
				return nil, err // transient setup fault, retry
			}
			return nil, resilience.Permanent(err)
		}
		return handle, nil
	})
}

// pause trips the circuit breaker: the sandbox stops, the session parks in
// paused with the trip classification attached, and the target's slot stays
// held until a human resumes or aborts.
func (s *SessionService) pause(ctx context.Context, id string, live *liveRun, reason string, trip map[string]string) {
	if live.handle != nil {
		if err := s.deps.Runner.Stop(ctx, live.handle); err != nil {
			slog.Error("pause: sandbox stop failed", "session_id", id, "error", err)
		}
	}

	sess, err := s.update(ctx, id, func(sess *session.Session) error {
		if err := sess.Transition(session.StatePaused); err != nil {
			return err
		}
		sess.PauseReason = reason
		sess.PauseContext = trip
		return nil
	})
	if err != nil {
		s.abandonRun(ctx, id, live, err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsPaused.Add(ctx, 1)
	}
	s.publishEvent(messagequeue.SubjectSessionPaused, sess, reason)
	s.notify(sess, "warning", "Session paused",
		fmt.Sprintf("Circuit breaker tripped on %s/%s: %s", sess.TargetID, sess.Unit, reason))

	slog.Warn("session paused", "session_id", id, "reason", reason)
}

// complete drives running -> completing -> completed. The completing record
// is persisted before the draft PR call so a crash in between is visible.
func (s *SessionService) complete(ctx context.Context, id, baseBranch, repoURL string, metrics session.Metrics) {
	sess, err := s.update(ctx, id, func(sess *session.Session) error {
		if err := sess.Transition(session.StateCompleting); err != nil {
			return err
		}
		sess.Metrics = metrics
		return nil
	})
	if err != nil {
		var te *session.TransitionError
		if errors.As(err, &te) {
			slog.Info("run superseded", "session_id", id, "attempted", session.StateCompleting, "state", te.From)
			return
		}
		slog.Error("complete: transition failed", "session_id", id, "error", err)
		return
	}

	slug, err := gitprovider.RepoSlug(repoURL)
	if err != nil {
		s.failWithMetrics(ctx, id, fmt.Errorf("derive repo slug: %w", err), metrics)
		return
	}

	prURL, err := s.deps.Provider.OpenDraftPR(ctx, gitprovider.PullRequest{
		Repo:  slug,
		Head:  sess.Branch,
		Base:  baseBranch,
		Title: fmt.Sprintf("Sprint: %s", sess.Unit),
		Body: fmt.Sprintf("Automated run of unit %s.\n\n%d files changed, +%d/-%d lines over %d cycles.",
			sess.Unit, metrics.FilesChanged, metrics.LinesAdded, metrics.LinesRemoved, metrics.Cycles),
	})
	if err != nil {
		s.failWithMetrics(ctx, id, fmt.Errorf("open draft PR: %w", err), metrics)
		return
	}

	now := time.Now().UTC()
	sess, err = s.update(ctx, id, func(sess *session.Session) error {
		if err := sess.Transition(session.StateCompleted); err != nil {
			return err
		}
		sess.PRURL = prURL
		sess.CompletedAt = &now
		return nil
	})
	if err != nil {
		slog.Error("complete: final transition failed", "session_id", id, "error", err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsCompleted.Add(ctx, 1)
		if sess.StartedAt != nil {
			s.deps.Metrics.SessionDuration.Record(ctx, now.Sub(*sess.StartedAt).Seconds())
		}
	}
	s.publishEvent(messagequeue.SubjectSessionCompleted, sess, "")
	s.notify(sess, "success", "Session completed",
		fmt.Sprintf("Unit %s on %s finished. Draft PR: %s", sess.Unit, sess.TargetID, prURL))

	slog.Info("session completed", "session_id", id, "pr_url", prURL)
	s.releaseAndPromote(ctx, sess.TargetID, id)
}

// fail marks the session failed and releases its slot.
func (s *SessionService) fail(ctx context.Context, id string, cause error) {
	s.failWithMetrics(ctx, id, cause, session.Metrics{})
}

func (s *SessionService) failWithMetrics(ctx context.Context, id string, cause error, metrics session.Metrics) {
	now := time.Now().UTC()
	sess, err := s.update(ctx, id, func(sess *session.Session) error {
		if err := sess.Transition(session.StateFailed); err != nil {
			return err
		}
		sess.Error = cause.Error()
		if metrics != (session.Metrics{}) {
			sess.Metrics = metrics
		}
		sess.CompletedAt = &now
		return nil
	})
	if err != nil {
		var te *session.TransitionError
		if errors.As(err, &te) {
			slog.Info("run superseded", "session_id", id, "attempted", session.StateFailed, "state", te.From)
			return
		}
		slog.Error("fail: transition failed", "session_id", id, "error", err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsFailed.Add(ctx, 1)
	}
	s.publishEvent(messagequeue.SubjectSessionFailed, sess, "")
	s.notify(sess, "error", "Session failed",
		fmt.Sprintf("Unit %s on %s failed: %v", sess.Unit, sess.TargetID, cause))

	slog.Error("session failed", "session_id", id, "error", cause)
	s.releaseAndPromote(ctx, sess.TargetID, id)
}

// abandonRun handles a run loop losing its session to a concurrent writer:
// the sandbox is stopped and nothing further is written.
func (s *SessionService) abandonRun(ctx context.Context, id string, live *liveRun, cause error) {
	var te *session.TransitionError
	if errors.As(cause, &te) {
		slog.Info("run superseded", "session_id", id, "state", te.From)
	} else {
		slog.Error("run abandoned", "session_id", id, "error", cause)
	}
	if live.handle != nil {
		if err := s.deps.Runner.Stop(ctx, live.handle); err != nil {
			slog.Error("abandon: sandbox stop failed", "session_id", id, "error", err)
		}
	}
}

// notifyByID loads the session and sends a notification; used on paths where
// no fresh record is in hand.
func (s *SessionService) notifyByID(ctx context.Context, id, level, title, message string) {
	sess, _, err := s.load(ctx, id)
	if err != nil {
		return
	}
	s.notify(sess, level, title, message)
}

var (
	filesChangedRe = regexp.MustCompile(`(?i)(\d+) files? changed`)
	linesAddedRe   = regexp.MustCompile(`(?i)(\d+) (?:lines? added|insertions?)`)
	linesRemovedRe = regexp.MustCompile(`(?i)(\d+) (?:lines? removed|deletions?)`)
)

// parseRunMetrics extracts change statistics from the agent's output. The
// last report in the log wins since agents print running totals.
func parseRunMetrics(log string) session.Metrics {
	m := session.Metrics{}
	m.FilesChanged = lastInt(filesChangedRe, log)
	m.LinesAdded = lastInt(linesAddedRe, log)
	m.LinesRemoved = lastInt(linesRemovedRe, log)
	return m
}

func lastInt(re *regexp.Regexp, log string) int {
	matches := re.FindAllStringSubmatch(log, -1)
	if len(matches) == 0 {
		return 0
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0
	}
	return n
}
