package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sprintpilot/sprintpilot/internal/adapter/otel"
	"github.com/sprintpilot/sprintpilot/internal/breaker"
	"github.com/sprintpilot/sprintpilot/internal/domain"
	"github.com/sprintpilot/sprintpilot/internal/domain/queue"
	"github.com/sprintpilot/sprintpilot/internal/domain/session"
	"github.com/sprintpilot/sprintpilot/internal/domain/target"
	"github.com/sprintpilot/sprintpilot/internal/port/gitprovider"
	"github.com/sprintpilot/sprintpilot/internal/port/messagequeue"
	"github.com/sprintpilot/sprintpilot/internal/port/notifier"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
	"github.com/sprintpilot/sprintpilot/internal/port/storage"
	"github.com/sprintpilot/sprintpilot/internal/resilience"
)

// SessionDeps bundles the collaborators of the SessionService.
type SessionDeps struct {
	Store     storage.Store
	Targets   *TargetService
	Queue     *QueueService
	Logs      *ExecLogService
	Runner    sandbox.Runner
	Provider  gitprovider.Provider
	Notifiers []notifier.Notifier
	Events    messagequeue.Queue // optional event fanout
	Detector  *breaker.Detector
	Metrics   *otel.Metrics // optional

	// RunEnv supplies extra environment for each sandbox run, typically
	// secrets the agent process needs. Called at spawn time so reloaded
	// values take effect on the next run.
	RunEnv func() map[string]string

	// StartRetries bounds extra attempts after a sandbox setup fault.
	StartRetries int
	Retry        resilience.RetryConfig

	// DetectInterval is how often a run is re-classified while the agent
	// produces no output, so the wall-clock trip fires even when the
	// stream is silent. Zero means the default.
	DetectInterval time.Duration
}

// SessionService owns the session lifecycle: admission, execution, stuck-loop
// pausing, completion with a draft PR, and abort. Session records have a
// single writer per operation; concurrent writers are serialized by the
// storage layer's compare-and-swap.
type SessionService struct {
	deps SessionDeps

	mu   sync.Mutex
	live map[string]*liveRun

	// notifyBreakers trip per notifier after consecutive delivery
	// failures so a dead webhook cannot slow every state boundary.
	notifyMu       sync.Mutex
	notifyBreakers map[string]*resilience.Breaker

	group singleflight.Group
	wg    sync.WaitGroup
}

// liveRun is the in-memory side of an executing session.
type liveRun struct {
	handle *sandbox.Handle
	cancel context.CancelFunc

	bufMu sync.Mutex
	buf   strings.Builder
}

func (l *liveRun) appendLog(text string) string {
	l.bufMu.Lock()
	defer l.bufMu.Unlock()
	l.buf.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		l.buf.WriteString("\n")
	}
	return l.buf.String()
}

func (l *liveRun) logText() string {
	l.bufMu.Lock()
	defer l.bufMu.Unlock()
	return l.buf.String()
}

// NewSessionService creates a new SessionService.
func NewSessionService(deps SessionDeps) *SessionService {
	return &SessionService{
		deps:           deps,
		live:           make(map[string]*liveRun),
		notifyBreakers: make(map[string]*resilience.Breaker),
	}
}

// Start validates and admits a new session. When the target's active slot is
// free the session begins executing immediately; otherwise it waits in the
// FIFO or is rejected with ErrQueueFull. Identical concurrent requests for
// the same target and unit collapse into one session.
func (s *SessionService) Start(ctx context.Context, req session.StartRequest) (*session.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t, err := s.deps.Targets.Get(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}
	if !t.Enabled {
		return nil, fmt.Errorf("%w: target %q is disabled", domain.ErrValidation, t.ID)
	}

	key := req.TargetID + "/" + req.Unit
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.start(ctx, req, t)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

func (s *SessionService) start(ctx context.Context, req session.StartRequest, t *target.Target) (*session.Session, error) {
	branch := req.Branch
	if branch == "" {
		branch = "sprint/" + req.Unit
	}

	sess := &session.Session{
		ID:          uuid.NewString(),
		TargetID:    req.TargetID,
		Unit:        req.Unit,
		Branch:      branch,
		State:       session.StateQueued,
		RequestedBy: req.RequestedBy,
		ChannelRef:  req.ChannelRef,
		QueuedAt:    time.Now().UTC(),
	}

	admission, err := s.deps.Queue.Admit(ctx, sess.TargetID, sess.ID)
	if err != nil {
		return nil, err
	}
	if admission.Outcome == queue.OutcomeRejected {
		return nil, fmt.Errorf("%w: target %q", domain.ErrQueueFull, sess.TargetID)
	}

	if err := s.save(ctx, sess, 0); err != nil {
		// Roll the admission back so the slot is not held by a ghost.
		if _, _, relErr := s.deps.Queue.Release(ctx, sess.TargetID, sess.ID); relErr != nil {
			slog.Error("admission rollback failed", "session_id", sess.ID, "error", relErr)
		}
		if _, remErr := s.deps.Queue.Remove(ctx, sess.TargetID, sess.ID); remErr != nil {
			slog.Error("admission rollback failed", "session_id", sess.ID, "error", remErr)
		}
		return nil, err
	}

	s.publishEvent(messagequeue.SubjectSessionQueued, sess, "")

	switch admission.Outcome {
	case queue.OutcomeActive:
		s.spawn(sess.ID, false)
	case queue.OutcomeQueued:
		s.notify(sess, "info", "Session queued",
			fmt.Sprintf("Unit %s on %s is #%d in line.", sess.Unit, sess.TargetID, admission.Position))
	}

	return sess, nil
}

// Get returns a session by ID.
func (s *SessionService) Get(ctx context.Context, id string) (*session.Session, error) {
	sess, _, err := s.load(ctx, id)
	return sess, err
}

// List returns all sessions, most recently queued first. When targetID is
// non-empty only that target's sessions are returned.
func (s *SessionService) List(ctx context.Context, targetID string) ([]session.Session, error) {
	return ListSessions(ctx, s.deps.Store, targetID)
}

// ListSessions scans the store for session records, most recently queued
// first. It needs no live service, so tooling can use it directly.
func ListSessions(ctx context.Context, store storage.Store, targetID string) ([]session.Session, error) {
	keys, err := store.Keys(ctx, storage.SessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]session.Session, 0, len(keys))
	for _, key := range keys {
		data, _, found, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if !found {
			continue
		}
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal session key %q: %w", key, err)
		}
		if targetID != "" && sess.TargetID != targetID {
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].QueuedAt.After(sessions[j].QueuedAt)
	})
	return sessions, nil
}

// Logs returns the last n chunks of a session's output stream.
func (s *SessionService) Logs(ctx context.Context, id, stream string, n int) ([]string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if stream == "" {
		stream = "stdout"
	}
	return s.deps.Logs.Tail(ctx, id, stream, n)
}

// Abort moves a session to the aborted state from wherever it is. Pending
// sessions leave the queue; executing ones have their sandbox stopped and
// their slot released, which may promote the next pending session.
func (s *SessionService) Abort(ctx context.Context, id, requestedBy string) (*session.Session, error) {
	sess, err := s.update(ctx, id, func(sess *session.Session) error {
		if sess.Terminal() {
			return fmt.Errorf("%w: session %s already %s", domain.ErrValidation, sess.ID, sess.State)
		}
		if err := sess.Transition(session.StateAborted); err != nil {
			return err
		}
		now := time.Now().UTC()
		sess.CompletedAt = &now
		if requestedBy != "" {
			sess.Error = "aborted by " + requestedBy
		} else {
			sess.Error = "aborted"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stopLive(ctx, id)

	// Drop the session from the admission record wherever it sits.
	if removed, err := s.deps.Queue.Remove(ctx, sess.TargetID, id); err != nil {
		slog.Error("abort queue remove failed", "session_id", id, "error", err)
	} else if !removed {
		s.releaseAndPromote(ctx, sess.TargetID, id)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsAborted.Add(ctx, 1)
	}
	s.publishEvent(messagequeue.SubjectSessionAborted, sess, "")
	s.notify(sess, "warning", "Session aborted",
		fmt.Sprintf("Unit %s on %s was aborted.", sess.Unit, sess.TargetID))

	slog.Info("session aborted", "session_id", id, "target_id", sess.TargetID)
	return sess, nil
}

// Resume restarts a paused session in its existing workspace. The session
// keeps its active slot while paused, so no re-admission happens.
func (s *SessionService) Resume(ctx context.Context, id string) (*session.Session, error) {
	sess, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State != session.StatePaused {
		return nil, fmt.Errorf("%w: session %s is %s, only paused sessions resume",
			domain.ErrValidation, id, sess.State)
	}

	s.spawn(id, true)
	return sess, nil
}

// Wait blocks until all run goroutines have finished. Intended for shutdown
// and tests.
func (s *SessionService) Wait() {
	s.wg.Wait()
}

// spawn launches the run loop for a session. A session with a live run
// already registered is not started twice.
func (s *SessionService) spawn(id string, resume bool) {
	s.mu.Lock()
	if _, running := s.live[id]; running {
		s.mu.Unlock()
		return
	}
	s.live[id] = &liveRun{cancel: func() {}}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(id, resume)
	}()
}

// stopLive cancels and stops the sandbox of a live session, if any.
func (s *SessionService) stopLive(ctx context.Context, id string) {
	s.mu.Lock()
	run, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	run.cancel()
	if run.handle != nil {
		if err := s.deps.Runner.Stop(ctx, run.handle); err != nil {
			slog.Error("sandbox stop failed", "session_id", id, "error", err)
		}
	}
}

// releaseAndPromote frees the target's active slot and starts the promoted
// session, if one was waiting.
func (s *SessionService) releaseAndPromote(ctx context.Context, targetID, sessionID string) {
	next, promoted, err := s.deps.Queue.Release(ctx, targetID, sessionID)
	if err != nil {
		slog.Error("queue release failed", "session_id", sessionID, "target_id", targetID, "error", err)
		return
	}
	if promoted {
		s.spawn(next, false)
	}
}

// load reads one session record with its storage revision.
func (s *SessionService) load(ctx context.Context, id string) (*session.Session, uint64, error) {
	data, revision, found, err := s.deps.Store.Get(ctx, storage.SessionKey(id))
	if err != nil {
		return nil, 0, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, 0, fmt.Errorf("%w: session %q", domain.ErrNotFound, id)
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, 0, fmt.Errorf("unmarshal session %q: %w", id, err)
	}
	sess.Revision = revision
	return &sess, revision, nil
}

// save persists a session at the given revision (0 creates).
func (s *SessionService) save(ctx context.Context, sess *session.Session, revision uint64) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.deps.Store.Update(ctx, storage.SessionKey(sess.ID), data, revision); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// update applies fn to the freshly loaded session under optimistic locking.
// A *session.TransitionError from fn is returned as-is and never retried:
// it means another writer already moved the session somewhere fn's change
// is illegal from.
func (s *SessionService) update(ctx context.Context, id string, fn func(*session.Session) error) (*session.Session, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		sess, revision, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(sess); err != nil {
			return nil, err
		}

		err = s.save(ctx, sess, revision)
		if err == nil {
			sess.Revision = revision + 1
			return sess, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: session %q kept changing", domain.ErrConflict, id)
}

// publishEvent emits a session lifecycle event on the bus. Failures are
// logged, never propagated: the record in storage is the source of truth.
func (s *SessionService) publishEvent(subject string, sess *session.Session, reason string) {
	if s.deps.Events == nil {
		return
	}

	payload, err := json.Marshal(messagequeue.SessionEventPayload{
		SessionID:  sess.ID,
		TargetID:   sess.TargetID,
		Unit:       sess.Unit,
		State:      string(sess.State),
		Reason:     reason,
		PRURL:      sess.PRURL,
		Error:      sess.Error,
		ChannelRef: sess.ChannelRef,
	})
	if err != nil {
		slog.Error("marshal session event", "session_id", sess.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Events.Publish(ctx, subject, payload); err != nil {
		slog.Error("publish session event", "subject", subject, "session_id", sess.ID, "error", err)
	}
}

// notify sends a notification to every configured notifier.
func (s *SessionService) notify(sess *session.Session, level, title, message string) {
	if len(s.deps.Notifiers) == 0 {
		return
	}

	n := notifier.Notification{
		Title:   title,
		Message: message,
		Level:   level,
		Source:  "session." + string(sess.State),
		Channel: sess.ChannelRef,
		Meta: map[string]string{
			"session": sess.ID,
			"target":  sess.TargetID,
			"unit":    sess.Unit,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, target := range s.deps.Notifiers {
		err := s.notifyBreaker(target.Name()).Execute(func() error {
			err := target.Send(ctx, n)
			if errors.Is(err, notifier.ErrNotConfigured) {
				return nil
			}
			return err
		})
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			slog.Error("notification failed", "notifier", target.Name(), "session_id", sess.ID, "error", err)
		}
	}
}

func (s *SessionService) notifyBreaker(name string) *resilience.Breaker {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	b, ok := s.notifyBreakers[name]
	if !ok {
		b = resilience.NewBreaker(5, time.Minute)
		s.notifyBreakers[name] = b
	}
	return b
}
