package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sprintpilot/sprintpilot/internal/domain/session"
	"github.com/sprintpilot/sprintpilot/internal/port/messagequeue"
	"github.com/sprintpilot/sprintpilot/internal/port/storage"
)

// Recover reconciles persisted state after a restart. Queued and paused
// sessions survive as-is; starting/cloning/running sessions re-enter their
// last persisted state with a fresh sandbox (entry actions are idempotent,
// so an existing clone or workspace is reused). Only completing sessions
// fail fast: the draft-PR call may have gone out before the crash, and
// redoing it risks a duplicate PR.
func (s *SessionService) Recover(ctx context.Context) error {
	keys, err := s.deps.Store.Keys(ctx, storage.SessionPrefix)
	if err != nil {
		return fmt.Errorf("recover: list sessions: %w", err)
	}

	var carried, reentered, failed int
	for _, key := range keys {
		data, _, found, err := s.deps.Store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("recover: read %s: %w", key, err)
		}
		if !found {
			continue
		}

		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			slog.Error("recover: corrupt session record", "key", key, "error", err)
			continue
		}

		switch sess.State {
		case session.StateQueued, session.StatePaused:
			// Survives a restart; its queue position is already persisted.
			carried++
		case session.StateStarting, session.StateCloning, session.StateRunning:
			s.spawn(sess.ID, false)
			reentered++
		case session.StateCompleting:
			if err := s.failInterrupted(ctx, sess.ID); err != nil {
				slog.Error("recover: fail interrupted session", "session_id", sess.ID, "error", err)
				continue
			}
			s.releaseAndPromote(ctx, sess.TargetID, sess.ID)
			failed++
		}
	}

	// Queued sessions holding an active slot were admitted but never started
	// (crash between admit and spawn, or their predecessor just failed above
	// and promotion already spawned them). Start any still sitting idle.
	started, err := s.startIdleActives(ctx)
	if err != nil {
		return err
	}

	slog.Info("recovery complete", "carried", carried, "reentered", reentered,
		"failed", failed, "started", started)
	return nil
}

// failInterrupted marks a session that crashed mid-completion as failed.
func (s *SessionService) failInterrupted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	sess, err := s.update(ctx, id, func(sess *session.Session) error {
		if err := sess.Transition(session.StateFailed); err != nil {
			return err
		}
		sess.Error = "interrupted by orchestrator restart during completion"
		sess.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(messagequeue.SubjectSessionFailed, sess, "restart")
	s.notify(sess, "error", "Session failed",
		fmt.Sprintf("Unit %s on %s was interrupted by an orchestrator restart while completing.", sess.Unit, sess.TargetID))
	return nil
}

// startIdleActives spawns run loops for queued sessions that hold an active
// slot but have no live run.
func (s *SessionService) startIdleActives(ctx context.Context) (int, error) {
	queueKeys, err := s.deps.Store.Keys(ctx, storage.QueuePrefix)
	if err != nil {
		return 0, fmt.Errorf("recover: list queues: %w", err)
	}

	started := 0
	for _, key := range queueKeys {
		targetID := key[len(storage.QueuePrefix):]
		snap, err := s.deps.Queue.Snapshot(ctx, targetID)
		if err != nil {
			return started, err
		}
		if snap.ActiveSessionID == "" {
			continue
		}

		sess, _, err := s.load(ctx, snap.ActiveSessionID)
		if err != nil {
			slog.Error("recover: active session missing", "target_id", targetID,
				"session_id", snap.ActiveSessionID, "error", err)
			// Ghost admission: free the slot so the target is not stuck.
			s.releaseAndPromote(ctx, targetID, snap.ActiveSessionID)
			continue
		}

		s.mu.Lock()
		_, running := s.live[sess.ID]
		s.mu.Unlock()

		if sess.State == session.StateQueued && !running {
			s.spawn(sess.ID, false)
			started++
		}
	}
	return started, nil
}
