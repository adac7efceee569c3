package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sprintpilot/sprintpilot/internal/domain"
	"github.com/sprintpilot/sprintpilot/internal/domain/queue"
	"github.com/sprintpilot/sprintpilot/internal/port/storage"
)

// casAttempts bounds optimistic-lock retries on the admission record.
// Contention on one target is a handful of concurrent requests at most.
const casAttempts = 10

// QueueService maintains the per-target admission record: one active session
// plus a bounded FIFO of pending ones. Every mutation is a compare-and-swap
// on the whole record, retried on lost races.
type QueueService struct {
	store      storage.Store
	maxPending int
}

// NewQueueService creates a new QueueService.
func NewQueueService(store storage.Store, maxPending int) *QueueService {
	return &QueueService{store: store, maxPending: maxPending}
}

// Admit places sessionID in the target's admission record: straight into the
// active slot when it is free, onto the pending list otherwise. Rejection
// (list full) is reported in the Admission value, not as an error.
func (s *QueueService) Admit(ctx context.Context, targetID, sessionID string) (queue.Admission, error) {
	var admission queue.Admission
	err := s.mutate(ctx, targetID, func(st *queue.State) {
		admission = st.Admit(sessionID, s.maxPending)
	})
	if err != nil {
		return queue.Admission{}, err
	}

	slog.Info("session admitted", "target_id", targetID, "session_id", sessionID,
		"outcome", admission.Outcome, "position", admission.Position)
	return admission, nil
}

// Release frees the active slot held by sessionID and promotes the head of
// the pending list. Releasing a session that is not active is a no-op, so
// crash-recovery re-runs are safe.
func (s *QueueService) Release(ctx context.Context, targetID, sessionID string) (next string, promoted bool, err error) {
	err = s.mutate(ctx, targetID, func(st *queue.State) {
		next, promoted = st.Release(sessionID)
	})
	if err != nil {
		return "", false, err
	}

	if promoted {
		slog.Info("session promoted", "target_id", targetID, "session_id", next)
	}
	return next, promoted, nil
}

// Remove drops sessionID from the pending list (abort while queued).
func (s *QueueService) Remove(ctx context.Context, targetID, sessionID string) (removed bool, err error) {
	err = s.mutate(ctx, targetID, func(st *queue.State) {
		removed = st.Remove(sessionID)
	})
	return removed, err
}

// Snapshot returns the current admission record for a target. An absent
// record reads as empty.
func (s *QueueService) Snapshot(ctx context.Context, targetID string) (*queue.State, error) {
	st, _, err := s.load(ctx, targetID)
	return st, err
}

// mutate runs fn against the target's admission record under optimistic
// locking, retrying on ErrConflict.
func (s *QueueService) mutate(ctx context.Context, targetID string, fn func(*queue.State)) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		st, revision, err := s.load(ctx, targetID)
		if err != nil {
			return err
		}

		fn(st)

		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal queue state: %w", err)
		}

		err = s.store.Update(ctx, storage.QueueKey(targetID), data, revision)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("store queue state: %w", err)
		}
		// Lost the race; reload and retry.
	}
	return fmt.Errorf("%w: queue for target %q kept changing", domain.ErrConflict, targetID)
}

func (s *QueueService) load(ctx context.Context, targetID string) (*queue.State, uint64, error) {
	data, revision, found, err := s.store.Get(ctx, storage.QueueKey(targetID))
	if err != nil {
		return nil, 0, fmt.Errorf("load queue state: %w", err)
	}
	if !found {
		return queue.New(targetID), 0, nil
	}

	var st queue.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, 0, fmt.Errorf("unmarshal queue state: %w", err)
	}
	return &st, revision, nil
}
