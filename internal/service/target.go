// Package service implements business logic on top of ports.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sprintpilot/sprintpilot/internal/domain"
	"github.com/sprintpilot/sprintpilot/internal/domain/target"
	"github.com/sprintpilot/sprintpilot/internal/port/storage"
)

// TargetService manages the registry of repositories sessions may act on.
type TargetService struct {
	store storage.Store
}

// NewTargetService creates a new TargetService.
func NewTargetService(store storage.Store) *TargetService {
	return &TargetService{store: store}
}

// Create registers a new target. Target IDs are caller-chosen aliases and
// must be unique.
func (s *TargetService) Create(ctx context.Context, t *target.Target) (*target.Target, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(t.ID, ". /") {
		return nil, fmt.Errorf("%w: target id must not contain '.', '/' or spaces", domain.ErrValidation)
	}

	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal target: %w", err)
	}

	if err := s.store.Update(ctx, storage.TargetKey(t.ID), data, 0); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: target %q already exists", domain.ErrConflict, t.ID)
		}
		return nil, fmt.Errorf("create target: %w", err)
	}

	slog.Info("target registered", "target_id", t.ID, "repo", t.RepoURL)
	return t, nil
}

// Get returns a target by ID.
func (s *TargetService) Get(ctx context.Context, id string) (*target.Target, error) {
	data, _, found, err := s.store.Get(ctx, storage.TargetKey(id))
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: target %q", domain.ErrNotFound, id)
	}

	var t target.Target
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal target %q: %w", id, err)
	}
	return &t, nil
}

// List returns all registered targets.
func (s *TargetService) List(ctx context.Context) ([]target.Target, error) {
	keys, err := s.store.Keys(ctx, storage.TargetPrefix)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	targets := make([]target.Target, 0, len(keys))
	for _, key := range keys {
		data, _, found, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list targets: %w", err)
		}
		if !found {
			continue // deleted between Keys and Get
		}
		var t target.Target
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("unmarshal target key %q: %w", key, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Update applies partial updates to a target with optimistic locking.
func (s *TargetService) Update(ctx context.Context, id string, req target.UpdateRequest) (*target.Target, error) {
	key := storage.TargetKey(id)

	data, revision, found, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("update target: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: target %q", domain.ErrNotFound, id)
	}

	var t target.Target
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal target %q: %w", id, err)
	}

	t.Apply(req)
	if err := t.Validate(); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(&t)
	if err != nil {
		return nil, fmt.Errorf("marshal target: %w", err)
	}
	if err := s.store.Update(ctx, key, updated, revision); err != nil {
		return nil, fmt.Errorf("update target: %w", err)
	}

	slog.Info("target updated", "target_id", id)
	return &t, nil
}

// Delete removes a target from the registry. Sessions already recorded for
// the target keep their history.
func (s *TargetService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, storage.TargetKey(id)); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	slog.Info("target deleted", "target_id", id)
	return nil
}
