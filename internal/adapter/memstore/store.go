// Package memstore implements the storage port with an in-process map.
// It backs tests and single-node development; revisions follow the same
// compare-and-swap semantics as the durable backends.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sprintpilot/sprintpilot/internal/domain"
)

type entry struct {
	data     []byte
	revision uint64
}

// Store is an in-memory storage.Store implementation. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Get returns the value and revision stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, 0, false, nil
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, e.revision, true, nil
}

// Put stores value under key unconditionally.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{data: clone(data), revision: s.entries[key].revision + 1}
	return nil
}

// Update stores value under key with compare-and-swap on revision.
func (s *Store) Update(_ context.Context, key string, data []byte, revision uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[key]
	if revision == 0 {
		if ok {
			return fmt.Errorf("create %s: %w", key, domain.ErrConflict)
		}
		s.entries[key] = entry{data: clone(data), revision: 1}
		return nil
	}
	if !ok || cur.revision != revision {
		return fmt.Errorf("update %s at revision %d: %w", key, revision, domain.ErrConflict)
	}
	s.entries[key] = entry{data: clone(data), revision: revision + 1}
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Keys returns all keys with the given prefix in ascending order.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
