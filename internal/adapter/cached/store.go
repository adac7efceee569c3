// Package cached wraps a storage.Store with an in-process read cache for
// hot session/status lookups. Writes invalidate; the durable store stays
// the source of truth.
package cached

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/sprintpilot/sprintpilot/internal/domain"
	"github.com/sprintpilot/sprintpilot/internal/port/cache"
	"github.com/sprintpilot/sprintpilot/internal/port/storage"
)

// Store is a read-through decorator over a storage.Store.
type Store struct {
	inner storage.Store
	l1    cache.Cache
	ttl   time.Duration
}

// New creates a cached store. ttl bounds how stale a read may be for
// callers that tolerate it; all writes invalidate immediately.
func New(inner storage.Store, l1 cache.Cache, ttl time.Duration) *Store {
	return &Store{inner: inner, l1: l1, ttl: ttl}
}

// Get checks the L1 cache first, then the durable store, backfilling on miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	if raw, ok, err := s.l1.Get(ctx, key); err == nil && ok {
		data, rev := decode(raw)
		return data, rev, true, nil
	}

	data, rev, found, err := s.inner.Get(ctx, key)
	if err != nil || !found {
		return data, rev, found, err
	}
	_ = s.l1.Set(ctx, key, encode(data, rev), s.ttl)
	return data, rev, true, nil
}

// Put writes through and invalidates the cached entry.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.inner.Put(ctx, key, data); err != nil {
		return err
	}
	_ = s.l1.Delete(ctx, key)
	return nil
}

// Update writes through with compare-and-swap and invalidates. A conflict
// also invalidates: the caller's revision came from a stale cached read, and
// serving it again would starve the retry loop until the TTL expires.
func (s *Store) Update(ctx context.Context, key string, data []byte, revision uint64) error {
	if err := s.inner.Update(ctx, key, data, revision); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			_ = s.l1.Delete(ctx, key)
		}
		return err
	}
	_ = s.l1.Delete(ctx, key)
	return nil
}

// Delete removes from the durable store and the cache.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.inner.Delete(ctx, key); err != nil {
		return err
	}
	_ = s.l1.Delete(ctx, key)
	return nil
}

// Keys always hits the durable store; prefix scans are not cached.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.Keys(ctx, prefix)
}

// encode packs the revision ahead of the value so one cache entry carries both.
func encode(data []byte, rev uint64) []byte {
	out := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(out[:8], rev)
	copy(out[8:], data)
	return out
}

func decode(raw []byte) (data []byte, rev uint64) {
	if len(raw) < 8 {
		return nil, 0
	}
	return raw[8:], binary.BigEndian.Uint64(raw[:8])
}
