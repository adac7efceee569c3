// Package natskv implements the storage port on a NATS JetStream KeyValue
// bucket. The bucket revision number doubles as the compare-and-swap token.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/sprintpilot/sprintpilot/internal/domain"
)

// Store wraps a NATS JetStream KeyValue bucket as a storage.Store.
type Store struct {
	kv jetstream.KeyValue
	nc *nats.Conn // owned only when created via Connect
}

// New creates a Store over an existing KeyValue bucket.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Connect dials NATS, ensures the bucket exists and returns a Store that
// owns the connection.
func Connect(ctx context.Context, url, bucket string) (*Store, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream kv bucket %s: %w", bucket, err)
	}

	return &Store{kv: kv, nc: nc}, nil
}

// Close releases the NATS connection if this Store owns one.
func (s *Store) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

// Get returns the value and KV revision stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), entry.Revision(), true, nil
}

// Put stores value under key unconditionally.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Update stores value with compare-and-swap on the KV revision.
func (s *Store) Update(ctx context.Context, key string, data []byte, revision uint64) error {
	var err error
	if revision == 0 {
		_, err = s.kv.Create(ctx, key, data)
	} else {
		_, err = s.kv.Update(ctx, key, data, revision)
	}
	if err != nil {
		if isRevisionMismatch(err) {
			return fmt.Errorf("kv update %s at revision %d: %w", key, revision, domain.ErrConflict)
		}
		return fmt.Errorf("kv update %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix in ascending order.
// JetStream KV has no native prefix scan over arbitrary string prefixes,
// so this lists the bucket and filters client-side.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// isRevisionMismatch matches the JetStream errors raised when Create hits an
// existing key or Update sees a different last revision.
func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	return strings.Contains(err.Error(), "wrong last sequence")
}
