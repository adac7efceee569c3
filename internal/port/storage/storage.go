// Package storage defines the durable key-value blob store port. The
// registry, queue records, session records and execution logs all live
// behind this interface.
package storage

import "context"

// Store is the port interface for durable opaque-blob storage.
//
// There are no transactions: higher-level atomicity (the queue invariant,
// session single-writer ordering) is built from Update's compare-and-swap
// with optimistic retry, or from keeping composite state under one key.
// Any call may fail with a transient I/O error; callers retry with backoff
// and must never treat a failed write as applied.
type Store interface {
	// Get returns the value and revision stored under key.
	// found is false when the key is absent; that is not an error.
	Get(ctx context.Context, key string) (data []byte, revision uint64, found bool, err error)

	// Put stores value under key unconditionally.
	Put(ctx context.Context, key string, data []byte) error

	// Update stores value under key only if the stored revision still equals
	// revision (compare-and-swap). revision 0 means "create": the key must
	// not exist yet. A lost race returns domain.ErrConflict.
	Update(ctx context.Context, key string, data []byte, revision uint64) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
