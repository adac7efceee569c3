package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sprintpilot/sprintpilot/internal/domain"
)

// Store implements storage.Store over a kv_blobs table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the value and revision stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	var (
		data     []byte
		revision int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT value, revision FROM kv_blobs WHERE key = $1`, key,
	).Scan(&data, &revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return data, uint64(revision), true, nil
}

// Put stores value under key unconditionally, bumping the revision.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_blobs (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, revision = kv_blobs.revision + 1, updated_at = now()`,
		key, data)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Update stores value with compare-and-swap on revision.
func (s *Store) Update(ctx context.Context, key string, data []byte, revision uint64) error {
	if revision == 0 {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO kv_blobs (key, value) VALUES ($1, $2)`, key, data)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
				return fmt.Errorf("create %s: %w", key, domain.ErrConflict)
			}
			return fmt.Errorf("create %s: %w", key, err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE kv_blobs
		SET value = $2, revision = revision + 1, updated_at = now()
		WHERE key = $1 AND revision = $3`,
		key, data, int64(revision))
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s at revision %d: %w", key, revision, domain.ErrConflict)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_blobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix in ascending order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv_blobs WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
