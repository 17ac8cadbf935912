package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheRepository stores short-lived API responses so course catalogs stay
// browsable while offline. Entries expire lazily on read.
type CacheRepository struct {
	store *Store
}

// NewCacheRepository creates a new cache repository
func NewCacheRepository(store *Store) *CacheRepository {
	return &CacheRepository{store: store}
}

// Get returns the cached value for key. Expired entries are deleted on
// access and reported as ErrNotFound.
func (r *CacheRepository) Get(ctx context.Context, key string, now time.Time) ([]byte, error) {
	var value []byte
	var expiresAt time.Time
	err := r.store.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry %q: %w", key, err)
	}

	if !expiresAt.After(now) {
		if _, err := r.store.db.ExecContext(ctx,
			`DELETE FROM cache WHERE key = ?`, key); err != nil {
			return nil, fmt.Errorf("failed to evict expired cache entry %q: %w", key, err)
		}
		return nil, ErrNotFound
	}
	return value, nil
}

// Set stores value under key with the given time to live
func (r *CacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration, now time.Time) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, now.Add(ttl).UTC())
	if err != nil {
		return fmt.Errorf("failed to set cache entry %q: %w", key, err)
	}
	return nil
}

// Purge removes all expired entries and returns how many were deleted
func (r *CacheRepository) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.store.db.ExecContext(ctx,
		`DELETE FROM cache WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check purge result: %w", err)
	}
	return n, nil
}
