package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"authd/internal/cache"
)

// Cache is a SQLite-backed ephemeral secret store over the
// ephemeral_secrets table. GetDel is a single conditional DELETE with
// RETURNING, so key consumption is atomic under SQLite's serialized writes.
type Cache struct {
	db *sql.DB
}

// New returns a Cache over an already-migrated database handle.
func New(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// Set stores the value under the key with the given TTL, replacing any
// previous value. Expired rows are purged opportunistically.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "cache.sqlitekv.Set"

	now := time.Now().UTC()
	if _, err := c.db.ExecContext(ctx,
		"DELETE FROM ephemeral_secrets WHERE expires_at <= ?", now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO ephemeral_secrets (key, value, expires_at) VALUES (?, ?, ?)",
		key, value, now.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Get returns the value without consuming it.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "cache.sqlitekv.Get"

	var value []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT value FROM ephemeral_secrets WHERE key = ? AND expires_at > ?",
		key, time.Now().UTC(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, cache.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return value, nil
}

// GetDel atomically fetches and deletes the value.
func (c *Cache) GetDel(ctx context.Context, key string) ([]byte, error) {
	const op = "cache.sqlitekv.GetDel"

	var value []byte
	err := c.db.QueryRowContext(ctx,
		"DELETE FROM ephemeral_secrets WHERE key = ? AND expires_at > ? RETURNING value",
		key, time.Now().UTC(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, cache.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return value, nil
}

// Delete removes the key. Deleting an absent key is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	const op = "cache.sqlitekv.Delete"

	if _, err := c.db.ExecContext(ctx,
		"DELETE FROM ephemeral_secrets WHERE key = ?", key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
