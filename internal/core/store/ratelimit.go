package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

// RateLimitStore keeps limiter windows in the rate_limit_windows table so
// they survive restarts and can be shared by instances using one database.
type RateLimitStore struct {
	store *Store
}

// RateLimits returns the limiter store backed by s.
func (s *Store) RateLimits() *RateLimitStore {
	return &RateLimitStore{store: s}
}

// Hit applies one admission in a single upsert. Every SET expression reads
// the pre-update row, so the reset test sees the stored window.
func (r *RateLimitStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (ratelimit.Entry, error) {
	if err := r.db(); err != nil {
		return ratelimit.Entry{}, err
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return ratelimit.Entry{}, errors.New("rate limit key is required")
	}

	nowMs := now.UTC().UnixMilli()
	resetMs := now.Add(window).UTC().UnixMilli()

	var (
		count   int
		resetAt int64
	)
	row := r.store.DB.QueryRowContext(ctx, `
		INSERT INTO rate_limit_windows (client_key, request_count, reset_at)
		VALUES (?, 1, ?)
		ON CONFLICT(client_key) DO UPDATE SET
			request_count = CASE WHEN rate_limit_windows.reset_at <= ? THEN 1 ELSE rate_limit_windows.request_count + 1 END,
			reset_at = CASE WHEN rate_limit_windows.reset_at <= ? THEN excluded.reset_at ELSE rate_limit_windows.reset_at END
		RETURNING request_count, reset_at
	`, key, resetMs, nowMs, nowMs)
	if err := row.Scan(&count, &resetAt); err != nil {
		return ratelimit.Entry{}, fmt.Errorf("store rate limit hit: %w", err)
	}

	return ratelimit.Entry{Key: key, Count: count, ResetAt: time.UnixMilli(resetAt).UTC()}, nil
}

// Sweep deletes windows that ended at or before now.
func (r *RateLimitStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if err := r.db(); err != nil {
		return 0, err
	}

	result, err := r.store.DB.ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE reset_at <= ?`, now.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep rate limits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rate limits: %w", err)
	}
	return affected, nil
}

var (
	_ ratelimit.Store = (*RateLimitStore)(nil)
	_ ratelimit.Admin = (*RateLimitStore)(nil)
)
