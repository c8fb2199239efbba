package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// windowFilter turns q into a WHERE clause over rate_limit_windows.
func windowFilter(q ratelimit.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	switch {
	case q.All:
		return "", nil, nil
	case strings.TrimSpace(q.Key) != "":
		return "WHERE client_key = ?", []any{strings.TrimSpace(q.Key)}, nil
	default:
		prefix := likeEscaper.Replace(strings.TrimSpace(q.Prefix))
		return `WHERE client_key LIKE ? ESCAPE '\'`, []any{prefix + "%"}, nil
	}
}

func (r *RateLimitStore) db() error {
	if r == nil || r.store == nil || r.store.DB == nil {
		return errors.New("store is not initialized")
	}
	return nil
}

// List returns the windows selected by q ordered by client key.
func (r *RateLimitStore) List(ctx context.Context, q ratelimit.Query) ([]ratelimit.Entry, error) {
	if err := r.db(); err != nil {
		return nil, err
	}
	where, args, err := windowFilter(q)
	if err != nil {
		return nil, err
	}

	rows, err := r.store.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT client_key, request_count, reset_at FROM rate_limit_windows %s ORDER BY client_key`, where),
		args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []ratelimit.Entry{}
	for rows.Next() {
		var (
			entry   ratelimit.Entry
			resetAt int64
		)
		if err := rows.Scan(&entry.Key, &entry.Count, &resetAt); err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entry.ResetAt = time.UnixMilli(resetAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	return entries, nil
}

// Count returns how many windows q selects.
func (r *RateLimitStore) Count(ctx context.Context, q ratelimit.Query) (int, error) {
	if err := r.db(); err != nil {
		return 0, err
	}
	where, args, err := windowFilter(q)
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_limit_windows `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// Reset deletes the windows selected by q.
func (r *RateLimitStore) Reset(ctx context.Context, q ratelimit.Query) (int64, error) {
	if err := r.db(); err != nil {
		return 0, err
	}
	where, args, err := windowFilter(q)
	if err != nil {
		return 0, err
	}

	result, err := r.store.DB.ExecContext(ctx, `DELETE FROM rate_limit_windows `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return affected, nil
}
