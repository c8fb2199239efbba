package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rate_limit_windows (
		client_key TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0,
		reset_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limit_windows_reset ON rate_limit_windows(reset_at);`,
	`CREATE TABLE IF NOT EXISTS probe_runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		total INTEGER NOT NULL,
		passed INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_probe_runs_started ON probe_runs(started_at);`,
	`CREATE TABLE IF NOT EXISTS probe_results (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		model_id TEXT,
		label TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT,
		response TEXT,
		response_time_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, position)
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
