package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiestalabs/fiesta/internal/core"
)

// DefaultProbeHistoryLimit caps ListProbeRuns when no limit is given.
const DefaultProbeHistoryLimit = 20

// SaveProbeRun persists a run and its results in one transaction.
func (s *Store) SaveProbeRun(ctx context.Context, run *core.ProbeRun) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return errors.New("probe run id is required")
	}
	run.Summarize()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin probe run: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO probe_runs (id, started_at, finished_at, total, passed)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC().UnixMilli(), run.FinishedAt.UTC().UnixMilli(), run.Total, run.Passed); err != nil {
		return fmt.Errorf("store probe run: %w", err)
	}

	for i, res := range run.Results {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO probe_results (run_id, position, model_id, label, provider, model, success, error, response, response_time_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, nullString(res.ModelID), res.Label, res.Provider, res.Model, boolToInt(res.Success),
			nullString(res.Error), nullString(res.Response), res.ResponseTimeMs); err != nil {
			return fmt.Errorf("store probe result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit probe run: %w", err)
	}
	return nil
}

// ListProbeRuns returns the most recent runs first, without their results.
func (s *Store) ListProbeRuns(ctx context.Context, limit int) ([]core.ProbeRun, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = DefaultProbeHistoryLimit
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, passed
		FROM probe_runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list probe runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	runs := []core.ProbeRun{}
	for rows.Next() {
		var (
			run        core.ProbeRun
			startedAt  int64
			finishedAt int64
		)
		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &run.Total, &run.Passed); err != nil {
			return nil, fmt.Errorf("scan probe runs: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		run.FinishedAt = time.UnixMilli(finishedAt).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list probe runs: %w", err)
	}
	return runs, nil
}

// GetProbeRun loads one run with its results in probe order. It returns nil
// when the run does not exist.
func (s *Store) GetProbeRun(ctx context.Context, id string) (*core.ProbeRun, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		run        core.ProbeRun
		startedAt  int64
		finishedAt int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, total, passed
		FROM probe_runs
		WHERE id = ?
	`, strings.TrimSpace(id))
	if err := row.Scan(&run.ID, &startedAt, &finishedAt, &run.Total, &run.Passed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch probe run: %w", err)
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.FinishedAt = time.UnixMilli(finishedAt).UTC()

	rows, err := s.DB.QueryContext(ctx, `
		SELECT model_id, label, provider, model, success, error, response, response_time_ms
		FROM probe_results
		WHERE run_id = ?
		ORDER BY position
	`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch probe results: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	run.Results = []core.ProbeResult{}
	for rows.Next() {
		var (
			res      core.ProbeResult
			modelID  sql.NullString
			success  int
			errText  sql.NullString
			response sql.NullString
		)
		if err := rows.Scan(&modelID, &res.Label, &res.Provider, &res.Model, &success, &errText, &response, &res.ResponseTimeMs); err != nil {
			return nil, fmt.Errorf("scan probe results: %w", err)
		}
		res.ModelID = modelID.String
		res.Success = success != 0
		res.Error = errText.String
		res.Response = response.String
		run.Results = append(run.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch probe results: %w", err)
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
