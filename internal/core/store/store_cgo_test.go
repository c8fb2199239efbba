//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiestalabs/fiesta/internal/config"
	"github.com/fiestalabs/fiesta/internal/core"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Close())
}

func TestOpenLocalFileUsesWALBehindOneConnection(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: filepath.Join(t.TempDir(), "nested", "fiesta.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.Equal(t, 1, store.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	require.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	require.Equal(t, localBusyTimeoutMs, busyTimeout)
}

func openMigrated(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestRateLimitStoreFixedWindow(t *testing.T) {
	ctx := context.Background()
	limits := openMigrated(t).RateLimits()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entry, err := limits.Hit(ctx, "10.0.0.1", now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, entry.Count)
	require.Equal(t, now.Add(time.Minute), entry.ResetAt)

	entry, err = limits.Hit(ctx, "10.0.0.1", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, entry.Count)
	require.Equal(t, now.Add(time.Minute), entry.ResetAt)

	// The window ends exactly at reset_at.
	entry, err = limits.Hit(ctx, "10.0.0.1", now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, entry.Count)
	require.Equal(t, now.Add(2*time.Minute), entry.ResetAt)
}

func TestRateLimitStoreWithLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(openMigrated(t).RateLimits(), ratelimit.Config{MaxRequests: 2, Window: time.Minute})
	limiter.Clock = func() time.Time { return now }

	require.True(t, limiter.Admit(ctx, "k").Allowed)
	require.True(t, limiter.Admit(ctx, "k").Allowed)
	denied := limiter.Admit(ctx, "k")
	require.False(t, denied.Allowed)
	require.Equal(t, 60, denied.RetryAfterSeconds)
}

func TestRateLimitStoreSweepAndAdmin(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)
	limits := store.RateLimits()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := limits.Hit(ctx, "10.0.0.1", now, time.Minute)
	require.NoError(t, err)
	_, err = limits.Hit(ctx, "10.0.0.2", now, time.Hour)
	require.NoError(t, err)
	_, err = limits.Hit(ctx, "192.168.0.1", now, time.Hour)
	require.NoError(t, err)

	_, err = limits.List(ctx, ratelimit.Query{})
	require.Error(t, err)

	entries, err := limits.List(ctx, ratelimit.Query{Prefix: "10.0."})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "10.0.0.1", entries[0].Key)

	count, err := limits.Count(ctx, ratelimit.Query{All: true})
	require.NoError(t, err)
	require.Equal(t, 3, count)

	_, err = limits.Hit(ctx, "10_0_9_9", now, time.Hour)
	require.NoError(t, err)
	escaped, err := limits.Count(ctx, ratelimit.Query{Prefix: "10_"})
	require.NoError(t, err)
	require.Equal(t, 1, escaped, "underscore in a prefix is literal")
	_, err = limits.Reset(ctx, ratelimit.Query{Key: "10_0_9_9"})
	require.NoError(t, err)

	swept, err := limits.Sweep(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, swept)

	reset, err := limits.Reset(ctx, ratelimit.Query{Key: "192.168.0.1"})
	require.NoError(t, err)
	require.EqualValues(t, 1, reset)

	entries, err = limits.List(ctx, ratelimit.Query{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "10.0.0.2", entries[0].Key)
}

func TestProbeRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := &core.ProbeRun{ID: "run-1", StartedAt: started.Add(-time.Hour), FinishedAt: started.Add(-time.Hour)}
	require.NoError(t, store.SaveProbeRun(ctx, older))

	run := &core.ProbeRun{
		ID:         "run-2",
		StartedAt:  started,
		FinishedAt: started.Add(5 * time.Second),
		Results: []core.ProbeResult{
			{ProbeTarget: core.ProbeTarget{ModelID: "puter-gpt-4o", Label: "GPT-4o", Provider: "puter", Model: "gpt-4o"}, Success: true, Response: "Hello...", ResponseTimeMs: 120},
			{ProbeTarget: core.ProbeTarget{Label: "openrouter:x", Provider: "openrouter", Model: "x"}, Error: "no such model", ResponseTimeMs: 30},
		},
	}
	require.NoError(t, store.SaveProbeRun(ctx, run))
	require.Equal(t, 2, run.Total)
	require.Equal(t, 1, run.Passed)

	runs, err := store.ListProbeRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, 2, runs[0].Total)
	require.Equal(t, 1, runs[0].Passed)
	require.Empty(t, runs[0].Results)

	loaded, err := store.GetProbeRun(ctx, "run-2")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, run.StartedAt, loaded.StartedAt)
	require.Equal(t, run.Results, loaded.Results)

	missing, err := store.GetProbeRun(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.Error(t, store.SaveProbeRun(ctx, &core.ProbeRun{}))
}
