package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fiestalabs/fiesta/internal/config"
	"github.com/fiestalabs/fiesta/internal/core/store"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset API rate limit windows",
	Long: `Inspect and reset the per-client windows of the /api/* rate limiter.

Only the shared backends (redis, libsql) can be reached from the CLI; the
memory backend lives inside the serving process.`,
}

// limiterBackend is a rate-limit store together with its admin view.
type limiterBackend struct {
	name  string
	store ratelimit.Store
	admin ratelimit.Admin
	// db is set for the libsql backend so the server can sweep it.
	db *store.Store
	// ping is nil for the in-process memory backend.
	ping  func(context.Context) error
	close func() error
}

// openLimiterBackend builds the store selected by rate_limit.backend.
func openLimiterBackend(ctx context.Context, cfg *config.Config) (*limiterBackend, error) {
	rl := cfg.RateLimit
	switch strings.ToLower(strings.TrimSpace(rl.Backend)) {
	case "", config.BackendMemory:
		mem := ratelimit.NewMemoryStore(rl.SweepInterval)
		return &limiterBackend{name: config.BackendMemory, store: mem, admin: mem, close: func() error { return nil }}, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     rl.Redis.Addr,
			Password: rl.Redis.Password,
			DB:       rl.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", rl.Redis.Addr, err)
		}
		rs := ratelimit.NewRedisStore(client, rl.Redis.Prefix)
		ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return &limiterBackend{name: config.BackendRedis, store: rs, admin: rs, ping: ping, close: client.Close}, nil
	case config.BackendLibSQL:
		db, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rs := db.RateLimits()
		return &limiterBackend{name: config.BackendLibSQL, store: rs, admin: rs, db: db, ping: db.DB.PingContext, close: db.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported rate_limit.backend %q", rl.Backend)
	}
}

// openRateLimitAdmin opens the configured backend for the CLI.
func openRateLimitAdmin(cmd *cobra.Command) (*limiterBackend, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.RateLimit.Backend), config.BackendMemory) || strings.TrimSpace(cfg.RateLimit.Backend) == "" {
		return nil, fmt.Errorf("rate_limit.backend is memory: windows live in the serving process (switch to redis or libsql to manage them here)")
	}
	return openLimiterBackend(cmd.Context(), cfg)
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
