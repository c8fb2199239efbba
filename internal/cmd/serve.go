package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/catalog"
	"github.com/fiestalabs/fiesta/internal/config"
	"github.com/fiestalabs/fiesta/internal/core/store"
	errwrap "github.com/fiestalabs/fiesta/internal/errors"
	"github.com/fiestalabs/fiesta/internal/metrics"
	"github.com/fiestalabs/fiesta/internal/observability"
	"github.com/fiestalabs/fiesta/internal/ratelimit"
	"github.com/fiestalabs/fiesta/internal/server"
	"github.com/fiestalabs/fiesta/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil // Signal handlers are registered and ready
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// serveOverrides maps explicitly set serve flags onto config keys.
func serveOverrides(cmd *cobra.Command) map[string]any {
	values := map[string]any{}
	if cmd.Flags().Changed("host") {
		values["host"] = viper.GetString("server.host")
	}
	if cmd.Flags().Changed("port") {
		values["port"] = viper.GetInt("server.port")
	}
	if len(values) == 0 {
		return nil
	}
	return map[string]any{"server": values}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Routes:
  • POST /api/chat, /api/chat/stream, /api/compare and GET /api/models
    (rate limited per client)
  • /health, /health/live, /health/ready, /health/startup, /version, /metrics

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config (rate limits apply to new windows)

Edits to the config file are picked up the same way as SIGHUP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()
		overrides := serveOverrides(cmd)

		cfg, err := loadConfig(cmd.Context(), overrides)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed")
		}

		if err := observability.InitServerLogger(observability.ServerLoggerOptions{
			Service:   identity.BinaryName,
			Level:     cfg.Logging.Level,
			Namespace: namespace,
		}); err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "logger initialization failed")
		}
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			defer func() {
				if err := observability.ShutdownMetrics(); err != nil {
					logger.Warn("Failed to stop metrics exporter", zap.Error(err))
				}
			}()
		}

		cat, err := catalog.Default()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "model catalog is invalid")
		}

		backend, err := openLimiterBackend(cmd.Context(), cfg)
		if err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "rate limit backend unavailable")
		}
		limiter := ratelimit.New(backend.store, cfg.RateLimit.Limits())

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.String("rate_limit_backend", backend.name),
			zap.Int("rate_limit_max", cfg.RateLimit.MaxRequests),
			zap.Duration("rate_limit_window", cfg.RateLimit.Window),
			zap.Strings("providers", newService(cfg).Registry.ProviderIDs()))

		if cfg.Health.Enabled {
			handlers.InitHealthManager(versionInfo.Version)
			hm := handlers.GetHealthManager()
			hm.RegisterChecker("signal_handlers", signalHealthChecker{})
			if cfg.Metrics.Enabled {
				hm.RegisterChecker("telemetry", telemetryHealthChecker{})
			}
			hm.RegisterChecker("app_identity", identityHealthChecker{
				binaryName: identity.BinaryName,
				envPrefix:  identity.EnvPrefix,
				configName: identity.ConfigName,
			})
			if backend.ping != nil {
				hm.RegisterChecker("rate_limit_store", handlers.CheckerFunc(func(ctx context.Context) error {
					if err := backend.ping(ctx); err != nil {
						return errwrap.WrapExternalService(ctx, err, "rate limit store unreachable")
					}
					return nil
				}))
			}
		}

		handlers.SetAppIdentity(identity)

		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			API:          handlers.NewAPI(newService(cfg), cat),
			Limiter:      limiter,
			AdminToken:   cfg.Server.AdminToken,
			Pprof:        cfg.Debug.Enabled && cfg.Debug.PprofEnabled,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		if backend.db != nil {
			go sweepRateLimits(sweepCtx, backend.db.RateLimits(), cfg.RateLimit.SweepInterval)
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Close the rate limit backend
		signals.OnShutdown(func(ctx context.Context) error {
			stopSweep()
			if err := backend.close(); err != nil {
				logger.Warn("Rate limit backend close failed", zap.Error(err))
			}
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		reload := func(ctx context.Context, reason string) error {
			next, err := loadConfig(ctx, overrides)
			if err != nil {
				logger.Error("Failed to reload config",
					zap.String("reason", reason),
					zap.String("file", config.ActivePath()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			limiter.SetConfig(next.RateLimit.Limits())
			logger.Info("Configuration reloaded",
				zap.String("reason", reason),
				zap.String("file", config.ActivePath()),
				zap.Int("rate_limit_max", next.RateLimit.MaxRequests),
				zap.Duration("rate_limit_window", next.RateLimit.Window))
			return nil
		}

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading config")
			return reload(ctx, "sighup")
		})

		if path := config.ActivePath(); path != "" {
			err := config.Watch(path, func(ev fsnotify.Event) {
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					return
				}
				_ = reload(context.Background(), "file_change")
			})
			if err != nil {
				logger.Warn("Config file watch disabled", zap.String("file", path), zap.Error(err))
			}
		}

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now().Unix())

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			stopSweep()
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// sweepRateLimits deletes expired windows from the SQL store until ctx ends.
func sweepRateLimits(ctx context.Context, rs *store.RateLimitStore, interval time.Duration) {
	if interval <= 0 {
		interval = ratelimit.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := rs.Sweep(ctx, now)
			if logger := observability.Logger(); logger != nil {
				if err != nil {
					logger.Warn("Rate limit sweep failed", zap.Error(err))
				} else if removed > 0 {
					logger.Debug("Rate limit sweep", zap.Int64("removed", removed))
				}
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
