// Package ratelimit implements the fixed-window admission check that guards
// the public API. Window state lives in a pluggable Store so the same policy
// runs against process memory, Redis or the libsql store.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fiestalabs/fiesta/internal/observability"
)

// Defaults applied when the configuration leaves a field unset.
const (
	DefaultMaxRequests = 50
	DefaultWindow      = 15 * time.Minute
)

// Config is the admission policy: at most MaxRequests per Window per client.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

func (c Config) normalized() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Entry is the window state tracked for one client key.
type Entry struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// Store applies one admission to the window of key and returns the updated
// entry. When no entry exists, or the stored window ended at or before now,
// the entry restarts with Count 1 and ResetAt now+window. Otherwise Count is
// incremented. Implementations must make this atomic per key.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error)
}

// Decision is the outcome of one Admit call.
type Decision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

// Limiter decides admissions using a Store.
type Limiter struct {
	Store Store
	Clock func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// New builds a limiter over store.
func New(store Store, cfg Config) *Limiter {
	return &Limiter{Store: store, cfg: cfg.normalized()}
}

// Config returns the active policy.
func (l *Limiter) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.normalized()
}

// SetConfig swaps the policy. Existing windows keep their reset instants.
func (l *Limiter) SetConfig(cfg Config) {
	l.mu.Lock()
	l.cfg = cfg.normalized()
	l.mu.Unlock()
}

// Admit records a request for key and reports whether it may proceed.
// Admit never fails: a store error is logged and the request is admitted.
func (l *Limiter) Admit(ctx context.Context, key string) Decision {
	cfg := l.Config()
	now := l.now()

	if l.Store == nil {
		return Decision{Allowed: true, Limit: cfg.MaxRequests, Remaining: cfg.MaxRequests - 1, ResetAt: now.Add(cfg.Window)}
	}

	entry, err := l.Store.Hit(ctx, key, now, cfg.Window)
	if err != nil {
		if logger := observability.Logger(); logger != nil {
			logger.Warn("Rate limit store unavailable, admitting request",
				zap.String("client", key),
				zap.Error(err))
		}
		return Decision{Allowed: true, Limit: cfg.MaxRequests, Remaining: cfg.MaxRequests - 1, ResetAt: now.Add(cfg.Window)}
	}

	decision := Decision{
		Allowed:   entry.Count <= cfg.MaxRequests,
		Limit:     cfg.MaxRequests,
		Remaining: max(0, cfg.MaxRequests-entry.Count),
		ResetAt:   entry.ResetAt,
	}
	if !decision.Allowed {
		decision.RetryAfterSeconds = RetryAfterSeconds(entry.ResetAt, now)
	}
	return decision
}

// RetryAfterSeconds is the whole number of seconds until resetAt, rounded up.
func RetryAfterSeconds(resetAt, now time.Time) int {
	wait := resetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

func (l *Limiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
