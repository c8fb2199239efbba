package ratelimit

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Time, time.Duration) (Entry, error) {
	return Entry{}, errors.New("store down")
}

func TestLimiterFixedWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(NewMemoryStore(time.Minute), Config{MaxRequests: 3, Window: time.Minute})
	limiter.Clock = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := limiter.Admit(ctx, "1.2.3.4")
		require.True(t, d.Allowed, "request %d", i)
		require.Equal(t, 3-i, d.Remaining)
		require.Equal(t, now.Add(time.Minute), d.ResetAt)
	}

	d := limiter.Admit(ctx, "1.2.3.4")
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, 60, d.RetryAfterSeconds)

	now = now.Add(30*time.Second + 500*time.Millisecond)
	d = limiter.Admit(ctx, "1.2.3.4")
	require.False(t, d.Allowed)
	require.Equal(t, 30, d.RetryAfterSeconds)

	// other clients have their own window
	require.True(t, limiter.Admit(ctx, "5.6.7.8").Allowed)

	now = time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	d = limiter.Admit(ctx, "1.2.3.4")
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
	require.Equal(t, now.Add(time.Minute), d.ResetAt)
}

func TestLimiterConcurrentAdmissions(t *testing.T) {
	limiter := New(NewMemoryStore(time.Minute), Config{MaxRequests: 50, Window: time.Minute})

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit(context.Background(), "burst").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(50), allowed.Load())
}

func TestLimiterFailsOpen(t *testing.T) {
	limiter := New(failingStore{}, Config{MaxRequests: 1, Window: time.Minute})
	for i := 0; i < 3; i++ {
		require.True(t, limiter.Admit(context.Background(), "k").Allowed)
	}
}

func TestLimiterDefaultsAndReload(t *testing.T) {
	limiter := New(NewMemoryStore(0), Config{})
	require.Equal(t, Config{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}, limiter.Config())

	limiter.SetConfig(Config{MaxRequests: 1, Window: time.Hour})
	ctx := context.Background()
	require.True(t, limiter.Admit(ctx, "k").Allowed)
	require.False(t, limiter.Admit(ctx, "k").Allowed)
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	now := time.Now()
	_, err := store.Hit(context.Background(), "short", now, 5*time.Millisecond)
	require.NoError(t, err)
	_, err = store.Hit(context.Background(), "long", now, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	time.Sleep(20 * time.Millisecond)
	store.Sweep()
	require.Equal(t, 1, store.Len())
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	now := time.Unix(0, 0)
	require.Equal(t, 1, RetryAfterSeconds(now.Add(10*time.Millisecond), now))
	require.Equal(t, 2, RetryAfterSeconds(now.Add(1001*time.Millisecond), now))
	require.Equal(t, 0, RetryAfterSeconds(now.Add(-time.Second), now))
}

func TestRedisStoreWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := New(NewRedisStore(client, ""), Config{MaxRequests: 2, Window: time.Minute})
	ctx := context.Background()

	require.True(t, limiter.Admit(ctx, "10.0.0.1").Allowed)
	require.True(t, limiter.Admit(ctx, "10.0.0.1").Allowed)
	d := limiter.Admit(ctx, "10.0.0.1")
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfterSeconds, 0)
	require.LessOrEqual(t, d.RetryAfterSeconds, 60)
	require.True(t, mr.Exists(DefaultRedisKeyPrefix+"10.0.0.1"))

	mr.FastForward(time.Minute)
	d = limiter.Admit(ctx, "10.0.0.1")
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
}

func TestRedisStoreUnavailableFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	limiter := New(NewRedisStore(client, "t:"), Config{MaxRequests: 1, Window: time.Minute})
	require.True(t, limiter.Admit(context.Background(), "k").Allowed)
	require.True(t, limiter.Admit(context.Background(), "k").Allowed)
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.1", "X-Real-IP": "10.0.0.2"}, "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.2", "CF-Connecting-IP": "10.0.0.3"}, "10.0.0.2"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "10.0.0.3"}, "10.0.0.3"},
		{"anonymous", nil, AnonymousKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/chat", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, ClientKey(req))
		})
	}
}
