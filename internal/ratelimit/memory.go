package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const memoryStripes = 64

// DefaultSweepInterval is how often expired windows are evicted.
const DefaultSweepInterval = 5 * time.Minute

// MemoryStore keeps windows in process memory. Expired entries are evicted by
// the go-cache janitor; a window that has ended but not yet been evicted is
// treated exactly like a missing one.
type MemoryStore struct {
	cache   *cache.Cache
	stripes [memoryStripes]sync.Mutex
}

// NewMemoryStore creates a store whose janitor runs every sweepInterval.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &MemoryStore{cache: cache.New(cache.NoExpiration, sweepInterval)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration) (Entry, error) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	entry := Entry{Key: key, Count: 1, ResetAt: now.Add(window)}
	if existing, ok := s.cache.Get(key); ok {
		if prev := existing.(Entry); now.Before(prev.ResetAt) {
			entry = prev
			entry.Count++
		}
	}

	ttl := entry.ResetAt.Sub(now)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	s.cache.Set(key, entry, ttl)
	return entry, nil
}

// Len reports the number of tracked windows, including expired ones the
// janitor has not removed yet.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

// Sweep evicts expired windows immediately.
func (s *MemoryStore) Sweep() {
	s.cache.DeleteExpired()
}

func (s *MemoryStore) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%memoryStripes]
}
