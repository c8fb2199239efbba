package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Query selects windows for inspection or reset.
type Query struct {
	All    bool
	Key    string
	Prefix string
}

func (q Query) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

// Matches reports whether key is selected by q.
func (q Query) Matches(key string) bool {
	switch {
	case q.All:
		return true
	case strings.TrimSpace(q.Key) != "":
		return key == strings.TrimSpace(q.Key)
	}
	prefix := strings.TrimSpace(q.Prefix)
	return prefix != "" && strings.HasPrefix(key, prefix)
}

// Admin is implemented by stores whose windows can be listed and cleared.
type Admin interface {
	List(ctx context.Context, q Query) ([]Entry, error)
	Reset(ctx context.Context, q Query) (int64, error)
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

// List returns live windows selected by q, ordered by key.
func (s *MemoryStore) List(_ context.Context, q Query) ([]Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	entries := []Entry{}
	for key, item := range s.cache.Items() {
		entry, ok := item.Object.(Entry)
		if !ok || !q.Matches(key) || !now.Before(entry.ResetAt) {
			continue
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

// Reset deletes the windows selected by q.
func (s *MemoryStore) Reset(_ context.Context, q Query) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	var n int64
	for key := range s.cache.Items() {
		if !q.Matches(key) {
			continue
		}
		mu := s.stripe(key)
		mu.Lock()
		s.cache.Delete(key)
		mu.Unlock()
		n++
	}
	return n, nil
}

func (s *RedisStore) pattern(q Query) string {
	switch {
	case q.All:
		return s.prefix + "*"
	case strings.TrimSpace(q.Key) != "":
		return s.prefix + strings.TrimSpace(q.Key)
	}
	return s.prefix + strings.TrimSpace(q.Prefix) + "*"
}

func (s *RedisStore) scan(ctx context.Context, q Query) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.pattern(q), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis rate limit scan: %w", err)
		}
		for _, key := range batch {
			if q.Matches(strings.TrimPrefix(key, s.prefix)) {
				keys = append(keys, key)
			}
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// List returns windows selected by q, ordered by key.
func (s *RedisStore) List(ctx context.Context, q Query) ([]Entry, error) {
	keys, err := s.scan(ctx, q)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	entries := []Entry{}
	for _, key := range keys {
		count, err := s.client.Get(ctx, key).Int()
		if err != nil {
			continue
		}
		ttl, err := s.client.PTTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			continue
		}
		entries = append(entries, Entry{Key: strings.TrimPrefix(key, s.prefix), Count: count, ResetAt: now.Add(ttl)})
	}
	sortEntries(entries)
	return entries, nil
}

// Reset deletes the windows selected by q.
func (s *RedisStore) Reset(ctx context.Context, q Query) (int64, error) {
	keys, err := s.scan(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rate limit reset: %w", err)
	}
	return n, nil
}

var (
	_ Admin = (*MemoryStore)(nil)
	_ Admin = (*RedisStore)(nil)
)
