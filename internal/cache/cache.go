// Package cache provides the small side-cache used for read views
// such as a user's bookings list.  Mutating booking operations
// declare the keys they invalidate and call Del; the core packages
// only see the Store interface, never a concrete backend.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the minimal cache contract.  Lookups are best-effort: a
// backend failure reads as a miss and writes are fire-and-forget.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	Del(ctx context.Context, keys ...string)
}

// UserBookingsKey is the cache key of a user's my-bookings view.
// Invalidated by booking creation, payment verification and
// cancellation.
func UserBookingsKey(userID uint64) string {
	return fmt.Sprintf("bookings:user:%d", userID)
}

// redisStore backs the Store contract with Redis.
type redisStore struct {
	rdb *redis.Client
}

// NewRedis returns a Redis-backed store.  When rdb is nil (Redis
// unreachable at startup) an in-memory store is returned instead so
// the caching behavior degrades rather than disappears.
func NewRedis(rdb *redis.Client) Store {
	if rdb == nil {
		return NewMemory()
	}
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	bs, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return bs, true
}

func (s *redisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	_ = s.rdb.Set(ctx, key, val, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	_ = s.rdb.Del(ctx, keys...).Err()
}

// memoryStore is a process-local TTL map.  Used when Redis is not
// configured and as the test double.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	val       []byte
	expiresAt time.Time
}

// NewMemory returns an in-memory Store.  Expired entries are dropped
// lazily on read.
func NewMemory() Store {
	return &memoryStore{entries: make(map[string]memoryEntry)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.val, true
}

func (s *memoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.entries[key] = memoryEntry{val: val, expiresAt: exp}
}

func (s *memoryStore) Del(_ context.Context, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
}
