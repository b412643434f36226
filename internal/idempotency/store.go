package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "idempotency:"
	DefaultTTL = 24 * time.Hour
)

// Store remembers request keys for a while. Claim reports false when the key
// was already claimed; Release frees a key whose request failed so the client
// can retry it.
type Store interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

// MemoryStore keeps keys in process memory. It backs single-instance setups
// without Redis.
type MemoryStore struct {
	mu        sync.Mutex
	keys      map[string]time.Time
	ttl       time.Duration
	nextSweep time.Time
	timeNow   func() time.Time
}

// sweepInterval bounds how often Claim walks the map to drop expired keys.
const sweepInterval = time.Minute

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{keys: make(map[string]time.Time), ttl: ttl, timeNow: time.Now}
}

func (s *MemoryStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timeNow()
	if !now.Before(s.nextSweep) {
		s.sweep(now)
	}
	if expires, found := s.keys[key]; found && now.Before(expires) {
		return false, nil
	}
	s.keys[key] = now.Add(s.ttl)
	return true, nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for key, expires := range s.keys {
		if !now.Before(expires) {
			delete(s.keys, key)
		}
	}
	s.nextSweep = now.Add(min(s.ttl, sweepInterval))
}

// Len reports how many keys are held, expired ones included until the next sweep.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
