package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type idemEntry struct {
	payload   string
	expiresAt time.Time
}

// IdempotencyStore mirrors the redis idempotency store inside one process.
// Saved results are bounded by size and by ttl. In-flight locks are kept
// apart from the results so eviction never drops one.
type IdempotencyStore struct {
	mu      sync.Mutex
	results *expirable.LRU[string, idemEntry]
	locks   map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewIdempotencyStore(size int, ttl time.Duration) *IdempotencyStore {
	if size <= 0 {
		size = 10_000
	}

	return &IdempotencyStore{
		results: expirable.NewLRU[string, idemEntry](size, nil, ttl),
		locks:   make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.locks {
		if !now.Before(exp) {
			delete(s.locks, k)
		}
	}

	if _, held := s.locks[key]; held {
		return false, nil
	}

	if _, ok := s.result(key); ok {
		return false, nil
	}

	s.locks[key] = now.Add(lockTTL)
	return true, nil
}

func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, jsonPayload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, key)
	s.results.Add(key, idemEntry{payload: jsonPayload, expiresAt: s.now().Add(s.ttl)})
	return nil
}

func (s *IdempotencyStore) GetResult(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.result(key)
	return payload, ok, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, key)
	s.results.Remove(key)
	return nil
}

// result honours the injected clock as well as the cache ttl.
func (s *IdempotencyStore) result(key string) (string, bool) {
	e, ok := s.results.Get(key)
	if !ok {
		return "", false
	}

	if !s.now().Before(e.expiresAt) {
		s.results.Remove(key)
		return "", false
	}

	return e.payload, true
}
