package ratelimit

import (
	"context"
	"sync"
	"time"

	"otp-service/internal/models"
)

type memoryCounter struct {
	count       int64
	windowStart time.Time
	windowEnd   time.Time
	lockedUntil time.Time
}

// MemoryStore is a process-local CounterStore for tests and single-node
// development. The single mutex makes every increment an atomic
// increment-and-read, matching the linearizability the Limiter requires.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

// WithClock overrides the store's time source. Test hook.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok {
		c = &memoryCounter{}
		s.counters[key] = c
	}

	if c.count == 0 || now.After(c.windowEnd) {
		c.count = 0
		c.windowStart = now
		c.windowEnd = now.Add(window)
	}
	c.count++
	return c.count, nil
}

func (s *MemoryStore) Status(ctx context.Context, key string) (models.RateLimitStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return models.RateLimitStatus{}, nil
	}

	status := models.RateLimitStatus{LockedUntil: c.lockedUntil}
	if !s.now().After(c.windowEnd) {
		status.Count = c.count
		status.WindowStart = c.windowStart
	}
	return status, nil
}

func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

func (s *MemoryStore) SetLockout(ctx context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &memoryCounter{}
		s.counters[key] = c
	}
	c.lockedUntil = until
	return nil
}
