package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store counts requests per key within a fixed window. The memory store
// is per-instance; the redis store gives a fleet of instances one shared
// counter.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetTime time.Time, err error)
	Reset(ctx context.Context, key string) error
}

type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*entry
}

type entry struct {
	count     int
	resetTime time.Time
}

func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		data: make(map[string]*entry),
	}

	go store.cleanup()

	return store
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, exists := s.data[key]; exists && now.Before(e.resetTime) {
		e.count++
		return e.count, e.resetTime, nil
	}

	e := &entry{
		count:     1,
		resetTime: now.Add(window),
	}
	s.data[key] = e

	return e.count, e.resetTime, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()

		for key, e := range s.data {
			if now.After(e.resetTime) {
				delete(s.data, key)
			}
		}

		s.mu.Unlock()
	}
}
