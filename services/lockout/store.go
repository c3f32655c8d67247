package lockout

import (
	"context"
	"sync"
	"time"
)

// Store holds per-account failure counters and lock marks. The memory
// implementation is fine for a single instance; multi-instance
// deployments use the redis store so every instance sees one counter.
type Store interface {
	Fail(ctx context.Context, key string, window time.Duration) (int, error)
	Lock(ctx context.Context, key string, until time.Time) error
	LockedUntil(ctx context.Context, key string) (time.Time, bool, error)
	Clear(ctx context.Context, key string) error
}

type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*entry
}

type entry struct {
	count       int
	windowEnd   time.Time
	lockedUntil time.Time
}

func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		data: make(map[string]*entry),
	}

	go store.cleanup()

	return store
}

func (s *MemoryStore) Fail(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, exists := s.data[key]
	if !exists || now.After(e.windowEnd) {
		e = &entry{windowEnd: now.Add(window)}
		s.data[key] = e
	}

	e.count++
	return e.count, nil
}

func (s *MemoryStore) Lock(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[key]
	if !exists {
		e = &entry{windowEnd: until}
		s.data[key] = e
	}
	e.lockedUntil = until
	return nil
}

func (s *MemoryStore) LockedUntil(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.data[key]; exists && time.Now().Before(e.lockedUntil) {
		return e.lockedUntil, true, nil
	}

	return time.Time{}, false, nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
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
			if now.After(e.windowEnd) && now.After(e.lockedUntil) {
				delete(s.data, key)
			}
		}

		s.mu.Unlock()
	}
}
