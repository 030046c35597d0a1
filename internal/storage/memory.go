package storage

import (
	"context"
	"sync"
	"time"
)

// memoryStore keeps flags in a map guarded by a mutex.
// Expired entries are dropped lazily on access.
type memoryStore struct {
	now func() time.Time

	mu     sync.Mutex
	flags  map[string]int64 // unix milli, 0 = no expiry
	closed bool
}

// NewMemory returns a process-local Store.
func NewMemory(opts ...Option) Store {
	return newMemory(buildOptions(opts))
}

func newMemory(o options) *memoryStore {
	return &memoryStore{now: o.now, flags: map[string]int64{}}
}

func (s *memoryStore) liveLocked(key string, nowMS int64) bool {
	until, ok := s.flags[key]
	if !ok {
		return false
	}
	if until != 0 && until <= nowMS {
		delete(s.flags, key)
		return false
	}
	return true
}

func (s *memoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.liveLocked(key, s.now().UnixMilli()), nil
}

func (s *memoryStore) Add(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	now := s.now()
	if s.liveLocked(key, now.UnixMilli()) {
		return false, nil
	}
	s.flags[key] = expiry(now, ttl)
	return true, nil
}

func (s *memoryStore) Put(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.flags[key] = expiry(s.now(), ttl)
	return nil
}

func (s *memoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.flags, key)
	return nil
}

func (s *memoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.flags = map[string]int64{}
	s.mu.Unlock()
	return nil
}
