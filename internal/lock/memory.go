package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. It exists for tests
// and single-node development; production replicas share a RedisStore.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
}

// NewMemoryStore creates an in-memory lock store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]memoryEntry)}
}

// Acquire implements Store.Acquire
func (s *MemoryStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.locks[key]; ok && time.Now().Before(entry.expiresAt) {
		return false, nil
	}

	s.locks[key] = memoryEntry{
		token:     token,
		expiresAt: time.Now().Add(ttl),
	}
	return true, nil
}

// Release implements Store.Release
func (s *MemoryStore) Release(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.locks[key]
	if !ok || time.Now().After(entry.expiresAt) || entry.token != token {
		return ErrNotHeld
	}
	delete(s.locks, key)
	return nil
}

// Expire implements Store.Expire
func (s *MemoryStore) Expire(ctx context.Context, key, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.locks[key]
	if !ok || time.Now().After(entry.expiresAt) || entry.token != token {
		return ErrNotHeld
	}
	entry.expiresAt = time.Now().Add(ttl)
	s.locks[key] = entry
	return nil
}
