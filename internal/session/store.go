package session

import (
	"context"
	"sync"
	"time"
)

// Store is an optional server-side session backend. The encrypted-cookie
// path remains the default contract; a Store only changes where the session
// record lives, never the cookie cryptography around it.
type Store interface {
	Get(ctx context.Context, id string) (Data, bool, error)
	Set(ctx context.Context, id string, data Data, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	data      Data
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (Data, bool, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return Empty(), false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return Empty(), false, nil
	}
	return entry.data, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, id string, data Data, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = memoryEntry{data: data, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
