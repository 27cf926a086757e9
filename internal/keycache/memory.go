package keycache

import (
	"context"
	"sync"

	"lessonvault/internal/offline"
)

// MemoryStore is an in-memory key cache, useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

var _ offline.KeyCache = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, contentID string, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[contentID] = append([]byte(nil), key...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, contentID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[contentID]
	if !ok {
		return nil, offline.ErrKeyNotFound
	}
	return append([]byte(nil), key...), nil
}

func (s *MemoryStore) Remove(_ context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, contentID)
	return nil
}

// Len returns the number of cached keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
