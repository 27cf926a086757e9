package store

import (
	"context"
	"fmt"
	"sync"

	"lessonvault/internal/offline"
)

// MemoryStore is an in-memory store, useful for testing. Packages are kept
// serialized so loads go through the same decoding as on disk.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	packages map[string][]byte
	index    map[string]offline.IndexEntry
	quota    int64
}

var _ offline.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. quota <= 0 means no cap.
func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{
		packages: make(map[string][]byte),
		index:    make(map[string]offline.IndexEntry),
		quota:    quota,
	}
}

func (s *MemoryStore) Save(ctx context.Context, contentID string, pkg *offline.Package) error {
	if contentID == "" {
		return fmt.Errorf("content id required")
	}
	data, err := pkg.Marshal()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quota > 0 {
		var used int64
		for id, p := range s.packages {
			if id != contentID {
				used += int64(len(p))
			}
		}
		if used+int64(len(data)) > s.quota {
			return fmt.Errorf("%w: quota of %d bytes reached", offline.ErrStorageExhausted, s.quota)
		}
	}
	s.packages[contentID] = data
	return nil
}

func (s *MemoryStore) Load(_ context.Context, contentID string) (*offline.Package, error) {
	s.mu.RLock()
	data, ok := s.packages[contentID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: package %s", offline.ErrNotFound, contentID)
	}
	return offline.UnmarshalPackage(data)
}

func (s *MemoryStore) Delete(_ context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.packages, contentID)
	return nil
}

func (s *MemoryStore) PutIndex(_ context.Context, entry offline.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[entry.ContentID] = entry
	return nil
}

func (s *MemoryStore) ListIndex(_ context.Context) ([]offline.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]offline.IndexEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sortIndex(entries)
	return entries, nil
}

func (s *MemoryStore) DeleteIndex(_ context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, contentID)
	return nil
}

// Raw returns the stored bytes of a package.
func (s *MemoryStore) Raw(contentID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.packages[contentID]
	return append([]byte(nil), data...), ok
}

// PutRaw replaces the stored bytes of a package.
func (s *MemoryStore) PutRaw(contentID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[contentID] = append([]byte(nil), data...)
}
