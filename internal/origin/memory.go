package origin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"lessonvault/internal/model"
)

// MemoryOrigin is an in-memory origin, useful for testing.
// This implementation is safe for concurrent use.
type MemoryOrigin struct {
	signer  *Signer
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryOrigin creates an empty in-memory origin.
func NewMemoryOrigin(signer *Signer) *MemoryOrigin {
	return &MemoryOrigin{
		signer:  signer,
		objects: make(map[string][]byte),
	}
}

func (m *MemoryOrigin) IssueURL(_ context.Context, content *model.Content, ttl time.Duration) (string, time.Time, error) {
	if err := validKey(content.ObjectKey); err != nil {
		return "", time.Time{}, err
	}
	return m.signer.Sign(content.ObjectKey, ttl)
}

func (m *MemoryOrigin) Put(_ context.Context, key string, r io.Reader, size int64) error {
	if err := validKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data
	return nil
}

func (m *MemoryOrigin) OpenSigned(_ context.Context, token string) (*Object, error) {
	key, err := m.signer.Verify(token)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &Object{
		Key:  key,
		Size: int64(len(data)),
		Body: nopSeekCloser{bytes.NewReader(data)},
	}, nil
}

// ValidateSetup always succeeds for in-memory origin.
func (m *MemoryOrigin) ValidateSetup(context.Context) error {
	return nil
}

var _ SignedOrigin = (*MemoryOrigin)(nil)
