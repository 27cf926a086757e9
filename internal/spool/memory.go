package spool

import (
	"bytes"
	"sync"

	"lessonvault/internal/offline"
)

// MemorySpool buffers downloads in memory.
type MemorySpool struct {
	maxSize int64
}

var _ offline.Spool = (*MemorySpool)(nil)

// NewMemorySpool creates a spool. maxSize is the cap per download; must be positive.
func NewMemorySpool(maxSize int64) *MemorySpool {
	return &MemorySpool{maxSize: maxSize}
}

func (s *MemorySpool) Create(string) (offline.SpoolFile, error) {
	return &memoryFile{maxSize: s.maxSize}, nil
}

type memoryFile struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	maxSize int64
}

func (f *memoryFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int64(f.buf.Len()+len(p)) > f.maxSize {
		return 0, errTooLarge(f.maxSize)
	}
	return f.buf.Write(p)
}

func (f *memoryFile) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.buf.Len())
}

// Bytes returns a copy; the caller may zero it.
func (f *memoryFile) Bytes() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Clone(f.buf.Bytes()), nil
}

func (f *memoryFile) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.buf.Bytes()
	for i := range b {
		b[i] = 0
	}
	f.buf.Reset()
	return nil
}
