package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"lessonvault/internal/offline"
)

// FileSystemSpool buffers downloads in temp files so large lessons do not
// sit in memory while they arrive.
//
// Directory structure:
//
//	<spool_dir>/
//	  .spool-<random>    (one per in-flight download)
type FileSystemSpool struct {
	dir     string
	maxSize int64
}

var _ offline.Spool = (*FileSystemSpool)(nil)

// NewFileSystemSpool creates a filesystem spool and removes files left over
// from an interrupted run. maxSize is the cap per download; must be positive.
func NewFileSystemSpool(dir string, maxSize int64) (*FileSystemSpool, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	s := &FileSystemSpool{dir: dir, maxSize: maxSize}
	if err := s.sweep(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSystemSpool) Create(string) (offline.SpoolFile, error) {
	f, err := os.CreateTemp(s.dir, ".spool-*")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	return &diskFile{f: f, maxSize: s.maxSize}, nil
}

// sweep removes stale spool files.
func (s *FileSystemSpool) sweep() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading spool directory: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".spool-") {
			os.Remove(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil
}

type diskFile struct {
	mu      sync.Mutex
	f       *os.File
	size    int64
	maxSize int64
	closed  bool
}

func (d *diskFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, os.ErrClosed
	}
	if d.size+int64(len(p)) > d.maxSize {
		return 0, errTooLarge(d.maxSize)
	}
	n, err := d.f.Write(p)
	d.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing spool file: %w", err)
	}
	return n, nil
}

func (d *diskFile) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func (d *diskFile) Bytes() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, os.ErrClosed
	}
	data, err := os.ReadFile(d.f.Name())
	if err != nil {
		return nil, fmt.Errorf("reading spool file: %w", err)
	}
	return data, nil
}

// Discard closes and removes the temp file.
func (d *diskFile) Discard() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	closeErr := d.f.Close()
	removeErr := os.Remove(d.f.Name())
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}
	return errors.Join(closeErr, removeErr)
}
