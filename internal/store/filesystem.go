package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lessonvault/internal/fsutil"
	"lessonvault/internal/offline"
)

// FileSystemStore is the large-capacity store: one file per package.
//
// Directory structure:
//
//	<root>/
//	  index.json
//	  packages/
//	    <hex content id>.lvpkg
type FileSystemStore struct {
	root        string
	packagesDir string
	indexPath   string
	mu          sync.Mutex // guards index.json
}

var _ offline.Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at root, creating the directory
// structure if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	packagesDir := filepath.Join(root, "packages")
	if err := os.MkdirAll(packagesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileSystemStore{
		root:        root,
		packagesDir: packagesDir,
		indexPath:   filepath.Join(root, "index.json"),
	}, nil
}

func (s *FileSystemStore) Save(ctx context.Context, contentID string, pkg *offline.Package) error {
	path, err := s.packagePath(contentID)
	if err != nil {
		return err
	}
	data, err := pkg.Marshal()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return exhausted(fsutil.WriteAtomic(path, bytes.NewReader(data), int64(len(data)), 0600))
}

func (s *FileSystemStore) Load(_ context.Context, contentID string) (*offline.Package, error) {
	path, err := s.packagePath(contentID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: package %s", offline.ErrNotFound, contentID)
		}
		return nil, fmt.Errorf("failed to read package: %w", err)
	}
	return offline.UnmarshalPackage(data)
}

func (s *FileSystemStore) Delete(_ context.Context, contentID string) error {
	path, err := s.packagePath(contentID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete package: %w", err)
	}
	return nil
}

func (s *FileSystemStore) PutIndex(_ context.Context, entry offline.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return err
	}
	index[entry.ContentID] = entry
	return s.writeIndex(index)
}

func (s *FileSystemStore) ListIndex(_ context.Context) ([]offline.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	entries := make([]offline.IndexEntry, 0, len(index))
	for _, e := range index {
		entries = append(entries, e)
	}
	sortIndex(entries)
	return entries, nil
}

func (s *FileSystemStore) DeleteIndex(_ context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[contentID]; !ok {
		return nil
	}
	delete(index, contentID)
	return s.writeIndex(index)
}

func (s *FileSystemStore) readIndex() (map[string]offline.IndexEntry, error) {
	index := make(map[string]offline.IndexEntry)
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}
	return index, nil
}

func (s *FileSystemStore) writeIndex(index map[string]offline.IndexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	return exhausted(fsutil.WriteAtomic(s.indexPath, bytes.NewReader(data), int64(len(data)), 0600))
}

func (s *FileSystemStore) packagePath(contentID string) (string, error) {
	name, err := entryName(contentID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.packagesDir, name+".lvpkg"), nil
}

// ValidateSetup verifies that the store directories exist and are writable.
func (s *FileSystemStore) ValidateSetup() error {
	info, err := os.Stat(s.packagesDir)
	if err != nil {
		return fmt.Errorf("store directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path is not a directory: %s", s.packagesDir)
	}
	f, err := os.CreateTemp(s.packagesDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("store directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
