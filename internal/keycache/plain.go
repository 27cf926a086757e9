package keycache

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lessonvault/internal/offline"
)

// PlainStore keeps keys as hex in owner-only files. It is the fallback when
// no sealed store is available.
type PlainStore struct {
	dir string
}

var _ offline.KeyCache = (*PlainStore)(nil)

func NewPlainStore(dir string) *PlainStore {
	return &PlainStore{dir: dir}
}

func (s *PlainStore) Save(_ context.Context, contentID string, key []byte) error {
	path, err := s.path(contentID)
	if err != nil {
		return err
	}
	return writeFile(path, []byte(hex.EncodeToString(key)+"\n"))
}

func (s *PlainStore) Get(_ context.Context, contentID string) ([]byte, error) {
	path, err := s.path(contentID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offline.ErrKeyNotFound
		}
		return nil, fmt.Errorf("reading key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	return key, nil
}

func (s *PlainStore) Remove(_ context.Context, contentID string) error {
	path, err := s.path(contentID)
	if err != nil {
		return err
	}
	return removeFile(path)
}

func (s *PlainStore) path(contentID string) (string, error) {
	name, err := fileName(contentID, ".key")
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}
