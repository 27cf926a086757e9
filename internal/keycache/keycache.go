// Package keycache stores content keys on the device so lessons play offline.
package keycache

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"lessonvault/internal/fsutil"
)

// ErrLocked is returned by Get on an age store that has not been unlocked.
var ErrLocked = errors.New("key cache locked")

// Unlocker is implemented by stores whose keys are protected by a passphrase.
type Unlocker interface {
	IsConfigured() bool
	Setup(passphrase string) error
	Unlock(passphrase string) error
}

// fileName maps a content id to a flat, path-safe file name.
func fileName(contentID, ext string) (string, error) {
	if contentID == "" {
		return "", fmt.Errorf("content id required")
	}
	return hex.EncodeToString([]byte(contentID)) + ext, nil
}

// writeFile writes a key file readable only by the owner.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	return fsutil.WriteAtomic(path, bytes.NewReader(data), int64(len(data)), 0600)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing key: %w", err)
	}
	return nil
}
