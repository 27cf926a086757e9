// Package spool buffers downloads before they are encrypted.
package spool

import (
	"fmt"

	"lessonvault/internal/config"
	"lessonvault/internal/offline"
)

// DefaultMaxSize is the default maximum size of one spooled download (512MB).
const DefaultMaxSize int64 = 512 << 20

// NewSpoolFromConfig creates a Spool implementation based on the config type.
func NewSpoolFromConfig(cfg config.SpoolConfig) (offline.Spool, error) {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	switch cfg.Type {
	case "memory":
		return NewMemorySpool(maxSize), nil
	case "filesystem", "":
		if cfg.SpoolDir == "" {
			return nil, fmt.Errorf("filesystem spool requires spool_dir to be set")
		}
		return NewFileSystemSpool(cfg.SpoolDir, maxSize)
	default:
		return nil, fmt.Errorf("unknown spool type: %s", cfg.Type)
	}
}

// errTooLarge reports a download over the spool's cap.
func errTooLarge(maxSize int64) error {
	return fmt.Errorf("%w: download exceeds spool max size of %d bytes", offline.ErrStorageExhausted, maxSize)
}
