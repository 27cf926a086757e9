package store

import (
	"fmt"

	"lessonvault/internal/config"
	"lessonvault/internal/offline"
)

// NewStoreFromConfig creates a Store based on the config type. "auto" picks
// the filesystem store when its root is writable and falls back to kv.
func NewStoreFromConfig(cfg config.StoreConfig) (offline.Store, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot)
	case "kv":
		return newKVFromConfig(cfg)
	case "memory":
		return NewMemoryStore(cfg.KVQuota), nil
	case "auto", "":
		if cfg.FSRoot != "" {
			fs, err := NewFileSystemStore(cfg.FSRoot)
			if err == nil && fs.ValidateSetup() == nil {
				return fs, nil
			}
		}
		return newKVFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

func newKVFromConfig(cfg config.StoreConfig) (*KVStore, error) {
	if cfg.KVPath == "" {
		return nil, fmt.Errorf("kv store requires kv_path to be set")
	}
	quota := cfg.KVQuota
	if quota == 0 {
		quota = config.DefaultKVQuota
	}
	return NewKVStore(cfg.KVPath, quota)
}
