package keycache

import (
	"fmt"

	"lessonvault/internal/config"
	"lessonvault/internal/offline"
)

// NewKeyCacheFromConfig creates a KeyCache based on the config type. The age
// type is wrapped in a Fallback onto plain files in FallbackDir.
func NewKeyCacheFromConfig(cfg config.KeyCacheConfig, logger offline.Logger) (offline.KeyCache, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.Dir == "" || cfg.FallbackDir == "" {
			return nil, fmt.Errorf("age key cache requires dir and fallback_dir to be set")
		}
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age key cache requires public_key_path and private_key_path to be set")
		}
		return NewFallback(NewAgeStore(cfg), NewPlainStore(cfg.FallbackDir), logger), nil
	case "plain":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("plain key cache requires dir to be set")
		}
		return NewPlainStore(cfg.Dir), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown key cache type: %q", cfg.Type)
	}
}
