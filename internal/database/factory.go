package database

import (
	"fmt"
	"os"
	"path/filepath"

	"lessonvault/internal/config"
)

// NewLedgerFromConfig creates a ledger based on the ledger config type.
// A memory ledger is migrated immediately since it starts empty every time.
func NewLedgerFromConfig(cfg config.LedgerConfig) (*SQLiteLedger, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite ledger")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
		return NewSQLiteLedger(cfg.Path)
	case "memory":
		ledger, err := NewSQLiteLedger(":memory:")
		if err != nil {
			return nil, err
		}
		if err := ledger.Migrate(); err != nil {
			ledger.Close()
			return nil, fmt.Errorf("migrating memory ledger: %w", err)
		}
		return ledger, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}
