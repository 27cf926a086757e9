package testutil

import (
	"testing"

	"lessonvault/internal/database"
)

// NewTestLedger creates a new in-memory SQLite ledger with schema applied.
// The ledger is automatically closed when the test completes.
func NewTestLedger(t *testing.T) *database.SQLiteLedger {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	ledger := database.NewSQLiteLedgerFromDB(sqlDB)
	if err := ledger.Migrate(); err != nil {
		ledger.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		ledger.Close()
	})

	return ledger
}
