package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lessonvault/internal/database/migrations"
	"lessonvault/internal/license"
	"lessonvault/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var _ license.Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger implements license.Ledger using SQLite.
type SQLiteLedger struct {
	db   *sql.DB
	path string
}

// NewSQLiteLedger opens a ledger database.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteLedger{
		db:   db,
		path: path,
	}, nil
}

// NewSQLiteLedgerFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteLedgerFromDB(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for the client key/value store, which shares the driver setup.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Wait up to 5s for locks instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	return db, nil
}

// Migrate applies pending ledger migrations.
func (s *SQLiteLedger) Migrate() error {
	return migrations.MigrateUp(s.db, migrations.Ledger)
}

// CheckMigrations verifies that the ledger schema is up-to-date.
func (s *SQLiteLedger) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, migrations.Ledger)
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// Device operations

const deviceColumns = "account_id, device_id, display_name, platform, registered_at, last_active_at, active"

func (s *SQLiteLedger) UpsertDevice(ctx context.Context, device *model.Device) (*model.Device, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (account_id, device_id) DO UPDATE SET
			display_name   = excluded.display_name,
			platform       = excluded.platform,
			last_active_at = excluded.last_active_at,
			active         = 1`,
		device.AccountID, device.DeviceID, device.DisplayName, device.Platform,
		device.RegisteredAt.UTC(), device.LastActiveAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting device: %w", err)
	}

	return s.FindDevice(ctx, device.AccountID, device.DeviceID)
}

func (s *SQLiteLedger) FindDevice(ctx context.Context, accountID, deviceID string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE account_id = ? AND device_id = ?",
		accountID, deviceID)

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding device: %w", err)
	}
	return device, nil
}

func (s *SQLiteLedger) ListActiveDevices(ctx context.Context, accountID string) ([]*model.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE account_id = ? AND active = 1 ORDER BY registered_at, device_id",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

func (s *SQLiteLedger) DeactivateDevice(ctx context.Context, accountID, deviceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE devices SET active = 0 WHERE account_id = ? AND device_id = ?",
		accountID, deviceID)
	if err != nil {
		return false, fmt.Errorf("deactivating device: %w", err)
	}
	return affected(res)
}

func (s *SQLiteLedger) TouchDevice(ctx context.Context, accountID, deviceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE devices SET last_active_at = ? WHERE account_id = ? AND device_id = ?",
		at.UTC(), accountID, deviceID)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	return nil
}

// Catalog operations

func (s *SQLiteLedger) FindContent(ctx context.Context, contentID string) (*model.Content, error) {
	var c model.Content
	err := s.db.QueryRowContext(ctx, `
		SELECT content_id, course_id, title, object_key, size_bytes, is_demo
		FROM contents WHERE content_id = ?`, contentID,
	).Scan(&c.ContentID, &c.CourseID, &c.Title, &c.ObjectKey, &c.SizeBytes, &c.IsDemo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding content: %w", err)
	}
	return &c, nil
}

func (s *SQLiteLedger) UpsertContent(ctx context.Context, content *model.Content) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contents (content_id, course_id, title, object_key, size_bytes, is_demo)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			course_id  = excluded.course_id,
			title      = excluded.title,
			object_key = excluded.object_key,
			size_bytes = excluded.size_bytes,
			is_demo    = excluded.is_demo`,
		content.ContentID, content.CourseID, content.Title, content.ObjectKey, content.SizeBytes, content.IsDemo,
	)
	if err != nil {
		return fmt.Errorf("upserting content: %w", err)
	}
	return nil
}

func (s *SQLiteLedger) UpsertEnrollment(ctx context.Context, enrollment *model.Enrollment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (account_id, course_id, active, granted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, course_id) DO UPDATE SET
			active     = excluded.active,
			granted_at = excluded.granted_at`,
		enrollment.AccountID, enrollment.CourseID, enrollment.Active, enrollment.GrantedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting enrollment: %w", err)
	}
	return nil
}

func (s *SQLiteLedger) HasActiveEnrollment(ctx context.Context, accountID, courseID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrollments WHERE account_id = ? AND course_id = ? AND active = 1",
		accountID, courseID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking enrollment: %w", err)
	}
	return n > 0, nil
}

// License operations

func (s *SQLiteLedger) FindLicense(ctx context.Context, accountID, deviceID, contentID string) (*model.License, error) {
	var (
		lic    model.License
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, content_id, device_id, key_hash, status, file_size_bytes, issued_at, last_accessed_at
		FROM licenses WHERE account_id = ? AND device_id = ? AND content_id = ?`,
		accountID, deviceID, contentID,
	).Scan(&lic.ID, &lic.AccountID, &lic.ContentID, &lic.DeviceID, &lic.KeyHash, &status,
		&lic.FileSizeBytes, &lic.IssuedAt, &lic.LastAccessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding license: %w", err)
	}
	lic.Status = model.LicenseStatus(status)
	return &lic, nil
}

func (s *SQLiteLedger) IssueLicense(ctx context.Context, lic *model.License) (bool, error) {
	// An already active license stays active so a re-download does not
	// invalidate a confirmed copy on the same device.
	// A suspended account gets neither a new row nor a refreshed one.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO licenses (id, account_id, content_id, device_id, key_hash, status, file_size_bytes, issued_at, last_accessed_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM account_suspensions WHERE account_id = ?)
		ON CONFLICT (account_id, content_id, device_id) DO UPDATE SET
			key_hash         = excluded.key_hash,
			status           = CASE WHEN licenses.status = 'active' THEN 'active' ELSE excluded.status END,
			issued_at        = excluded.issued_at,
			last_accessed_at = excluded.last_accessed_at
		WHERE licenses.status != 'revoked'`,
		lic.ID, lic.AccountID, lic.ContentID, lic.DeviceID, lic.KeyHash, string(lic.Status),
		lic.FileSizeBytes, lic.IssuedAt.UTC(), lic.LastAccessedAt.UTC(),
		lic.AccountID,
	)
	if err != nil {
		return false, fmt.Errorf("issuing license: %w", err)
	}
	return affected(res)
}

func (s *SQLiteLedger) ConfirmLicense(ctx context.Context, accountID, deviceID, contentID string, sizeBytes int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET status = 'active', file_size_bytes = ?, last_accessed_at = ?
		WHERE account_id = ? AND device_id = ? AND content_id = ? AND status IN ('pending', 'active')`,
		sizeBytes, at.UTC(), accountID, deviceID, contentID)
	if err != nil {
		return false, fmt.Errorf("confirming license: %w", err)
	}
	return affected(res)
}

func (s *SQLiteLedger) ReleaseLicense(ctx context.Context, accountID, deviceID, contentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET status = 'deleted'
		WHERE account_id = ? AND device_id = ? AND content_id = ? AND status IN ('pending', 'active')`,
		accountID, deviceID, contentID)
	if err != nil {
		return false, fmt.Errorf("releasing license: %w", err)
	}
	return affected(res)
}

func (s *SQLiteLedger) TouchLicense(ctx context.Context, accountID, deviceID, contentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE licenses SET last_accessed_at = ? WHERE account_id = ? AND device_id = ? AND content_id = ?",
		at.UTC(), accountID, deviceID, contentID)
	if err != nil {
		return fmt.Errorf("touching license: %w", err)
	}
	return nil
}

func (s *SQLiteLedger) RevokeLicenses(ctx context.Context, accountID, deviceID, contentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET status = 'revoked'
		WHERE account_id = ? AND status != 'revoked'
		  AND (? = '' OR device_id = ?)
		  AND (? = '' OR content_id = ?)`,
		accountID, deviceID, deviceID, contentID, contentID)
	if err != nil {
		return 0, fmt.Errorf("revoking licenses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoking licenses: %w", err)
	}
	return n, nil
}

func (s *SQLiteLedger) ReinstateLicenses(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE licenses SET status = 'deleted' WHERE account_id = ? AND status = 'revoked'",
		accountID)
	if err != nil {
		return 0, fmt.Errorf("reinstating licenses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reinstating licenses: %w", err)
	}
	return n, nil
}

func (s *SQLiteLedger) SuspendAccount(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_suspensions (account_id, suspended_at) VALUES (?, ?)
		ON CONFLICT (account_id) DO NOTHING`,
		accountID, at.UTC())
	if err != nil {
		return fmt.Errorf("suspending account: %w", err)
	}
	return nil
}

func (s *SQLiteLedger) LiftSuspension(ctx context.Context, accountID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM account_suspensions WHERE account_id = ?", accountID)
	if err != nil {
		return false, fmt.Errorf("lifting suspension: %w", err)
	}
	return affected(res)
}

func (s *SQLiteLedger) IsSuspended(ctx context.Context, accountID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM account_suspensions WHERE account_id = ?", accountID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking suspension: %w", err)
	}
	return n > 0, nil
}

// Demo operations

func (s *SQLiteLedger) FindDemo(ctx context.Context, accountID string) (*model.DemoEntitlement, error) {
	var (
		demo       model.DemoEntitlement
		watchedAt  sql.NullTime
		reservedBy sql.NullString
		reservedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, watched, watched_at, skipped, reserved_by, reserved_at
		FROM demo_entitlements WHERE account_id = ?`, accountID,
	).Scan(&demo.AccountID, &demo.Watched, &watchedAt, &demo.Skipped, &reservedBy, &reservedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding demo: %w", err)
	}
	if watchedAt.Valid {
		demo.WatchedAt = &watchedAt.Time
	}
	demo.ReservedBy = reservedBy.String
	if reservedAt.Valid {
		demo.ReservedAt = &reservedAt.Time
	}
	return &demo, nil
}

func (s *SQLiteLedger) ReserveDemo(ctx context.Context, accountID, deviceID string, at, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO demo_entitlements (account_id, watched, skipped, reserved_by, reserved_at)
		VALUES (?, 0, 0, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			reserved_by = excluded.reserved_by,
			reserved_at = excluded.reserved_at
		WHERE demo_entitlements.watched = 0
		  AND (demo_entitlements.reserved_by IS NULL
		       OR demo_entitlements.reserved_by = excluded.reserved_by
		       OR demo_entitlements.reserved_at < ?)`,
		accountID, deviceID, at.UTC(), staleBefore.UTC())
	if err != nil {
		return false, fmt.Errorf("reserving demo: %w", err)
	}
	return affected(res)
}

func (s *SQLiteLedger) CompleteDemo(ctx context.Context, accountID, deviceID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE demo_entitlements SET watched = 1, watched_at = ?
		WHERE account_id = ? AND watched = 0 AND reserved_by = ?`,
		at.UTC(), accountID, deviceID)
	if err != nil {
		return false, fmt.Errorf("completing demo: %w", err)
	}
	return affected(res)
}

func (s *SQLiteLedger) ClearDemoReservation(ctx context.Context, accountID, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE demo_entitlements SET reserved_by = NULL, reserved_at = NULL
		WHERE account_id = ? AND watched = 0 AND reserved_by = ?`,
		accountID, deviceID)
	if err != nil {
		return fmt.Errorf("clearing demo reservation: %w", err)
	}
	return nil
}

func (s *SQLiteLedger) SkipDemo(ctx context.Context, accountID string, _ time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO demo_entitlements (account_id, watched, skipped)
		VALUES (?, 0, 1)
		ON CONFLICT (account_id) DO UPDATE SET skipped = 1`,
		accountID)
	if err != nil {
		return fmt.Errorf("skipping demo: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*model.Device, error) {
	var d model.Device
	if err := row.Scan(&d.AccountID, &d.DeviceID, &d.DisplayName, &d.Platform,
		&d.RegisteredAt, &d.LastActiveAt, &d.Active); err != nil {
		return nil, err
	}
	return &d, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}
