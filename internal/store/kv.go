package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"lessonvault/internal/database"
	"lessonvault/internal/database/migrations"
	"lessonvault/internal/offline"
)

const (
	packagePrefix = "pkg/"
	indexPrefix   = "index/"
)

// KVStore is the small-capacity store: packages live in one SQLite table
// whose total package bytes are capped by a quota.
type KVStore struct {
	db    *sql.DB
	quota int64
}

var _ offline.Store = (*KVStore)(nil)

// NewKVStore opens (and migrates) the database at path. quota <= 0 means no cap.
func NewKVStore(path string, quota int64) (*KVStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating kv directory: %w", err)
		}
	}
	db, err := database.OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db, migrations.KV); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating kv store: %w", err)
	}
	return &KVStore{db: db, quota: quota}, nil
}

// Save upserts the package in one statement that also enforces the quota, so
// concurrent saves cannot overshoot it together.
func (s *KVStore) Save(ctx context.Context, contentID string, pkg *offline.Package) error {
	name, err := entryName(contentID)
	if err != nil {
		return err
	}
	name = packagePrefix + name

	data, err := pkg.Marshal()
	if err != nil {
		return err
	}
	size := int64(len(data))
	if s.quota > 0 && size > s.quota {
		return fmt.Errorf("%w: package of %d bytes exceeds quota of %d", offline.ErrStorageExhausted, size, s.quota)
	}

	quota := s.quota
	if quota <= 0 {
		quota = -1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (name, value, size_bytes, updated_at)
		SELECT ?, ?, ?, ?
		WHERE ? < 0 OR (
			SELECT COALESCE(SUM(size_bytes), 0) FROM kv_entries
			WHERE name LIKE 'pkg/%' AND name != ?
		) + ? <= ?
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at`,
		name, data, size, time.Now().UTC(),
		quota, name, size, quota,
	)
	if err != nil {
		return kvExhausted(fmt.Errorf("saving package: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving package: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: quota of %d bytes reached", offline.ErrStorageExhausted, s.quota)
	}
	return nil
}

func (s *KVStore) Load(ctx context.Context, contentID string) (*offline.Package, error) {
	name, err := entryName(contentID)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE name = ?`, packagePrefix+name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: package %s", offline.ErrNotFound, contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading package: %w", err)
	}
	return offline.UnmarshalPackage(data)
}

func (s *KVStore) Delete(ctx context.Context, contentID string) error {
	return s.deleteEntry(ctx, packagePrefix, contentID)
}

func (s *KVStore) PutIndex(ctx context.Context, entry offline.IndexEntry) error {
	name, err := entryName(entry.ContentID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding index entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (name, value, size_bytes, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at`,
		indexPrefix+name, data, len(data), time.Now().UTC(),
	)
	if err != nil {
		return kvExhausted(fmt.Errorf("saving index entry: %w", err))
	}
	return nil
}

func (s *KVStore) ListIndex(ctx context.Context) ([]offline.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM kv_entries WHERE name LIKE 'index/%'`)
	if err != nil {
		return nil, fmt.Errorf("listing index: %w", err)
	}
	defer rows.Close()

	var entries []offline.IndexEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning index entry: %w", err)
		}
		var e offline.IndexEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("parsing index entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing index: %w", err)
	}
	sortIndex(entries)
	return entries, nil
}

func (s *KVStore) DeleteIndex(ctx context.Context, contentID string) error {
	return s.deleteEntry(ctx, indexPrefix, contentID)
}

// Usage returns the bytes used by packages.
func (s *KVStore) Usage(ctx context.Context) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM kv_entries WHERE name LIKE 'pkg/%'`).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("computing usage: %w", err)
	}
	return used, nil
}

// CheckMigrations verifies the schema is up-to-date.
func (s *KVStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, migrations.KV)
}

func (s *KVStore) Close() error {
	return s.db.Close()
}

func (s *KVStore) deleteEntry(ctx context.Context, prefix, contentID string) error {
	name, err := entryName(contentID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE name = ?`, prefix+name); err != nil {
		return fmt.Errorf("deleting %s: %w", prefix+name, err)
	}
	return nil
}

// kvExhausted maps SQLITE_FULL and disk-full errors to ErrStorageExhausted.
func kvExhausted(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return fmt.Errorf("%w: %v", offline.ErrStorageExhausted, err)
	}
	return exhausted(err)
}
