package license

import (
	"context"
	"time"

	"lessonvault/internal/model"
)

// Ledger is the persistent store behind the registry and the authority.
// Find methods return (nil, nil) when the row does not exist.
type Ledger interface {
	// Device operations

	// UpsertDevice inserts a device or, if (account, device) exists, updates its
	// metadata and reactivates it. RegisteredAt of an existing row is kept.
	UpsertDevice(ctx context.Context, device *model.Device) (*model.Device, error)

	// FindDevice returns a device regardless of its active flag.
	FindDevice(ctx context.Context, accountID, deviceID string) (*model.Device, error)

	// ListActiveDevices returns the active devices of an account.
	ListActiveDevices(ctx context.Context, accountID string) ([]*model.Device, error)

	// DeactivateDevice clears the active flag. Returns false if no row matched.
	DeactivateDevice(ctx context.Context, accountID, deviceID string) (bool, error)

	// TouchDevice records activity from a device.
	TouchDevice(ctx context.Context, accountID, deviceID string, at time.Time) error

	// Catalog operations

	FindContent(ctx context.Context, contentID string) (*model.Content, error)
	UpsertContent(ctx context.Context, content *model.Content) error
	UpsertEnrollment(ctx context.Context, enrollment *model.Enrollment) error

	// HasActiveEnrollment reports whether the account has an active grant on the course.
	HasActiveEnrollment(ctx context.Context, accountID, courseID string) (bool, error)

	// License operations

	FindLicense(ctx context.Context, accountID, deviceID, contentID string) (*model.License, error)

	// IssueLicense inserts or refreshes the license row for the triple in a single
	// statement. A revoked row, or any row of a suspended account, is left
	// untouched and false is returned.
	IssueLicense(ctx context.Context, license *model.License) (bool, error)

	// ConfirmLicense marks a pending or active license active and records its size.
	// Returns false if no such license exists in those states.
	ConfirmLicense(ctx context.Context, accountID, deviceID, contentID string, sizeBytes int64, at time.Time) (bool, error)

	// ReleaseLicense marks a non-revoked license deleted.
	ReleaseLicense(ctx context.Context, accountID, deviceID, contentID string) (bool, error)

	// TouchLicense records a key reissue.
	TouchLicense(ctx context.Context, accountID, deviceID, contentID string, at time.Time) error

	// RevokeLicenses sets every matching non-revoked license to revoked. Empty
	// deviceID or contentID match all. Returns the number of rows changed.
	RevokeLicenses(ctx context.Context, accountID, deviceID, contentID string) (int64, error)

	// ReinstateLicenses moves the revoked licenses of an account to deleted.
	ReinstateLicenses(ctx context.Context, accountID string) (int64, error)

	// Account suspension

	// SuspendAccount blocks every future license for the account. Idempotent.
	SuspendAccount(ctx context.Context, accountID string, at time.Time) error

	// LiftSuspension removes a suspension. Returns false if none existed.
	LiftSuspension(ctx context.Context, accountID string) (bool, error)

	IsSuspended(ctx context.Context, accountID string) (bool, error)

	// Demo operations

	FindDemo(ctx context.Context, accountID string) (*model.DemoEntitlement, error)

	// ReserveDemo atomically claims the demo for a device. It succeeds only if the
	// demo is unwatched and unreserved, already reserved by the same device, or
	// the previous reservation is older than staleBefore.
	ReserveDemo(ctx context.Context, accountID, deviceID string, at, staleBefore time.Time) (bool, error)

	// CompleteDemo atomically sets watched for an unwatched demo reserved by deviceID.
	CompleteDemo(ctx context.Context, accountID, deviceID string, at time.Time) (bool, error)

	// ClearDemoReservation drops an unwatched claim held by deviceID.
	ClearDemoReservation(ctx context.Context, accountID, deviceID string) error

	// SkipDemo records that the user skipped the demo.
	SkipDemo(ctx context.Context, accountID string, at time.Time) error

	// CheckMigrations verifies the schema is up-to-date.
	CheckMigrations() error

	// Close closes the underlying connection.
	Close() error
}

// URLIssuer issues a time-boxed URL from which the raw asset can be fetched.
type URLIssuer interface {
	IssueURL(ctx context.Context, content *model.Content, ttl time.Duration) (string, time.Time, error)
}
