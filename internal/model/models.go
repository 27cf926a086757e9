package model

import "time"

// LicenseStatus is the lifecycle state of a License row.
type LicenseStatus string

const (
	LicensePending LicenseStatus = "pending" // authorized, download not yet confirmed
	LicenseActive  LicenseStatus = "active"
	LicenseDeleted LicenseStatus = "deleted" // removed by the user
	LicenseRevoked LicenseStatus = "revoked" // removed by an administrator
)

// Device is a client installation bound to an account.
// Devices are deactivated, never hard-deleted.
type Device struct {
	AccountID    string
	DeviceID     string // client-generated opaque string
	DisplayName  string
	Platform     string
	RegisteredAt time.Time
	LastActiveAt time.Time
	Active       bool
}

// License records that a key was issued for one (account, content, device).
// Only the hash of the key is kept.
type License struct {
	ID             string // UUID
	AccountID      string
	ContentID      string
	DeviceID       string
	KeyHash        string // hex SHA-256 of the derived key
	Status         LicenseStatus
	FileSizeBytes  int64
	IssuedAt       time.Time
	LastAccessedAt time.Time
}

// DemoEntitlement gates the one-time demo lesson for an account.
// ReservedBy holds the device with an in-flight claim between authorize and confirm.
type DemoEntitlement struct {
	AccountID  string
	Watched    bool
	WatchedAt  *time.Time
	Skipped    bool
	ReservedBy string
	ReservedAt *time.Time
}

// Enrollment grants an account access to every lesson of a course.
type Enrollment struct {
	AccountID string
	CourseID  string
	Active    bool
	GrantedAt time.Time
}

// Content is the lesson metadata the license service needs.
type Content struct {
	ContentID string
	CourseID  string
	Title     string
	ObjectKey string // key in the content origin
	SizeBytes int64
	IsDemo    bool
}
