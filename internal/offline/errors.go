package offline

import "errors"

// Entitlement errors returned by the license server. They are terminal and
// shown to the user as-is.
var (
	ErrDeviceNotRegistered = errors.New("device not registered")
	ErrNotEntitled         = errors.New("not entitled to content")
	ErrAlreadyConsumed     = errors.New("demo already consumed")
	ErrLicenseRevoked      = errors.New("license revoked")
)

// Integrity errors. The user recovers by deleting and downloading again.
var (
	ErrCorruptPackage        = errors.New("package is corrupt")
	ErrKeyVerificationFailed = errors.New("key verification failed")
	ErrDecryptionFailed      = errors.New("decryption failed")
)

// ErrStorageExhausted means the device is out of space or over quota.
var ErrStorageExhausted = errors.New("storage exhausted")

var (
	ErrNotDownloaded      = errors.New("content not downloaded")
	ErrNotFound           = errors.New("not found")
	ErrKeyNotFound        = errors.New("key not cached")
	ErrUnsupportedVersion = errors.New("unsupported package version")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrReleased           = errors.New("playback handle released")
)

// IsEntitlementError reports whether err is one of the terminal entitlement errors.
func IsEntitlementError(err error) bool {
	return errors.Is(err, ErrDeviceNotRegistered) ||
		errors.Is(err, ErrNotEntitled) ||
		errors.Is(err, ErrAlreadyConsumed) ||
		errors.Is(err, ErrLicenseRevoked)
}

// IsIntegrityError reports whether err calls for a fresh download.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrCorruptPackage) ||
		errors.Is(err, ErrKeyVerificationFailed) ||
		errors.Is(err, ErrDecryptionFailed)
}
