package license

import "errors"

// Entitlement errors are terminal and shown to the user as-is.
var (
	ErrDeviceNotRegistered = errors.New("device not registered")
	ErrNotEntitled         = errors.New("not entitled to content")
	ErrAlreadyConsumed     = errors.New("demo already consumed")
	ErrLicenseRevoked      = errors.New("license revoked")
)

// Integrity errors: the client should re-authorize and re-download.
var ErrKeyVerificationFailed = errors.New("key verification failed")

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrContentNotFound = errors.New("content not found")
)

// IsEntitlementError reports whether err is one of the terminal entitlement errors.
func IsEntitlementError(err error) bool {
	return errors.Is(err, ErrDeviceNotRegistered) ||
		errors.Is(err, ErrNotEntitled) ||
		errors.Is(err, ErrAlreadyConsumed) ||
		errors.Is(err, ErrLicenseRevoked)
}
