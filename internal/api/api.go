// Package api holds the JSON request and response bodies shared by the
// license server and its client.
package api

import "time"

// Error codes carried in ErrorResponse.Code.
const (
	CodeDeviceNotRegistered   = "device_not_registered"
	CodeNotEntitled           = "not_entitled"
	CodeAlreadyConsumed       = "already_consumed"
	CodeLicenseRevoked        = "license_revoked"
	CodeKeyVerificationFailed = "key_verification_failed"
	CodeInvalidRequest        = "invalid_request"
	CodeContentNotFound       = "content_not_found"
	CodeUnauthorized          = "unauthorized"
	CodeForbidden             = "forbidden"
	CodeInternal              = "internal"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type RegisterDeviceRequest struct {
	DeviceID    string `json:"deviceId"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
}

type Device struct {
	DeviceID     string    `json:"deviceId"`
	DisplayName  string    `json:"displayName"`
	Platform     string    `json:"platform"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Active       bool      `json:"active"`
}

type DeviceList struct {
	Devices []Device `json:"devices"`
}

type AuthorizeRequest struct {
	DeviceID string `json:"deviceId"`
}

// ContentMetadata describes the lesson a grant covers.
type ContentMetadata struct {
	ContentID string `json:"contentId"`
	CourseID  string `json:"courseId"`
	Title     string `json:"title"`
	SizeBytes int64  `json:"sizeBytes"`
	IsDemo    bool   `json:"isDemo"`
}

type AuthorizeResponse struct {
	FetchURL  string          `json:"fetchUrl"`
	Key       string          `json:"key"` // hex, 256-bit
	Algorithm string          `json:"algorithm"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Content   ContentMetadata `json:"content"`
}

type ConfirmRequest struct {
	DeviceID      string `json:"deviceId"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type KeyRequest struct {
	DeviceID string `json:"deviceId"`
}

type KeyResponse struct {
	Key string `json:"key"` // hex
}

type RevokeRequest struct {
	AccountID string `json:"accountId"`
	DeviceID  string `json:"deviceId,omitempty"`
	ContentID string `json:"contentId,omitempty"`
}

type RevokeResponse struct {
	Revoked int64 `json:"revoked"`
}

type ReinstateRequest struct {
	AccountID string `json:"accountId"`
}

type ReinstateResponse struct {
	Reinstated int64 `json:"reinstated"`
}
