package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"lessonvault/internal/api"
	"lessonvault/internal/license"
)

const maxBodyBytes = 1 << 20

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, license.ErrDeviceNotRegistered):
		return http.StatusForbidden, api.CodeDeviceNotRegistered
	case errors.Is(err, license.ErrNotEntitled):
		return http.StatusForbidden, api.CodeNotEntitled
	case errors.Is(err, license.ErrAlreadyConsumed):
		return http.StatusConflict, api.CodeAlreadyConsumed
	case errors.Is(err, license.ErrLicenseRevoked):
		return http.StatusForbidden, api.CodeLicenseRevoked
	case errors.Is(err, license.ErrKeyVerificationFailed):
		return http.StatusConflict, api.CodeKeyVerificationFailed
	case errors.Is(err, license.ErrInvalidRequest):
		return http.StatusBadRequest, api.CodeInvalidRequest
	case errors.Is(err, license.ErrContentNotFound):
		return http.StatusNotFound, api.CodeContentNotFound
	default:
		return http.StatusInternalServerError, api.CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg, Code: code})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", license.ErrInvalidRequest, err)
	}
	return nil
}
