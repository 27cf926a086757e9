package server

import (
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lessonvault/internal/api"
	"lessonvault/internal/model"
	"lessonvault/internal/origin"
)

func toDevice(d *model.Device) api.Device {
	return api.Device{
		DeviceID:     d.DeviceID,
		DisplayName:  d.DisplayName,
		Platform:     d.Platform,
		RegisteredAt: d.RegisteredAt,
		LastActiveAt: d.LastActiveAt,
		Active:       d.Active,
	}
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "device registration decode failed", err)
		return
	}

	dev, err := s.registry.RegisterDevice(r.Context(), accountFrom(r.Context()), req.DeviceID, req.DisplayName, req.Platform)
	s.metrics.observe("register_device", err)
	if err != nil {
		s.fail(w, r, "device registration failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toDevice(dev))
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context(), accountFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "listing devices failed", err)
		return
	}
	res := api.DeviceList{Devices: make([]api.Device, 0, len(devices))}
	for _, d := range devices {
		res.Devices = append(res.Devices, toDevice(d))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deactivateDevice(w http.ResponseWriter, r *http.Request) {
	err := s.registry.DeactivateDevice(r.Context(), accountFrom(r.Context()), chi.URLParam(r, "deviceId"))
	s.metrics.observe("deactivate_device", err)
	if err != nil {
		s.fail(w, r, "device deactivation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	var req api.AuthorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "authorize decode failed", err)
		return
	}

	grant, err := s.authority.Authorize(r.Context(), accountFrom(r.Context()), req.DeviceID, chi.URLParam(r, "contentId"))
	s.metrics.observe("authorize", err)
	if err != nil {
		s.fail(w, r, "authorize failed", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, api.AuthorizeResponse{
		FetchURL:  grant.FetchURL,
		Key:       hex.EncodeToString(grant.Key),
		Algorithm: grant.Algorithm,
		ExpiresAt: grant.ExpiresAt,
		Content: api.ContentMetadata{
			ContentID: grant.Content.ContentID,
			CourseID:  grant.Content.CourseID,
			Title:     grant.Content.Title,
			SizeBytes: grant.Content.SizeBytes,
			IsDemo:    grant.Content.IsDemo,
		},
	})
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var req api.ConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "confirm decode failed", err)
		return
	}

	err := s.authority.Confirm(r.Context(), accountFrom(r.Context()), req.DeviceID, chi.URLParam(r, "contentId"), req.FileSizeBytes)
	s.metrics.observe("confirm", err)
	if err != nil {
		s.fail(w, r, "confirm failed", err)
		return
	}
	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

func (s *Server) reissueKey(w http.ResponseWriter, r *http.Request) {
	var req api.KeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "key reissue decode failed", err)
		return
	}

	key, err := s.authority.ReissueKey(r.Context(), accountFrom(r.Context()), req.DeviceID, chi.URLParam(r, "contentId"))
	s.metrics.observe("reissue_key", err)
	if err != nil {
		s.fail(w, r, "key reissue failed", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, api.KeyResponse{Key: hex.EncodeToString(key)})
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	err := s.authority.Release(r.Context(), accountFrom(r.Context()), r.URL.Query().Get("deviceId"), chi.URLParam(r, "contentId"))
	s.metrics.observe("release", err)
	if err != nil {
		s.fail(w, r, "release failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) skipDemo(w http.ResponseWriter, r *http.Request) {
	if err := s.authority.SkipDemo(r.Context(), accountFrom(r.Context())); err != nil {
		s.fail(w, r, "skip demo failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	var req api.RevokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "revoke decode failed", err)
		return
	}

	n, err := s.authority.Revoke(r.Context(), req.AccountID, req.DeviceID, req.ContentID)
	s.metrics.observe("revoke", err)
	if err != nil {
		s.fail(w, r, "revoke failed", err)
		return
	}
	s.logger.Info("licenses revoked by admin", "admin", accountFrom(r.Context()), "account_id", req.AccountID, "count", n)
	writeJSON(w, http.StatusOK, api.RevokeResponse{Revoked: n})
}

func (s *Server) reinstate(w http.ResponseWriter, r *http.Request) {
	var req api.ReinstateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "reinstate decode failed", err)
		return
	}

	n, err := s.authority.Reinstate(r.Context(), req.AccountID)
	s.metrics.observe("reinstate", err)
	if err != nil {
		s.fail(w, r, "reinstate failed", err)
		return
	}
	writeJSON(w, http.StatusOK, api.ReinstateResponse{Reinstated: n})
}

// fetch serves an asset for a signed URL. Range requests are supported so
// slow clients can resume.
func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	obj, err := s.origin.OpenSigned(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		switch {
		case errors.Is(err, origin.ErrInvalidToken):
			writeError(w, http.StatusForbidden, api.CodeForbidden, "invalid fetch url")
		case errors.Is(err, origin.ErrURLExpired):
			writeError(w, http.StatusGone, api.CodeForbidden, "fetch url expired")
		case errors.Is(err, origin.ErrNotFound):
			writeError(w, http.StatusNotFound, api.CodeContentNotFound, "content not found")
		default:
			s.logger.Error("opening fetch object failed", "error", err)
			writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal error")
		}
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "", obj.ModTime, obj.Body)
}
