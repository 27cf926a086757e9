// Package server exposes the device registry and license authority over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"lessonvault/internal/license"
	"lessonvault/internal/origin"
)

// Options wires a Server.
type Options struct {
	Registry  *license.Registry
	Authority *license.Authority
	// Origin serves /v1/fetch for origins that sign their own URLs. Nil for
	// origins such as S3 that clients download from directly.
	Origin    origin.SignedOrigin
	Auth      *TokenAuth
	Metrics   *Metrics
	Logger    *slog.Logger
	RateLimit int // requests per minute per IP on license routes; 0 disables
}

// Server is the license HTTP API.
type Server struct {
	registry  *license.Registry
	authority *license.Authority
	origin    origin.SignedOrigin
	auth      *TokenAuth
	metrics   *Metrics
	logger    *slog.Logger
	rateLimit int
}

// New creates a Server. Metrics and Logger default to fresh instances.
func New(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		registry:  opts.Registry,
		authority: opts.Authority,
		origin:    opts.Origin,
		auth:      opts.Auth,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		rateLimit: opts.RateLimit,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logRequests(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.metrics.Handler())

	if s.origin != nil {
		r.Get("/v1/fetch/{token}", s.fetch)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/v1/devices", s.registerDevice)
		r.Get("/v1/devices", s.listDevices)
		r.Delete("/v1/devices/{deviceId}", s.deactivateDevice)
		r.Post("/v1/demo/skip", s.skipDemo)

		r.Route("/v1/contents/{contentId}", func(r chi.Router) {
			if s.rateLimit > 0 {
				r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
			}
			r.Post("/authorize", s.authorize)
			r.Post("/confirm", s.confirm)
			r.Post("/key", s.reissueKey)
			r.Delete("/license", s.release)
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/revoke", s.revoke)
			r.Post("/reinstate", s.reinstate)
		})
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("license server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("license server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// fail writes the error response for err and logs it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, code := statusFor(err)
	reqID := chimw.GetReqID(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, "error", err, "request_id", reqID)
		writeError(w, status, code, "internal error")
		return
	}
	s.logger.Warn(msg, "error", err, "code", code, "request_id", reqID)
	writeError(w, status, code, err.Error())
}
