package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"lessonvault/internal/config"
	"lessonvault/internal/database"
	"lessonvault/internal/license"
	"lessonvault/internal/model"
	"lessonvault/internal/origin"
	"lessonvault/internal/server"
)

// LicenseServerApp wires the license server and its admin operations from a
// ServerConfig. The caller must call Close.
type LicenseServerApp struct {
	cfg       *config.ServerConfig
	ledger    *database.SQLiteLedger
	origin    origin.Origin
	registry  *license.Registry
	authority *license.Authority
	auth      *server.TokenAuth
	clock     license.Clock
	logger    *slog.Logger
}

// NewLicenseServerApp opens the ledger and origin. When migrate is false the
// ledger schema must already be current.
func NewLicenseServerApp(ctx context.Context, cfg *config.ServerConfig, logOut io.Writer, migrate bool) (*LicenseServerApp, error) {
	logger := server.NewLogger(server.LogConfig{
		ServiceName: "licensed",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	}, logOut)
	clock := license.RealClock{}

	secret, err := cfg.SecretBytes()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.FetchTTLDuration()
	if err != nil {
		return nil, err
	}

	ledger, err := database.NewLedgerFromConfig(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if migrate {
		err = ledger.Migrate()
	} else {
		err = ledger.CheckMigrations()
	}
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}

	o, err := origin.NewOriginFromConfig(ctx, cfg.Origin, secret, clock)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("creating origin: %w", err)
	}

	registry := license.NewRegistry(ledger, clock, logger)
	authority, err := license.NewAuthority(ledger, registry, o, license.AuthorityConfig{
		Secret:        secret,
		DemoContentID: cfg.DemoContentID,
		FetchTTL:      ttl,
	}, clock, license.UUIDGenerator{}, logger)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("creating authority: %w", err)
	}

	jwtSecret := cfg.Auth.JWTSecret
	if env := os.Getenv("LICENSED_JWT_SECRET"); env != "" {
		jwtSecret = env
	}
	auth, err := server.NewTokenAuth(jwtSecret, cfg.Auth.Issuer, clock)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("configuring auth: %w", err)
	}

	return &LicenseServerApp{
		cfg:       cfg,
		ledger:    ledger,
		origin:    o,
		registry:  registry,
		authority: authority,
		auth:      auth,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Handler returns the HTTP API. The fetch route is mounted only for origins
// that sign their own URLs.
func (a *LicenseServerApp) Handler() http.Handler {
	return a.newServer().Handler()
}

// Serve runs the HTTP API until ctx is cancelled.
func (a *LicenseServerApp) Serve(ctx context.Context) error {
	if err := a.origin.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("origin not usable: %w", err)
	}
	return a.newServer().ListenAndServe(ctx, a.cfg.Listen)
}

func (a *LicenseServerApp) newServer() *server.Server {
	opts := server.Options{
		Registry:  a.registry,
		Authority: a.authority,
		Auth:      a.auth,
		Logger:    a.logger,
		RateLimit: a.cfg.RateLimit,
	}
	if signed, ok := a.origin.(origin.SignedOrigin); ok {
		opts.Origin = signed
	}
	return server.New(opts)
}

// Enroll grants accountID access to every lesson of courseID.
func (a *LicenseServerApp) Enroll(ctx context.Context, accountID, courseID string, active bool) error {
	if accountID == "" || courseID == "" {
		return fmt.Errorf("account and course are required")
	}
	return a.ledger.UpsertEnrollment(ctx, &model.Enrollment{
		AccountID: accountID,
		CourseID:  courseID,
		Active:    active,
		GrantedAt: a.clock.Now(),
	})
}

// AddContent records lesson metadata. The asset itself is uploaded by Publish.
func (a *LicenseServerApp) AddContent(ctx context.Context, content *model.Content) error {
	if content.ContentID == "" || content.ObjectKey == "" {
		return fmt.Errorf("content id and object key are required")
	}
	if content.IsDemo && a.cfg.DemoContentID != "" && content.ContentID != a.cfg.DemoContentID {
		a.logger.Warn("demo flag set on content other than demo_content_id", "content_id", content.ContentID)
	}
	return a.ledger.UpsertContent(ctx, content)
}

// Publish uploads the asset at path to the origin under content.ObjectKey and
// records the content with the uploaded size.
func (a *LicenseServerApp) Publish(ctx context.Context, content *model.Content, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening asset: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat asset: %w", err)
	}
	if err := a.origin.Put(ctx, content.ObjectKey, f, info.Size()); err != nil {
		return fmt.Errorf("uploading asset: %w", err)
	}
	content.SizeBytes = info.Size()

	a.logger.Info("content published", "content_id", content.ContentID, "object_key", content.ObjectKey, "size", content.SizeBytes)
	return a.AddContent(ctx, content)
}

// Revoke revokes matching licenses. Empty deviceID or contentID match all.
func (a *LicenseServerApp) Revoke(ctx context.Context, accountID, deviceID, contentID string) (int64, error) {
	return a.authority.Revoke(ctx, accountID, deviceID, contentID)
}

// Reinstate lifts every revocation on accountID.
func (a *LicenseServerApp) Reinstate(ctx context.Context, accountID string) (int64, error) {
	return a.authority.Reinstate(ctx, accountID)
}

// IssueToken mints an account bearer token.
func (a *LicenseServerApp) IssueToken(accountID string, admin bool, ttl time.Duration) (string, error) {
	return a.auth.Issue(accountID, admin, ttl)
}

// Close closes the ledger.
func (a *LicenseServerApp) Close() error {
	return a.ledger.Close()
}
