package license

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"lessonvault/internal/kdf"
	"lessonvault/internal/model"
)

// AlgorithmAES256CBC identifies the package cipher clients must use.
const AlgorithmAES256CBC = "AES-256-CBC"

const (
	// DefaultFetchTTL is how long an issued fetch URL stays valid.
	DefaultFetchTTL = 45 * time.Minute
	MinFetchTTL     = 30 * time.Minute
	MaxFetchTTL     = 60 * time.Minute
)

// AuthorityConfig holds the tunables of the license authority.
type AuthorityConfig struct {
	Secret        []byte
	DemoContentID string
	FetchTTL      time.Duration
}

// Grant is the result of a successful authorization. Key is sent to the
// client exactly once and never persisted.
type Grant struct {
	FetchURL  string
	ExpiresAt time.Time
	Key       []byte
	Algorithm string
	Content   model.Content
}

// Authority validates entitlement, derives content keys, and keeps the
// license ledger.
type Authority struct {
	ledger   Ledger
	registry *Registry
	urls     URLIssuer
	cfg      AuthorityConfig
	clock    Clock
	idgen    IDGenerator
	logger   Logger
}

// NewAuthority creates an Authority. A zero FetchTTL selects DefaultFetchTTL;
// values outside [MinFetchTTL, MaxFetchTTL] are clamped.
func NewAuthority(ledger Ledger, registry *Registry, urls URLIssuer, cfg AuthorityConfig, clock Clock, idgen IDGenerator, logger Logger) (*Authority, error) {
	if len(cfg.Secret) < kdf.MinSecretSize {
		return nil, fmt.Errorf("server secret must be at least %d bytes", kdf.MinSecretSize)
	}
	switch {
	case cfg.FetchTTL == 0:
		cfg.FetchTTL = DefaultFetchTTL
	case cfg.FetchTTL < MinFetchTTL:
		cfg.FetchTTL = MinFetchTTL
	case cfg.FetchTTL > MaxFetchTTL:
		cfg.FetchTTL = MaxFetchTTL
	}
	return &Authority{
		ledger:   ledger,
		registry: registry,
		urls:     urls,
		cfg:      cfg,
		clock:    clock,
		idgen:    idgen,
		logger:   logger,
	}, nil
}

// Authorize issues a fetch URL and key for (account, device, content).
func (a *Authority) Authorize(ctx context.Context, accountID, deviceID, contentID string) (*Grant, error) {
	if err := a.registry.requireActive(ctx, accountID, deviceID); err != nil {
		return nil, err
	}

	content, err := a.checkEntitlement(ctx, accountID, contentID)
	if err != nil {
		return nil, err
	}

	if err := a.checkSuspended(ctx, accountID); err != nil {
		return nil, err
	}

	now := a.clock.Now()
	demo := a.isDemo(content)
	if demo {
		// A revoked device must not hold the account's one claim.
		lic, err := a.ledger.FindLicense(ctx, accountID, deviceID, contentID)
		if err != nil {
			return nil, fmt.Errorf("finding license: %w", err)
		}
		if lic != nil && lic.Status == model.LicenseRevoked {
			return nil, ErrLicenseRevoked
		}
		ok, err := a.ledger.ReserveDemo(ctx, accountID, deviceID, now, now.Add(-a.cfg.FetchTTL))
		if err != nil {
			return nil, fmt.Errorf("reserving demo: %w", err)
		}
		if !ok {
			return nil, ErrAlreadyConsumed
		}
	}

	key, err := kdf.Derive(accountID, deviceID, contentID, a.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	issued, err := a.ledger.IssueLicense(ctx, &model.License{
		ID:             a.idgen.New(),
		AccountID:      accountID,
		ContentID:      contentID,
		DeviceID:       deviceID,
		KeyHash:        kdf.HashKey(key),
		Status:         model.LicensePending,
		IssuedAt:       now,
		LastAccessedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("recording license: %w", err)
	}
	if !issued {
		if demo {
			if err := a.ledger.ClearDemoReservation(ctx, accountID, deviceID); err != nil {
				a.logger.Warn("clearing demo reservation failed", "account_id", accountID, "device_id", deviceID, "error", err)
			}
		}
		return nil, ErrLicenseRevoked
	}

	fetchURL, expiresAt, err := a.urls.IssueURL(ctx, content, a.cfg.FetchTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing fetch url: %w", err)
	}

	a.logger.Info("license authorized", "account_id", accountID, "device_id", deviceID, "content_id", contentID, "expires_at", expiresAt)
	return &Grant{
		FetchURL:  fetchURL,
		ExpiresAt: expiresAt,
		Key:       key,
		Algorithm: AlgorithmAES256CBC,
		Content:   *content,
	}, nil
}

// Confirm records the stored size and activates the license. For the demo it
// also closes the one-time claim.
func (a *Authority) Confirm(ctx context.Context, accountID, deviceID, contentID string, fileSizeBytes int64) error {
	if fileSizeBytes < 0 {
		return fmt.Errorf("%w: negative fileSizeBytes", ErrInvalidRequest)
	}
	if err := a.registry.requireActive(ctx, accountID, deviceID); err != nil {
		return err
	}

	content, err := a.ledger.FindContent(ctx, contentID)
	if err != nil {
		return fmt.Errorf("finding content: %w", err)
	}
	if content == nil {
		return ErrContentNotFound
	}

	now := a.clock.Now()
	// The demo claim is closed before the license turns active.
	if a.isDemo(content) {
		if err := a.completeDemo(ctx, accountID, deviceID, now); err != nil {
			return err
		}
	}

	ok, err := a.ledger.ConfirmLicense(ctx, accountID, deviceID, contentID, fileSizeBytes, now)
	if err != nil {
		return fmt.Errorf("confirming license: %w", err)
	}
	if !ok {
		lic, err := a.ledger.FindLicense(ctx, accountID, deviceID, contentID)
		if err != nil {
			return fmt.Errorf("finding license: %w", err)
		}
		if lic != nil && lic.Status == model.LicenseRevoked {
			return ErrLicenseRevoked
		}
		return ErrKeyVerificationFailed
	}

	a.logger.Info("license confirmed", "account_id", accountID, "device_id", deviceID, "content_id", contentID, "size", fileSizeBytes)
	return nil
}

func (a *Authority) completeDemo(ctx context.Context, accountID, deviceID string, at time.Time) error {
	ok, err := a.ledger.CompleteDemo(ctx, accountID, deviceID, at)
	if err != nil {
		return fmt.Errorf("completing demo: %w", err)
	}
	if ok {
		return nil
	}
	// A repeated confirm from the device that completed the demo is a no-op.
	demo, err := a.ledger.FindDemo(ctx, accountID)
	if err != nil {
		return fmt.Errorf("finding demo: %w", err)
	}
	if demo != nil && demo.Watched && demo.ReservedBy == deviceID {
		return nil
	}
	return ErrAlreadyConsumed
}

// ReissueKey re-derives the key for a client that lost its cached copy and
// verifies it against the ledger.
func (a *Authority) ReissueKey(ctx context.Context, accountID, deviceID, contentID string) ([]byte, error) {
	if err := a.registry.requireActive(ctx, accountID, deviceID); err != nil {
		return nil, err
	}

	// For the demo this fails once it has been watched, on every device.
	if _, err := a.checkEntitlement(ctx, accountID, contentID); err != nil {
		return nil, err
	}

	if err := a.checkSuspended(ctx, accountID); err != nil {
		return nil, err
	}

	lic, err := a.ledger.FindLicense(ctx, accountID, deviceID, contentID)
	if err != nil {
		return nil, fmt.Errorf("finding license: %w", err)
	}
	if lic == nil {
		return nil, ErrKeyVerificationFailed
	}
	switch lic.Status {
	case model.LicenseRevoked:
		return nil, ErrLicenseRevoked
	case model.LicenseDeleted:
		return nil, ErrKeyVerificationFailed
	}

	key, err := kdf.Derive(accountID, deviceID, contentID, a.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(kdf.HashKey(key)), []byte(lic.KeyHash)) != 1 {
		a.logger.Warn("key hash mismatch", "account_id", accountID, "device_id", deviceID, "content_id", contentID)
		return nil, ErrKeyVerificationFailed
	}

	if err := a.ledger.TouchLicense(ctx, accountID, deviceID, contentID, a.clock.Now()); err != nil {
		a.logger.Warn("touching license failed", "content_id", contentID, "error", err)
	}

	a.logger.Info("key reissued", "account_id", accountID, "device_id", deviceID, "content_id", contentID)
	return key, nil
}

// Release marks a license deleted after the user removed the download.
func (a *Authority) Release(ctx context.Context, accountID, deviceID, contentID string) error {
	ok, err := a.ledger.ReleaseLicense(ctx, accountID, deviceID, contentID)
	if err != nil {
		return fmt.Errorf("releasing license: %w", err)
	}
	if ok {
		a.logger.Info("license released", "account_id", accountID, "device_id", deviceID, "content_id", contentID)
	}
	return nil
}

// Revoke sets matching licenses to revoked. With neither deviceID nor
// contentID it suspends the account, so no new license is issued to it on
// any device until Reinstate. It only affects future authorize and reissue
// calls; keys already cached on a device keep working until that device asks
// again.
func (a *Authority) Revoke(ctx context.Context, accountID, deviceID, contentID string) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: missing accountId", ErrInvalidRequest)
	}
	if deviceID == "" && contentID == "" {
		// Suspended before the rows are revoked; IssueLicense checks it.
		if err := a.ledger.SuspendAccount(ctx, accountID, a.clock.Now()); err != nil {
			return 0, fmt.Errorf("suspending account: %w", err)
		}
		a.logger.Info("account suspended", "account_id", accountID)
	}
	n, err := a.ledger.RevokeLicenses(ctx, accountID, deviceID, contentID)
	if err != nil {
		return 0, fmt.Errorf("revoking licenses: %w", err)
	}
	a.logger.Info("licenses revoked", "account_id", accountID, "device_id", deviceID, "content_id", contentID, "count", n)
	return n, nil
}

// Reinstate lifts a revocation so the account can authorize again.
func (a *Authority) Reinstate(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: missing accountId", ErrInvalidRequest)
	}
	lifted, err := a.ledger.LiftSuspension(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("lifting suspension: %w", err)
	}
	if lifted {
		a.logger.Info("account suspension lifted", "account_id", accountID)
	}
	n, err := a.ledger.ReinstateLicenses(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("reinstating licenses: %w", err)
	}
	a.logger.Info("licenses reinstated", "account_id", accountID, "count", n)
	return n, nil
}

// SkipDemo records that the account skipped the demo lesson.
func (a *Authority) SkipDemo(ctx context.Context, accountID string) error {
	if err := a.ledger.SkipDemo(ctx, accountID, a.clock.Now()); err != nil {
		return fmt.Errorf("skipping demo: %w", err)
	}
	return nil
}

// checkEntitlement loads the content and verifies the account may receive a
// key for it. The demo is checked separately at reservation time.
func (a *Authority) checkEntitlement(ctx context.Context, accountID, contentID string) (*model.Content, error) {
	if contentID == "" {
		return nil, fmt.Errorf("%w: missing contentId", ErrInvalidRequest)
	}
	content, err := a.ledger.FindContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("finding content: %w", err)
	}
	if content == nil {
		return nil, ErrContentNotFound
	}
	if a.isDemo(content) {
		demo, err := a.ledger.FindDemo(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("finding demo: %w", err)
		}
		if demo != nil && demo.Watched {
			return nil, ErrAlreadyConsumed
		}
		return content, nil
	}

	ok, err := a.ledger.HasActiveEnrollment(ctx, accountID, content.CourseID)
	if err != nil {
		return nil, fmt.Errorf("checking enrollment: %w", err)
	}
	if !ok {
		return nil, ErrNotEntitled
	}
	return content, nil
}

func (a *Authority) checkSuspended(ctx context.Context, accountID string) error {
	suspended, err := a.ledger.IsSuspended(ctx, accountID)
	if err != nil {
		return fmt.Errorf("checking suspension: %w", err)
	}
	if suspended {
		return ErrLicenseRevoked
	}
	return nil
}

func (a *Authority) isDemo(content *model.Content) bool {
	return content.IsDemo || content.ContentID == a.cfg.DemoContentID
}
