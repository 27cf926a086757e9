package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lessonvault/internal/api"
	"lessonvault/internal/authclient"
	"lessonvault/internal/config"
	"lessonvault/internal/encryption"
	"lessonvault/internal/keycache"
	"lessonvault/internal/offline"
	"lessonvault/internal/spool"
	"lessonvault/internal/store"
)

// ErrNotLoggedIn means no account token is available.
var ErrNotLoggedIn = errors.New("not logged in: run `lessonvault login` or set LESSONVAULT_TOKEN")

// LessonVaultApp is the application layer between the CLI and the offline
// engine. It constructs all dependencies from config and exposes high-level
// operations keyed by content id. The caller must call Close.
type LessonVaultApp struct {
	cfg        *config.Config
	store      offline.Store
	keys       offline.KeyCache
	client     *authclient.Client
	tracker    *offline.Tracker
	downloader *offline.Downloader
	engine     *offline.Engine
	op         *Operation
	logger     *slogAdapter
	logFile    *os.File
}

// NewLessonVaultApp creates a fully wired app from the given config.
// operation identifies the CLI command being run (e.g. "Download", "Play").
func NewLessonVaultApp(cfg *config.Config, operation string) (*LessonVaultApp, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("no device id configured")
	}
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("no server url configured")
	}

	op := NewOperation(operation, time.Now())
	l, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	st, err := store.NewStoreFromConfig(cfg.Store)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if m, ok := st.(interface{ CheckMigrations() error }); ok {
		if err := m.CheckMigrations(); err != nil {
			closeStore(st)
			logFile.Close()
			return nil, fmt.Errorf("store schema out of date: %w", err)
		}
	}

	keys, err := keycache.NewKeyCacheFromConfig(cfg.KeyCache, logger)
	if err != nil {
		closeStore(st)
		logFile.Close()
		return nil, fmt.Errorf("creating key cache: %w", err)
	}

	sp, err := spool.NewSpoolFromConfig(cfg.Spool)
	if err != nil {
		closeStore(st)
		logFile.Close()
		return nil, fmt.Errorf("creating spool: %w", err)
	}

	client := authclient.New(cfg.Server.URL, cfg.DeviceID, nil)
	tracker := offline.NewTracker()
	clock := offline.RealClock{}
	packager := offline.NewPackager(encryption.NewRegistry(), clock)

	downloader := offline.NewDownloader(offline.DownloaderDeps{
		Authority: client,
		Fetcher:   authclient.NewHTTPFetcher(nil),
		Spool:     sp,
		Packager:  packager,
		Store:     st,
		Keys:      keys,
		Tracker:   tracker,
		Clock:     clock,
		Logger:    logger,
	})
	engine := offline.NewEngine(st, keys, client, packager, tracker, logger)

	logger.Debug("operation started", "operation", operation, "device_id", cfg.DeviceID)
	return &LessonVaultApp{
		cfg:        cfg,
		store:      st,
		keys:       keys,
		client:     client,
		tracker:    tracker,
		downloader: downloader,
		engine:     engine,
		op:         op,
		logger:     logger,
		logFile:    logFile,
	}, nil
}

// Download fetches, encrypts and stores a lesson.
func (a *LessonVaultApp) Download(ctx context.Context, contentID string, progress offline.ProgressFunc) (*offline.IndexEntry, error) {
	token, err := a.token()
	if err != nil {
		return nil, err
	}
	return a.downloader.Download(ctx, token, contentID, progress)
}

// Play decrypts a downloaded lesson into memory. The token is only needed
// when the key cache misses, so playback works offline without one.
func (a *LessonVaultApp) Play(ctx context.Context, contentID string) (*offline.Handle, error) {
	token, err := a.token()
	if err != nil && !errors.Is(err, ErrNotLoggedIn) {
		return nil, err
	}
	return a.engine.PreparePlayback(ctx, contentID, token)
}

// List returns the downloaded lessons.
func (a *LessonVaultApp) List(ctx context.Context) ([]offline.IndexEntry, error) {
	return a.store.ListIndex(ctx)
}

// Remove deletes a downloaded lesson and notifies the server when a token is
// available.
func (a *LessonVaultApp) Remove(ctx context.Context, contentID string) error {
	token, err := a.token()
	if err != nil && !errors.Is(err, ErrNotLoggedIn) {
		return err
	}
	return a.downloader.Delete(ctx, token, contentID)
}

// Status returns the lesson's state on this device.
func (a *LessonVaultApp) Status(ctx context.Context, contentID string) (offline.State, error) {
	return a.downloader.State(ctx, contentID)
}

// RegisterDevice binds this installation to the logged-in account.
func (a *LessonVaultApp) RegisterDevice(ctx context.Context) (*api.Device, error) {
	token, err := a.token()
	if err != nil {
		return nil, err
	}
	return a.client.RegisterDevice(ctx, token, a.cfg.DeviceName, a.cfg.Platform)
}

// ListDevices returns the account's active devices.
func (a *LessonVaultApp) ListDevices(ctx context.Context) ([]api.Device, error) {
	token, err := a.token()
	if err != nil {
		return nil, err
	}
	return a.client.ListDevices(ctx, token)
}

// SkipDemo records that the account skipped the demo lesson.
func (a *LessonVaultApp) SkipDemo(ctx context.Context) error {
	token, err := a.token()
	if err != nil {
		return err
	}
	return a.client.SkipDemo(ctx, token)
}

// NeedsPassphrase reports whether reading cached keys requires UnlockKeys.
func (a *LessonVaultApp) NeedsPassphrase() bool {
	u, ok := a.keys.(keycache.Unlocker)
	return ok && u.IsConfigured()
}

// KeysConfigured reports whether sealed key storage has been set up. Stores
// without a passphrase always report true.
func (a *LessonVaultApp) KeysConfigured() bool {
	u, ok := a.keys.(keycache.Unlocker)
	if !ok {
		return true
	}
	return u.IsConfigured()
}

// SetupKeys generates the sealed key store's identity.
func (a *LessonVaultApp) SetupKeys(passphrase string) error {
	u, ok := a.keys.(keycache.Unlocker)
	if !ok {
		return fmt.Errorf("key cache type %q has no passphrase", a.cfg.KeyCache.Type)
	}
	return u.Setup(passphrase)
}

// UnlockKeys opens the sealed key store for this session.
func (a *LessonVaultApp) UnlockKeys(passphrase string) error {
	u, ok := a.keys.(keycache.Unlocker)
	if !ok {
		return nil
	}
	return u.Unlock(passphrase)
}

// Fail marks the operation as failed; Close logs the outcome.
func (a *LessonVaultApp) Fail(err error) {
	a.op.Fail(err)
}

// Close finishes the operation record and releases all resources.
func (a *LessonVaultApp) Close() error {
	var firstErr error

	a.op.Finish(time.Now())
	if a.op.Status == StatusError {
		a.logger.Warn("operation finished", "operation", a.op.Name, "status", a.op.Status, "duration", a.op.Duration(), "error", a.op.Err)
	} else {
		a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "duration", a.op.Duration())
	}

	if err := closeStore(a.store); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// token returns the account token from LESSONVAULT_TOKEN or the token file.
func (a *LessonVaultApp) token() (string, error) {
	return ReadToken(a.cfg.Server.TokenPath)
}

// ReadToken returns the account token, preferring the LESSONVAULT_TOKEN
// environment variable over the file at path.
func ReadToken(path string) (string, error) {
	if tok := strings.TrimSpace(os.Getenv("LESSONVAULT_TOKEN")); tok != "" {
		return tok, nil
	}
	if path == "" {
		return "", ErrNotLoggedIn
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNotLoggedIn
	}
	return tok, nil
}

// SaveToken stores the account token at path, readable only by the owner.
func SaveToken(path, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

func closeStore(s offline.Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
