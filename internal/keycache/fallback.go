package keycache

import (
	"context"
	"errors"
	"fmt"

	"lessonvault/internal/offline"
)

// Fallback uses the preferred store when it is configured and working, and
// the fallback store otherwise. Callers see one KeyCache.
type Fallback struct {
	preferred offline.KeyCache
	fallback  offline.KeyCache
	logger    offline.Logger
}

var (
	_ offline.KeyCache = (*Fallback)(nil)
	_ Unlocker         = (*Fallback)(nil)
)

func NewFallback(preferred, fallback offline.KeyCache, logger offline.Logger) *Fallback {
	return &Fallback{preferred: preferred, fallback: fallback, logger: logger}
}

func (f *Fallback) available() bool {
	if c, ok := f.preferred.(interface{ IsConfigured() bool }); ok {
		return c.IsConfigured()
	}
	return true
}

func (f *Fallback) Save(ctx context.Context, contentID string, key []byte) error {
	if f.available() {
		err := f.preferred.Save(ctx, contentID, key)
		if err == nil {
			// Drop any copy left by an earlier fallback save.
			if rerr := f.fallback.Remove(ctx, contentID); rerr != nil {
				f.logger.Warn("removing fallback key failed", "content_id", contentID, "error", rerr)
			}
			return nil
		}
		f.logger.Warn("preferred key store failed, using fallback", "content_id", contentID, "error", err)
	}
	return f.fallback.Save(ctx, contentID, key)
}

// Get consults the preferred store, then the fallback.
func (f *Fallback) Get(ctx context.Context, contentID string) ([]byte, error) {
	var preferredErr error
	if f.available() {
		key, err := f.preferred.Get(ctx, contentID)
		if err == nil {
			return key, nil
		}
		preferredErr = err
	}

	key, err := f.fallback.Get(ctx, contentID)
	if err == nil {
		return key, nil
	}
	if errors.Is(err, offline.ErrKeyNotFound) && preferredErr != nil && !errors.Is(preferredErr, offline.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: preferred store: %v", offline.ErrKeyNotFound, preferredErr)
	}
	return nil, err
}

// Remove is attempted on both stores, since an earlier run may have used either.
func (f *Fallback) Remove(ctx context.Context, contentID string) error {
	return errors.Join(
		f.preferred.Remove(ctx, contentID),
		f.fallback.Remove(ctx, contentID),
	)
}

func (f *Fallback) IsConfigured() bool { return f.available() }

func (f *Fallback) Setup(passphrase string) error {
	u, ok := f.preferred.(Unlocker)
	if !ok {
		return nil
	}
	return u.Setup(passphrase)
}

func (f *Fallback) Unlock(passphrase string) error {
	u, ok := f.preferred.(Unlocker)
	if !ok {
		return nil
	}
	return u.Unlock(passphrase)
}
