package offline

import (
	"context"
	"errors"
	"fmt"
)

// Engine prepares downloaded lessons for playback.
type Engine struct {
	store     Store
	keys      KeyCache
	authority Authority
	packager  *Packager
	tracker   *Tracker
	logger    Logger
}

func NewEngine(store Store, keys KeyCache, authority Authority, packager *Packager, tracker *Tracker, logger Logger) *Engine {
	return &Engine{
		store:     store,
		keys:      keys,
		authority: authority,
		packager:  packager,
		tracker:   tracker,
		logger:    logger,
	}
}

// PreparePlayback loads, verifies and decrypts a lesson. The key comes from
// the cache; the server is only contacted on a cache miss. The caller must
// Release the handle.
func (e *Engine) PreparePlayback(ctx context.Context, contentID, accountToken string) (*Handle, error) {
	pkg, err := e.store.Load(ctx, contentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotDownloaded, contentID)
		}
		if errors.Is(err, ErrUnsupportedVersion) {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPackage, err)
		}
		return nil, fmt.Errorf("loading package: %w", err)
	}

	// Integrity is checked before any key is resolved.
	if err := pkg.Verify(); err != nil {
		e.logger.Warn("package failed integrity check", "content_id", contentID, "error", err)
		return nil, err
	}

	key, err := e.resolveKey(ctx, contentID, accountToken)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	plaintext, err := e.packager.Open(pkg, key)
	if err != nil {
		e.logger.Warn("decrypting package failed", "content_id", contentID, "error", err)
		return nil, err
	}

	// A package that decrypts is playable regardless of what happened to
	// the item earlier in this process.
	e.tracker.beginPlayback(contentID)

	e.logger.Debug("playback prepared", "content_id", contentID, "size", len(plaintext))
	return newHandle(contentID, plaintext, func() {
		e.tracker.endPlayback(contentID)
	}), nil
}

func (e *Engine) resolveKey(ctx context.Context, contentID, accountToken string) ([]byte, error) {
	key, err := e.keys.Get(ctx, contentID)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		e.logger.Warn("reading cached key failed", "content_id", contentID, "error", err)
	}

	key, err = e.authority.ReissueKey(ctx, accountToken, contentID)
	if err != nil {
		if errors.Is(err, ErrLicenseRevoked) {
			e.tracker.set(contentID, StateRevoked)
		}
		return nil, fmt.Errorf("reissuing key: %w", err)
	}

	if err := e.keys.Save(ctx, contentID, key); err != nil {
		e.logger.Warn("caching reissued key failed", "content_id", contentID, "error", err)
	}
	return key, nil
}
