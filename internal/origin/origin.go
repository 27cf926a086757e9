// Package origin holds the raw lesson assets and issues the short-lived URLs
// clients download them from.
package origin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"lessonvault/internal/license"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrInvalidToken = errors.New("invalid fetch token")
	ErrURLExpired   = errors.New("fetch url expired")
)

// Origin stores raw lesson assets and issues time-boxed URLs for them.
type Origin interface {
	license.URLIssuer

	// Put stores an asset under key, replacing any previous asset.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// ValidateSetup verifies the origin is reachable and usable.
	ValidateSetup(ctx context.Context) error
}

// SignedOrigin is an Origin whose URLs point back at this server, which then
// serves the asset after checking the token.
type SignedOrigin interface {
	Origin
	OpenSigned(ctx context.Context, token string) (*Object, error)
}

// Object is an opened asset. The caller must close Body.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
	Body    io.ReadSeekCloser
}

// validKey rejects keys that could escape the origin root.
func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	if strings.Contains(key, "\\") || !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

type nopSeekCloser struct{ *bytes.Reader }

func (nopSeekCloser) Close() error { return nil }
