package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"lessonvault/internal/fsutil"
	"lessonvault/internal/model"
)

// LocalOrigin is a filesystem-based origin. Assets live under root by object
// key, and fetch URLs are signed tokens served by the license server itself.
//
//	<root>/
//	  lessons/a.mp3   (object key "lessons/a.mp3")
type LocalOrigin struct {
	root   string
	signer *Signer
}

// NewLocalOrigin creates a local origin rooted at the given path.
func NewLocalOrigin(root string, signer *Signer) (*LocalOrigin, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create origin root: %w", err)
	}
	return &LocalOrigin{root: root, signer: signer}, nil
}

// IssueURL returns a signed URL for the content's object.
func (o *LocalOrigin) IssueURL(_ context.Context, content *model.Content, ttl time.Duration) (string, time.Time, error) {
	if err := validKey(content.ObjectKey); err != nil {
		return "", time.Time{}, err
	}
	return o.signer.Sign(content.ObjectKey, ttl)
}

// Put stores an asset under key using an atomic write.
func (o *LocalOrigin) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	destPath := o.path(key)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	return fsutil.WriteAtomic(destPath, r, size, 0644)
}

// OpenSigned verifies token and opens the object it grants.
func (o *LocalOrigin) OpenSigned(_ context.Context, token string) (*Object, error) {
	key, err := o.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	if err := validKey(key); err != nil {
		return nil, ErrInvalidToken
	}

	f, err := os.Open(o.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return &Object{Key: key, Size: info.Size(), ModTime: info.ModTime(), Body: f}, nil
}

// ValidateSetup verifies that the origin root is an accessible directory.
func (o *LocalOrigin) ValidateSetup(context.Context) error {
	info, err := os.Stat(o.root)
	if err != nil {
		return fmt.Errorf("origin root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("origin root is not a directory: %s", o.root)
	}
	return nil
}

func (o *LocalOrigin) path(key string) string {
	return filepath.Join(o.root, filepath.FromSlash(key))
}

var _ SignedOrigin = (*LocalOrigin)(nil)
