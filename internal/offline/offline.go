// Package offline downloads lessons into encrypted packages on the device and
// decrypts them for playback without a network round-trip.
package offline

import (
	"context"
	"io"
	"time"
)

// Store persists encrypted packages and the download index.
type Store interface {
	// Save writes the package under contentID. A failed or cancelled save never
	// leaves a loadable package. Out of space returns ErrStorageExhausted.
	Save(ctx context.Context, contentID string, pkg *Package) error

	// Load returns ErrNotFound if nothing is stored under contentID.
	Load(ctx context.Context, contentID string) (*Package, error)

	// Delete is idempotent.
	Delete(ctx context.Context, contentID string) error

	PutIndex(ctx context.Context, entry IndexEntry) error
	ListIndex(ctx context.Context) ([]IndexEntry, error)
	DeleteIndex(ctx context.Context, contentID string) error
}

// KeyCache holds content keys so playback needs no server call.
type KeyCache interface {
	Save(ctx context.Context, contentID string, key []byte) error

	// Get returns ErrKeyNotFound on a miss.
	Get(ctx context.Context, contentID string) ([]byte, error)

	// Remove is idempotent.
	Remove(ctx context.Context, contentID string) error
}

// Authority is the license server as seen from the device. token is the
// account bearer token.
type Authority interface {
	Authorize(ctx context.Context, token, contentID string) (*Grant, error)
	Confirm(ctx context.Context, token, contentID string, fileSizeBytes int64) error
	ReissueKey(ctx context.Context, token, contentID string) ([]byte, error)
	Release(ctx context.Context, token, contentID string) error
}

// Grant is a successful authorization.
type Grant struct {
	FetchURL  string
	Key       []byte
	Algorithm string
	ExpiresAt time.Time
	Content   ContentInfo
}

// ContentInfo is the lesson metadata returned with a grant.
type ContentInfo struct {
	ContentID string
	CourseID  string
	Title     string
	SizeBytes int64
	IsDemo    bool
}

// Fetcher streams a fetch URL into w, reporting bytes received. total is -1
// when the length is unknown.
type Fetcher interface {
	Fetch(ctx context.Context, url string, w io.Writer, progress func(received, total int64)) (int64, error)
}

// Cipher is one package encryption scheme.
type Cipher interface {
	Algorithm() string
	IVSize() int
	Encrypt(key, iv, plaintext []byte) ([]byte, error)
	Decrypt(key, iv, ciphertext []byte) ([]byte, error)
}

// CipherSuite maps package versions to ciphers.
type CipherSuite interface {
	// Current returns the version and cipher new packages are written with.
	Current() (int, Cipher)

	// Lookup returns ErrUnsupportedVersion for unknown versions.
	Lookup(version int) (Cipher, error)
}

// Spool buffers a download before it is encrypted.
type Spool interface {
	Create(contentID string) (SpoolFile, error)
}

// SpoolFile is one buffered download. Discard must always be called.
type SpoolFile interface {
	io.Writer
	Size() int64
	Bytes() ([]byte, error)
	Discard() error
}

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger provides structured logging. The args follow slog conventions.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// ProgressFunc receives overall progress in percent, 0 to 100.
type ProgressFunc func(percent int)
