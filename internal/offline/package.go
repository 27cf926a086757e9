package offline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CurrentVersion is the package format written by this build.
const CurrentVersion = 1

// Package is an encrypted lesson as stored on the device. IV and Data are
// base64 in JSON. Version is the first field and is read before anything else.
type Package struct {
	Version   int      `json:"version"`
	Algorithm string   `json:"algorithm"`
	IV        []byte   `json:"iv"`
	Data      []byte   `json:"data"`
	Metadata  Metadata `json:"metadata"`
}

// Metadata describes the plaintext and carries the ciphertext checksum.
type Metadata struct {
	ContentID         string    `json:"contentId"`
	OriginalSizeBytes int64     `json:"originalSizeBytes"`
	EncryptedAt       time.Time `json:"encryptedAt"`
	Checksum          string    `json:"checksum"`
}

// Checksum returns the hex xxhash64 of data. It detects accidental
// corruption only.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Verify checks the stored checksum against the ciphertext.
func (p *Package) Verify() error {
	if p.Metadata.Checksum == "" {
		return fmt.Errorf("%w: missing checksum", ErrCorruptPackage)
	}
	if got := Checksum(p.Data); got != p.Metadata.Checksum {
		return fmt.Errorf("%w: checksum %s, want %s", ErrCorruptPackage, got, p.Metadata.Checksum)
	}
	return nil
}

// Marshal encodes the package.
func (p *Package) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding package: %w", err)
	}
	return data, nil
}

// UnmarshalPackage decodes a stored package. The version is decoded on its
// own first so a package from a newer build is reported as unsupported rather
// than half-parsed.
func UnmarshalPackage(data []byte) (*Package, error) {
	var header struct {
		Version json.RawMessage `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPackage, err)
	}
	version, err := strconv.Atoi(string(header.Version))
	if err != nil {
		return nil, fmt.Errorf("%w: bad version %q", ErrCorruptPackage, header.Version)
	}
	if version < 1 || version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var p Package
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPackage, err)
	}
	return &p, nil
}

// IndexEntry lists a downloaded lesson without opening its package.
type IndexEntry struct {
	ContentID    string    `json:"contentId"`
	Title        string    `json:"title"`
	Course       string    `json:"course"`
	SizeBytes    int64     `json:"sizeBytes"`
	DownloadedAt time.Time `json:"downloadedAt"`
}
