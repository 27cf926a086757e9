package offline

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Packager turns a raw asset and its key into a Package.
type Packager struct {
	ciphers CipherSuite
	clock   Clock
	random  io.Reader
}

// NewPackager creates a Packager drawing IVs from crypto/rand.
func NewPackager(ciphers CipherSuite, clock Clock) *Packager {
	return &Packager{ciphers: ciphers, clock: clock, random: rand.Reader}
}

// Seal encrypts plaintext with a fresh IV. The checksum covers the ciphertext.
func (p *Packager) Seal(contentID string, plaintext, key []byte) (*Package, error) {
	version, cipher := p.ciphers.Current()

	iv := make([]byte, cipher.IVSize())
	if _, err := io.ReadFull(p.random, iv); err != nil {
		return nil, fmt.Errorf("generating iv: %w", err)
	}

	data, err := cipher.Encrypt(key, iv, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting %s: %w", contentID, err)
	}

	return &Package{
		Version:   version,
		Algorithm: cipher.Algorithm(),
		IV:        iv,
		Data:      data,
		Metadata: Metadata{
			ContentID:         contentID,
			OriginalSizeBytes: int64(len(plaintext)),
			EncryptedAt:       p.clock.Now().UTC(),
			Checksum:          Checksum(data),
		},
	}, nil
}

// Open verifies and decrypts pkg.
func (p *Packager) Open(pkg *Package, key []byte) ([]byte, error) {
	if err := pkg.Verify(); err != nil {
		return nil, err
	}

	cipher, err := p.ciphers.Lookup(pkg.Version)
	if err != nil {
		return nil, err
	}
	if cipher.Algorithm() != pkg.Algorithm {
		return nil, fmt.Errorf("%w: algorithm %q for version %d", ErrCorruptPackage, pkg.Algorithm, pkg.Version)
	}

	plaintext, err := cipher.Decrypt(key, pkg.IV, pkg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if int64(len(plaintext)) != pkg.Metadata.OriginalSizeBytes {
		zero(plaintext)
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrDecryptionFailed, len(plaintext), pkg.Metadata.OriginalSizeBytes)
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
