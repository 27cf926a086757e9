// Package kdf derives per-(account, device, content) content keys from the
// server secret. Keys are never stored; they are re-derived on demand and
// checked against a stored one-way hash.
package kdf

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of a derived key in bytes (AES-256).
const KeySize = 32

// MinSecretSize is the shortest server secret Derive accepts.
const MinSecretSize = 32

// infoTag versions the derivation so a future scheme cannot collide with v1.
const infoTag = "lessonvault/content-key/v1"

var (
	ErrEmptyIdentifier = errors.New("kdf: empty identifier")
	ErrWeakSecret      = errors.New("kdf: server secret too short")
)

// Derive returns the content key for the given triple. The same inputs always
// produce the same key.
func Derive(accountID, deviceID, contentID string, secret []byte) ([]byte, error) {
	if len(secret) < MinSecretSize {
		return nil, ErrWeakSecret
	}
	for _, id := range []string{accountID, deviceID, contentID} {
		if id == "" {
			return nil, ErrEmptyIdentifier
		}
	}

	r := hkdf.New(sha256.New, secret, nil, info(accountID, deviceID, contentID))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("expanding key: %w", err)
	}
	return key, nil
}

// HashKey returns the hex SHA-256 digest of key. It is used to verify a
// re-derived key against the ledger, never to recover one.
func HashKey(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// info encodes the identifiers with 4-byte length prefixes so that no two
// distinct triples share an encoding.
func info(fields ...string) []byte {
	n := len(infoTag)
	for _, f := range fields {
		n += 4 + len(f)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, infoTag...)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return buf
}
