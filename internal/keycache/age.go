package keycache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"lessonvault/internal/config"
	"lessonvault/internal/offline"
)

// AgeStore seals each content key to an X25519 recipient using filippo.io/age.
// The public key is stored in plaintext, so keys can be saved without a
// passphrase; the private key is encrypted with the user's passphrase using
// age's scrypt-based passphrase encryption and is needed to read keys back.
type AgeStore struct {
	dir            string
	publicKeyPath  string
	privateKeyPath string

	mu       sync.RWMutex
	identity age.Identity
}

var (
	_ offline.KeyCache = (*AgeStore)(nil)
	_ Unlocker         = (*AgeStore)(nil)
)

// NewAgeStore creates a new AgeStore from configuration.
func NewAgeStore(cfg config.KeyCacheConfig) *AgeStore {
	return &AgeStore{
		dir:            cfg.Dir,
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a new X25519 key pair, stores the public key in plaintext,
// and encrypts the private key with the passphrase.
func (s *AgeStore) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(s.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	if err := writeFile(s.privateKeyPath, sealed.Bytes()); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	return nil
}

// Unlock decrypts the private key with the passphrase and keeps the identity
// for the rest of the session.
func (s *AgeStore) Unlock(passphrase string) error {
	privData, err := os.ReadFile(s.privateKeyPath)
	if err != nil {
		return fmt.Errorf("reading private key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), scrypt)
	if err != nil {
		return fmt.Errorf("decrypting private key: %w", err)
	}

	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return fmt.Errorf("reading decrypted private key: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return fmt.Errorf("no identities found in private key")
	}

	s.mu.Lock()
	s.identity = identities[0]
	s.mu.Unlock()
	return nil
}

// IsConfigured returns true if both key files exist.
func (s *AgeStore) IsConfigured() bool {
	if _, err := os.Stat(s.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(s.privateKeyPath); err != nil {
		return false
	}
	return true
}

// Save seals key to the public key. It does not need the store unlocked.
func (s *AgeStore) Save(_ context.Context, contentID string, key []byte) error {
	path, err := s.path(contentID)
	if err != nil {
		return err
	}

	recipient, err := s.loadRecipient()
	if err != nil {
		return fmt.Errorf("loading public key: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(key); err != nil {
		return fmt.Errorf("encrypting key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}

	return writeFile(path, sealed.Bytes())
}

// Get returns ErrLocked until Unlock or Setup has succeeded.
func (s *AgeStore) Get(_ context.Context, contentID string) ([]byte, error) {
	path, err := s.path(contentID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offline.ErrKeyNotFound
		}
		return nil, fmt.Errorf("reading sealed key: %w", err)
	}

	s.mu.RLock()
	identity := s.identity
	s.mu.RUnlock()
	if identity == nil {
		return nil, ErrLocked
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting key: %w", err)
	}
	return key, nil
}

func (s *AgeStore) Remove(_ context.Context, contentID string) error {
	path, err := s.path(contentID)
	if err != nil {
		return err
	}
	return removeFile(path)
}

func (s *AgeStore) path(contentID string) (string, error) {
	name, err := fileName(contentID, ".age")
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// loadRecipient reads the public key from disk and parses it.
func (s *AgeStore) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(s.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}

	return recipients[0], nil
}
