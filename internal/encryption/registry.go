package encryption

import (
	"fmt"

	"lessonvault/internal/offline"
)

// Registry maps package versions to ciphers. Old versions stay registered so
// packages written by earlier builds keep opening.
type Registry struct {
	ciphers map[int]offline.Cipher
	current int
}

var _ offline.CipherSuite = (*Registry)(nil)

// NewRegistry returns the registry of every package version this build reads.
func NewRegistry() *Registry {
	r := &Registry{ciphers: make(map[int]offline.Cipher)}
	r.Register(1, AES256CBC{})
	return r
}

// Register adds a cipher. The highest registered version becomes current.
func (r *Registry) Register(version int, c offline.Cipher) {
	r.ciphers[version] = c
	if version > r.current {
		r.current = version
	}
}

func (r *Registry) Current() (int, offline.Cipher) {
	return r.current, r.ciphers[r.current]
}

func (r *Registry) Lookup(version int) (offline.Cipher, error) {
	c, ok := r.ciphers[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", offline.ErrUnsupportedVersion, version)
	}
	return c, nil
}
