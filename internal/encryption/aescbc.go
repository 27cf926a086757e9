// Package encryption implements the package ciphers.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"lessonvault/internal/offline"
)

// AlgorithmAES256CBC is the algorithm name recorded in version 1 packages.
const AlgorithmAES256CBC = "AES-256-CBC"

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	errKeySize = errors.New("key must be 32 bytes")
	errIVSize  = errors.New("iv must be one block")
	errPadding = errors.New("invalid padding")
)

// AES256CBC encrypts a whole buffer with AES-256 in CBC mode and PKCS#7
// padding. It is stateless and safe for concurrent use.
type AES256CBC struct{}

var _ offline.Cipher = AES256CBC{}

func (AES256CBC) Algorithm() string { return AlgorithmAES256CBC }

func (AES256CBC) IVSize() int { return aes.BlockSize }

// Encrypt pads and encrypts plaintext. Any length is accepted, including zero.
func (AES256CBC) Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}

	out := pkcs7Pad(plaintext, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, out)
	return out, nil
}

// Decrypt decrypts and unpads ciphertext. A wrong key is almost always caught
// by the padding check; callers verify the length as well.
func (AES256CBC) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		clear(out)
		return nil, err
	}
	return plain, nil
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, errKeySize
	}
	if len(iv) != aes.BlockSize {
		return nil, errIVSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return block, nil
}

// pkcs7Pad returns a new slice holding data plus 1..blockSize padding bytes.
func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	copy(out[len(data):], bytes.Repeat([]byte{byte(n)}, n))
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errPadding
		}
	}
	return data[:len(data)-n], nil
}
