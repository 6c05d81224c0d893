// Package secrets encrypts integration credentials at rest.
//
// Envelopes have the form base64(nonce):base64(tag):base64(ciphertext) and are
// produced with AES-256-GCM under a single process-wide key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrKeyMissing   = errors.New("ENCRYPTION_KEY environment variable is not set")
	ErrKeyMalformed = errors.New("ENCRYPTION_KEY must be a 64-character hex string (32 bytes)")
	// ErrDecryption covers malformed envelopes, tampering and wrong keys alike.
	ErrDecryption = errors.New("failed to decrypt data")
)

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

type Cipher struct {
	aead cipher.AEAD
}

// NewCipherFromHex builds a Cipher from a 64-character hex key.
func NewCipherFromHex(key string) (*Cipher, error) {
	if key == "" {
		return nil, ErrKeyMissing
	}
	if !hexKeyPattern.MatchString(key) {
		return nil, ErrKeyMalformed
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, ErrKeyMalformed
	}
	return NewCipher(raw)
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, ErrKeyMalformed
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ct),
	}, ":"), nil
}

func (c *Cipher) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrDecryption
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", ErrDecryption
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrDecryption
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecryption
	}

	plaintext, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh random key in the hex form accepted by NewCipherFromHex.
func GenerateKey() (string, error) {
	return RandomHex(32)
}

// RandomHex returns n bytes from crypto/rand, hex-encoded. Session tokens and
// OAuth state values use it as well as keys.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Unavailable stands in for a Cipher when no valid key is configured. Every
// call fails with Err, so credential operations fail while the rest of the
// server keeps running.
type Unavailable struct {
	Err error
}

func (u Unavailable) Encrypt(string) (string, error) { return "", u.Err }

func (u Unavailable) Decrypt(string) (string, error) { return "", u.Err }
