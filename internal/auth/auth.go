package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/veerhq/veer/internal/secrets"
)

// MaxPasswordLength is bcrypt's input limit in bytes.
const MaxPasswordLength = 72

// sessionTokenBytes gives 64-character hex session tokens.
const sessionTokenBytes = 32

var ErrPasswordTooLong = fmt.Errorf("password must be at most %d bytes", MaxPasswordLength)

// HashPassword hashes password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. A wrong password is
// (false, nil); an unreadable hash is an error.
func CheckPassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare password hash: %w", err)
	}
}

// GenerateToken returns a new session token.
func GenerateToken() (string, error) {
	token, err := secrets.RandomHex(sessionTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}
