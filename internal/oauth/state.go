package oauth

import (
	"crypto/subtle"

	"github.com/veerhq/veer/internal/secrets"
)

// StateTTLSeconds bounds how long a state token stays valid in its cookie.
const StateTTLSeconds = 600

// StateCookieName scopes the state cookie to one provider.
func StateCookieName(provider string) string {
	return "oauth_state_" + provider
}

// GenerateState returns 32 random bytes, hex-encoded.
func GenerateState() (string, error) {
	return secrets.RandomHex(32)
}

// StateMatches reports whether the callback state equals the stored one.
// An empty stored value never matches.
func StateMatches(stored, received string) bool {
	if stored == "" || received == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(received)) == 1
}
