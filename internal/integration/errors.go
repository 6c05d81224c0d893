package integration

import (
	"errors"
	"fmt"

	"github.com/veerhq/veer/internal/mail"
	"github.com/veerhq/veer/internal/oauth"
	"github.com/veerhq/veer/internal/secrets"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNotConnected    = errors.New("integration not connected")
	ErrNoCredentials   = errors.New("integration has no stored credentials")
	ErrExpired         = errors.New("integration authorization expired")
	ErrInvalidState    = errors.New("invalid state token")
	ErrMissingCode     = errors.New("missing authorization code")
)

// ProviderDeniedError carries an error reported on the OAuth callback itself,
// for example when the user declined consent.
type ProviderDeniedError struct {
	Description string
}

func (e *ProviderDeniedError) Error() string { return e.Description }

// TestFailedError reports that credentials were stored but the test send failed.
type TestFailedError struct {
	Prefix string
	Err    error
}

func (e *TestFailedError) Error() string { return e.Prefix + e.Err.Error() }

func (e *TestFailedError) Unwrap() error { return e.Err }

// UserMessage turns an error from this package into text for the dashboard.
// Unrecognised errors become fallback so internal details are not shown.
func UserMessage(err error, providerName, fallback string) string {
	var (
		verr   *mail.ValidationError
		serr   *mail.SendError
		terr   *TestFailedError
		xerr   *oauth.ExchangeError
		denied *ProviderDeniedError
	)
	switch {
	case errors.As(err, &terr):
		return terr.Error()
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &serr):
		return serr.Message
	case errors.As(err, &xerr):
		return xerr.Error()
	case errors.As(err, &denied):
		return denied.Description
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNoCredentials):
		return fmt.Sprintf("Please connect %s first", providerName)
	case errors.Is(err, ErrExpired):
		return fmt.Sprintf("Your %s connection has expired. Please reconnect your account.", providerName)
	case errors.Is(err, ErrInvalidState):
		return "Invalid state token"
	case errors.Is(err, ErrMissingCode):
		return "Missing authorization code"
	case errors.Is(err, ErrUnknownProvider):
		return "Invalid provider"
	case errors.Is(err, oauth.ErrNotConfigured):
		return fmt.Sprintf("%s sign-in is not configured on this server", providerName)
	case errors.Is(err, secrets.ErrKeyMissing), errors.Is(err, secrets.ErrKeyMalformed):
		return "Failed to encrypt credentials. Please check ENCRYPTION_KEY is set."
	}
	return fallback
}
