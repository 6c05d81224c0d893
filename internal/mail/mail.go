// Package mail delivers outbound email through a user's connected provider:
// a custom SMTP relay, the Gmail API or Microsoft Graph.
package mail

import (
	"context"
	"fmt"

	"github.com/veerhq/veer/internal/models"
)

// Message is one outbound email. HTML is the primary body; Text is used as the
// plain alternative where the transport supports one.
type Message struct {
	Subject string
	Text    string
	HTML    string
	To      string
	From    string
}

// ErrorKind classifies a failed send so callers can show the right remedy.
type ErrorKind string

const (
	KindHostNotFound     ErrorKind = "host_not_found"
	KindConnection       ErrorKind = "connection"
	KindAuth             ErrorKind = "auth"
	KindRejected         ErrorKind = "rejected"
	KindAPIDisabled      ErrorKind = "api_disabled"
	KindAPI              ErrorKind = "api"
	KindTokenUnavailable ErrorKind = "token_unavailable"
	KindCredentials      ErrorKind = "credentials"
	KindGeneric          ErrorKind = "generic"
)

// SendError is returned when a transport could not deliver a message. Message
// is safe to show to the user.
type SendError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SendError) Error() string { return e.Message }

func (e *SendError) Unwrap() error { return e.Err }

// ValidationError reports a bad configuration value before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Sender delivers a message using the credentials held by one integration record.
type Sender interface {
	Send(ctx context.Context, rec *models.Integration, msg Message) error
}

// TokenSource yields a usable OAuth access token for a user's provider.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, userID int64, provider models.IntegrationProvider) (string, bool)
}

// Decrypter opens stored credential envelopes.
type Decrypter interface {
	Decrypt(envelope string) (string, error)
}

// Dispatcher routes a send to the Sender registered for the record's provider.
type Dispatcher struct {
	senders map[models.IntegrationProvider]Sender
}

func NewDispatcher(smtp, gmail, outlook Sender) *Dispatcher {
	return &Dispatcher{senders: map[models.IntegrationProvider]Sender{
		models.ProviderCustom:  smtp,
		models.ProviderGmail:   gmail,
		models.ProviderOutlook: outlook,
	}}
}

func (d *Dispatcher) Send(ctx context.Context, rec *models.Integration, msg Message) error {
	s, ok := d.senders[rec.Provider]
	if !ok || s == nil {
		return &SendError{Kind: KindGeneric, Message: fmt.Sprintf("Unsupported provider: %s", rec.Provider)}
	}
	return s.Send(ctx, rec, msg)
}

var tokenUnavailable = &SendError{
	Kind:    KindTokenUnavailable,
	Message: "Failed to get valid access token. Please reconnect your account.",
}
