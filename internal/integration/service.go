// Package integration runs the email-integration lifecycle: connecting,
// testing, enabling, disabling and disconnecting providers while keeping at
// most one provider active per user.
package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veerhq/veer/internal/cache"
	"github.com/veerhq/veer/internal/mail"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/oauth"
	"github.com/veerhq/veer/internal/store"
	"github.com/veerhq/veer/internal/tokens"
)

// OAuthClient is the part of an OAuth provider client the lifecycle needs.
type OAuthClient interface {
	Name() string
	Provider() models.IntegrationProvider
	AuthorizationURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth.Tokens, error)
}

// SMTPSettings is what a user enters to connect a custom SMTP relay.
type SMTPSettings struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
}

func (s SMTPSettings) Validate() error {
	if err := mail.ValidateHost(s.Host); err != nil {
		return err
	}
	if err := mail.ValidatePort(s.Port); err != nil {
		return err
	}
	if strings.TrimSpace(s.User) == "" {
		return &mail.ValidationError{Field: "user", Message: "SMTP user is required"}
	}
	if s.Password == "" {
		return &mail.ValidationError{Field: "password", Message: "SMTP password is required"}
	}
	if err := mail.ValidateFromAddress(s.FromEmail); err != nil {
		return &mail.ValidationError{Field: "fromEmail", Message: "From email must be a valid email address"}
	}
	return nil
}

// OAuthCallback holds the query parameters of a provider redirect together
// with the state value that was stored before the redirect.
type OAuthCallback struct {
	Provider         string
	Code             string
	State            string
	StoredState      string
	Error            string
	ErrorDescription string
}

type Service struct {
	integrations store.IntegrationStore
	cipher       tokens.Cipher
	sender       mail.Sender
	oauthClients map[string]OAuthClient
	cache        cache.Invalidator
	now          func() time.Time
}

func NewService(integrations store.IntegrationStore, cipher tokens.Cipher, sender mail.Sender, invalidator cache.Invalidator, clients ...OAuthClient) *Service {
	byName := make(map[string]OAuthClient, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return &Service{
		integrations: integrations,
		cipher:       cipher,
		sender:       sender,
		oauthClients: byName,
		cache:        invalidator,
		now:          time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// BeginOAuth starts the authorization-code flow for "gmail" or "outlook". The
// caller must store state in the provider-scoped cookie named by cookieName.
func (s *Service) BeginOAuth(ctx context.Context, providerName string) (authURL, state, cookieName string, err error) {
	client, err := s.clientFor(providerName)
	if err != nil {
		return "", "", "", err
	}

	state, err = oauth.GenerateState()
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	authURL, err = client.AuthorizationURL(state)
	if err != nil {
		slog.ErrorContext(ctx, "oauth provider not configured", "provider", client.Name(), "error", err)
		return "", "", "", err
	}
	return authURL, state, oauth.StateCookieName(client.Name()), nil
}

// CompleteOAuth handles the provider callback. Nothing is written unless the
// state matches. The new credentials are stored INACTIVE, tested, and the
// provider is activated only if the test send succeeds.
func (s *Service) CompleteOAuth(ctx context.Context, user *models.User, cb OAuthCallback) (*models.Integration, error) {
	if cb.Error != "" {
		desc := cb.ErrorDescription
		if desc == "" {
			desc = cb.Error
		}
		return nil, &ProviderDeniedError{Description: desc}
	}
	if cb.Code == "" || cb.State == "" {
		return nil, ErrMissingCode
	}
	if !oauth.StateMatches(cb.StoredState, cb.State) {
		slog.WarnContext(ctx, "oauth state mismatch", "provider", cb.Provider, "user_id", user.ID)
		return nil, ErrInvalidState
	}

	client, ok := s.oauthClients[cb.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cb.Provider)
	}

	tok, err := client.Exchange(ctx, cb.Code)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	env, err := tokens.SealBundle(s.cipher, models.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    &expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypt token bundle: %w", err)
	}
	var encRefresh string
	if tok.RefreshToken != "" {
		if encRefresh, err = s.cipher.Encrypt(tok.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	rec, err := s.integrations.UpsertIntegration(ctx, models.IntegrationUpsertParams{
		UserID:               user.ID,
		Type:                 models.IntegrationEmail,
		Provider:             client.Provider(),
		Status:               models.StatusInactive,
		EncryptedCredentials: env,
		OAuthRefreshToken:    encRefresh,
		OAuthTokenExpiresAt:  &expiresAt,
		EmailAddress:         tok.Email,
		ConnectedAt:          &now,
	})
	if err != nil {
		return nil, fmt.Errorf("store %s integration: %w", client.Name(), err)
	}
	s.invalidate(ctx, user.ID)

	slog.InfoContext(ctx, "oauth integration connected", "user_id", user.ID, "provider", rec.Provider, "email", tok.Email)
	return s.testAndActivate(ctx, user, rec, "Connection successful but test failed: ")
}

// ConnectSMTP stores a custom SMTP relay, tests it and activates it on success.
// The settings are persisted before the test so a failed test keeps them.
func (s *Service) ConnectSMTP(ctx context.Context, user *models.User, in SMTPSettings) (*models.Integration, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	encPassword, err := s.cipher.Encrypt(in.Password)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encrypt smtp password", "error", err)
		return nil, fmt.Errorf("encrypt smtp password: %w", err)
	}

	now := s.now()
	rec, err := s.integrations.UpsertIntegration(ctx, models.IntegrationUpsertParams{
		UserID:               user.ID,
		Type:                 models.IntegrationEmail,
		Provider:             models.ProviderCustom,
		Status:               models.StatusInactive,
		EncryptedCredentials: encPassword,
		EmailAddress:         in.FromEmail,
		SMTPHost:             in.Host,
		SMTPPort:             in.Port,
		SMTPUser:             in.User,
		SMTPFromEmail:        in.FromEmail,
		ConnectedAt:          &now,
	})
	if err != nil {
		return nil, fmt.Errorf("store smtp integration: %w", err)
	}
	s.invalidate(ctx, user.ID)

	return s.testAndActivate(ctx, user, rec, "SMTP test failed: ")
}

// UpdateSMTP overwrites the stored relay settings and re-tests them. The
// displayed email address only changes when the re-test succeeds.
func (s *Service) UpdateSMTP(ctx context.Context, user *models.User, in SMTPSettings) (*models.Integration, error) {
	rec, err := s.find(ctx, user.ID, models.ProviderCustom)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	encPassword, err := s.cipher.Encrypt(in.Password)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encrypt smtp password", "error", err)
		return nil, fmt.Errorf("encrypt smtp password: %w", err)
	}

	rec, err = s.integrations.UpdateIntegration(ctx, rec.ID, models.IntegrationPatch{
		EncryptedCredentials: &encPassword,
		SMTPHost:             &in.Host,
		SMTPPort:             &in.Port,
		SMTPUser:             &in.User,
		SMTPFromEmail:        &in.FromEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("update smtp integration: %w", err)
	}
	s.invalidate(ctx, user.ID)

	if err := s.sendTest(ctx, user, rec); err != nil {
		s.recordFailure(ctx, rec, err, models.Ptr(models.StatusInactive))
		return nil, &TestFailedError{Prefix: "SMTP test failed: ", Err: err}
	}

	rec, err = s.integrations.UpdateIntegration(ctx, rec.ID, models.IntegrationPatch{
		EmailAddress: &in.FromEmail,
		ErrorMessage: models.Ptr(""),
	})
	if err != nil {
		return nil, fmt.Errorf("update smtp integration: %w", err)
	}
	s.invalidate(ctx, user.ID)
	return rec, nil
}

// SetEnabled activates or deactivates the named provider. Activating turns
// every other email integration of the user INACTIVE.
func (s *Service) SetEnabled(ctx context.Context, user *models.User, providerName string, enabled bool) (*models.Integration, error) {
	provider, err := ParseProvider(providerName)
	if err != nil {
		return nil, err
	}
	rec, err := s.find(ctx, user.ID, provider)
	if err != nil {
		return nil, err
	}

	if enabled {
		switch st := StateOf(rec).(type) {
		case Unconfigured:
			return nil, ErrNoCredentials
		case Connected:
			if st.Expired {
				return nil, ErrExpired
			}
		}
		return s.activateProvider(ctx, rec)
	}

	rec, err = s.integrations.UpdateIntegration(ctx, rec.ID, models.IntegrationPatch{Status: models.Ptr(models.StatusInactive)})
	if err != nil {
		return nil, fmt.Errorf("disable integration: %w", err)
	}
	s.invalidate(ctx, user.ID)
	slog.InfoContext(ctx, "email integration disabled", "user_id", user.ID, "provider", provider)
	return rec, nil
}

// Disconnect deletes the provider's record. Disconnecting a provider that was
// never connected is not an error.
func (s *Service) Disconnect(ctx context.Context, user *models.User, providerName string) error {
	provider, err := ParseProvider(providerName)
	if err != nil {
		return err
	}
	rec, err := s.find(ctx, user.ID, provider)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.integrations.DeleteIntegration(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	s.invalidate(ctx, user.ID)
	slog.InfoContext(ctx, "email integration disconnected", "user_id", user.ID, "provider", provider)
	return nil
}

// Test sends the standard test message through the named provider and
// returns the address it was sent to. The outcome is recorded on the record.
func (s *Service) Test(ctx context.Context, user *models.User, providerName string) (string, error) {
	provider, err := ParseProvider(providerName)
	if err != nil {
		return "", err
	}
	rec, err := s.find(ctx, user.ID, provider)
	if err != nil {
		return "", err
	}

	to := testRecipient(user, rec)
	if err := s.sendTest(ctx, user, rec); err != nil {
		s.recordFailure(ctx, rec, err, nil)
		return "", err
	}

	if rec.ErrorMessage != "" {
		if _, err := s.integrations.UpdateIntegration(ctx, rec.ID, models.IntegrationPatch{ErrorMessage: models.Ptr("")}); err != nil {
			slog.WarnContext(ctx, "failed to clear integration error", "integration_id", rec.ID, "error", err)
		} else {
			s.invalidate(ctx, user.ID)
		}
	}
	return to, nil
}

// activateProvider makes rec the user's only ACTIVE email integration. It is
// safe to call repeatedly. Two concurrent calls for different providers can
// still both end ACTIVE; there is no transaction around the two writes.
func (s *Service) activateProvider(ctx context.Context, rec *models.Integration) (*models.Integration, error) {
	n, err := s.integrations.DeactivateOtherIntegrations(ctx, rec.UserID, models.IntegrationEmail, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("deactivate other integrations: %w", err)
	}

	rec, err = s.integrations.UpdateIntegration(ctx, rec.ID, models.IntegrationPatch{
		Status:       models.Ptr(models.StatusActive),
		ErrorMessage: models.Ptr(""),
	})
	if err != nil {
		return nil, fmt.Errorf("activate integration: %w", err)
	}
	s.invalidate(ctx, rec.UserID)

	slog.InfoContext(ctx, "email integration activated", "user_id", rec.UserID, "provider", rec.Provider, "deactivated", n)
	return rec, nil
}

func (s *Service) testAndActivate(ctx context.Context, user *models.User, rec *models.Integration, failurePrefix string) (*models.Integration, error) {
	if err := s.sendTest(ctx, user, rec); err != nil {
		s.recordFailure(ctx, rec, err, models.Ptr(models.StatusInactive))
		return nil, &TestFailedError{Prefix: failurePrefix, Err: err}
	}
	return s.activateProvider(ctx, rec)
}

func (s *Service) sendTest(ctx context.Context, user *models.User, rec *models.Integration) error {
	to := testRecipient(user, rec)
	msg := mail.TestMessage(ProviderName(rec.Provider), to, mail.SenderAddress(rec, to), s.now())
	return s.sender.Send(ctx, rec, msg)
}

// recordFailure stores the user-facing message for cause and, when status is
// set, the new status. A record the token manager marked EXPIRED during the
// send keeps its status and reconnect message.
func (s *Service) recordFailure(ctx context.Context, rec *models.Integration, cause error, status *models.IntegrationStatus) {
	msg := UserMessage(cause, ProviderName(rec.Provider), cause.Error())
	slog.WarnContext(ctx, "email integration test failed", "user_id", rec.UserID, "provider", rec.Provider, "error", cause)

	current, err := s.integrations.GetIntegration(ctx, rec.UserID, rec.Type, rec.Provider)
	if err != nil {
		slog.ErrorContext(ctx, "failed to reload integration", "integration_id", rec.ID, "error", err)
		return
	}
	if current.Status == models.StatusExpired {
		return
	}

	_, err = s.integrations.UpdateIntegration(ctx, rec.ID, models.IntegrationPatch{
		Status:       status,
		ErrorMessage: &msg,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to record integration error", "integration_id", rec.ID, "error", err)
		return
	}
	s.invalidate(ctx, rec.UserID)
}

func (s *Service) find(ctx context.Context, userID int64, provider models.IntegrationProvider) (*models.Integration, error) {
	rec, err := s.integrations.GetIntegration(ctx, userID, models.IntegrationEmail, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}
	return rec, nil
}

func (s *Service) clientFor(providerName string) (OAuthClient, error) {
	provider, err := ParseProvider(providerName)
	if err != nil {
		return nil, err
	}
	name, ok := oauth.NameFor(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not use oauth", ErrUnknownProvider, providerName)
	}
	client, ok := s.oauthClients[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, oauth.ErrNotConfigured)
	}
	return client, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.UserIntegrationsTag(userID)); err != nil {
		slog.WarnContext(ctx, "failed to invalidate integrations cache", "user_id", userID, "error", err)
	}
}

func testRecipient(user *models.User, rec *models.Integration) string {
	if user != nil && user.Email != "" {
		return user.Email
	}
	return rec.EmailAddress
}
