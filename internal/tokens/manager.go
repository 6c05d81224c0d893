// Package tokens hands out usable OAuth access tokens for email integrations,
// refreshing them shortly before they expire.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/veerhq/veer/internal/cache"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/oauth"
	"github.com/veerhq/veer/internal/store"
)

// RefreshBuffer is how long before expiry a token is treated as expired.
const RefreshBuffer = 5 * time.Minute

// ReconnectMessage is recorded on a record whose refresh token was rejected.
const ReconnectMessage = "Your email connection has expired. Please reconnect your account."

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Refreshed, error)
}

type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

type Manager struct {
	integrations store.IntegrationStore
	cipher       Cipher
	refreshers   map[models.IntegrationProvider]Refresher
	cache        cache.Invalidator
	now          func() time.Time
}

func NewManager(integrations store.IntegrationStore, cipher Cipher, invalidator cache.Invalidator, refreshers map[models.IntegrationProvider]Refresher) *Manager {
	return &Manager{
		integrations: integrations,
		cipher:       cipher,
		refreshers:   refreshers,
		cache:        invalidator,
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// GetValidAccessToken returns an access token for the user's email
// integration with provider, refreshing it if it is within RefreshBuffer of
// expiring. It reports false when no usable token can be produced; callers
// should treat that as "not connected".
func (m *Manager) GetValidAccessToken(ctx context.Context, userID int64, provider models.IntegrationProvider) (string, bool) {
	rec, err := m.integrations.GetIntegration(ctx, userID, models.IntegrationEmail, provider)
	if err != nil || !rec.HasCredentials() {
		return "", false
	}

	bundle, err := m.decryptBundle(rec.EncryptedCredentials)
	if err != nil {
		slog.WarnContext(ctx, "failed to decrypt oauth token", "user_id", userID, "provider", provider, "error", err)
		return "", false
	}

	expiry := bundle.ExpiresAt
	if expiry == nil {
		expiry = rec.OAuthTokenExpiresAt
	}
	if expiry == nil || expiry.Sub(m.now()) >= RefreshBuffer {
		return bundle.AccessToken, true
	}

	token, err := m.refresh(ctx, rec, bundle)
	if err != nil {
		slog.WarnContext(ctx, "failed to refresh oauth token", "user_id", userID, "provider", provider, "error", err)
		return "", false
	}
	return token, true
}

func (m *Manager) refresh(ctx context.Context, rec *models.Integration, bundle *models.TokenBundle) (string, error) {
	refresher, ok := m.refreshers[rec.Provider]
	if !ok {
		return "", errors.New("no refresher registered for provider")
	}

	refreshToken := bundle.RefreshToken
	if rec.OAuthRefreshToken != "" {
		rt, err := m.cipher.Decrypt(rec.OAuthRefreshToken)
		if err != nil {
			return "", err
		}
		refreshToken = rt
	}

	res, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		var rerr *oauth.RefreshError
		if errors.As(err, &rerr) {
			m.markExpired(ctx, rec)
		}
		return "", err
	}

	expiresAt := m.now().Add(time.Duration(res.ExpiresIn) * time.Second)
	if res.ExpiresIn == 0 && !res.Expiry.IsZero() {
		expiresAt = res.Expiry
	}

	next := models.TokenBundle{
		AccessToken:  res.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    &expiresAt,
	}
	patch := models.IntegrationPatch{OAuthTokenExpiresAt: &expiresAt}

	if res.RefreshToken != "" && res.RefreshToken != refreshToken {
		next.RefreshToken = res.RefreshToken
		encRT, err := m.cipher.Encrypt(res.RefreshToken)
		if err != nil {
			return "", err
		}
		patch.OAuthRefreshToken = &encRT
	}

	env, err := SealBundle(m.cipher, next)
	if err != nil {
		return "", err
	}
	patch.EncryptedCredentials = &env

	if _, err := m.integrations.UpdateIntegration(ctx, rec.ID, patch); err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "refreshed oauth token", "user_id", rec.UserID, "provider", rec.Provider, "expires_at", expiresAt)
	return res.AccessToken, nil
}

func (m *Manager) markExpired(ctx context.Context, rec *models.Integration) {
	_, err := m.integrations.UpdateIntegration(ctx, rec.ID, models.IntegrationPatch{
		Status:       models.Ptr(models.StatusExpired),
		ErrorMessage: models.Ptr(ReconnectMessage),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark integration expired", "integration_id", rec.ID, "error", err)
		return
	}
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, cache.UserIntegrationsTag(rec.UserID)); err != nil {
			slog.WarnContext(ctx, "failed to invalidate integrations cache", "user_id", rec.UserID, "error", err)
		}
	}
}

func (m *Manager) decryptBundle(env string) (*models.TokenBundle, error) {
	plain, err := m.cipher.Decrypt(env)
	if err != nil {
		return nil, err
	}
	var b models.TokenBundle
	if err := json.Unmarshal([]byte(plain), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SealBundle encrypts a token bundle into its stored envelope form.
func SealBundle(c Cipher, b models.TokenBundle) (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return c.Encrypt(string(raw))
}
