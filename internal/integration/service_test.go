package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerhq/veer/internal/cache"
	"github.com/veerhq/veer/internal/mail"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/oauth"
	"github.com/veerhq/veer/internal/secrets"
	"github.com/veerhq/veer/internal/store/storetest"
	"github.com/veerhq/veer/internal/tokens"
)

type fakeSender struct {
	mu   sync.Mutex
	err  map[models.IntegrationProvider]error
	sent []sentMessage
}

type sentMessage struct {
	provider models.IntegrationProvider
	msg      mail.Message
	// status of the record at send time
	status models.IntegrationStatus
}

func (f *fakeSender) Send(_ context.Context, rec *models.Integration, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{provider: rec.Provider, msg: msg, status: rec.Status})
	return f.err[rec.Provider]
}

func (f *fakeSender) fail(p models.IntegrationProvider, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err[p] = err
}

type fakeOAuth struct {
	name     string
	provider models.IntegrationProvider
	tokens   *oauth.Tokens
	err      error
	calls    int
}

func (f *fakeOAuth) Name() string { return f.name }
func (f *fakeOAuth) Provider() models.IntegrationProvider { return f.provider }

func (f *fakeOAuth) AuthorizationURL(state string) (string, error) {
	return "https://accounts.example.com/auth?state=" + state, nil
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (*oauth.Tokens, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tokens, nil
}

type revokedRefresher struct{}

func (revokedRefresher) Refresh(context.Context, string) (*oauth.Refreshed, error) {
	return nil, &oauth.RefreshError{Provider: oauth.Google, Code: "invalid_grant", Description: "Token has been expired or revoked."}
}

type fixture struct {
	store  *storetest.IntegrationStore
	cipher *secrets.Cipher
	sender *fakeSender
	bus    *cache.MemoryBus
	google *fakeOAuth
	svc    *Service
	user   *models.User
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	c, err := secrets.NewCipherFromHex(key)
	require.NoError(t, err)

	f := &fixture{
		store:  storetest.NewIntegrationStore(),
		cipher: c,
		sender: &fakeSender{err: map[models.IntegrationProvider]error{}},
		bus:    cache.NewMemoryBus(),
		google: &fakeOAuth{
			name:     oauth.Google,
			provider: models.ProviderGmail,
			tokens: &oauth.Tokens{
				AccessToken:  "ya29.access",
				RefreshToken: "1//refresh",
				ExpiresIn:    3599,
				Email:        "owner@gmail.com",
			},
		},
		user: &models.User{ID: 7, Email: "owner@example.com"},
		now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, c, f.sender, f.bus, f.google)
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) get(t *testing.T, p models.IntegrationProvider) *models.Integration {
	t.Helper()
	rec, err := f.store.GetIntegration(context.Background(), f.user.ID, models.IntegrationEmail, p)
	require.NoError(t, err)
	return rec
}

func (f *fixture) version(t *testing.T) uint64 {
	t.Helper()
	v, err := f.bus.Version(context.Background(), cache.UserIntegrationsTag(f.user.ID))
	require.NoError(t, err)
	return v
}

func validSMTP() SMTPSettings {
	return SMTPSettings{
		Host:      "smtp.example.com",
		Port:      587,
		User:      "relay-user",
		Password:  "s3cret",
		FromEmail: "a@x.com",
	}
}

func (f *fixture) seedActive(t *testing.T, p models.IntegrationProvider) int64 {
	t.Helper()
	return f.store.Put(models.Integration{
		UserID:               f.user.ID,
		Provider:             p,
		Status:               models.StatusActive,
		EncryptedCredentials: "sealed",
		EmailAddress:         "old@example.com",
	})
}

func TestConnectSMTP(t *testing.T) {
	ctx := context.Background()

	t.Run("activates and deactivates the previous provider", func(t *testing.T) {
		f := newFixture(t)
		f.seedActive(t, models.ProviderGmail)

		rec, err := f.svc.ConnectSMTP(ctx, f.user, validSMTP())
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, rec.Status)
		assert.Equal(t, "a@x.com", rec.EmailAddress)
		assert.NotNil(t, rec.ConnectedAt)

		assert.Equal(t, models.StatusInactive, f.get(t, models.ProviderGmail).Status)
		assert.Equal(t, 1, f.store.ActiveCount(f.user.ID, models.IntegrationEmail))
		assert.Greater(t, f.version(t), uint64(0))
	})

	t.Run("password is stored encrypted", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ConnectSMTP(ctx, f.user, validSMTP())
		require.NoError(t, err)

		rec := f.get(t, models.ProviderCustom)
		assert.NotContains(t, rec.EncryptedCredentials, "s3cret")
		plain, err := f.cipher.Decrypt(rec.EncryptedCredentials)
		require.NoError(t, err)
		assert.Equal(t, "s3cret", plain)
	})

	t.Run("credentials are persisted before the test send", func(t *testing.T) {
		f := newFixture(t)
		f.sender.fail(models.ProviderCustom, &mail.SendError{Kind: mail.KindAuth, Message: "SMTP authentication failed"})

		_, err := f.svc.ConnectSMTP(ctx, f.user, validSMTP())
		var terr *TestFailedError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "SMTP test failed: SMTP authentication failed", UserMessage(err, NameCustom, ""))

		require.Len(t, f.sender.sent, 1)
		assert.Equal(t, models.StatusInactive, f.sender.sent[0].status)

		rec := f.get(t, models.ProviderCustom)
		assert.Equal(t, models.StatusInactive, rec.Status)
		assert.Equal(t, "SMTP authentication failed", rec.ErrorMessage)
		assert.True(t, rec.HasCredentials())
	})

	t.Run("failed test keeps the previous provider active", func(t *testing.T) {
		f := newFixture(t)
		f.seedActive(t, models.ProviderGmail)
		f.sender.fail(models.ProviderCustom, errors.New("boom"))

		_, err := f.svc.ConnectSMTP(ctx, f.user, validSMTP())
		require.Error(t, err)
		assert.Equal(t, models.StatusActive, f.get(t, models.ProviderGmail).Status)
	})

	t.Run("invalid settings write nothing", func(t *testing.T) {
		f := newFixture(t)
		in := validSMTP()
		in.Host = "user@example.com"

		_, err := f.svc.ConnectSMTP(ctx, f.user, in)
		var verr *mail.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, 0, f.store.Writes)
		assert.Empty(t, f.sender.sent)
	})

	t.Run("test message goes to the account email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ConnectSMTP(ctx, f.user, validSMTP())
		require.NoError(t, err)

		require.Len(t, f.sender.sent, 1)
		msg := f.sender.sent[0].msg
		assert.Equal(t, "owner@example.com", msg.To)
		assert.Equal(t, "a@x.com", msg.From)
		assert.Equal(t, mail.TestSubject, msg.Subject)
	})
}

func TestUpdateSMTP(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an existing record", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.UpdateSMTP(ctx, f.user, validSMTP())
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("failed re-test keeps the displayed address", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ConnectSMTP(ctx, f.user, validSMTP())
		require.NoError(t, err)

		f.sender.fail(models.ProviderCustom, &mail.SendError{Kind: mail.KindConnection, Message: "Could not connect to SMTP server"})
		in := validSMTP()
		in.Host = "smtp2.example.com"
		in.FromEmail = "b@x.com"
		_, err = f.svc.UpdateSMTP(ctx, f.user, in)
		require.Error(t, err)

		rec := f.get(t, models.ProviderCustom)
		assert.Equal(t, "a@x.com", rec.EmailAddress)
		assert.Equal(t, "smtp2.example.com", rec.SMTPHost)
		assert.Equal(t, "b@x.com", rec.SMTPFromEmail)
		assert.Equal(t, models.StatusInactive, rec.Status)
		assert.Equal(t, "Could not connect to SMTP server", rec.ErrorMessage)
	})

	t.Run("successful re-test updates the address", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ConnectSMTP(ctx, f.user, validSMTP())
		require.NoError(t, err)

		in := validSMTP()
		in.FromEmail = "b@x.com"
		rec, err := f.svc.UpdateSMTP(ctx, f.user, in)
		require.NoError(t, err)
		assert.Equal(t, "b@x.com", rec.EmailAddress)
		assert.Equal(t, models.StatusActive, rec.Status)
		assert.Empty(t, rec.ErrorMessage)
	})
}

func TestOAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("begin returns a provider scoped state", func(t *testing.T) {
		f := newFixture(t)
		authURL, state, cookie, err := f.svc.BeginOAuth(ctx, NameGmail)
		require.NoError(t, err)
		assert.Len(t, state, 64)
		assert.Contains(t, authURL, state)
		assert.Equal(t, "oauth_state_google", cookie)
	})

	t.Run("begin for an unregistered client", func(t *testing.T) {
		f := newFixture(t)
		_, _, _, err := f.svc.BeginOAuth(ctx, NameOutlook)
		assert.ErrorIs(t, err, oauth.ErrNotConfigured)

		_, _, _, err = f.svc.BeginOAuth(ctx, NameCustom)
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("connect stores sealed tokens and activates", func(t *testing.T) {
		f := newFixture(t)
		f.seedActive(t, models.ProviderCustom)

		rec, err := f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, Code: "c", State: "s", StoredState: "s"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, rec.Status)
		assert.Equal(t, "owner@gmail.com", rec.EmailAddress)
		require.NotNil(t, rec.OAuthTokenExpiresAt)
		assert.Equal(t, f.now.Add(3599*time.Second), *rec.OAuthTokenExpiresAt)

		rt, err := f.cipher.Decrypt(rec.OAuthRefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "1//refresh", rt)

		assert.Equal(t, models.StatusInactive, f.get(t, models.ProviderCustom).Status)
		assert.Equal(t, 1, f.store.ActiveCount(f.user.ID, models.IntegrationEmail))
	})

	t.Run("reconnect without a refresh token keeps the stored one", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, Code: "c", State: "s", StoredState: "s"})
		require.NoError(t, err)

		f.google.tokens = &oauth.Tokens{AccessToken: "ya29.second", ExpiresIn: 3599, Email: "owner@gmail.com"}
		rec, err := f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, Code: "c2", State: "s", StoredState: "s"})
		require.NoError(t, err)

		rt, err := f.cipher.Decrypt(rec.OAuthRefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "1//refresh", rt)
	})

	t.Run("api disabled leaves the record inactive", func(t *testing.T) {
		f := newFixture(t)
		hint := "Gmail API is not enabled. Enable it at https://console.developers.google.com/apis/api/gmail.googleapis.com/overview?project=123"
		f.sender.fail(models.ProviderGmail, &mail.SendError{Kind: mail.KindAPIDisabled, Message: hint})

		_, err := f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, Code: "c", State: "s", StoredState: "s"})
		require.Error(t, err)
		assert.Equal(t, "Connection successful but test failed: "+hint, UserMessage(err, NameGmail, ""))

		rec := f.get(t, models.ProviderGmail)
		assert.Equal(t, models.StatusInactive, rec.Status)
		assert.Equal(t, hint, rec.ErrorMessage)
		assert.True(t, rec.HasCredentials())
	})

	t.Run("state mismatch writes nothing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, Code: "c", State: "s", StoredState: "other"})
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, 0, f.store.Writes)
		assert.Equal(t, 0, f.google.calls)

		_, err = f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, Code: "c", State: "s"})
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, 0, f.store.Writes)
	})

	t.Run("provider error is reported", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, Error: "access_denied", ErrorDescription: "The user denied access"})
		assert.Equal(t, "The user denied access", UserMessage(err, NameGmail, ""))
		assert.Equal(t, 0, f.store.Writes)
	})

	t.Run("missing code", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, State: "s", StoredState: "s"})
		assert.ErrorIs(t, err, ErrMissingCode)
	})

	t.Run("exchange failure writes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.google.err = &oauth.ExchangeError{Provider: oauth.Google, Code: "invalid_grant", Description: "Bad Request"}
		_, err := f.svc.CompleteOAuth(ctx, f.user, OAuthCallback{Provider: oauth.Google, Code: "c", State: "s", StoredState: "s"})
		assert.Equal(t, "failed to exchange code: Bad Request", UserMessage(err, NameGmail, ""))
		assert.Equal(t, 0, f.store.Writes)
	})
}

func TestSetEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("enable keeps a single active provider", func(t *testing.T) {
		f := newFixture(t)
		f.seedActive(t, models.ProviderGmail)
		f.store.Put(models.Integration{UserID: f.user.ID, Provider: models.ProviderCustom, Status: models.StatusInactive, EncryptedCredentials: "sealed"})

		rec, err := f.svc.SetEnabled(ctx, f.user, NameCustom, true)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, rec.Status)
		assert.Equal(t, models.StatusInactive, f.get(t, models.ProviderGmail).Status)
		assert.Equal(t, 1, f.store.ActiveCount(f.user.ID, models.IntegrationEmail))

		_, err = f.svc.SetEnabled(ctx, f.user, NameCustom, true)
		require.NoError(t, err)
		assert.Equal(t, 1, f.store.ActiveCount(f.user.ID, models.IntegrationEmail))
	})

	t.Run("enable clears the last error", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(models.Integration{UserID: f.user.ID, Provider: models.ProviderGmail, Status: models.StatusInactive, EncryptedCredentials: "sealed", ErrorMessage: "old failure"})

		rec, err := f.svc.SetEnabled(ctx, f.user, NameGmail, true)
		require.NoError(t, err)
		assert.Empty(t, rec.ErrorMessage)
	})

	t.Run("enable rejects records that cannot send", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SetEnabled(ctx, f.user, NameGmail, true)
		assert.ErrorIs(t, err, ErrNotConnected)

		f.store.Put(models.Integration{UserID: f.user.ID, Provider: models.ProviderGmail, Status: models.StatusInactive})
		_, err = f.svc.SetEnabled(ctx, f.user, NameGmail, true)
		assert.ErrorIs(t, err, ErrNoCredentials)

		f.store.Put(models.Integration{UserID: f.user.ID, Provider: models.ProviderOutlook, Status: models.StatusExpired, EncryptedCredentials: "sealed"})
		_, err = f.svc.SetEnabled(ctx, f.user, NameOutlook, true)
		assert.ErrorIs(t, err, ErrExpired)
		assert.Equal(t, "Your outlook connection has expired. Please reconnect your account.", UserMessage(err, NameOutlook, ""))
	})

	t.Run("disable keeps credentials", func(t *testing.T) {
		f := newFixture(t)
		f.seedActive(t, models.ProviderGmail)

		rec, err := f.svc.SetEnabled(ctx, f.user, NameGmail, false)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInactive, rec.Status)
		assert.True(t, rec.HasCredentials())
		assert.Equal(t, 0, f.store.ActiveCount(f.user.ID, models.IntegrationEmail))
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SetEnabled(ctx, f.user, "yahoo", true)
		assert.ErrorIs(t, err, ErrUnknownProvider)
		assert.Equal(t, "Invalid provider", UserMessage(err, "yahoo", ""))
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedActive(t, models.ProviderOutlook)
	before := f.version(t)

	require.NoError(t, f.svc.Disconnect(ctx, f.user, NameOutlook))
	_, err := f.store.GetIntegration(ctx, f.user.ID, models.IntegrationEmail, models.ProviderOutlook)
	assert.Error(t, err)
	assert.Greater(t, f.version(t), before)

	assert.NoError(t, f.svc.Disconnect(ctx, f.user, NameOutlook))
	assert.NoError(t, f.svc.Disconnect(ctx, f.user, NameCustom))
}

func TestTest(t *testing.T) {
	ctx := context.Background()

	t.Run("success clears the error", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(models.Integration{UserID: f.user.ID, Provider: models.ProviderGmail, Status: models.StatusActive, EncryptedCredentials: "sealed", ErrorMessage: "stale"})

		to, err := f.svc.Test(ctx, f.user, NameGmail)
		require.NoError(t, err)
		assert.Equal(t, "owner@example.com", to)
		assert.Empty(t, f.get(t, models.ProviderGmail).ErrorMessage)
	})

	t.Run("failure is recorded without changing status", func(t *testing.T) {
		f := newFixture(t)
		f.seedActive(t, models.ProviderGmail)
		f.sender.fail(models.ProviderGmail, &mail.SendError{Kind: mail.KindTokenUnavailable, Message: "Gmail access token unavailable"})

		_, err := f.svc.Test(ctx, f.user, NameGmail)
		require.Error(t, err)
		rec := f.get(t, models.ProviderGmail)
		assert.Equal(t, models.StatusActive, rec.Status)
		assert.Equal(t, "Gmail access token unavailable", rec.ErrorMessage)
	})

	t.Run("revoked grant stays expired", func(t *testing.T) {
		f := newFixture(t)
		expires := f.now.Add(time.Minute)
		env, err := tokens.SealBundle(f.cipher, models.TokenBundle{AccessToken: "stale", RefreshToken: "1//revoked", ExpiresAt: &expires})
		require.NoError(t, err)
		f.store.Put(models.Integration{UserID: f.user.ID, Provider: models.ProviderGmail, Status: models.StatusActive, EncryptedCredentials: env})

		mgr := tokens.NewManager(f.store, f.cipher, f.bus, map[models.IntegrationProvider]tokens.Refresher{
			models.ProviderGmail: revokedRefresher{},
		})
		mgr.SetClock(func() time.Time { return f.now })
		svc := NewService(f.store, f.cipher, mail.NewDispatcher(nil, mail.NewGmailSender(mgr), nil), f.bus, f.google)
		svc.SetClock(func() time.Time { return f.now })

		_, err = svc.Test(ctx, f.user, NameGmail)
		require.Error(t, err)

		rec := f.get(t, models.ProviderGmail)
		assert.Equal(t, models.StatusExpired, rec.Status)
		assert.Equal(t, tokens.ReconnectMessage, rec.ErrorMessage)
		assert.Zero(t, f.store.ActiveCount(f.user.ID, models.IntegrationEmail))
	})

	t.Run("falls back to the integration address", func(t *testing.T) {
		f := newFixture(t)
		f.seedActive(t, models.ProviderGmail)

		to, err := f.svc.Test(ctx, &models.User{ID: f.user.ID}, NameGmail)
		require.NoError(t, err)
		assert.Equal(t, "old@example.com", to)
	})

	t.Run("not connected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Test(ctx, f.user, NameCustom)
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Equal(t, "Please connect custom first", UserMessage(err, NameCustom, ""))
	})
}

func TestOverview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.ConnectSMTP(ctx, f.user, validSMTP())
	require.NoError(t, err)
	f.store.Put(models.Integration{UserID: f.user.ID, Provider: models.ProviderOutlook, Status: models.StatusExpired, EncryptedCredentials: "sealed", ErrorMessage: "reconnect"})

	ov, err := f.svc.Overview(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, NameCustom, ov.ActiveProvider)
	require.Len(t, ov.Providers, 3)

	assert.Equal(t, NameGmail, ov.Providers[0].Provider)
	assert.Equal(t, "unconfigured", ov.Providers[0].State)

	assert.Equal(t, "expired", ov.Providers[1].State)
	assert.Equal(t, "reconnect", ov.Providers[1].LastError)

	custom := ov.Providers[2]
	assert.Equal(t, "active", custom.State)
	require.NotNil(t, custom.SMTP)
	assert.Equal(t, "smtp.example.com", custom.SMTP.Host)
	assert.Equal(t, 587, custom.SMTP.Port)
	assert.Equal(t, "a@x.com", custom.SMTP.FromEmail)
}

func TestStateOf(t *testing.T) {
	assert.IsType(t, Unconfigured{}, StateOf(&models.Integration{Status: models.StatusActive}))
	assert.IsType(t, Active{}, StateOf(&models.Integration{Status: models.StatusActive, EncryptedCredentials: "x"}))
	assert.IsType(t, Connected{}, StateOf(&models.Integration{Status: models.StatusError, EncryptedCredentials: "x"}))
	assert.Equal(t, "expired", StateOf(&models.Integration{Status: models.StatusExpired, EncryptedCredentials: "x"}).Name())
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" Gmail ")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGmail, p)
	assert.Equal(t, NameOutlook, ProviderName(models.ProviderOutlook))

	_, err = ParseProvider("google")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
