package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerhq/veer/internal/database"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/store"
	"github.com/veerhq/veer/internal/store/postgres"
	"github.com/veerhq/veer/migrations"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("VEER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VEER_TEST_DATABASE_URL not set")
	}
	db, err := postgres.NewDB(context.Background(), url, postgres.PoolConfig{ConnectAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(migrations.FS, url))
	return db
}

func newUser(t *testing.T, db *sql.DB) *models.User {
	t.Helper()
	users := postgres.NewUserStore(db)
	u, err := users.CreateUser(context.Background(), uuid.NewString()+"@example.com", "hash")
	require.NoError(t, err)
	return u
}

func TestUserStore_Conflict(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	users := postgres.NewUserStore(db)

	u := newUser(t, db)
	_, err := users.CreateUser(ctx, u.Email, "other")
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := users.GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestSessionStore(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	sessions := postgres.NewSessionStore(db)
	u := newUser(t, db)

	live, err := sessions.CreateSession(ctx, uuid.NewString(), u.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	dead, err := sessions.CreateSession(ctx, uuid.NewString(), u.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = sessions.GetSessionByToken(ctx, live.Token)
	require.NoError(t, err)
	_, err = sessions.GetSessionByToken(ctx, dead.Token)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	n, err := sessions.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestIntegrationStore(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	integrations := postgres.NewIntegrationStore(db)
	u := newUser(t, db)

	_, err := integrations.GetIntegration(ctx, u.ID, models.IntegrationEmail, models.ProviderGmail)
	require.ErrorIs(t, err, sql.ErrNoRows)

	connected := time.Now().UTC().Truncate(time.Second)
	gmail, err := integrations.UpsertIntegration(ctx, models.IntegrationUpsertParams{
		UserID:               u.ID,
		Type:                 models.IntegrationEmail,
		Provider:             models.ProviderGmail,
		Status:               models.StatusActive,
		EncryptedCredentials: "env",
		OAuthRefreshToken:    "enc-rt",
		EmailAddress:         "owner@gmail.com",
		ConnectedAt:          &connected,
	})
	require.NoError(t, err)
	require.NotNil(t, gmail.ConnectedAt)
	assert.True(t, connected.Equal(*gmail.ConnectedAt))

	again, err := integrations.UpsertIntegration(ctx, models.IntegrationUpsertParams{
		UserID:               u.ID,
		Type:                 models.IntegrationEmail,
		Provider:             models.ProviderGmail,
		Status:               models.StatusActive,
		EncryptedCredentials: "env2",
	})
	require.NoError(t, err)
	assert.Equal(t, gmail.ID, again.ID)
	assert.Equal(t, "env2", again.EncryptedCredentials)
	require.NotNil(t, again.ConnectedAt, "connected_at survives an upsert without one")
	assert.Equal(t, "enc-rt", again.OAuthRefreshToken, "refresh token survives an upsert without one")

	custom, err := integrations.UpsertIntegration(ctx, models.IntegrationUpsertParams{
		UserID:               u.ID,
		Type:                 models.IntegrationEmail,
		Provider:             models.ProviderCustom,
		Status:               models.StatusInactive,
		EncryptedCredentials: "pw",
		SMTPHost:             "smtp.example.com",
		SMTPPort:             587,
	})
	require.NoError(t, err)

	n, err := integrations.DeactivateOtherIntegrations(ctx, u.ID, models.IntegrationEmail, custom.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	updated, err := integrations.UpdateIntegration(ctx, custom.ID, models.IntegrationPatch{
		Status:       models.Ptr(models.StatusActive),
		ErrorMessage: models.Ptr(""),
		SMTPPort:     models.Ptr(465),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, updated.Status)
	assert.Equal(t, 465, updated.SMTPPort)
	assert.Equal(t, "smtp.example.com", updated.SMTPHost)

	list, err := integrations.ListIntegrationsByUserID(ctx, u.ID, models.IntegrationEmail)
	require.NoError(t, err)
	require.Len(t, list, 2)
	active := 0
	for _, rec := range list {
		if rec.Status == models.StatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	require.NoError(t, integrations.DeleteIntegration(ctx, gmail.ID))
	_, err = integrations.GetIntegration(ctx, u.ID, models.IntegrationEmail, models.ProviderGmail)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestFormAndSubmissionStores(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	forms := postgres.NewFormStore(db)
	subs := postgres.NewSubmissionStore(db)
	u := newUser(t, db)

	f, err := forms.CreateForm(ctx, u.ID, "Contact", []models.FormField{{Name: "email", Label: "Email", Required: true}})
	require.NoError(t, err)
	assert.True(t, f.IsActive)

	got, err := forms.GetFormByPublicID(ctx, f.PublicID)
	require.NoError(t, err)
	assert.Equal(t, f.Fields, got.Fields)

	require.NoError(t, forms.SetFormActive(ctx, f.ID, false))
	got, err = forms.GetFormByPublicID(ctx, f.PublicID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.ErrorIs(t, forms.SetFormActive(ctx, -1, true), sql.ErrNoRows)

	_, err = forms.GetFormByPublicID(ctx, uuid.New())
	assert.ErrorIs(t, err, sql.ErrNoRows)

	for _, email := range []string{"a@b.co", "c@d.co"} {
		sub := &models.FormSubmission{FormID: f.ID, UserID: u.ID, Data: map[string]string{"email": email}, IPAddress: "203.0.113.9"}
		require.NoError(t, subs.CreateSubmission(ctx, sub))
		assert.NotZero(t, sub.ID)
		assert.Equal(t, models.SubmissionNew, sub.Status)
	}

	list, err := subs.ListSubmissionsByFormID(ctx, f.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c@d.co", list[0].Data["email"])
	assert.Equal(t, models.SourceWebsite, list[0].Source)

	mine, err := forms.ListFormsByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
