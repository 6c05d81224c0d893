package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/veerhq/veer/internal/models"
)

const integrationColumns = `id, public_id, user_id, type, provider, status, encrypted_credentials,
	oauth_refresh_token, oauth_token_expires_at, email_address, smtp_host, smtp_port,
	smtp_user, smtp_from_email, error_message, connected_at, created_at, updated_at`

type IntegrationStore struct {
	db *sql.DB
}

func NewIntegrationStore(db *sql.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	var rec models.Integration
	var expiresAt, connectedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.PublicID, &rec.UserID, &rec.Type, &rec.Provider, &rec.Status, &rec.EncryptedCredentials,
		&rec.OAuthRefreshToken, &expiresAt, &rec.EmailAddress, &rec.SMTPHost, &rec.SMTPPort,
		&rec.SMTPUser, &rec.SMTPFromEmail, &rec.ErrorMessage, &connectedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.OAuthTokenExpiresAt = &t
	}
	if connectedAt.Valid {
		t := connectedAt.Time
		rec.ConnectedAt = &t
	}
	return &rec, nil
}

func (s *IntegrationStore) GetIntegration(ctx context.Context, userID int64, typ models.IntegrationType, provider models.IntegrationProvider) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+`
		 FROM integrations
		 WHERE user_id = $1 AND type = $2 AND provider = $3`,
		userID, typ, provider,
	)
	return scanIntegration(row)
}

func (s *IntegrationStore) ListIntegrationsByUserID(ctx context.Context, userID int64, typ models.IntegrationType) ([]models.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+integrationColumns+`
		 FROM integrations
		 WHERE user_id = $1 AND type = $2
		 ORDER BY created_at ASC`,
		userID, typ,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		rec, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *IntegrationStore) UpsertIntegration(ctx context.Context, p models.IntegrationUpsertParams) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO integrations (
			public_id, user_id, type, provider, status, encrypted_credentials, oauth_refresh_token,
			oauth_token_expires_at, email_address, smtp_host, smtp_port, smtp_user, smtp_from_email, error_message,
			connected_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (user_id, type, provider) DO UPDATE
		 SET status = EXCLUDED.status,
		     encrypted_credentials = EXCLUDED.encrypted_credentials,
		     oauth_refresh_token = COALESCE(NULLIF(EXCLUDED.oauth_refresh_token, ''), integrations.oauth_refresh_token),
		     oauth_token_expires_at = EXCLUDED.oauth_token_expires_at,
		     email_address = EXCLUDED.email_address,
		     smtp_host = EXCLUDED.smtp_host,
		     smtp_port = EXCLUDED.smtp_port,
		     smtp_user = EXCLUDED.smtp_user,
		     smtp_from_email = EXCLUDED.smtp_from_email,
		     error_message = EXCLUDED.error_message,
		     connected_at = COALESCE(EXCLUDED.connected_at, integrations.connected_at),
		     updated_at = NOW()
		 RETURNING `+integrationColumns,
		uuid.New(), p.UserID, p.Type, p.Provider, p.Status, p.EncryptedCredentials, p.OAuthRefreshToken,
		nullTime(p.OAuthTokenExpiresAt), strings.TrimSpace(p.EmailAddress), strings.TrimSpace(p.SMTPHost), p.SMTPPort,
		p.SMTPUser, strings.TrimSpace(p.SMTPFromEmail), p.ErrorMessage, nullTime(p.ConnectedAt),
	)
	return scanIntegration(row)
}

func (s *IntegrationStore) UpdateIntegration(ctx context.Context, id int64, p models.IntegrationPatch) (*models.Integration, error) {
	var sets []string
	args := []any{id}
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Status != nil {
		set("status", *p.Status)
	}
	if p.EncryptedCredentials != nil {
		set("encrypted_credentials", *p.EncryptedCredentials)
	}
	if p.OAuthRefreshToken != nil {
		set("oauth_refresh_token", *p.OAuthRefreshToken)
	}
	if p.OAuthTokenExpiresAt != nil {
		set("oauth_token_expires_at", *p.OAuthTokenExpiresAt)
	}
	if p.EmailAddress != nil {
		set("email_address", strings.TrimSpace(*p.EmailAddress))
	}
	if p.SMTPHost != nil {
		set("smtp_host", strings.TrimSpace(*p.SMTPHost))
	}
	if p.SMTPPort != nil {
		set("smtp_port", *p.SMTPPort)
	}
	if p.SMTPUser != nil {
		set("smtp_user", *p.SMTPUser)
	}
	if p.SMTPFromEmail != nil {
		set("smtp_from_email", strings.TrimSpace(*p.SMTPFromEmail))
	}
	if p.ErrorMessage != nil {
		set("error_message", *p.ErrorMessage)
	}
	if p.ConnectedAt != nil {
		set("connected_at", *p.ConnectedAt)
	}
	sets = append(sets, "updated_at = NOW()")

	row := s.db.QueryRowContext(ctx,
		`UPDATE integrations SET `+strings.Join(sets, ", ")+`
		 WHERE id = $1
		 RETURNING `+integrationColumns,
		args...,
	)
	return scanIntegration(row)
}

func (s *IntegrationStore) DeactivateOtherIntegrations(ctx context.Context, userID int64, typ models.IntegrationType, keepID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE integrations
		 SET status = $4, updated_at = NOW()
		 WHERE user_id = $1 AND type = $2 AND id <> $3 AND status = $5`,
		userID, typ, keepID, models.StatusInactive, models.StatusActive,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *IntegrationStore) DeleteIntegration(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE id = $1`, id)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
