package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veerhq/veer/internal/models"
)

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("record already exists")

// UserStore looks users up by their normalized (lower-case) email.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByPublicID(ctx context.Context, publicID uuid.UUID) (*models.User, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) (*models.Session, error)
	// GetSessionByToken only returns sessions that have not expired.
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// IntegrationStore persists integration records keyed by (user, type, provider).
// Lookups that match nothing return sql.ErrNoRows.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, userID int64, typ models.IntegrationType, provider models.IntegrationProvider) (*models.Integration, error)
	ListIntegrationsByUserID(ctx context.Context, userID int64, typ models.IntegrationType) ([]models.Integration, error)
	// UpsertIntegration keeps the stored refresh token when params carries none;
	// providers only return one on the first consent.
	UpsertIntegration(ctx context.Context, params models.IntegrationUpsertParams) (*models.Integration, error)
	UpdateIntegration(ctx context.Context, id int64, patch models.IntegrationPatch) (*models.Integration, error)
	// DeactivateOtherIntegrations flips every ACTIVE record of the given type
	// for the user to INACTIVE, except the one with keepID.
	DeactivateOtherIntegrations(ctx context.Context, userID int64, typ models.IntegrationType, keepID int64) (int64, error)
	DeleteIntegration(ctx context.Context, id int64) error
}

// FormStore persists forms. Lookups that match nothing return sql.ErrNoRows.
type FormStore interface {
	CreateForm(ctx context.Context, userID int64, name string, fields []models.FormField) (*models.Form, error)
	GetFormByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Form, error)
	ListFormsByUserID(ctx context.Context, userID int64) ([]models.Form, error)
	SetFormActive(ctx context.Context, id int64, active bool) error
}

type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub *models.FormSubmission) error
	// ListSubmissionsByFormID returns newest first.
	ListSubmissionsByFormID(ctx context.Context, formID int64, limit int) ([]models.FormSubmission, error)
}
