package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/store"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	user := &models.User{
		PublicID:     uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (public_id, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		user.PublicID, user.Email, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	return user, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

func (s *UserStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *UserStore) GetUserByPublicID(ctx context.Context, publicID uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `WHERE public_id = $1`, publicID)
}

func (s *UserStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, public_id, email, password_hash, created_at, updated_at
		 FROM users `+where,
		arg,
	).Scan(&user.ID, &user.PublicID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}
