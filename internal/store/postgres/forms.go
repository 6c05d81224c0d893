package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/veerhq/veer/internal/models"
)

const formColumns = `id, public_id, user_id, name, fields, is_active, created_at, updated_at`

type FormStore struct {
	db *sql.DB
}

func NewFormStore(db *sql.DB) *FormStore {
	return &FormStore{db: db}
}

func scanForm(row rowScanner) (*models.Form, error) {
	var f models.Form
	var fields []byte
	if err := row.Scan(&f.ID, &f.PublicID, &f.UserID, &f.Name, &fields, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &f.Fields); err != nil {
		return nil, fmt.Errorf("decode form fields (form_id=%d): %w", f.ID, err)
	}
	return &f, nil
}

func (s *FormStore) CreateForm(ctx context.Context, userID int64, name string, fields []models.FormField) (*models.Form, error) {
	if fields == nil {
		fields = []models.FormField{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	f := &models.Form{
		PublicID: uuid.New(),
		UserID:   userID,
		Name:     name,
		Fields:   fields,
		IsActive: true,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO forms (public_id, user_id, name, fields)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		f.PublicID, userID, name, string(raw),
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FormStore) GetFormByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Form, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+formColumns+` FROM forms WHERE public_id = $1`,
		publicID,
	)
	return scanForm(row)
}

func (s *FormStore) ListFormsByUserID(ctx context.Context, userID int64) ([]models.Form, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+formColumns+` FROM forms WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *FormStore) SetFormActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE forms SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
