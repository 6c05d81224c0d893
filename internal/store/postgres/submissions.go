package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/veerhq/veer/internal/models"
)

type SubmissionStore struct {
	db *sql.DB
}

func NewSubmissionStore(db *sql.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

// CreateSubmission inserts sub and fills in its ID, PublicID and CreatedAt.
func (s *SubmissionStore) CreateSubmission(ctx context.Context, sub *models.FormSubmission) error {
	data := sub.Data
	if data == nil {
		data = map[string]string{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if sub.Source == "" {
		sub.Source = models.SourceWebsite
	}
	if sub.Status == "" {
		sub.Status = models.SubmissionNew
	}
	sub.PublicID = uuid.New()

	return s.db.QueryRowContext(ctx,
		`INSERT INTO form_submissions (public_id, form_id, user_id, data, ip_address, user_agent, referrer, source, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		sub.PublicID, sub.FormID, sub.UserID, string(raw), sub.IPAddress, sub.UserAgent, sub.Referrer, sub.Source, sub.Status,
	).Scan(&sub.ID, &sub.CreatedAt)
}

func (s *SubmissionStore) ListSubmissionsByFormID(ctx context.Context, formID int64, limit int) ([]models.FormSubmission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, public_id, form_id, user_id, data, ip_address, user_agent, referrer, source, status, created_at
		 FROM form_submissions
		 WHERE form_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		formID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FormSubmission
	for rows.Next() {
		var sub models.FormSubmission
		var raw []byte
		if err := rows.Scan(&sub.ID, &sub.PublicID, &sub.FormID, &sub.UserID, &raw, &sub.IPAddress,
			&sub.UserAgent, &sub.Referrer, &sub.Source, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &sub.Data); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
