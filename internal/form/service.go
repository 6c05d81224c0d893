// Package form stores public form submissions and notifies the form owner
// through their active email integration.
package form

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/veerhq/veer/internal/cache"
	"github.com/veerhq/veer/internal/mail"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/store"
)

// DefaultListLimit caps Submissions when the caller passes no limit.
const DefaultListLimit = 50

var (
	ErrNotFound     = errors.New("form not found")
	ErrInactive     = errors.New("form is not active")
	ErrEmpty        = errors.New("submission is empty")
	ErrNameRequired = errors.New("form name is required")
)

// MissingFieldsError lists the labels of required fields a submission left
// blank.
type MissingFieldsError struct {
	Labels []string
}

func (e *MissingFieldsError) Error() string {
	return "Missing required fields: " + strings.Join(e.Labels, ", ")
}

// FieldError rejects a form definition.
type FieldError struct {
	Message string
}

func (e *FieldError) Error() string { return e.Message }

// Notifier delivers a submission to the form owner.
type Notifier interface {
	NotifySubmission(ctx context.Context, userID int64, formName string, fields []mail.SubmissionField) error
}

// Meta is what the request tells us about the submitter.
type Meta struct {
	IPAddress string
	UserAgent string
	Referrer  string
	Source    models.SubmissionSource
}

// Result reports a stored submission and whether the owner was emailed.
type Result struct {
	Submission *models.FormSubmission
	Notified   bool
}

type Service struct {
	forms       store.FormStore
	submissions store.SubmissionStore
	notifier    Notifier
	cache       cache.Invalidator
}

func NewService(forms store.FormStore, submissions store.SubmissionStore, notifier Notifier, invalidator cache.Invalidator) *Service {
	return &Service{
		forms:       forms,
		submissions: submissions,
		notifier:    notifier,
		cache:       invalidator,
	}
}

// CreateForm defines a new, active form for userID. Field names must be
// unique and may not start with "_", which is reserved for control fields.
func (s *Service) CreateForm(ctx context.Context, userID int64, name string, fields []models.FormField) (*models.Form, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	seen := make(map[string]bool, len(fields))
	clean := make([]models.FormField, 0, len(fields))
	for _, f := range fields {
		f.Name = strings.TrimSpace(f.Name)
		f.Label = strings.TrimSpace(f.Label)
		switch {
		case f.Name == "":
			return nil, &FieldError{Message: "Every field needs a name"}
		case strings.HasPrefix(f.Name, "_"):
			return nil, &FieldError{Message: fmt.Sprintf("Field name %q may not start with an underscore", f.Name)}
		case seen[f.Name]:
			return nil, &FieldError{Message: fmt.Sprintf("Duplicate field name %q", f.Name)}
		}
		seen[f.Name] = true
		if f.Label == "" {
			f.Label = f.Name
		}
		clean = append(clean, f)
	}

	form, err := s.forms.CreateForm(ctx, userID, name, clean)
	if err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}
	slog.InfoContext(ctx, "form created", "user_id", userID, "form_id", form.PublicID)
	return form, nil
}

func (s *Service) ListForms(ctx context.Context, userID int64) ([]models.Form, error) {
	return s.forms.ListFormsByUserID(ctx, userID)
}

// SetActive turns a form the user owns on or off. Inactive forms refuse
// submissions.
func (s *Service) SetActive(ctx context.Context, userID int64, formID uuid.UUID, active bool) error {
	form, err := s.owned(ctx, userID, formID)
	if err != nil {
		return err
	}
	if err := s.forms.SetFormActive(ctx, form.ID, active); err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	return nil
}

// Submissions returns the newest submissions of a form the user owns.
func (s *Service) Submissions(ctx context.Context, userID int64, formID uuid.UUID, limit int) ([]models.FormSubmission, error) {
	form, err := s.owned(ctx, userID, formID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.submissions.ListSubmissionsByFormID(ctx, form.ID, limit)
}

// Submit stores a submission and then emails the owner. The submission is
// kept when the notification cannot be sent.
func (s *Service) Submit(ctx context.Context, formID uuid.UUID, data map[string]string, meta Meta) (*Result, error) {
	form, err := s.find(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !form.IsActive {
		return nil, ErrInactive
	}

	values := submissionValues(data)
	if missing := missingRequired(form.Fields, values); len(missing) > 0 {
		return nil, &MissingFieldsError{Labels: missing}
	}
	if len(values) == 0 {
		return nil, ErrEmpty
	}

	source := meta.Source
	if source == "" {
		source = models.SourceWebsite
	}
	sub := &models.FormSubmission{
		FormID:    form.ID,
		UserID:    form.UserID,
		Data:      values,
		IPAddress: orUnknown(meta.IPAddress),
		UserAgent: orUnknown(meta.UserAgent),
		Referrer:  meta.Referrer,
		Source:    source,
		Status:    models.SubmissionNew,
	}
	if err := s.submissions.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("store submission: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, cache.FormSubmissionsTag(form.ID)); err != nil {
			slog.WarnContext(ctx, "failed to invalidate submissions cache", "form_id", form.PublicID, "error", err)
		}
	}

	res := &Result{Submission: sub}
	err = s.notifier.NotifySubmission(ctx, form.UserID, form.Name, notificationFields(form.Fields, values))
	switch {
	case errors.Is(err, mail.ErrNoActiveProvider):
		slog.InfoContext(ctx, "submission stored without notification, owner has no active email integration",
			"form_id", form.PublicID, "user_id", form.UserID)
	case err != nil:
		slog.ErrorContext(ctx, "failed to notify form owner", "form_id", form.PublicID, "user_id", form.UserID, "error", err)
	default:
		res.Notified = true
	}
	return res, nil
}

func (s *Service) find(ctx context.Context, formID uuid.UUID) (*models.Form, error) {
	form, err := s.forms.GetFormByPublicID(ctx, formID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load form: %w", err)
	}
	return form, nil
}

// owned hides other users' forms behind ErrNotFound.
func (s *Service) owned(ctx context.Context, userID int64, formID uuid.UUID) (*models.Form, error) {
	form, err := s.find(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form.UserID != userID {
		return nil, ErrNotFound
	}
	return form, nil
}

// submissionValues drops control fields and blank answers.
func submissionValues(data map[string]string) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "_") || k == "csrf_token" || strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func missingRequired(fields []models.FormField, values map[string]string) []string {
	var missing []string
	for _, f := range fields {
		if f.Required && values[f.Name] == "" {
			missing = append(missing, f.Label)
		}
	}
	return missing
}

// notificationFields lists declared fields in form order, then any extra keys
// sorted by name.
func notificationFields(fields []models.FormField, values map[string]string) []mail.SubmissionField {
	out := make([]mail.SubmissionField, 0, len(values))
	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Name] = true
		if v, ok := values[f.Name]; ok {
			out = append(out, mail.SubmissionField{Label: f.Label, Value: v})
		}
	}

	var extra []string
	for k := range values {
		if !declared[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, mail.SubmissionField{Label: k, Value: values[k]})
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
