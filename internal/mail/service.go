package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/store"
)

// ErrNoActiveProvider is returned when a user has no ACTIVE email integration.
var ErrNoActiveProvider = errors.New("no active email integration")

// Service sends notifications to a user through their active email integration.
type Service struct {
	dispatcher   *Dispatcher
	integrations store.IntegrationStore
	users        store.UserStore
}

func NewService(dispatcher *Dispatcher, integrations store.IntegrationStore, users store.UserStore) *Service {
	return &Service{
		dispatcher:   dispatcher,
		integrations: integrations,
		users:        users,
	}
}

// ActiveIntegration returns the user's ACTIVE email integration.
func (s *Service) ActiveIntegration(ctx context.Context, userID int64) (*models.Integration, error) {
	recs, err := s.integrations.ListIntegrationsByUserID(ctx, userID, models.IntegrationEmail)
	if err != nil {
		return nil, fmt.Errorf("mail: failed to list integrations (userID=%d): %w", userID, err)
	}
	for i := range recs {
		if recs[i].Status == models.StatusActive && recs[i].HasCredentials() {
			return &recs[i], nil
		}
	}
	return nil, ErrNoActiveProvider
}

// NotifySubmission emails the form owner about a new submission, sending from
// and to the owner's connected mailbox.
func (s *Service) NotifySubmission(ctx context.Context, userID int64, formName string, fields []SubmissionField) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("mail: failed to look up form owner (userID=%d): %w", userID, err)
	}

	rec, err := s.ActiveIntegration(ctx, userID)
	if err != nil {
		return err
	}

	msg := SubmissionNotification(formName, fields, user.Email, SenderAddress(rec, user.Email))
	if err := s.dispatcher.Send(ctx, rec, msg); err != nil {
		return fmt.Errorf("mail: failed to send notification to %s: %w", user.Email, err)
	}

	slog.InfoContext(ctx, "sent submission notification",
		"form", formName,
		"recipient", user.Email,
		"provider", rec.Provider,
	)
	return nil
}

// SenderAddress picks the From address for a record: the configured SMTP
// sender, then the connected mailbox, then fallback.
func SenderAddress(rec *models.Integration, fallback string) string {
	if rec.SMTPFromEmail != "" {
		return rec.SMTPFromEmail
	}
	if rec.EmailAddress != "" {
		return rec.EmailAddress
	}
	return fallback
}
