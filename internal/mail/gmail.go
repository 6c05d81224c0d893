package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/veerhq/veer/internal/models"
)

const gmailEnableURL = "https://console.cloud.google.com/apis/api/gmail.googleapis.com/overview?project=%s"

var projectNumberPattern = regexp.MustCompile(`project (\d+)`)

// GmailSender sends through the Gmail API as the connected account.
type GmailSender struct {
	tokens   TokenSource
	endpoint string
}

func NewGmailSender(tokens TokenSource) *GmailSender {
	return &GmailSender{tokens: tokens}
}

func (s *GmailSender) Send(ctx context.Context, rec *models.Integration, msg Message) error {
	token, ok := s.tokens.GetValidAccessToken(ctx, rec.UserID, models.ProviderGmail)
	if !ok {
		return tokenUnavailable
	}

	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})),
	}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return &SendError{Kind: KindGeneric, Message: "Failed to create Gmail client", Err: err}
	}

	raw := base64.RawURLEncoding.EncodeToString(buildMIME(msg, time.Now()))
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return classifyGmailError(err)
	}

	slog.InfoContext(ctx, "sent email via gmail", "user_id", rec.UserID, "gmail_message_id", sent.Id)
	return nil
}

func classifyGmailError(err error) *SendError {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &SendError{Kind: KindGeneric, Message: fmt.Sprintf("Failed to send email via Gmail: %s", err), Err: err}
	}

	if gerr.Code == http.StatusForbidden && gmailAPIDisabled(gerr) {
		return &SendError{
			Kind:    KindAPIDisabled,
			Message: fmt.Sprintf("Gmail API is not enabled. Enable it here: "+gmailEnableURL, gmailProjectID(gerr)),
			Err:     err,
		}
	}

	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &SendError{Kind: KindAPI, Message: fmt.Sprintf("Failed to send email via Gmail: %s", msg), Err: err}
}

func gmailAPIDisabled(gerr *googleapi.Error) bool {
	if strings.Contains(gerr.Message, "has not been used") || strings.Contains(gerr.Message, "is disabled") {
		return true
	}
	for _, item := range gerr.Errors {
		if item.Reason == "accessNotConfigured" {
			return true
		}
	}
	for _, d := range gerr.Details {
		if m, ok := d.(map[string]interface{}); ok && m["reason"] == "SERVICE_DISABLED" {
			return true
		}
	}
	return false
}

func gmailProjectID(gerr *googleapi.Error) string {
	for _, d := range gerr.Details {
		m, ok := d.(map[string]interface{})
		if !ok {
			continue
		}
		meta, ok := m["metadata"].(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := meta["containerInfo"].(string); ok && id != "" {
			return id
		}
		if consumer, ok := meta["consumer"].(string); ok && strings.HasPrefix(consumer, "projects/") {
			return strings.TrimPrefix(consumer, "projects/")
		}
	}
	if m := projectNumberPattern.FindStringSubmatch(gerr.Message); m != nil {
		return m[1]
	}
	return "your-project"
}
