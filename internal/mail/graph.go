package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/veerhq/veer/internal/models"
)

const graphSendMailURL = "https://graph.microsoft.com/v1.0/me/sendMail"

// GraphSender sends through Microsoft Graph as the connected account.
type GraphSender struct {
	tokens     TokenSource
	endpoint   string
	httpClient *http.Client
}

func NewGraphSender(tokens TokenSource) *GraphSender {
	return &GraphSender{tokens: tokens, endpoint: graphSendMailURL}
}

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []graphAddress `json:"toRecipients"`
	} `json:"message"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *GraphSender) Send(ctx context.Context, rec *models.Integration, msg Message) error {
	token, ok := s.tokens.GetValidAccessToken(ctx, rec.UserID, models.ProviderOutlook)
	if !ok {
		return tokenUnavailable
	}

	var payload graphMessage
	payload.Message.Subject = msg.Subject
	payload.Message.Body.ContentType = "HTML"
	payload.Message.Body.Content = msg.HTML
	if payload.Message.Body.Content == "" {
		payload.Message.Body.Content = "<html><body>" + textToHTML(msg.Text) + "</body></html>"
	}
	var to graphAddress
	to.EmailAddress.Address = msg.To
	payload.Message.ToRecipients = []graphAddress{to}

	body, err := json.Marshal(payload)
	if err != nil {
		return &SendError{Kind: KindGeneric, Message: "Failed to encode Outlook message", Err: err}
	}

	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &SendError{Kind: KindGeneric, Message: "Failed to build Outlook request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &SendError{Kind: KindConnection, Message: fmt.Sprintf("Failed to send email via Outlook: %s", err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var gerr graphError
		errMsg := resp.Status
		if json.Unmarshal(raw, &gerr) == nil && gerr.Error.Message != "" {
			errMsg = gerr.Error.Message
		}
		return &SendError{Kind: KindAPI, Message: fmt.Sprintf("Failed to send email via Outlook: %s", errMsg)}
	}

	slog.InfoContext(ctx, "sent email via microsoft graph", "user_id", rec.UserID)
	return nil
}
