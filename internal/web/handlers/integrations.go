package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/veerhq/veer/internal/integration"
	"github.com/veerhq/veer/internal/mail"
	"github.com/veerhq/veer/internal/oauth"
	"github.com/veerhq/veer/internal/web/middleware"
)

const (
	genericFailure  = "Something went wrong. Please try again."
	integrationsURL = "/dashboard/integrations"
)

// IntegrationHandler exposes the email-integration lifecycle over JSON, plus
// the browser redirect endpoints of the OAuth flow.
type IntegrationHandler struct {
	integrations  *integration.Service
	secureCookies bool
}

func NewIntegrationHandler(svc *integration.Service, secureCookies bool) *IntegrationHandler {
	return &IntegrationHandler{
		integrations:  svc,
		secureCookies: secureCookies,
	}
}

// HandleOverview returns the state of every email provider for the caller.
func (h *IntegrationHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	ov, err := h.integrations.Overview(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load integrations", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load integrations")
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// HandleConnectOAuth starts the OAuth flow for gmail or outlook. The state is
// stored in a short-lived provider-scoped cookie and the caller is told where
// to send the browser.
func (h *IntegrationHandler) HandleConnectOAuth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	authURL, state, cookieName, err := h.integrations.BeginOAuth(r.Context(), name)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}

	setCookie(w, cookieName, state, oauth.StateTTLSeconds, h.secureCookies)
	writeJSON(w, http.StatusOK, map[string]string{"redirectUrl": authURL})
}

// HandleOAuthCallback completes the flow and sends the browser back to the
// integrations page with a success or error query parameter.
func (h *IntegrationHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	routeName := chi.URLParam(r, "provider")
	displayName := routeName
	if p, ok := oauth.ProviderFor(routeName); ok {
		displayName = integration.ProviderName(p)
	}

	cookieName := oauth.StateCookieName(routeName)
	var stored string
	if c, err := r.Cookie(cookieName); err == nil {
		stored = c.Value
	}
	clearCookie(w, cookieName, h.secureCookies)

	q := r.URL.Query()
	user := middleware.UserFromContext(r.Context())
	_, err := h.integrations.CompleteOAuth(r.Context(), user, integration.OAuthCallback{
		Provider:         routeName,
		Code:             q.Get("code"),
		State:            q.Get("state"),
		StoredState:      stored,
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		if !isUserFacing(err) {
			slog.ErrorContext(r.Context(), "oauth callback failed", "provider", routeName, "user_id", user.ID, "error", err)
		}
		msg := integration.UserMessage(err, displayName, "Failed to connect "+displayName)
		http.Redirect(w, r, integrationsURL+"?error="+url.QueryEscape(msg), http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, integrationsURL+"?success=connected", http.StatusSeeOther)
}

// HandleConnectSMTP stores and tests custom SMTP settings.
func (h *IntegrationHandler) HandleConnectSMTP(w http.ResponseWriter, r *http.Request) {
	h.saveSMTP(w, r, false)
}

// HandleUpdateSMTP replaces stored SMTP settings and re-tests them.
func (h *IntegrationHandler) HandleUpdateSMTP(w http.ResponseWriter, r *http.Request) {
	h.saveSMTP(w, r, true)
}

func (h *IntegrationHandler) saveSMTP(w http.ResponseWriter, r *http.Request, update bool) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	port, err := strconv.Atoi(fields["port"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Port must be a number between 1 and 65535")
		return
	}
	settings := integration.SMTPSettings{
		Host:      fields["host"],
		Port:      port,
		User:      fields["user"],
		Password:  fields["password"],
		FromEmail: fields["fromEmail"],
	}

	user := middleware.UserFromContext(r.Context())
	if update {
		_, err = h.integrations.UpdateSMTP(r.Context(), user, settings)
	} else {
		_, err = h.integrations.ConnectSMTP(r.Context(), user, settings)
	}
	if err != nil {
		h.fail(w, r, integration.NameCustom, err)
		return
	}

	msg := "SMTP connected and test email sent"
	if update {
		msg = "SMTP settings updated"
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true, Message: msg})
}

// HandleToggle enables or disables a provider. Enabling deactivates the others.
func (h *IntegrationHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	enabled, err := strconv.ParseBool(fields["enabled"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled must be true or false")
		return
	}

	user := middleware.UserFromContext(r.Context())
	if _, err := h.integrations.SetEnabled(r.Context(), user, name, enabled); err != nil {
		h.fail(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleTest sends a test email through the provider.
func (h *IntegrationHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	user := middleware.UserFromContext(r.Context())

	to, err := h.integrations.Test(r.Context(), user, name)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true, Message: "Test email sent to " + to})
}

// HandleDisconnect removes the provider's stored credentials.
func (h *IntegrationHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	user := middleware.UserFromContext(r.Context())

	if err := h.integrations.Disconnect(r.Context(), user, name); err != nil {
		h.fail(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

func (h *IntegrationHandler) fail(w http.ResponseWriter, r *http.Request, providerName string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && !isUserFacing(err) {
		slog.ErrorContext(r.Context(), "integration request failed", "provider", providerName, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, integration.UserMessage(err, providerName, genericFailure))
}

func statusFor(err error) int {
	var (
		verr *mail.ValidationError
		serr *mail.SendError
		terr *integration.TestFailedError
	)
	switch {
	case errors.As(err, &verr), errors.Is(err, integration.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, integration.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, integration.ErrNoCredentials), errors.Is(err, integration.ErrExpired):
		return http.StatusConflict
	case errors.As(err, &terr), errors.As(err, &serr):
		return http.StatusBadGateway
	case errors.Is(err, oauth.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// isUserFacing reports whether err already carries a message meant for the
// user, so it does not need an error log line of its own.
func isUserFacing(err error) bool {
	var (
		serr   *mail.SendError
		terr   *integration.TestFailedError
		xerr   *oauth.ExchangeError
		denied *integration.ProviderDeniedError
	)
	return errors.As(err, &serr) || errors.As(err, &terr) || errors.As(err, &xerr) || errors.As(err, &denied) ||
		errors.Is(err, integration.ErrInvalidState) || errors.Is(err, integration.ErrMissingCode)
}
