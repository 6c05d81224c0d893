package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/veerhq/veer/internal/auth"
	"github.com/veerhq/veer/internal/web/middleware"
)

// AuthHandler serves the JSON signup, login and logout endpoints.
type AuthHandler struct {
	auth          *auth.Service
	secureCookies bool
}

func NewAuthHandler(authService *auth.Service, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		auth:          authService,
		secureCookies: secureCookies,
	}
}

// HandleSignup creates an account and signs it in.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	_, err = h.auth.Signup(r.Context(), fields["email"], fields["password"])
	switch {
	case errors.Is(err, auth.ErrEmailRequired), errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "signup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not create account")
		return
	}

	session, err := h.auth.Login(r.Context(), fields["email"], fields["password"])
	if err != nil {
		writeJSON(w, http.StatusCreated, jsonResponse{OK: true, Message: "Account created. Please log in."})
		return
	}
	setSessionCookie(w, middleware.SessionCookieName, session.Token, session.ExpiresAt, h.secureCookies)
	writeJSON(w, http.StatusCreated, jsonResponse{OK: true})
}

// HandleLogin exchanges credentials for a session cookie.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.auth.Login(r.Context(), fields["email"], fields["password"])
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not sign in")
		return
	}

	setSessionCookie(w, middleware.SessionCookieName, session.Token, session.ExpiresAt, h.secureCookies)
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleLogout deletes the caller's session and clears the cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			slog.WarnContext(r.Context(), "failed to delete session", "error", err)
		}
	}

	clearCookie(w, middleware.SessionCookieName, h.secureCookies)
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}
