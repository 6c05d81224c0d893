package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/veerhq/veer/internal/auth"
	"github.com/veerhq/veer/internal/models"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey string

// UserContextKey is the context key used to store the authenticated user.
const UserContextKey contextKey = "user"

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "session_token"

// RequireAuth returns middleware that enforces authentication for browser
// routes. A missing or invalid session redirects to /login.
func RequireAuth(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := authenticate(r, authService)
			if !ok {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAPIAuth is RequireAuth for JSON endpoints: it answers 401 instead of
// redirecting.
func RequireAPIAuth(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := authenticate(r, authService)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func authenticate(r *http.Request, authService *auth.Service) (*models.User, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	user, err := authService.ValidateSession(r.Context(), cookie.Value)
	if err != nil {
		return nil, false
	}
	return user, true
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// UserFromContext extracts the authenticated user from the context.
// Returns nil if no user is present.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(UserContextKey).(*models.User)
	return user
}
