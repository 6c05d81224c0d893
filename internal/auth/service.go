package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	emailaddress "github.com/mcnijman/go-emailaddress"

	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/store"
)

// MinPasswordLength is the shortest password Signup accepts.
const MinPasswordLength = 8

var (
	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidEmail       = errors.New("email address is not valid")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidSession     = errors.New("invalid session")
)

// Service provides authentication business logic. The user it resolves from a
// session is the principal every integration operation runs as.
type Service struct {
	users    store.UserStore
	sessions store.SessionStore
	maxAge   time.Duration
	now      func() time.Time
}

// NewService creates a new auth service with the given stores and session max age in hours.
func NewService(users store.UserStore, sessions store.SessionStore, maxAgeHours int) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
		now:      time.Now,
	}
}

// NormalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Signup registers a new user with the given email and password.
func (s *Service) Signup(ctx context.Context, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if _, err := emailaddress.Parse(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return nil, ErrPasswordTooLong
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(ctx, email, hash)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.InfoContext(ctx, "user signed up", "user_id", user.ID)
	return user, nil
}

// Login authenticates a user by email and password, returning a new session.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Session, error) {
	user, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		slog.ErrorContext(ctx, "stored password hash is unreadable", "user_id", user.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, token, user.ID, s.now().Add(s.maxAge))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Logout deletes the session identified by the given token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.DeleteSession(ctx, token)
}

// ValidateSession returns the user owning an unexpired session.
func (s *Service) ValidateSession(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	session, err := s.sessions.GetSessionByToken(ctx, token)
	if err != nil || !session.ExpiresAt.After(s.now()) {
		return nil, ErrInvalidSession
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, ErrInvalidSession
	}

	return user, nil
}

// RunSessionCleanup deletes expired sessions every interval until ctx is done.
func (s *Service) RunSessionCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessions.DeleteExpiredSessions(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to clean up expired sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}
