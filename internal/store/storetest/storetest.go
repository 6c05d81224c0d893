// Package storetest provides in-memory store implementations for tests.
package storetest

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/store"
)

// IntegrationStore is a map-backed store.IntegrationStore that counts writes.
type IntegrationStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.Integration
	Writes int
	// FailUpdates makes every UpdateIntegration call fail.
	FailUpdates bool
}

func NewIntegrationStore() *IntegrationStore {
	return &IntegrationStore{byID: make(map[int64]*models.Integration)}
}

func (s *IntegrationStore) GetIntegration(_ context.Context, userID int64, typ models.IntegrationType, provider models.IntegrationProvider) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.byID {
		if rec.UserID == userID && rec.Type == typ && rec.Provider == provider {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *IntegrationStore) ListIntegrationsByUserID(_ context.Context, userID int64, typ models.IntegrationType) ([]models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Integration
	for _, rec := range s.byID {
		if rec.UserID == userID && rec.Type == typ {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *IntegrationStore) UpsertIntegration(_ context.Context, p models.IntegrationUpsertParams) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++

	now := time.Now()
	var rec *models.Integration
	for _, r := range s.byID {
		if r.UserID == p.UserID && r.Type == p.Type && r.Provider == p.Provider {
			rec = r
			break
		}
	}
	if rec == nil {
		s.nextID++
		rec = &models.Integration{ID: s.nextID, PublicID: uuid.New(), UserID: p.UserID, Type: p.Type, Provider: p.Provider, CreatedAt: now}
		s.byID[rec.ID] = rec
	}
	rec.Status = p.Status
	rec.EncryptedCredentials = p.EncryptedCredentials
	if p.OAuthRefreshToken != "" {
		rec.OAuthRefreshToken = p.OAuthRefreshToken
	}
	rec.OAuthTokenExpiresAt = p.OAuthTokenExpiresAt
	rec.EmailAddress = p.EmailAddress
	rec.SMTPHost = p.SMTPHost
	rec.SMTPPort = p.SMTPPort
	rec.SMTPUser = p.SMTPUser
	rec.SMTPFromEmail = p.SMTPFromEmail
	rec.ErrorMessage = p.ErrorMessage
	if p.ConnectedAt != nil {
		t := *p.ConnectedAt
		rec.ConnectedAt = &t
	}
	rec.UpdatedAt = now

	cp := *rec
	return &cp, nil
}

func (s *IntegrationStore) UpdateIntegration(_ context.Context, id int64, p models.IntegrationPatch) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdates {
		return nil, errors.New("update failed")
	}
	rec, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.Writes++

	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.EncryptedCredentials != nil {
		rec.EncryptedCredentials = *p.EncryptedCredentials
	}
	if p.OAuthRefreshToken != nil {
		rec.OAuthRefreshToken = *p.OAuthRefreshToken
	}
	if p.OAuthTokenExpiresAt != nil {
		t := *p.OAuthTokenExpiresAt
		rec.OAuthTokenExpiresAt = &t
	}
	if p.EmailAddress != nil {
		rec.EmailAddress = *p.EmailAddress
	}
	if p.SMTPHost != nil {
		rec.SMTPHost = *p.SMTPHost
	}
	if p.SMTPPort != nil {
		rec.SMTPPort = *p.SMTPPort
	}
	if p.SMTPUser != nil {
		rec.SMTPUser = *p.SMTPUser
	}
	if p.SMTPFromEmail != nil {
		rec.SMTPFromEmail = *p.SMTPFromEmail
	}
	if p.ErrorMessage != nil {
		rec.ErrorMessage = *p.ErrorMessage
	}
	if p.ConnectedAt != nil {
		t := *p.ConnectedAt
		rec.ConnectedAt = &t
	}
	rec.UpdatedAt = time.Now()

	cp := *rec
	return &cp, nil
}

func (s *IntegrationStore) DeactivateOtherIntegrations(_ context.Context, userID int64, typ models.IntegrationType, keepID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.byID {
		if rec.UserID == userID && rec.Type == typ && rec.ID != keepID && rec.Status == models.StatusActive {
			rec.Status = models.StatusInactive
			n++
		}
	}
	if n > 0 {
		s.Writes++
	}
	return n, nil
}

func (s *IntegrationStore) DeleteIntegration(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	delete(s.byID, id)
	return nil
}

// Put inserts rec as-is and returns its assigned ID.
func (s *IntegrationStore) Put(rec models.Integration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	if rec.PublicID == uuid.Nil {
		rec.PublicID = uuid.New()
	}
	if rec.Type == "" {
		rec.Type = models.IntegrationEmail
	}
	s.byID[rec.ID] = &rec
	return rec.ID
}

// ActiveCount returns how many records of typ are ACTIVE for the user.
func (s *IntegrationStore) ActiveCount(userID int64, typ models.IntegrationType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.byID {
		if rec.UserID == userID && rec.Type == typ && rec.Status == models.StatusActive {
			n++
		}
	}
	return n
}

// UserStore is a map-backed store.UserStore.
type UserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[int64]*models.User)}
}

func (s *UserStore) CreateUser(_ context.Context, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return nil, store.ErrConflict
		}
	}
	s.nextID++
	u := &models.User{ID: s.nextID, PublicID: uuid.New(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *UserStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *UserStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) GetUserByPublicID(_ context.Context, publicID uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.PublicID == publicID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

// SessionStore is a map-backed store.SessionStore.
type SessionStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[string]*models.Session
	// Now is used for expiry checks; it defaults to time.Now.
	Now func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*models.Session), Now: time.Now}
}

func (s *SessionStore) CreateSession(_ context.Context, token string, userID int64, expiresAt time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; ok {
		return nil, store.ErrConflict
	}
	s.nextID++
	sess := &models.Session{ID: s.nextID, Token: token, UserID: userID, ExpiresAt: expiresAt, CreatedAt: s.Now()}
	s.sessions[token] = sess
	cp := *sess
	return &cp, nil
}

func (s *SessionStore) GetSessionByToken(_ context.Context, token string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok || !sess.ExpiresAt.After(s.Now()) {
		return nil, sql.ErrNoRows
	}
	cp := *sess
	return &cp, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *SessionStore) DeleteExpiredSessions(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, sess := range s.sessions {
		if !sess.ExpiresAt.After(s.Now()) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// FormStore is a map-backed store.FormStore.
type FormStore struct {
	mu     sync.Mutex
	nextID int64
	forms  map[int64]*models.Form
}

func NewFormStore() *FormStore {
	return &FormStore{forms: make(map[int64]*models.Form)}
}

func (s *FormStore) CreateForm(_ context.Context, userID int64, name string, fields []models.FormField) (*models.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	f := &models.Form{
		ID:        s.nextID,
		PublicID:  uuid.New(),
		UserID:    userID,
		Name:      name,
		Fields:    append([]models.FormField(nil), fields...),
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.forms[f.ID] = f
	cp := *f
	return &cp, nil
}

func (s *FormStore) GetFormByPublicID(_ context.Context, publicID uuid.UUID) (*models.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.forms {
		if f.PublicID == publicID {
			cp := *f
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *FormStore) ListFormsByUserID(_ context.Context, userID int64) ([]models.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Form
	for _, f := range s.forms {
		if f.UserID == userID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FormStore) SetFormActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forms[id]
	if !ok {
		return sql.ErrNoRows
	}
	f.IsActive = active
	f.UpdatedAt = time.Now()
	return nil
}

// SubmissionStore is a slice-backed store.SubmissionStore.
type SubmissionStore struct {
	mu     sync.Mutex
	nextID int64
	subs   []models.FormSubmission
	// FailCreate makes every CreateSubmission call fail.
	FailCreate bool
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{}
}

func (s *SubmissionStore) CreateSubmission(_ context.Context, sub *models.FormSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate {
		return errors.New("storetest: create failed")
	}
	s.nextID++
	sub.ID = s.nextID
	sub.PublicID = uuid.New()
	sub.CreatedAt = time.Now()
	if sub.Source == "" {
		sub.Source = models.SourceWebsite
	}
	if sub.Status == "" {
		sub.Status = models.SubmissionNew
	}
	s.subs = append(s.subs, *sub)
	return nil
}

func (s *SubmissionStore) ListSubmissionsByFormID(_ context.Context, formID int64, limit int) ([]models.FormSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FormSubmission
	for i := len(s.subs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.subs[i].FormID == formID {
			out = append(out, s.subs[i])
		}
	}
	return out, nil
}

// All returns every stored submission in insertion order.
func (s *SubmissionStore) All() []models.FormSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FormSubmission(nil), s.subs...)
}
