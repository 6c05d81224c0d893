package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           int64
	PublicID     uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Session struct {
	ID        int64
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

type IntegrationType string

const (
	IntegrationEmail    IntegrationType = "EMAIL"
	IntegrationCalendar IntegrationType = "CALENDAR"
	IntegrationTwilio   IntegrationType = "TWILIO"
)

type IntegrationProvider string

const (
	ProviderGmail   IntegrationProvider = "GMAIL"
	ProviderOutlook IntegrationProvider = "OUTLOOK"
	ProviderCustom  IntegrationProvider = "CUSTOM"
)

// EmailProviders lists the providers an email integration can use, in display order.
var EmailProviders = []IntegrationProvider{ProviderGmail, ProviderOutlook, ProviderCustom}

func (p IntegrationProvider) IsOAuth() bool {
	return p == ProviderGmail || p == ProviderOutlook
}

type IntegrationStatus string

const (
	StatusActive   IntegrationStatus = "ACTIVE"
	StatusInactive IntegrationStatus = "INACTIVE"
	StatusError    IntegrationStatus = "ERROR"
	StatusExpired  IntegrationStatus = "EXPIRED"
)

// Integration is one (user, type, provider) connection record. OAuth providers
// keep their token bundle in EncryptedCredentials and the refresh token in
// OAuthRefreshToken; the SMTP provider keeps its password in
// EncryptedCredentials and the connection settings in the SMTP fields.
type Integration struct {
	ID                   int64
	PublicID             uuid.UUID
	UserID               int64
	Type                 IntegrationType
	Provider             IntegrationProvider
	Status               IntegrationStatus
	EncryptedCredentials string
	OAuthRefreshToken    string
	OAuthTokenExpiresAt  *time.Time
	EmailAddress         string
	SMTPHost             string
	SMTPPort             int
	SMTPUser             string
	SMTPFromEmail        string
	ErrorMessage         string
	ConnectedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (i *Integration) HasCredentials() bool {
	return i != nil && i.EncryptedCredentials != ""
}

// IntegrationUpsertParams carries the fields written when a record is created
// or replaced for a (user, type, provider) triple.
type IntegrationUpsertParams struct {
	UserID               int64
	Type                 IntegrationType
	Provider             IntegrationProvider
	Status               IntegrationStatus
	EncryptedCredentials string
	OAuthRefreshToken    string
	OAuthTokenExpiresAt  *time.Time
	EmailAddress         string
	SMTPHost             string
	SMTPPort             int
	SMTPUser             string
	SMTPFromEmail        string
	ErrorMessage         string
	ConnectedAt          *time.Time
}

// IntegrationPatch is a partial update; nil fields are left untouched.
type IntegrationPatch struct {
	Status               *IntegrationStatus
	EncryptedCredentials *string
	OAuthRefreshToken    *string
	OAuthTokenExpiresAt  *time.Time
	EmailAddress         *string
	SMTPHost             *string
	SMTPPort             *int
	SMTPUser             *string
	SMTPFromEmail        *string
	ErrorMessage         *string
	ConnectedAt          *time.Time
}

// TokenBundle is the plaintext form of an OAuth integration's credentials.
type TokenBundle struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

func Ptr[T any](v T) *T {
	return &v
}

// FormField describes one input of a form. Name is the key submitters post.
type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Required bool   `json:"required,omitempty"`
}

type Form struct {
	ID        int64
	PublicID  uuid.UUID
	UserID    int64
	Name      string
	Fields    []FormField
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SubmissionStatus string

const (
	SubmissionNew      SubmissionStatus = "NEW"
	SubmissionRead     SubmissionStatus = "READ"
	SubmissionArchived SubmissionStatus = "ARCHIVED"
)

type SubmissionSource string

const (
	SourceWebsite SubmissionSource = "WEBSITE"
	SourceEmbed   SubmissionSource = "EMBED"
	SourceAPI     SubmissionSource = "API"
)

// FormSubmission is one stored post to a form. UserID is the form owner.
type FormSubmission struct {
	ID        int64
	PublicID  uuid.UUID
	FormID    int64
	UserID    int64
	Data      map[string]string
	IPAddress string
	UserAgent string
	Referrer  string
	Source    SubmissionSource
	Status    SubmissionStatus
	CreatedAt time.Time
}
