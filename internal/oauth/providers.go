package oauth

import (
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/veerhq/veer/internal/models"
)

const (
	Google    = "google"
	Microsoft = "microsoft"

	googleUserInfoURL    = "https://www.googleapis.com/oauth2/v2/userinfo"
	microsoftUserInfoURL = "https://graph.microsoft.com/v1.0/me"
)

var (
	GoogleScopes = []string{
		"https://www.googleapis.com/auth/gmail.send",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}
	MicrosoftScopes = []string{
		"https://graph.microsoft.com/Mail.Send",
		"https://graph.microsoft.com/User.Read",
		"offline_access",
	}
)

// CallbackURL is the redirect URI registered with a provider.
func CallbackURL(baseURL, name string) string {
	return fmt.Sprintf("%s/api/auth/oauth/callback/%s", baseURL, name)
}

// ProviderFor maps a callback route name to the stored provider.
func ProviderFor(name string) (models.IntegrationProvider, bool) {
	switch name {
	case Google:
		return models.ProviderGmail, true
	case Microsoft:
		return models.ProviderOutlook, true
	}
	return "", false
}

// NameFor is the inverse of ProviderFor.
func NameFor(p models.IntegrationProvider) (string, bool) {
	switch p {
	case models.ProviderGmail:
		return Google, true
	case models.ProviderOutlook:
		return Microsoft, true
	}
	return "", false
}

func NewGoogleClient(cfg Config) *Client {
	endpoint := google.Endpoint
	endpoint.AuthURL = orDefault(cfg.AuthURL, endpoint.AuthURL)
	endpoint.TokenURL = orDefault(cfg.TokenURL, endpoint.TokenURL)
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &Client{
		name:     Google,
		provider: models.ProviderGmail,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       GoogleScopes,
			Endpoint:     endpoint,
		},
		// prompt=consent makes Google issue a refresh token on every consent.
		authOpts:    []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
		userInfoURL: orDefault(cfg.UserInfoURL, googleUserInfoURL),
		parseUser:   parseGoogleUser,
		httpClient:  cfg.HTTPClient,
		configured:  cfg.ClientID != "" && cfg.ClientSecret != "",
	}
}

func NewMicrosoftClient(cfg Config) *Client {
	endpoint := microsoft.AzureADEndpoint(orDefault(cfg.Tenant, "common"))
	endpoint.AuthURL = orDefault(cfg.AuthURL, endpoint.AuthURL)
	endpoint.TokenURL = orDefault(cfg.TokenURL, endpoint.TokenURL)
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &Client{
		name:     Microsoft,
		provider: models.ProviderOutlook,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       MicrosoftScopes,
			Endpoint:     endpoint,
		},
		authOpts:    []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "query")},
		userInfoURL: orDefault(cfg.UserInfoURL, microsoftUserInfoURL),
		parseUser:   parseMicrosoftUser,
		httpClient:  cfg.HTTPClient,
		configured:  cfg.ClientID != "" && cfg.ClientSecret != "",
	}
}

func parseGoogleUser(body []byte) (string, string, error) {
	var u struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return "", "", fmt.Errorf("failed to decode google user info: %w", err)
	}
	return u.Email, u.Name, nil
}

func parseMicrosoftUser(body []byte) (string, string, error) {
	var u struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return "", "", fmt.Errorf("failed to decode microsoft user info: %w", err)
	}
	return orDefault(u.Mail, u.UserPrincipalName), u.DisplayName, nil
}
