// Package oauth implements the authorization-code and refresh-token flows for
// the Google and Microsoft mail providers.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/veerhq/veer/internal/models"
)

var ErrNotConfigured = errors.New("oauth client credentials not configured")

// ExchangeError reports that the token endpoint rejected an authorization code.
type ExchangeError struct {
	Provider    string
	Code        string
	Description string
	Err         error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("failed to exchange code: %s", firstNonEmpty(e.Description, e.Code, errString(e.Err)))
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError reports that the provider rejected a refresh token. The user has
// to authorize again; retrying will not help.
type RefreshError struct {
	Provider    string
	Code        string
	Description string
	Err         error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("failed to refresh token: %s", firstNonEmpty(e.Description, e.Code, errString(e.Err)))
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Config holds the client credentials for one provider. The URL and HTTPClient
// fields are optional and default to the provider's public endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Tenant       string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	HTTPClient  *http.Client
}

// Tokens is the result of a successful code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Expiry       time.Time
	Email        string
	Name         string
}

// Refreshed is the result of a successful refresh. RefreshToken carries the
// token the provider returned, or the one that was presented when the
// provider did not rotate it.
type Refreshed struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Expiry       time.Time
}

type userInfoFunc func(body []byte) (email, name string, err error)

type Client struct {
	name        string
	provider    models.IntegrationProvider
	oauth       *oauth2.Config
	authOpts    []oauth2.AuthCodeOption
	tokenOpts   []oauth2.AuthCodeOption
	userInfoURL string
	parseUser   userInfoFunc
	httpClient  *http.Client
	configured  bool
}

// Name is the provider name used in routes and cookies ("google", "microsoft").
func (c *Client) Name() string { return c.name }

func (c *Client) Provider() models.IntegrationProvider { return c.provider }

func (c *Client) IsConfigured() bool { return c.configured }

func (c *Client) AuthorizationURL(state string) (string, error) {
	if !c.configured {
		return "", c.notConfigured()
	}
	return c.oauth.AuthCodeURL(state, c.authOpts...), nil
}

// Exchange trades an authorization code for tokens and looks up the account's
// email address. The state must already have been verified by the caller.
func (c *Client) Exchange(ctx context.Context, code string) (*Tokens, error) {
	if !c.configured {
		return nil, c.notConfigured()
	}
	ctx = c.withHTTPClient(ctx)

	tok, err := c.oauth.Exchange(ctx, code, c.tokenOpts...)
	if err != nil {
		xerr := &ExchangeError{Provider: c.name, Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			xerr.Code = re.ErrorCode
			xerr.Description = re.ErrorDescription
		}
		return nil, xerr
	}

	email, name, err := c.fetchUserInfo(ctx, tok)
	if err != nil {
		return nil, err
	}

	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
		Expiry:       tok.Expiry,
		Email:        email,
		Name:         name,
	}, nil
}

// Refresh obtains a new access token. Provider rejections come back as
// *RefreshError; transport failures are returned as-is.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Refreshed, error) {
	if !c.configured {
		return nil, c.notConfigured()
	}
	if refreshToken == "" {
		return nil, &RefreshError{Provider: c.name, Code: "invalid_grant", Description: "no refresh token stored"}
	}
	ctx = c.withHTTPClient(ctx)

	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, &RefreshError{Provider: c.name, Code: re.ErrorCode, Description: re.ErrorDescription, Err: err}
		}
		return nil, fmt.Errorf("refresh %s token: %w", c.name, err)
	}

	rt := tok.RefreshToken
	if rt == "" {
		rt = refreshToken
	}
	return &Refreshed{
		AccessToken:  tok.AccessToken,
		RefreshToken: rt,
		ExpiresIn:    expiresIn(tok),
		Expiry:       tok.Expiry,
	}, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)).Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("failed to fetch user info: status %d", resp.StatusCode)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("failed to decode user info: %w", err)
	}
	email, name, err := c.parseUser(body)
	if err != nil {
		return "", "", err
	}
	if email == "" {
		return "", "", errors.New("user info did not include an email address")
	}
	return email, name, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) notConfigured() error {
	return fmt.Errorf("%s: %w", c.name, ErrNotConfigured)
}

func expiresIn(tok *oauth2.Token) int {
	if tok.ExpiresIn > 0 {
		return int(tok.ExpiresIn)
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return int(time.Until(tok.Expiry).Seconds())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return "unknown error"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
