package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/looplist/looplist/internal/pkg/env"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// Exchange failure taxonomy. The controller maps these onto user-safe
// redirects; provider error bodies never reach the browser.
var (
	ErrUserCancelled  = errors.New("user cancelled provider login")
	ErrCsrfViolation  = errors.New("oauth state mismatch")
	ErrMissingCode    = errors.New("authorization code missing")
	ErrExchangeFailed = errors.New("provider code exchange failed")
	ErrProfileFailed  = errors.New("provider profile fetch failed")
)

// UserInfo is the provider profile used to upsert the local identity.
type UserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Provider drives the authorization-code flow against Google.
type Provider struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewProviderFromEnv builds the provider from environment configuration.
// The endpoint URLs are overridable so tests can point at a local fake.
func NewProviderFromEnv() *Provider {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if base == "" {
		base = "http://localhost:" + env.GetEnv("APP_PORT", "4000")
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     env.GetEnv("GOOGLE_KEY", ""),
			ClientSecret: env.GetEnv("GOOGLE_SECRET", ""),
			RedirectURL:  base + "/auth/google/callback",
			Scopes:       []string{"email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   env.GetEnv("GOOGLE_AUTH_URL", defaultGoogleAuthURL),
				TokenURL:  env.GetEnv("GOOGLE_TOKEN_URL", defaultGoogleTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: env.GetEnv("GOOGLE_USERINFO_URL", defaultGoogleUserInfoURL),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthorizeURL returns the provider consent URL carrying the CSRF state.
func (p *Provider) AuthorizeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode trades the authorization code for a provider access token via
// the server-to-server token endpoint (form-encoded POST).
func (p *Provider) ExchangeCode(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", ErrMissingCode
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrExchangeFailed)
	}
	return tok.AccessToken, nil
}

// FetchProfile loads the provider profile with the provider access token.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", ErrProfileFailed, resp.StatusCode)
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("%w: profile missing user id", ErrProfileFailed)
	}
	return &info, nil
}
