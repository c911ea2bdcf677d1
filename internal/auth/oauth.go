package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/handout-dev/handout/internal/platform/timeouts"
)

// OAuthConfig defines the endpoints and credentials for the identity provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	CallbackURL  string
}

// OAuthClient drives the OAuth2 authorization-code flow against the provider.
type OAuthClient struct {
	config     OAuthConfig
	httpClient *http.Client
}

// NewOAuthClient validates the configuration and builds a provider client.
func NewOAuthClient(config OAuthConfig) (*OAuthClient, error) {
	if strings.TrimSpace(config.ClientID) == "" {
		return nil, errors.New("oauth client id is required")
	}
	if strings.TrimSpace(config.AuthorizeURL) == "" {
		return nil, errors.New("oauth authorize url is required")
	}
	if strings.TrimSpace(config.TokenURL) == "" {
		return nil, errors.New("oauth token url is required")
	}
	if strings.TrimSpace(config.UserInfoURL) == "" {
		return nil, errors.New("oauth userinfo url is required")
	}
	if strings.TrimSpace(config.CallbackURL) == "" {
		return nil, errors.New("oauth callback url is required")
	}

	return &OAuthClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeouts.ProviderRequest},
	}, nil
}

// AuthCodeURL builds the provider authorization URL for a login redirect.
func (c *OAuthClient) AuthCodeURL(state string) (string, error) {
	authorizeURL, err := url.Parse(c.config.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}

	q := authorizeURL.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.config.ClientID)
	q.Set("redirect_uri", c.config.CallbackURL)
	q.Set("state", state)
	authorizeURL.RawQuery = q.Encode()

	return authorizeURL.String(), nil
}

// Exchange trades an authorization code for an access token.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.config.CallbackURL},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange returned %s", resp.Status)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("empty access token")
	}

	return tokenResp.AccessToken, nil
}

// FetchIdentity resolves the provider identity behind an access token.
func (c *OAuthClient) FetchIdentity(ctx context.Context, accessToken string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.UserInfoURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("userinfo returned %s", resp.Status)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return Identity{}, fmt.Errorf("decode userinfo response: %w", err)
	}
	if identity.ID == 0 {
		return Identity{}, errors.New("userinfo response missing id")
	}

	return identity, nil
}
