// Package oauth implements the upstream OAuth Client: auth-URL construction,
// code exchange, token refresh, userinfo and project-id lookup, backed by an
// HTTP/1.1-only transport (the upstream OAuth surface intermittently returns
// PROTOCOL_ERROR over HTTP/2 for these endpoints).
package oauth

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// maxResponseBytes caps every OAuth HTTP response body at 1 MiB.
const maxResponseBytes = 1 << 20

// Config carries the static parameters the OAuth client needs. It is
// intentionally decoupled from internal/config so this package has no
// dependency on the rest of the tree.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Timeout      time.Duration
	ProxyURL     string
}

// UserInfo is the subset of the upstream userinfo response the gateway needs.
type UserInfo struct {
	Email string
	Name  string
}

// TokenResponse is the result of ExchangeCode / RefreshToken.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	IssuedAtMs   int64
}

// Client is the OAuth Client described in §4.2.
type Client struct {
	cfg        Config
	httpClient *http.Client
	states     *StateTable
}

// NewClient builds an OAuth client with an HTTP/1.1-only transport (ALPN
// negotiation for h2 is disabled), a 1 MiB response cap enforced at the read
// site, and an optional forward proxy.
func NewClient(cfg Config) *Client {
	transport := &http.Transport{
		// Clearing TLSNextProto prevents the stdlib from opportunistically
		// upgrading to HTTP/2 via ALPN.
		TLSNextProto: make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
	}
	if cfg.ProxyURL != "" {
		if u, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		states:     NewStateTable(),
	}
}

// GenerateState produces a fresh CSRF state value with a 10-minute TTL.
func (c *Client) GenerateState() (string, error) { return c.states.Generate() }

// ValidateState consumes a state value, returning true at most once.
func (c *Client) ValidateState(value string) bool { return c.states.Validate(value) }

// BuildAuthURL constructs the upstream authorization URL for the given
// redirect URI and state.
func (c *Client) BuildAuthURL(redirectURI, state string) (string, error) {
	if redirectURI == "" || state == "" {
		return "", &ErrInvalidArgument{Field: "redirect_uri/state"}
	}
	conf := c.oauth2Config(redirectURI)
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

func (c *Client) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       c.cfg.Scopes,
		Endpoint:     google.Endpoint,
	}
}

// ExchangeCode swaps an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResponse, error) {
	if code == "" || redirectURI == "" {
		return TokenResponse{}, &ErrInvalidArgument{Field: "code/redirect_uri"}
	}
	conf := c.oauth2Config(redirectURI)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("oauth: exchange code: %w", err)
	}
	return tokenResponseFrom(tok), nil
}

// RefreshToken exchanges a refresh token for a new access token. It does not
// mutate any caller state; NewRefreshFunc adapts this into the credential
// store's RefreshFunc contract.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	if refreshToken == "" {
		return TokenResponse{}, &ErrInvalidArgument{Field: "refresh_token"}
	}
	conf := c.oauth2Config(c.cfg.RedirectURI)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenResponse{}, fmt.Errorf("oauth: refresh token: %w", err)
	}
	out := tokenResponseFrom(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func tokenResponseFrom(tok *oauth2.Token) TokenResponse {
	expiresIn := int64(0)
	if !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Seconds())
		if expiresIn < 0 {
			expiresIn = 0
		}
	}
	return TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		IssuedAtMs:   time.Now().UnixMilli(),
	}
}

// GetUserInfo fetches the authenticated user's email and display name.
func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	if accessToken == "" {
		return UserInfo{}, &ErrInvalidArgument{Field: "access_token"}
	}
	body, _, err := c.get(ctx, accessToken, "https://www.googleapis.com/oauth2/v1/userinfo?alt=json")
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{
		Email: gjson.GetBytes(body, "email").String(),
		Name:  gjson.GetBytes(body, "name").String(),
	}, nil
}

const loadCodeAssistURL = "https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist"
const listProjectsURL = "https://cloudresourcemanager.googleapis.com/v1/projects"

// maxProjectPages bounds the paginated project-list fallback at 5 pages.
const maxProjectPages = 5

// FetchProjectID tries the upstream loadCodeAssist endpoint first; on
// failure, or when it yields no project, it falls back to a paginated
// project list and picks an ACTIVE project, preferring names/ids containing
// "default".
func (c *Client) FetchProjectID(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", &ErrInvalidArgument{Field: "access_token"}
	}
	if body, _, err := c.post(ctx, accessToken, loadCodeAssistURL, []byte(`{}`)); err == nil {
		if id := gjson.GetBytes(body, "cloudaicompanionProject").String(); id != "" {
			return id, nil
		}
	}

	pageToken := ""
	var candidates []gjson.Result
	for page := 0; page < maxProjectPages; page++ {
		reqURL := listProjectsURL
		if pageToken != "" {
			reqURL += "?pageToken=" + url.QueryEscape(pageToken)
		}
		body, _, err := c.get(ctx, accessToken, reqURL)
		if err != nil {
			return "", err
		}
		projects := gjson.GetBytes(body, "projects").Array()
		for _, p := range projects {
			if strings.EqualFold(p.Get("lifecycleState").String(), "ACTIVE") {
				candidates = append(candidates, p)
			}
		}
		pageToken = gjson.GetBytes(body, "nextPageToken").String()
		if pageToken == "" {
			break
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("oauth: no active projects found")
	}
	for _, p := range candidates {
		name := strings.ToLower(p.Get("name").String())
		id := strings.ToLower(p.Get("projectId").String())
		if strings.Contains(name, "default") || strings.Contains(id, "default") {
			return p.Get("projectId").String(), nil
		}
	}
	return candidates[0].Get("projectId").String(), nil
}

func (c *Client) get(ctx context.Context, accessToken, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req)
}

func (c *Client) post(ctx context.Context, accessToken, rawURL string, body []byte) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("oauth: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, nil, fmt.Errorf("oauth: read response: %w", err)
	}
	if len(data) > maxResponseBytes {
		return nil, nil, &ErrResponseTooLarge{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &ErrOAuthFailed{Status: resp.StatusCode, Body: preview(data)}
	}
	return data, resp.Header, nil
}
