// Package auth obtains and caches bearer tokens for the agent backend.
//
// Tokens come from a client-credentials exchange against the identity
// provider and are refreshed proactively 60 seconds before expiry.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshMargin is how long before expiry a cached token stops being served.
const RefreshMargin = 60 * time.Second

// DefaultExchangeTimeout bounds one token exchange round trip.
const DefaultExchangeTimeout = 20 * time.Second

// defaultExpiresIn is assumed when the identity provider omits expires_in.
const defaultExpiresIn = 3600

// Opts holds configuration options for the token provider.
type Opts struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Option defines a configuration option for the token provider.
type Option func(*Opts)

// WithTokenURL sets the identity provider's token endpoint.
func WithTokenURL(u string) Option {
	return func(o *Opts) { o.TokenURL = u }
}

// WithClientCredentials sets the client id and secret for the exchange.
func WithClientCredentials(id, secret string) Option {
	return func(o *Opts) { o.ClientID = id; o.ClientSecret = secret }
}

// WithScope sets the requested token scope.
func WithScope(scope string) Option {
	return func(o *Opts) { o.Scope = scope }
}

// WithTimeout overrides the token exchange timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient injects the HTTP client used for the exchange (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// TokenProvider caches one bearer token and refreshes it on demand.
// Concurrent refreshes are coalesced: callers arriving during an in-flight
// exchange share its result instead of issuing redundant requests.
type TokenProvider struct {
	cfg Opts

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewTokenProvider creates a token provider for a client-credentials grant.
func NewTokenProvider(opts ...Option) (*TokenProvider, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL must be provided")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client id and secret must be provided")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExchangeTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &TokenProvider{cfg: cfg, now: time.Now}, nil
}

// Token returns a bearer token with at least RefreshMargin of validity left,
// performing a refresh first when the cached one is absent or near expiry.
// Exchange failures are fatal authentication errors and are not retried here.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" && p.now().Before(p.expiresAt.Add(-RefreshMargin)) {
		tok := p.token
		p.mu.Unlock()
		return tok, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("refresh", func() (interface{}, error) {
		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *TokenProvider) refresh(ctx context.Context) (string, error) {
	slog.Debug("auth.TokenProvider.refresh: exchanging client credentials", "url", p.cfg.TokenURL)

	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("grant_type", "client_credentials")
	if p.cfg.Scope != "" {
		form.Set("scope", p.cfg.Scope)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		slog.Error("auth.TokenProvider.refresh: token exchange failed", "error", err)
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("auth.TokenProvider.refresh: token endpoint returned error", "status", resp.StatusCode)
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = defaultExpiresIn
	}

	p.mu.Lock()
	p.token = payload.AccessToken
	p.expiresAt = p.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	p.mu.Unlock()

	slog.Debug("auth.TokenProvider.refresh: token refreshed", "expires_in_s", payload.ExpiresIn)
	return payload.AccessToken, nil
}
