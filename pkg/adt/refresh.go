package adt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Refresher is the credential renewal capability for bearer connections.
// Token returns the current access token; Refresh obtains a new one from the
// authorization server and returns it. An injected Refresher lets an
// external broker own token storage; the engine only calls through and never
// persists tokens itself.
type Refresher interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// uaaRefresher implements Refresher with the OAuth2 refresh_token grant
// against a UAA token endpoint. It owns both tokens (self-contained mode).
type uaaRefresher struct {
	mu           sync.Mutex
	tokenURL     string
	clientID     string
	clientSecret string
	accessToken  string
	refreshToken string

	httpClient HTTPDoer
	timeout    time.Duration
	logger     Logger
}

func newUAARefresher(cfg *Config) *uaaRefresher {
	return &uaaRefresher{
		tokenURL:     strings.TrimSuffix(cfg.UAAURL, "/") + "/oauth/token",
		clientID:     cfg.UAAClientID,
		clientSecret: cfg.UAAClientSecret,
		accessToken:  cfg.Token,
		refreshToken: cfg.RefreshToken,
		httpClient:   cfg.NewHTTPClient(),
		timeout:      cfg.Timeout,
		logger:       cfg.Logger,
	}
}

// Token returns the current access token.
func (r *uaaRefresher) Token(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accessToken == "" {
		return "", errors.New("no access token available")
	}
	return r.accessToken, nil
}

// tokenResponse mirrors the UAA token endpoint's JSON payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh exchanges the stored refresh token for a new access token. The
// refresh token is rotated only when the server returns a replacement;
// otherwise the previous one stays valid and is kept.
func (r *uaaRefresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	refreshToken := r.refreshToken
	r.mu.Unlock()
	if refreshToken == "" {
		return "", errors.New("no refresh token configured")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.SetBasicAuth(r.clientID, r.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, truncateBody(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token endpoint returned no access_token")
	}

	r.mu.Lock()
	r.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		r.refreshToken = tr.RefreshToken
	}
	r.mu.Unlock()

	r.logger.Debugf("access token refreshed")
	return tr.AccessToken, nil
}
