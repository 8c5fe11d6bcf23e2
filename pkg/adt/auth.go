package adt

import (
	"context"
	"encoding/base64"
	"sync"
)

// authStrategy renders the Authorization header for one scheme. The retry
// decision table in the pipeline branches on kind(): basic connections
// recover from 401 by re-acquiring cookies, bearer connections delegate
// 401/403 to the credential refresh path.
type authStrategy interface {
	kind() AuthKind
	// header returns the Authorization value reflecting the latest
	// credential (after any refresh).
	header(ctx context.Context) (string, error)
}

// basicAuth renders an HTTP Basic Authorization value.
func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// basicStrategy authenticates with username/password. The rendered value
// never changes for the lifetime of the connection.
type basicStrategy struct {
	username string
	password string
}

func (s *basicStrategy) kind() AuthKind { return AuthBasic }

func (s *basicStrategy) header(context.Context) (string, error) {
	return basicAuth(s.username, s.password), nil
}

// bearerStrategy authenticates with a bearer token. With a Refresher the
// broker owns the current token and is consulted on every render; without
// one the token held here is fixed.
type bearerStrategy struct {
	mu        sync.RWMutex
	token     string
	refresher Refresher
}

func (s *bearerStrategy) kind() AuthKind { return AuthBearer }

func (s *bearerStrategy) header(ctx context.Context) (string, error) {
	if s.refresher != nil {
		token, err := s.refresher.Token(ctx)
		if err != nil {
			return "", &RefreshError{Err: err}
		}
		return "Bearer " + token, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return "Bearer " + s.token, nil
}

// newAuthStrategy builds the strategy for a validated configuration. For
// bearer connections the built-in UAA refresher is attached when refresh
// credentials are configured and no external Refresher was injected.
func newAuthStrategy(cfg *Config) authStrategy {
	switch cfg.AuthKind {
	case AuthBearer:
		refresher := cfg.Refresher
		if refresher == nil && cfg.RefreshToken != "" && cfg.UAAURL != "" {
			refresher = newUAARefresher(cfg)
		}
		return &bearerStrategy{token: cfg.Token, refresher: refresher}
	default:
		return &basicStrategy{username: cfg.Username, password: cfg.Password}
	}
}
