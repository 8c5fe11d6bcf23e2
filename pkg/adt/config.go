// Package adt provides the session/connection engine for the SAP ABAP
// Development Tools (ADT) REST API: CSRF token lifecycle, cookie handling,
// stateful/stateless session headers, Basic and Bearer authentication, and
// credential refresh.
package adt

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionType defines how the connection manages server-side session state.
type SessionType string

const (
	// SessionStateless treats every request independently.
	SessionStateless SessionType = "stateless"
	// SessionStateful asks SAP to pin server-side state (locks, transactions)
	// across requests via dedicated headers.
	SessionStateful SessionType = "stateful"
)

// AuthKind selects the authentication scheme for a connection.
type AuthKind string

const (
	// AuthBasic authenticates with username/password (on-premise systems).
	AuthBasic AuthKind = "basic"
	// AuthBearer authenticates with a bearer JWT (cloud systems), optionally
	// refreshable through a Refresher.
	AuthBearer AuthKind = "bearer"
)

// defaultDiscoveryPath is the endpoint used to fetch CSRF tokens and
// establish session cookies.
const defaultDiscoveryPath = "/sap/bc/adt/core/discovery"

// DefaultPermissionMarkers are the case-insensitive response-body substrings
// that classify a 401/403 as a missing authorization rather than an expired
// credential. The matching is known to be locale-fragile (the markers are
// English); override with WithPermissionMarkers when the backend answers in
// another language.
var DefaultPermissionMarkers = []string{
	"no access",
	"no authorization",
	"missing authorization",
}

// Config holds the configuration for one ADT connection. It is immutable
// after construction; the engine never writes to it.
type Config struct {
	// BaseURL is the SAP system URL (e.g., "https://vhcalnplci.dummy.nodomain:44300")
	BaseURL string
	// Client is the SAP client number (e.g., "001")
	Client string
	// Language for SAP session (e.g., "EN")
	Language string

	// AuthKind selects basic or bearer authentication
	AuthKind AuthKind
	// Username for basic authentication
	Username string
	// Password for basic authentication
	Password string
	// Token is the bearer access token for cloud systems
	Token string

	// RefreshToken plus the UAA fields enable the built-in OAuth2
	// refresh_token grant for bearer connections
	RefreshToken    string
	UAAURL          string
	UAAClientID     string
	UAAClientSecret string
	// Refresher delegates token storage and renewal to an external broker;
	// takes precedence over the UAA fields
	Refresher Refresher

	// SessionID is sent as sap-adt-connection-id on every request; generated
	// at construction when empty
	SessionID string
	// SessionType defines the initial session mode
	SessionType SessionType
	// DiscoveryPath overrides the CSRF discovery endpoint
	DiscoveryPath string
	// PermissionMarkers overrides DefaultPermissionMarkers
	PermissionMarkers []string

	// Timeout for HTTP requests
	Timeout time.Duration
	// InsecureSkipVerify disables TLS certificate verification
	InsecureSkipVerify bool
	// Logger receives engine diagnostics; discarded when nil
	Logger Logger
}

// Option is a functional option for configuring the connection.
type Option func(*Config)

// WithBasicAuth selects basic authentication with the given credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *Config) {
		c.AuthKind = AuthBasic
		c.Username = username
		c.Password = password
	}
}

// WithBearerToken selects bearer authentication with the given access token.
func WithBearerToken(token string) Option {
	return func(c *Config) {
		c.AuthKind = AuthBearer
		c.Token = token
	}
}

// WithRefreshCredentials enables the built-in OAuth2 refresh_token grant
// against the given UAA for bearer connections.
func WithRefreshCredentials(refreshToken, uaaURL, clientID, clientSecret string) Option {
	return func(c *Config) {
		c.RefreshToken = refreshToken
		c.UAAURL = uaaURL
		c.UAAClientID = clientID
		c.UAAClientSecret = clientSecret
	}
}

// WithRefresher delegates bearer token storage and renewal to an external
// broker.
func WithRefresher(r Refresher) Option {
	return func(c *Config) {
		c.AuthKind = AuthBearer
		c.Refresher = r
	}
}

// WithClient sets the SAP client number.
func WithClient(client string) Option {
	return func(c *Config) {
		c.Client = client
	}
}

// WithLanguage sets the SAP session language.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Language = lang
	}
}

// WithSessionID sets a caller-supplied session id instead of a generated one.
func WithSessionID(id string) Option {
	return func(c *Config) {
		c.SessionID = id
	}
}

// WithStateful starts the connection in stateful session mode.
func WithStateful() Option {
	return func(c *Config) {
		c.SessionType = SessionStateful
	}
}

// WithDiscoveryPath overrides the CSRF discovery endpoint.
func WithDiscoveryPath(path string) Option {
	return func(c *Config) {
		c.DiscoveryPath = path
	}
}

// WithPermissionMarkers replaces the permission-denied body markers.
func WithPermissionMarkers(markers ...string) Option {
	return func(c *Config) {
		c.PermissionMarkers = markers
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify() Option {
	return func(c *Config) {
		c.InsecureSkipVerify = true
	}
}

// WithLogger injects the logging capability.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// NewConfig creates a Config for the given base URL with defaults applied.
// Select an authentication scheme with WithBasicAuth, WithBearerToken or
// WithRefresher; Validate reports a ConfigError when none is usable.
func NewConfig(baseURL string, opts ...Option) *Config {
	cfg := &Config{
		BaseURL:       baseURL,
		Client:        "001",
		Language:      "EN",
		AuthKind:      AuthBasic,
		SessionType:   SessionStateless,
		DiscoveryPath: defaultDiscoveryPath,
		Timeout:       60 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if len(cfg.PermissionMarkers) == 0 {
		cfg.PermissionMarkers = DefaultPermissionMarkers
	}

	return cfg
}

// Validate checks the configuration without touching the network.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return &ConfigError{Field: "BaseURL", Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "BaseURL", Reason: "scheme must be http or https"}
	}

	switch c.AuthKind {
	case AuthBasic:
		if c.Username == "" || c.Password == "" {
			return &ConfigError{Field: "Username/Password", Reason: "required for basic authentication"}
		}
		if c.Client == "" {
			return &ConfigError{Field: "Client", Reason: "required for basic authentication"}
		}
	case AuthBearer:
		if c.Token == "" && c.Refresher == nil {
			return &ConfigError{Field: "Token", Reason: "required for bearer authentication"}
		}
	default:
		return &ConfigError{Field: "AuthKind", Reason: "unknown authentication scheme " + string(c.AuthKind)}
	}

	if c.Timeout <= 0 {
		return &ConfigError{Field: "Timeout", Reason: "must be positive"}
	}
	return nil
}

// canRefresh reports whether the configuration carries a usable refresh
// capability.
func (c *Config) canRefresh() bool {
	if c.AuthKind != AuthBearer {
		return false
	}
	if c.Refresher != nil {
		return true
	}
	return c.RefreshToken != "" && c.UAAURL != ""
}

// permissionMarkers returns the effective marker list.
func (c *Config) permissionMarkers() []string {
	if len(c.PermissionMarkers) > 0 {
		return c.PermissionMarkers
	}
	return DefaultPermissionMarkers
}

// matchesPermissionMarkers reports whether the response body names a missing
// authorization.
func matchesPermissionMarkers(body string, markers []string) bool {
	lower := strings.ToLower(body)
	for _, marker := range markers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// NewHTTPClient creates an http.Client configured for the given Config.
// No cookie jar is attached: the engine manages cookies itself so that the
// jar contents stay exportable and a jar-managed duplicate Cookie header
// never appears.
func (c *Config) NewHTTPClient() *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.InsecureSkipVerify,
		},
		// Connection pooling settings to avoid overwhelming SAP server
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 30,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     90 * time.Second,
	}

	// Per-request deadlines come from the pipeline contexts, so no
	// client-level Timeout here.
	return &http.Client{
		Transport: transport,
	}
}
