package adt

import (
	"context"
	"net/http"
	"net/url"
)

// logoffPath terminates the ICF session server-side.
const logoffPath = "/sap/public/bc/icf/logoff"

// Client is the connection handle for one ADT session. All requests made
// through it share the cookie jar, the cached CSRF token and the session id.
type Client struct {
	transport *Transport
	config    *Config
}

// NewClient creates a client for the given base URL. Select the
// authentication scheme with WithBasicAuth, WithBearerToken or WithRefresher.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	cfg := NewConfig(baseURL, opts...)
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, config: cfg}, nil
}

// NewClientWithTransport creates a client with a custom transport.
// This is useful for testing.
func NewClientWithTransport(cfg *Config, transport *Transport) *Client {
	return &Client{transport: transport, config: cfg}
}

// Config returns the connection configuration.
func (c *Client) Config() *Config {
	return c.config
}

// Connect verifies the connection and warms up session artifacts by running
// the CSRF handshake. For basic connections a handshake failure is not
// fatal: it is logged and the first real request recovers. For bearer
// connections the error propagates so an expired token surfaces immediately.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Request performs a raw request through the session pipeline.
func (c *Client) Request(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.transport.Request(ctx, path, opts)
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.transport.Request(ctx, path, &RequestOptions{
		Method: http.MethodGet,
		Query:  query,
	})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body []byte, contentType string) (*Response, error) {
	return c.transport.Request(ctx, path, &RequestOptions{
		Method:      http.MethodPost,
		Body:        body,
		ContentType: contentType,
	})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body []byte, contentType string) (*Response, error) {
	return c.transport.Request(ctx, path, &RequestOptions{
		Method:      http.MethodPut,
		Body:        body,
		ContentType: contentType,
	})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.transport.Request(ctx, path, &RequestOptions{
		Method: http.MethodDelete,
	})
}

// Head performs a HEAD request.
func (c *Client) Head(ctx context.Context, path string) (*Response, error) {
	return c.transport.Request(ctx, path, &RequestOptions{
		Method: http.MethodHead,
	})
}

// GetDiscovery fetches the ADT discovery document describing the services
// the system exposes.
func (c *Client) GetDiscovery(ctx context.Context) (*Response, error) {
	return c.transport.Request(ctx, c.config.DiscoveryPath, &RequestOptions{
		Method: http.MethodGet,
		Accept: discoveryAccept,
	})
}

// Reset returns the connection to its just-constructed state: CSRF token
// gone, cookie jar empty, pooled connections closed. Configuration and
// session id survive. Safe to call repeatedly.
func (c *Client) Reset() {
	c.transport.Reset()
}

// Logout terminates the server-side session and resets the connection. The
// logoff call is best-effort: a failure is logged and the local reset
// happens regardless.
func (c *Client) Logout(ctx context.Context) {
	if _, err := c.transport.Request(ctx, logoffPath, &RequestOptions{Method: http.MethodPost}); err != nil {
		c.config.Logger.Debugf("logoff request failed: %v", err)
	}
	c.Reset()
}

// DropSession releases the server-side stateful context (locks, open
// transactions) by switching to stateless mode and touching the discovery
// endpoint without the stateful headers.
func (c *Client) DropSession(ctx context.Context) error {
	c.transport.session.setMode(SessionStateless)
	_, err := c.transport.Request(ctx, c.config.DiscoveryPath, &RequestOptions{
		Method: http.MethodGet,
		Accept: discoveryAccept,
	})
	return err
}

// SetSessionType switches between stateless and stateful mode. Takes effect
// on the next request.
func (c *Client) SetSessionType(mode SessionType) {
	c.transport.session.setMode(mode)
}

// SessionMode returns the current session mode.
func (c *Client) SessionMode() SessionType {
	return c.transport.session.sessionMode()
}

// SessionID returns the stable per-connection id sent with every request.
func (c *Client) SessionID() string {
	return c.transport.session.sessionID()
}

// SessionState exports the current session artifacts for handoff to another
// process. Returns nil when the connection holds no artifacts. The snapshot
// deliberately contains no credentials.
func (c *Client) SessionState() *SessionState {
	return c.transport.session.export()
}

// SetSessionState imports previously exported session artifacts. The next
// request reproduces the exporting connection's Cookie header byte for
// byte. A nil state clears the artifacts.
func (c *Client) SetSessionState(state *SessionState) {
	c.transport.session.restore(state)
}

// CookieNames returns the names of the cookies currently in the jar, in
// header order. Values stay private to the engine.
func (c *Client) CookieNames() []string {
	return c.transport.session.cookieNames()
}

// HasCSRFToken reports whether a CSRF token is currently cached.
func (c *Client) HasCSRFToken() bool {
	return c.transport.session.csrfToken() != ""
}
