package adt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Session protocol headers.
const (
	connectionIDHeader = "sap-adt-connection-id"
	sessionTypeHeader  = "x-sap-adt-sessiontype"
	requestIDHeader    = "sap-adt-request-id"
	profilingHeader    = "sap-adt-profiling"
	profilingValue     = "server-time"
)

// Default media types.
const (
	defaultAccept          = "application/xml"
	defaultTextContentType = "text/plain; charset=utf-8"
)

// Usage-references endpoints speak their own vendor media types; requests
// there default to these instead of the plain text body type. Named special
// case, not a general rule.
const (
	usageReferencesSuffix      = "/usageReferences"
	usageReferencesContentType = "application/vnd.sap.adt.repository.usagereferences.request.v1+xml"
	usageReferencesAccept      = "application/vnd.sap.adt.repository.usagereferences.result.v1+xml"
)

// HTTPDoer is an interface for executing HTTP requests.
// This abstraction allows for easy testing with mock implementations.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestOptions contains options for an HTTP request.
type RequestOptions struct {
	Method      string
	Headers     map[string]string
	Query       url.Values
	Body        []byte
	ContentType string
	Accept      string
	// Timeout overrides the configured request timeout for this call.
	Timeout time.Duration
}

// Response wraps an HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport executes requests against the ADT API for one logical
// connection. It assembles session, authorization, CSRF and cookie headers,
// ingests response cookies, and applies the retry decision table to failed
// responses. One Transport owns exactly one cookie jar, one cached CSRF
// token, one session id and one credential; instances are independent.
type Transport struct {
	config     *Config
	httpClient HTTPDoer
	auth       authStrategy
	session    *session
	logger     Logger

	// At most one token-endpoint call per expiry event, however many
	// concurrent requests observe the expiry.
	refreshGroup singleflight.Group
}

// NewTransport creates a Transport with the given configuration.
func NewTransport(cfg *Config) (*Transport, error) {
	return NewTransportWithClient(cfg, cfg.NewHTTPClient())
}

// NewTransportWithClient creates a Transport with a custom HTTP client.
// This is useful for testing with mock HTTP clients.
func NewTransportWithClient(cfg *Config, client HTTPDoer) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transport{
		config:     cfg,
		httpClient: client,
		auth:       newAuthStrategy(cfg),
		session:    newSession(cfg.SessionID, cfg.SessionType),
		logger:     cfg.Logger,
	}, nil
}

// Connect warms up the connection by fetching a CSRF token and the session
// cookies that come with it. For basic connections a failure here is
// advisory: it is logged and the request-time recovery paths take over on
// first real use. For bearer connections the failure propagates after the
// usual permission/refresh classification.
func (t *Transport) Connect(ctx context.Context) error {
	err := t.fetchCSRFTokenAuth(ctx, csrfQuickAttempts, csrfQuickDelay)
	if err == nil {
		return nil
	}
	if t.auth.kind() == AuthBasic {
		t.logger.Warnf("connect: CSRF warm-up failed, will recover on first request: %v", err)
		return nil
	}
	return err
}

// Request performs one HTTP request through the session pipeline.
func (t *Transport) Request(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	// Opportunistic CSRF fetch before a mutating request. Failure is
	// swallowed: the recovery branch below is the authoritative path.
	if isModifyingMethod(method) && t.session.csrfToken() == "" {
		if err := t.fetchCSRFToken(ctx, csrfQuickAttempts, csrfQuickDelay); err != nil {
			t.logger.Debugf("opportunistic CSRF fetch failed: %v", err)
		}
	}

	resp, err := t.send(ctx, method, path, opts)
	if err != nil {
		// Network failures are never retried; this takes precedence over
		// every other classification.
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}

	switch {
	case t.auth.kind() != AuthBearer && t.isCSRFRejection(method, resp):
		return t.replayWithFreshCSRF(ctx, method, path, opts)
	case t.auth.kind() == AuthBasic && resp.StatusCode == http.StatusUnauthorized && method == http.MethodGet:
		return t.replayWithCookies(ctx, method, path, opts, resp)
	case t.auth.kind() == AuthBearer && isUnauthorizedStatus(resp.StatusCode):
		return t.replayAfterRefresh(ctx, method, path, opts, resp)
	}

	return nil, t.apiError(resp, path)
}

// isCSRFRejection detects a CSRF-invalid response: a 403 mentioning CSRF,
// any body mentioning the CSRF token, or a 401 on a mutating request sent
// before a token was cached. Bearer connections never take this branch;
// their 401/403 handling belongs to the refresh path.
func (t *Transport) isCSRFRejection(method string, resp *Response) bool {
	body := strings.ToLower(string(resp.Body))
	if resp.StatusCode == http.StatusForbidden && strings.Contains(body, "csrf") {
		return true
	}
	if strings.Contains(body, "csrf token") {
		return true
	}
	return resp.StatusCode == http.StatusUnauthorized && isModifyingMethod(method) && t.session.csrfToken() == ""
}

// replayWithFreshCSRF re-fetches the token with the larger recovery budget
// and replays the request exactly once. Whatever the replay returns is
// final.
func (t *Transport) replayWithFreshCSRF(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	if err := t.fetchCSRFToken(ctx, csrfRecoveryAttempts, csrfRecoveryDelay); err != nil {
		return nil, err
	}
	resp, err := t.send(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, t.apiError(resp, path)
	}
	return resp, nil
}

// replayWithCookies handles 401 on GET under basic auth: if the error
// response itself established cookies (send already ingested them), replay
// with them; otherwise run one CSRF fetch solely to obtain cookies and
// replay if that produced any. With no cookies to offer, the original
// failure stands.
func (t *Transport) replayWithCookies(ctx context.Context, method, path string, opts *RequestOptions, orig *Response) (*Response, error) {
	if t.session.cookieCount() == 0 {
		if err := t.fetchCSRFToken(ctx, csrfQuickAttempts, csrfQuickDelay); err != nil {
			t.logger.Debugf("cookie acquisition fetch failed: %v", err)
		}
	}
	if t.session.cookieCount() == 0 {
		return nil, t.apiError(orig, path)
	}

	resp, err := t.send(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, t.apiError(resp, path)
	}
	return resp, nil
}

// replayAfterRefresh handles 401/403 under bearer auth: a permission-marker
// match is terminal and never refreshed; otherwise the credentials are
// refreshed (deduplicated across callers) and the request replayed exactly
// once. A second auth failure after a successful refresh is terminal, never
// another refresh.
func (t *Transport) replayAfterRefresh(ctx context.Context, method, path string, opts *RequestOptions, orig *Response) (*Response, error) {
	body := string(orig.Body)
	if matchesPermissionMarkers(body, t.config.permissionMarkers()) {
		return nil, &PermissionError{Status: orig.StatusCode, Body: truncateBody(body)}
	}
	if !t.config.canRefresh() {
		return nil, &AuthError{Status: orig.StatusCode, Body: truncateBody(body)}
	}
	if err := t.refreshCredentials(ctx); err != nil {
		return nil, err
	}

	// The refresh cleared CSRF token and cookies; a mutating replay needs a
	// token for the new session first.
	if isModifyingMethod(method) && t.session.csrfToken() == "" {
		if err := t.fetchCSRFToken(ctx, csrfQuickAttempts, csrfQuickDelay); err != nil {
			t.logger.Debugf("CSRF fetch after refresh failed: %v", err)
		}
	}

	resp, err := t.send(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	if isUnauthorizedStatus(resp.StatusCode) {
		replayBody := string(resp.Body)
		if matchesPermissionMarkers(replayBody, t.config.permissionMarkers()) {
			return nil, &PermissionError{Status: resp.StatusCode, Body: truncateBody(replayBody)}
		}
		return nil, &AuthError{Status: resp.StatusCode, Body: truncateBody(replayBody)}
	}
	if resp.StatusCode >= 400 {
		return nil, t.apiError(resp, path)
	}
	return resp, nil
}

// refreshCredentials obtains a fresh bearer token and clears the session's
// CSRF token and cookies along with the swap: a new token implies a new
// SAP-side session and stale artifacts must not survive it. Concurrent
// callers share one token-endpoint call and its outcome through the
// singleflight group; a caller whose context expires stops waiting without
// cancelling the shared refresh.
func (t *Transport) refreshCredentials(ctx context.Context) error {
	ch := t.refreshGroup.DoChan("refresh", func() (any, error) {
		refresher := t.refresher()
		if refresher == nil {
			return nil, &RefreshError{Err: errors.New("no refresh capability configured")}
		}
		// Background context: one caller's cancellation must not poison the
		// refresh other waiters depend on.
		if _, err := refresher.Refresh(context.Background()); err != nil {
			return nil, &RefreshError{Err: err}
		}
		t.session.reset()
		t.logger.Infof("credentials refreshed, session artifacts cleared")
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresher returns the connection's renewal capability, nil when the scheme
// or configuration has none.
func (t *Transport) refresher() Refresher {
	if bearer, ok := t.auth.(*bearerStrategy); ok {
		return bearer.refresher
	}
	return nil
}

// send executes one HTTP exchange: build the URL and headers, run the call,
// ingest response cookies. Errors returned here are infrastructure-level;
// HTTP error statuses come back as a Response for the caller to classify.
func (t *Transport) send(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	reqURL, err := t.buildURL(path, opts.Query)
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = t.config.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Recreate the body reader per call; a replay must not see a consumed
	// reader.
	var bodyReader io.Reader
	if opts.Body != nil {
		bodyReader = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if err := t.applyHeaders(ctx, req, method, opts); err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	// Error responses may carry session-establishing cookies; ingest always.
	t.session.ingestCookies(resp.Header)

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// applyHeaders assembles the outbound header set. Caller headers are merged
// early and never override Authorization, the CSRF header or Cookie; those
// belong to the engine.
func (t *Transport) applyHeaders(ctx context.Context, req *http.Request, method string, opts *RequestOptions) error {
	accept := opts.Accept
	contentType := opts.ContentType

	if strings.HasSuffix(req.URL.Path, usageReferencesSuffix) {
		if contentType == "" {
			contentType = usageReferencesContentType
		}
		if accept == "" {
			accept = usageReferencesAccept
		}
	}
	if accept == "" {
		accept = defaultAccept
	}
	req.Header.Set("Accept", accept)

	if opts.Body != nil && contentType == "" && (method == http.MethodPost || method == http.MethodPut) {
		contentType = defaultTextContentType
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for k, v := range opts.Headers {
		switch http.CanonicalHeaderKey(k) {
		case "Authorization", "Cookie", "X-Csrf-Token":
			continue
		}
		req.Header.Set(k, v)
	}

	req.Header.Set(connectionIDHeader, t.session.sessionID())
	if t.session.sessionMode() == SessionStateful {
		req.Header.Set(sessionTypeHeader, "stateful")
		req.Header.Set(requestIDHeader, newRequestID())
		req.Header.Set(profilingHeader, profilingValue)
	}

	auth, err := t.auth.header(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)

	if isModifyingMethod(method) {
		if token := t.session.csrfToken(); token != "" {
			req.Header.Set(csrfTokenHeader, token)
		}
	}

	if cookies := t.session.cookieHeader(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
	return nil
}

// buildURL constructs the full URL for an API request.
func (t *Transport) buildURL(path string, query url.Values) (string, error) {
	base := strings.TrimSuffix(t.config.BaseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u, err := url.Parse(base + path)
	if err != nil {
		return "", err
	}

	// Merge query parameters
	q := u.Query()
	if t.config.Client != "" {
		q.Set("sap-client", t.config.Client)
	}
	if t.config.Language != "" {
		q.Set("sap-language", t.config.Language)
	}
	for k, v := range query {
		for _, val := range v {
			q.Add(k, val)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// apiError wraps an HTTP error status no recovery branch claimed.
func (t *Transport) apiError(resp *Response, path string) error {
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    truncateBody(string(resp.Body)),
		Path:       path,
	}
}

// Reset clears the CSRF token, the cookie jar and any pooled connections.
// Configuration and session id survive; a second Reset on already-empty
// state is a no-op.
func (t *Transport) Reset() {
	t.session.reset()
	if closer, ok := t.httpClient.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

// isModifyingMethod returns true for HTTP methods that modify server state
// and therefore carry the CSRF token.
func isModifyingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// newRequestID generates the per-request id sent in stateful mode: a UUID
// with the dashes stripped, uppercased.
func newRequestID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
