package adt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CSRF protocol constants.
const (
	csrfTokenHeader = "x-csrf-token"
	csrfFetchValue  = "fetch"
	discoveryAccept = "application/atomsvc+xml"
)

// CSRF fetch retry budgets. The opportunistic fetch before a mutating
// request fails fast and its failure is swallowed; the recovery fetch after
// a CSRF rejection tries harder because it is the authoritative path.
const (
	csrfQuickAttempts    = 3
	csrfRecoveryAttempts = 5
	csrfFetchTimeout     = 15 * time.Second
)

// Delays between fetch attempts, variables so tests can shrink them.
var (
	csrfQuickDelay    = 1 * time.Second
	csrfRecoveryDelay = 2 * time.Second
)

// fetchCSRFToken requests a token from the discovery endpoint, retrying up
// to attempts times with delay between attempts. Session cookies are
// ingested from every response, success or failure: SAP hands out
// session-establishing cookies even when the fetch itself fails. Success
// means the response carries the token header regardless of status; the
// discovery resource answers 405 to some configurations and still issues a
// token.
func (t *Transport) fetchCSRFToken(ctx context.Context, attempts int, delay time.Duration) error {
	reqURL, err := t.buildURL(t.config.DiscoveryPath, nil)
	if err != nil {
		return fmt.Errorf("building discovery URL: %w", err)
	}

	var lastStatus int
	var lastBody string
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		status, body, err := t.csrfAttempt(ctx, reqURL)
		if err == nil {
			return nil
		}
		lastErr = err
		if status != 0 {
			lastStatus = status
			lastBody = body
		}
		t.logger.Debugf("CSRF fetch attempt %d/%d failed: %v", attempt+1, attempts, err)
	}

	return &CSRFError{Status: lastStatus, Body: truncateBody(lastBody), Err: lastErr}
}

// csrfAttempt issues one discovery request and caches the token on success.
// Returns the observed status and body on failure so the terminal error can
// preserve them.
func (t *Transport) csrfAttempt(ctx context.Context, reqURL string) (int, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, csrfFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating discovery request: %w", err)
	}

	auth, err := t.auth.header(ctx)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set(csrfTokenHeader, csrfFetchValue)
	req.Header.Set("Accept", discoveryAccept)
	if cookies := t.session.cookieHeader(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, "", &NetworkError{Op: "CSRF fetch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", &NetworkError{Op: "CSRF fetch", Err: err}
	}

	// Cookies first, verdict second: error responses establish sessions too.
	t.session.ingestCookies(resp.Header)

	token := resp.Header.Get(csrfTokenHeader)
	if token != "" && token != "Required" {
		t.session.setCSRFToken(token)
		return 0, "", nil
	}

	return resp.StatusCode, string(bytes.TrimSpace(body)), fmt.Errorf("no CSRF token in response (HTTP %d)", resp.StatusCode)
}

// fetchCSRFTokenAuth is fetchCSRFToken plus the bearer recovery contract: a
// 401/403 outcome is classified against the permission markers, then a
// deduplicated credential refresh runs and the fetch is retried exactly
// once. A second authentication failure is terminal. Basic connections get
// the plain fetch.
func (t *Transport) fetchCSRFTokenAuth(ctx context.Context, attempts int, delay time.Duration) error {
	err := t.fetchCSRFToken(ctx, attempts, delay)
	if err == nil || t.auth.kind() != AuthBearer {
		return err
	}

	var csrfErr *CSRFError
	if !errors.As(err, &csrfErr) || !isUnauthorizedStatus(csrfErr.Status) {
		return err
	}
	if matchesPermissionMarkers(csrfErr.Body, t.config.permissionMarkers()) {
		return &PermissionError{Status: csrfErr.Status, Body: csrfErr.Body}
	}
	if !t.config.canRefresh() {
		return &AuthError{Status: csrfErr.Status, Body: csrfErr.Body}
	}
	if err := t.refreshCredentials(ctx); err != nil {
		return err
	}

	err = t.fetchCSRFToken(ctx, attempts, delay)
	if err == nil {
		return nil
	}
	if errors.As(err, &csrfErr) && isUnauthorizedStatus(csrfErr.Status) {
		return &AuthError{Status: csrfErr.Status, Body: csrfErr.Body}
	}
	return err
}

// isUnauthorizedStatus reports whether a status is in auth-failure territory.
func isUnauthorizedStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
