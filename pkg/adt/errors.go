package adt

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBodyLen caps response bodies embedded in error messages.
const maxErrorBodyLen = 2000

// APIError represents an HTTP error response from the ADT API that no
// recovery branch claimed.
type APIError struct {
	StatusCode int
	Message    string
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ADT API error: status %d at %s: %s", e.StatusCode, e.Path, e.Message)
}

// IsNotFound returns true if the error is a 404 Not Found error.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// NetworkError represents an infrastructure-level transport failure:
// connection refused, timeout, DNS failure, reset, unreachable host.
// The engine never retries these.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// CSRFError reports an exhausted CSRF token fetch. Status and Body carry the
// last transport outcome when one was observed.
type CSRFError struct {
	Status int
	Body   string
	Err    error
}

func (e *CSRFError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("CSRF token fetch failed: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("CSRF token fetch failed: %v", e.Err)
}

func (e *CSRFError) Unwrap() error {
	return e.Err
}

// AuthError is a terminal authentication failure. The credential was rejected
// and no further retry is permitted; the caller must re-authenticate.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d), please log in again: %s", e.Status, e.Body)
}

// PermissionError indicates the authenticated user lacks authorization for
// the requested resource. Distinct from AuthError: the credential is valid,
// the principal has no access, and retrying cannot help.
type PermissionError struct {
	Status int
	Body   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied (status %d): user lacks authorization for this resource: %s", e.Status, e.Body)
}

// RefreshError is raised when the credentials expired and the refresh call
// could not obtain new ones. Terminal; the caller must re-authenticate.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("credentials expired and refresh failed, please log in again: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid connection configuration. Raised at
// construction time, never from a network call.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// IsNotFoundError checks if an error is an API 404 Not Found error.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsNotFound()
	}
	return false
}

// IsNetworkError checks if an error is an infrastructure-level transport
// failure.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsCSRFError checks if an error is an exhausted CSRF token fetch.
func IsCSRFError(err error) bool {
	var csrfErr *CSRFError
	return errors.As(err, &csrfErr)
}

// IsAuthFailure checks if an error is a terminal authentication failure that
// requires the caller to re-authenticate. Covers both rejected credentials
// and failed refresh attempts.
func IsAuthFailure(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var refreshErr *RefreshError
	return errors.As(err, &refreshErr)
}

// IsPermissionDenied checks if an error means the authenticated user lacks
// authorization for the resource.
func IsPermissionDenied(err error) bool {
	var permErr *PermissionError
	return errors.As(err, &permErr)
}

// truncateBody shortens a response body for inclusion in error messages.
func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorBodyLen {
		return s
	}
	return s[:maxErrorBodyLen] + "... (truncated)"
}
