// Package client implements the authenticated HTTP client for the remote
// LMS API: login and token refresh, catalog reads, course packaging,
// resumable file downloads and progress push.
package client

import (
	"errors"
	"fmt"
)

// AuthErrorKind classifies login and refresh failures into the distinct
// reasons the caller presents to the user.
type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthMembershipRequired AuthErrorKind = "membership_required"
	AuthEndpointNotFound   AuthErrorKind = "endpoint_not_found"
	AuthRateLimited        AuthErrorKind = "rate_limited"
	AuthServerError        AuthErrorKind = "server_error"
	AuthUnknown            AuthErrorKind = "unknown"
)

// AuthError is a classified authentication failure
type AuthError struct {
	Kind    AuthErrorKind
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth failed: %s", e.Kind)
	}
	return fmt.Sprintf("auth failed: %s: %s", e.Kind, e.Message)
}

// HTTPError is a non-2xx response from the server
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// NetworkError is a transport-level failure: the request never produced an
// HTTP response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ConfigError is a client misconfiguration detected before any request is
// sent.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("client configuration error: %s", e.Message)
}

var (
	// ErrNotAuthenticated is returned for authenticated calls while logged out
	ErrNotAuthenticated = errors.New("client: not authenticated")
	// ErrRefreshQueueFull is returned when too many requests are already
	// parked waiting on an in-flight token refresh
	ErrRefreshQueueFull = errors.New("client: refresh queue full")
	// ErrSessionExpired is returned to parked requests when the refresh
	// that would have revived them failed
	ErrSessionExpired = errors.New("client: session expired")
	// ErrPackageTimeout is returned when package polling exceeds its
	// wall-clock deadline
	ErrPackageTimeout = errors.New("client: package not ready before deadline")
)
