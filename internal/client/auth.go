package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// membershipRequiredCode is the error code the LMS sends on a 403 when the
// account exists but carries no active membership.
const membershipRequiredCode = "membership_required"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type tokenResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         *Profile `json:"user,omitempty"`
}

// Login authenticates against the LMS and stores the session in memory.
// Failures are classified into AuthError kinds by HTTP status so callers
// can present distinct reasons for bad credentials, missing membership, a
// misconfigured endpoint, rate limiting and server faults.
func (c *Client) Login(ctx context.Context, username, password string) (*Profile, error) {
	c.session.beginLogin()

	resp, err := c.doRequest(ctx, http.MethodPost, "/wp-json/course-vault/v1/auth/login", nil, loginRequest{
		Username: username,
		Password: password,
		DeviceID: c.deviceID,
	}, "")
	if err != nil {
		c.session.clear()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.session.clear()
		return nil, &NetworkError{Err: fmt.Errorf("failed to read login response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		c.session.clear()
		return nil, classifyAuthFailure(resp.StatusCode, body)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		c.session.clear()
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if tokens.AccessToken == "" {
		c.session.clear()
		return nil, &AuthError{Kind: AuthUnknown, Message: "login response carried no access token"}
	}

	c.session.setAuthenticated(tokenPair{
		accessToken:  tokens.AccessToken,
		refreshToken: tokens.RefreshToken,
		expiresAt:    tokenExpiry(tokens.AccessToken),
	}, tokens.User)

	c.log.Info("logged in",
		zap.String("username", username),
		zap.String("deviceId", c.deviceID))
	return c.session.User(), nil
}

// Logout drops the in-memory session. It is safe to call while logged out.
func (c *Client) Logout() {
	c.session.clear()
	c.log.Info("logged out")
}

// refreshTokens exchanges the refresh token for a new token pair. It runs
// under the session's single-flight guard; a failure here forces logout.
func (c *Client) refreshTokens(refreshToken string) (tokenPair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.http.Timeout)
	defer cancel()

	resp, err := c.doRequest(ctx, http.MethodPost, "/wp-json/course-vault/v1/auth/refresh", nil, map[string]string{
		"refreshToken": refreshToken,
		"deviceId":     c.deviceID,
	}, "")
	if err != nil {
		return tokenPair{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenPair{}, &NetworkError{Err: fmt.Errorf("failed to read refresh response: %w", err)}
	}
	if resp.StatusCode >= 400 {
		c.log.Warn("token refresh rejected", zap.Int("status", resp.StatusCode))
		return tokenPair{}, classifyAuthFailure(resp.StatusCode, body)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return tokenPair{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if tokens.AccessToken == "" {
		return tokenPair{}, &AuthError{Kind: AuthUnknown, Message: "refresh response carried no access token"}
	}

	// the server may rotate the refresh token; keep the old one otherwise
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	c.log.Info("access token refreshed")
	return tokenPair{
		accessToken:  tokens.AccessToken,
		refreshToken: tokens.RefreshToken,
		expiresAt:    tokenExpiry(tokens.AccessToken),
	}, nil
}

// classifyAuthFailure maps an HTTP status to a user-facing AuthError kind
func classifyAuthFailure(status int, body []byte) error {
	var e apiError
	_ = json.Unmarshal(body, &e)

	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{Kind: AuthInvalidCredentials, Message: e.Message}
	case status == http.StatusForbidden && e.Code == membershipRequiredCode:
		return &AuthError{Kind: AuthMembershipRequired, Message: e.Message}
	case status == http.StatusForbidden:
		return &AuthError{Kind: AuthInvalidCredentials, Message: e.Message}
	case status == http.StatusNotFound:
		return &AuthError{Kind: AuthEndpointNotFound, Message: e.Message}
	case status == http.StatusTooManyRequests:
		return &AuthError{Kind: AuthRateLimited, Message: e.Message}
	case status >= 500:
		return &AuthError{Kind: AuthServerError, Message: e.Message}
	default:
		return &AuthError{Kind: AuthUnknown, Message: fmt.Sprintf("unexpected status %d", status)}
	}
}

// tokenExpiry extracts the exp claim from a JWT without verifying the
// signature; the server remains the authority, the expiry is only used to
// schedule refreshes.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
