package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options configures a Client
type Options struct {
	// BaseURL is the root of the remote LMS API, e.g. https://lms.example.com
	BaseURL string
	// DeviceID is the stable per-install identifier sent with every request
	DeviceID string
	// Timeout bounds a single HTTP exchange; zero means 30s
	Timeout time.Duration
	// UserAgent overrides the default user agent when set
	UserAgent string
}

// Client is the authenticated HTTP client for the remote LMS API. All
// errors surface as *HTTPError, *NetworkError or *ConfigError; callers
// never see transport-internal error shapes.
type Client struct {
	http      *http.Client
	baseURL   string
	deviceID  string
	userAgent string
	log       *zap.Logger
	session   *session
	metrics   *Metrics
}

// New creates a client for the LMS at opts.BaseURL
func New(opts Options, log *zap.Logger) (*Client, error) {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		return nil, &ConfigError{Message: "base URL is empty"}
	}
	parsed, err := url.Parse(base)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, &ConfigError{Message: fmt.Sprintf("invalid base URL %q", opts.BaseURL)}
	}
	if opts.DeviceID == "" {
		return nil, &ConfigError{Message: "device id is empty"}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "CourseVault/1.0"
	}

	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		baseURL:   base,
		deviceID:  opts.DeviceID,
		userAgent: userAgent,
		log:       log,
		session:   newSession(),
		metrics:   &Metrics{},
	}, nil
}

// State returns the current session state
func (c *Client) State() SessionState {
	return c.session.State()
}

// User returns the logged-in profile, or nil while logged out
func (c *Client) User() *Profile {
	return c.session.User()
}

// Metrics returns a snapshot of the request statistics
func (c *Client) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// apiError is the error body shape the LMS returns for non-2xx responses
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// doJSON performs an authenticated JSON request and decodes the response
// into result. A 401 triggers the refresh protocol and a single replay of
// the original request with the new access token.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, result any) error {
	resp, err := c.doAuthed(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return c.statusError(resp.StatusCode, data)
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// doAuthed sends a request with the current access token and handles the
// 401-refresh-replay cycle. The replay happens at most once per request.
func (c *Client) doAuthed(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	token, ok := c.session.accessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	resp, err := c.doRequest(ctx, method, path, query, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	c.log.Debug("access token rejected, entering refresh",
		zap.String("method", method),
		zap.String("path", path))

	if err := c.session.awaitRefresh(ctx, c.refreshTokens); err != nil {
		return nil, err
	}
	// this caller holds the replay turn; hand it to the next parked
	// request once the retry has completed
	defer c.session.replayDone()

	token, ok = c.session.accessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return c.doRequest(ctx, method, path, query, body, token)
}

// doRequest performs one HTTP exchange. Transport failures come back as
// *NetworkError; the response is returned regardless of status code.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any, token string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Device-ID", c.deviceID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)

	if err != nil {
		c.metrics.record(latency, true)
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.Error(err))
		return nil, &NetworkError{Err: err}
	}

	c.metrics.record(latency, resp.StatusCode >= 400)
	c.log.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency))
	return resp, nil
}

// statusError turns a non-2xx response body into an *HTTPError
func (c *Client) statusError(status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return &HTTPError{Status: status, Code: e.Code, Message: e.Message}
}
