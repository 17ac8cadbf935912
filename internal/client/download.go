package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	downloadAttempts = 4
	backoffBase      = 500 * time.Millisecond
)

// ProgressFunc receives download progress as bytes written so far against
// the expected total. Total is -1 when the server does not report a length.
type ProgressFunc func(written, total int64)

// DownloadFile fetches url into destination. A partial file already at
// destination is continued with a Range request and appended to, never
// overwritten. Transient failures retry with exponential backoff up to a
// fixed attempt ceiling.
func (c *Client) DownloadFile(ctx context.Context, url, destination string, onProgress ProgressFunc) error {
	var lastErr error
	for attempt := 0; attempt < downloadAttempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			c.log.Debug("retrying download",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.downloadOnce(ctx, url, destination, onProgress)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryableDownloadError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", downloadAttempts, lastErr)
}

func (c *Client) downloadOnce(ctx context.Context, url, destination string, onProgress ProgressFunc) error {
	var offset int64
	if info, err := os.Stat(destination); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Device-ID", c.deviceID)
	if token, ok := c.session.accessToken(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.record(time.Since(start), true)
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	c.metrics.record(time.Since(start), resp.StatusCode >= 400)

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		// server honored the range, continue the partial file
		flags |= os.O_APPEND
	case http.StatusOK:
		// full body; an existing partial file is stale
		flags |= os.O_TRUNC
		offset = 0
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.statusError(resp.StatusCode, body)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	out, err := os.OpenFile(destination, flags, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}
	defer out.Close()

	written := offset
	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write file: %w", writeErr)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &NetworkError{Err: fmt.Errorf("download interrupted: %w", readErr)}
		}
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	c.log.Debug("download finished",
		zap.String("destination", destination),
		zap.Int64("bytes", written))
	return nil
}

// retryableDownloadError reports whether another attempt may succeed:
// transport failures and 5xx/429 responses retry, everything else is final.
func retryableDownloadError(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500 || httpErr.Status == http.StatusTooManyRequests
	}
	return false
}
