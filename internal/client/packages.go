package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PackageState is the server-side state of a course package
type PackageState string

const (
	PackagePending    PackageState = "pending"
	PackageProcessing PackageState = "processing"
	PackageReady      PackageState = "ready"
	PackageExpired    PackageState = "expired"
	PackageError      PackageState = "error"
)

// PackageOptions selects what goes into a course package
type PackageOptions struct {
	Quality      string `json:"quality,omitempty"`
	IncludeMedia bool   `json:"includeMedia"`
}

// PackageHandle identifies a server-side packaging job
type PackageHandle struct {
	ID       string       `json:"packageId"`
	CourseID int64        `json:"courseId"`
	State    PackageState `json:"state"`
}

// PackageStatus is one poll result for a packaging job
type PackageStatus struct {
	ID          string       `json:"packageId"`
	State       PackageState `json:"state"`
	DownloadURL string       `json:"downloadUrl,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// CreateCoursePackage asks the server to bundle a course's assets. The
// returned handle is usually still pending; callers poll it to readiness
// with PollPackage.
func (c *Client) CreateCoursePackage(ctx context.Context, courseID int64, opts PackageOptions) (*PackageHandle, error) {
	var handle PackageHandle
	path := fmt.Sprintf("/wp-json/course-vault/v1/courses/%d/package", courseID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, opts, &handle); err != nil {
		return nil, err
	}
	handle.CourseID = courseID
	if handle.State == "" {
		handle.State = PackagePending
	}

	c.log.Info("course package requested",
		zap.Int64("courseId", courseID),
		zap.String("packageId", handle.ID))
	return &handle, nil
}

// GetPackageStatus fetches the current state of a packaging job
func (c *Client) GetPackageStatus(ctx context.Context, packageID string) (*PackageStatus, error) {
	var status PackageStatus
	path := fmt.Sprintf("/wp-json/course-vault/v1/packages/%s", packageID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// PollPackage polls a packaging job until it is ready or fails. Polling
// stops after deadline with ErrPackageTimeout; expired and errored packages
// surface as *HTTPError so the caller sees the server's message.
func (c *Client) PollPackage(ctx context.Context, packageID string, interval, deadline time.Duration) (*PackageStatus, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetPackageStatus(ctx, packageID)
		if err != nil {
			return nil, err
		}

		switch status.State {
		case PackageReady:
			return status, nil
		case PackageExpired:
			return nil, &HTTPError{Status: http.StatusGone, Code: "package_expired", Message: "package expired before download"}
		case PackageError:
			return nil, &HTTPError{Status: http.StatusInternalServerError, Code: "package_error", Message: status.Message}
		case PackagePending, PackageProcessing:
			// keep polling
		default:
			return nil, fmt.Errorf("unknown package state %q", status.State)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			c.log.Warn("package polling deadline exceeded",
				zap.String("packageId", packageID),
				zap.Duration("deadline", deadline))
			return nil, ErrPackageTimeout
		case <-ticker.C:
		}
	}
}
