package models

import "time"

// Course represents a downloaded course stored in the vault.
// The ID is the remote LMS course identifier and is unique in the vault.
type Course struct {
	ID             int64             `json:"id"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Instructor     string            `json:"instructor,omitempty"`
	Category       string            `json:"category,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	SectionCount   int               `json:"sectionCount"`
	LessonCount    int               `json:"lessonCount"`
	ThumbnailPath  string            `json:"thumbnailPath,omitempty"`
	Checksum       string            `json:"checksum,omitempty"`
	SchemaVersion  int               `json:"schemaVersion"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	DownloadStatus DownloadStatus    `json:"downloadStatus"`
	DownloadedAt   time.Time         `json:"downloadedAt"`
	LastAccessedAt time.Time         `json:"lastAccessedAt"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
}

// Expired reports whether the course access period has passed.
// An expired course stays in the vault until explicitly deleted.
func (c *Course) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// CourseListItem represents a course in local list responses
type CourseListItem struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Instructor   string     `json:"instructor,omitempty"`
	Category     string     `json:"category,omitempty"`
	SectionCount int        `json:"sectionCount"`
	LessonCount  int        `json:"lessonCount"`
	Completed    int        `json:"completedLessons"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}
