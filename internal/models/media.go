package models

// MediaType represents the kind of media file stored in the vault
type MediaType string

const (
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
	MediaTypeImage    MediaType = "image"
	MediaTypeArchive  MediaType = "archive"
)

// ValidMediaType reports whether t is a known media type
func ValidMediaType(t MediaType) bool {
	switch t {
	case MediaTypeVideo, MediaTypeAudio, MediaTypeDocument,
		MediaTypeImage, MediaTypeArchive:
		return true
	}
	return false
}

// Media represents an encrypted media file belonging to a lesson and/or course.
// EncryptedPath points at the on-disk AEAD envelope; SourceURL holds the
// encrypted remote origin for later refresh.
type Media struct {
	ID            int64     `json:"id"`
	CourseID      int64     `json:"courseId"`
	LessonID      *int64    `json:"lessonId,omitempty"`
	Type          MediaType `json:"type"`
	EncryptedPath string    `json:"-"`
	SourceURL     string    `json:"-"`
	Size          int64     `json:"size"`
	MimeType      string    `json:"mimeType"`
	Checksum      string    `json:"checksum,omitempty"`
	Duration      int       `json:"duration,omitempty"`
	Resolution    string    `json:"resolution,omitempty"`
	Bitrate       int       `json:"bitrate,omitempty"`
	Quality       string    `json:"quality,omitempty"`
}
