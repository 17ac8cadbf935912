package models

// DownloadStatus represents the lifecycle state of a course download
type DownloadStatus string

const (
	DownloadStatusQueued      DownloadStatus = "queued"
	DownloadStatusPackaging   DownloadStatus = "packaging"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusEncrypting  DownloadStatus = "encrypting"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusPartial     DownloadStatus = "partial"
	DownloadStatusFailed      DownloadStatus = "failed"
	DownloadStatusCancelled   DownloadStatus = "cancelled"
)

// Terminal reports whether the status ends a download
func (s DownloadStatus) Terminal() bool {
	switch s {
	case DownloadStatusCompleted, DownloadStatusPartial,
		DownloadStatusFailed, DownloadStatusCancelled:
		return true
	}
	return false
}

// DownloadProgress is one progress update emitted while a course downloads.
// Percent is monotonically non-decreasing for a given course; consumers may
// observe the same course id repeatedly and must treat a repeated terminal
// status as a no-op.
type DownloadProgress struct {
	CourseID    int64          `json:"courseId"`
	Status      DownloadStatus `json:"status"`
	Percent     float64        `json:"percent"`
	CurrentFile string         `json:"currentFile,omitempty"`
}

// FileError records a single failed asset inside an otherwise successful download
type FileError struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// DownloadResult is the terminal outcome of a course download
type DownloadResult struct {
	CourseID   int64          `json:"courseId"`
	Status     DownloadStatus `json:"status"`
	FilesTotal int            `json:"filesTotal"`
	FilesOK    int            `json:"filesOk"`
	FileErrors []FileError    `json:"fileErrors,omitempty"`
}
