package models

import "time"

// LessonType represents the kind of content a lesson carries
type LessonType string

const (
	LessonTypeVideo      LessonType = "video"
	LessonTypeText       LessonType = "text"
	LessonTypeQuiz       LessonType = "quiz"
	LessonTypeAssignment LessonType = "assignment"
	LessonTypePDF        LessonType = "pdf"
	LessonTypeAudio      LessonType = "audio"
)

// ValidLessonType reports whether t is a known lesson type
func ValidLessonType(t LessonType) bool {
	switch t {
	case LessonTypeVideo, LessonTypeText, LessonTypeQuiz,
		LessonTypeAssignment, LessonTypePDF, LessonTypeAudio:
		return true
	}
	return false
}

// Lesson represents a single lesson stored in the vault.
// Content is the encrypted content envelope; it is only decrypted on read.
type Lesson struct {
	ID               int64      `json:"id"`
	SectionID        int64      `json:"sectionId"`
	CourseID         int64      `json:"courseId"`
	Title            string     `json:"title"`
	Type             LessonType `json:"type"`
	Content          []byte     `json:"-"`
	Position         int        `json:"position"`
	Completed        bool       `json:"completed"`
	Progress         int        `json:"progress"`
	PlaybackPosition int        `json:"playbackPosition,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}
