package models

import "time"

// Note represents a user note on a lesson, encrypted at rest
type Note struct {
	ID        int64     `json:"id"`
	LessonID  int64     `json:"lessonId"`
	CourseID  int64     `json:"courseId"`
	Content   []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Certificate represents a course completion certificate
type Certificate struct {
	ID         int64     `json:"id"`
	CourseID   int64     `json:"courseId"`
	Data       []byte    `json:"-"`
	IssuedAt   time.Time `json:"issuedAt"`
	RemoteURL  string    `json:"-"`
	Downloaded bool      `json:"downloaded"`
}
