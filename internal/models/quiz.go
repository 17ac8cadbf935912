package models

// Quiz represents a quiz attached to a lesson.
// Questions holds the encrypted question set.
type Quiz struct {
	ID           int64  `json:"id"`
	LessonID     int64  `json:"lessonId"`
	Title        string `json:"title"`
	Questions    []byte `json:"-"`
	PassingGrade int    `json:"passingGrade"`
	TimeLimit    int    `json:"timeLimit,omitempty"`
	Attempts     int    `json:"attempts"`
	BestScore    int    `json:"bestScore"`
}

// Assignment represents an assignment attached to a lesson.
// Instructions holds the encrypted assignment body.
type Assignment struct {
	ID           int64  `json:"id"`
	LessonID     int64  `json:"lessonId"`
	Title        string `json:"title"`
	Instructions []byte `json:"-"`
	MaxGrade     int    `json:"maxGrade"`
	Submitted    bool   `json:"submitted"`
}
