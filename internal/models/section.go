package models

// Section represents an ordered group of lessons within a course
type Section struct {
	ID          int64  `json:"id"`
	CourseID    int64  `json:"courseId"`
	Title       string `json:"title"`
	Position    int    `json:"position"`
	LessonCount int    `json:"lessonCount"`
}
