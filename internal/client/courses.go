package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CourseQuery filters and paginates the remote course catalog
type CourseQuery struct {
	Page     int
	PerPage  int
	Search   string
	Category string
}

// RemoteCourse is the normalized shape of a course in the remote catalog.
// The server is inconsistent about field names and duration formats across
// endpoints; normalization happens here so nothing downstream ever sees the
// raw payloads.
type RemoteCourse struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Instructor      string `json:"instructor"`
	Category        string `json:"category"`
	Thumbnail       string `json:"thumbnail"`
	SectionCount    int    `json:"sectionCount"`
	LessonCount     int    `json:"lessonCount"`
	DurationMinutes int    `json:"durationMinutes"`
}

// RemoteSection is a section within a remote course
type RemoteSection struct {
	ID       int64          `json:"id"`
	Title    string         `json:"title"`
	Position int            `json:"position"`
	Lessons  []RemoteLesson `json:"lessons"`
}

// RemoteLesson is a lesson within a remote section
type RemoteLesson struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	Position        int    `json:"position"`
	DurationMinutes int    `json:"durationMinutes"`
}

// CourseDetails is a course with its full content tree
type CourseDetails struct {
	RemoteCourse
	Sections []RemoteSection `json:"sections"`
}

// MediaInfo describes one downloadable media asset
type MediaInfo struct {
	ID       int64  `json:"id"`
	LessonID int64  `json:"lessonId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Checksum string `json:"checksum"`
	Quality  string `json:"quality"`
}

// rawCourse accepts the field-name variants different LMS endpoints use
// for the same data.
type rawCourse struct {
	ID           int64           `json:"id"`
	Title        string          `json:"title"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Excerpt      string          `json:"excerpt"`
	Instructor   string          `json:"instructor"`
	InstructorID json.RawMessage `json:"instructor_name"`
	Category     string          `json:"category"`
	Categories   []string        `json:"categories"`
	Thumbnail    string          `json:"thumbnail"`
	Image        string          `json:"image"`
	SectionCount int             `json:"section_count"`
	LessonCount  int             `json:"lesson_count"`
	Duration     json.RawMessage `json:"duration"`
}

type rawSection struct {
	ID       int64       `json:"id"`
	Title    string      `json:"title"`
	Name     string      `json:"name"`
	Position int         `json:"position"`
	Order    int         `json:"order"`
	Lessons  []rawLesson `json:"lessons"`
	Items    []rawLesson `json:"items"`
}

type rawLesson struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Position int             `json:"position"`
	Order    int             `json:"order"`
	Duration json.RawMessage `json:"duration"`
}

// GetCourses fetches one page of the enrolled-course catalog
func (c *Client) GetCourses(ctx context.Context, q CourseQuery) ([]RemoteCourse, error) {
	query := url.Values{}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}
	if q.Category != "" {
		query.Set("category", q.Category)
	}

	var raw struct {
		Courses []rawCourse `json:"courses"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/wp-json/course-vault/v1/courses", query, nil, &raw); err != nil {
		return nil, err
	}

	courses := make([]RemoteCourse, 0, len(raw.Courses))
	for _, rc := range raw.Courses {
		courses = append(courses, normalizeCourse(rc))
	}
	return courses, nil
}

// GetCourseDetails fetches a course together with its sections and lessons
func (c *Client) GetCourseDetails(ctx context.Context, courseID int64) (*CourseDetails, error) {
	var raw struct {
		rawCourse
		Sections []rawSection `json:"sections"`
	}
	path := fmt.Sprintf("/wp-json/course-vault/v1/courses/%d", courseID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}

	details := &CourseDetails{
		RemoteCourse: normalizeCourse(raw.rawCourse),
		Sections:     make([]RemoteSection, 0, len(raw.Sections)),
	}

	lessonTotal := 0
	durationTotal := 0
	for i, rs := range raw.Sections {
		section := RemoteSection{
			ID:       rs.ID,
			Title:    firstNonEmpty(rs.Title, rs.Name),
			Position: firstPositive(rs.Position, rs.Order, i+1),
		}
		rawLessons := rs.Lessons
		if len(rawLessons) == 0 {
			rawLessons = rs.Items
		}
		for j, rl := range rawLessons {
			lesson := RemoteLesson{
				ID:              rl.ID,
				Title:           firstNonEmpty(rl.Title, rl.Name),
				Type:            rl.Type,
				Position:        firstPositive(rl.Position, rl.Order, j+1),
				DurationMinutes: parseDurationMinutes(rl.Duration),
			}
			durationTotal += lesson.DurationMinutes
			section.Lessons = append(section.Lessons, lesson)
		}
		lessonTotal += len(section.Lessons)
		details.Sections = append(details.Sections, section)
	}

	// derive counts and total duration when the server omits them
	if details.SectionCount == 0 {
		details.SectionCount = len(details.Sections)
	}
	if details.LessonCount == 0 {
		details.LessonCount = lessonTotal
	}
	if details.DurationMinutes == 0 {
		details.DurationMinutes = durationTotal
	}
	return details, nil
}

// GetLessonContent fetches the rendered body of a text, quiz or assignment
// lesson. Video and audio lessons carry no body; the server returns an empty
// content field for them.
func (c *Client) GetLessonContent(ctx context.Context, lessonID int64) (string, error) {
	var raw struct {
		ID      int64  `json:"id"`
		Content string `json:"content"`
	}
	path := fmt.Sprintf("/wp-json/course-vault/v1/lessons/%d/content", lessonID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return "", err
	}
	return raw.Content, nil
}

// GetMediaInfo fetches the downloadable assets of a course
func (c *Client) GetMediaInfo(ctx context.Context, courseID int64) ([]MediaInfo, error) {
	var raw struct {
		Media []MediaInfo `json:"media"`
	}
	path := fmt.Sprintf("/wp-json/course-vault/v1/courses/%d/media", courseID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw.Media, nil
}

func normalizeCourse(rc rawCourse) RemoteCourse {
	category := rc.Category
	if category == "" && len(rc.Categories) > 0 {
		category = rc.Categories[0]
	}
	return RemoteCourse{
		ID:              rc.ID,
		Title:           firstNonEmpty(rc.Title, rc.Name),
		Description:     firstNonEmpty(rc.Description, rc.Excerpt),
		Instructor:      firstNonEmpty(rc.Instructor, rawString(rc.InstructorID)),
		Category:        category,
		Thumbnail:       firstNonEmpty(rc.Thumbnail, rc.Image),
		SectionCount:    rc.SectionCount,
		LessonCount:     rc.LessonCount,
		DurationMinutes: parseDurationMinutes(rc.Duration),
	}
}

// parseDurationMinutes canonicalizes the duration formats the server emits:
// a bare integer is minutes, "H:MM:SS" and "MM:SS" strings are converted,
// anything unparseable is zero.
func parseDurationMinutes(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var minutes int
	if err := json.Unmarshal(raw, &minutes); err == nil {
		if minutes < 0 {
			return 0
		}
		return minutes
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	// plain numeric string
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}

	parts := strings.Split(s, ":")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0
		}
		nums = append(nums, n)
	}

	switch len(nums) {
	case 2: // MM:SS
		return nums[0] + roundSeconds(nums[1])
	case 3: // H:MM:SS
		return nums[0]*60 + nums[1] + roundSeconds(nums[2])
	default:
		return 0
	}
}

// roundSeconds rounds a seconds remainder to the nearest whole minute
func roundSeconds(s int) int {
	if s >= 30 {
		return 1
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
