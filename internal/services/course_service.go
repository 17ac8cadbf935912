// Package services implements the use-case layer: course access, download
// orchestration and outbox synchronization on top of the vault and the
// remote client.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/vault"
)

// CourseStore defines the course persistence methods the services need
type CourseStore interface {
	// SaveContent persists a course tree transactionally
	SaveContent(ctx context.Context, course *models.Course, sections []models.Section, lessons []models.Lesson) error
	// GetByID retrieves a course by its ID
	GetByID(ctx context.Context, id int64) (*models.Course, error)
	// List retrieves all locally stored courses
	List(ctx context.Context) ([]models.CourseListItem, error)
	// ListByDownloadStatus retrieves course ids in the given download state
	ListByDownloadStatus(ctx context.Context, status models.DownloadStatus) ([]int64, error)
	// SetDownloadStatus updates the course download state
	SetDownloadStatus(ctx context.Context, id int64, status models.DownloadStatus) error
	// TouchLastAccessed sets the course last-accessed timestamp
	TouchLastAccessed(ctx context.Context, id int64, at time.Time) error
	// Delete removes a course and its content tree
	Delete(ctx context.Context, id int64) error
}

// SectionStore defines the section read methods the services need
type SectionStore interface {
	// GetByCourse retrieves the sections of a course in display order
	GetByCourse(ctx context.Context, courseID int64) ([]models.Section, error)
}

// LessonStore defines the lesson persistence methods the services need
type LessonStore interface {
	// GetByID retrieves a lesson by its ID
	GetByID(ctx context.Context, id int64) (*models.Lesson, error)
	// GetByCourse retrieves all lessons of a course
	GetByCourse(ctx context.Context, courseID int64) ([]models.Lesson, error)
	// UpdateProgress updates progress and playback position, enqueueing
	// the matching outbox entry in the same transaction
	UpdateProgress(ctx context.Context, lessonID int64, progress, playbackPosition int) error
	// SetContent replaces the encrypted content blob of a lesson
	SetContent(ctx context.Context, lessonID int64, content []byte) error
}

// MediaStore defines the media persistence methods the services need
type MediaStore interface {
	// Insert stores a media record and returns its generated id
	Insert(ctx context.Context, m *models.Media) (int64, error)
	// GetByID retrieves a media record by its ID
	GetByID(ctx context.Context, id int64) (*models.Media, error)
	// GetByCourse retrieves all media records of a course
	GetByCourse(ctx context.Context, courseID int64) ([]models.Media, error)
}

// ContentCipher defines the buffer encryption methods the services need
type ContentCipher interface {
	// Encrypt seals a buffer into an envelope
	Encrypt(plaintext, key []byte) ([]byte, error)
	// Decrypt opens an envelope, failing on any tampering
	Decrypt(envelope, key []byte) ([]byte, error)
}

// CourseContent is a course together with its full local content tree
type CourseContent struct {
	Course   *models.Course   `json:"course"`
	Sections []models.Section `json:"sections"`
	Lessons  []models.Lesson  `json:"lessons"`
}

// CourseService exposes local course access and lesson progress writes
type CourseService struct {
	courses  CourseStore
	sections SectionStore
	lessons  LessonStore
	media    MediaStore
	cipher   ContentCipher
	key      []byte
	mediaDir string
	log      *zap.Logger
}

// NewCourseService creates a new course service
func NewCourseService(courses CourseStore, sections SectionStore, lessons LessonStore, media MediaStore, cipher ContentCipher, key []byte, mediaDir string, log *zap.Logger) *CourseService {
	return &CourseService{
		courses:  courses,
		sections: sections,
		lessons:  lessons,
		media:    media,
		cipher:   cipher,
		key:      key,
		mediaDir: mediaDir,
		log:      log,
	}
}

// ListLocal returns all locally stored courses
func (s *CourseService) ListLocal(ctx context.Context) ([]models.CourseListItem, error) {
	return s.courses.List(ctx)
}

// GetCourse returns a course with its sections and lessons and bumps its
// last-accessed timestamp.
func (s *CourseService) GetCourse(ctx context.Context, courseID int64) (*CourseContent, error) {
	course, err := s.courses.GetByID(ctx, courseID)
	if err != nil {
		return nil, err
	}
	sections, err := s.sections.GetByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	lessons, err := s.lessons.GetByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if err := s.courses.TouchLastAccessed(ctx, courseID, time.Now()); err != nil {
		s.log.Warn("failed to update last-accessed time",
			zap.Int64("courseId", courseID), zap.Error(err))
	}

	return &CourseContent{Course: course, Sections: sections, Lessons: lessons}, nil
}

// GetLessonText decrypts and returns the text content of a lesson
func (s *CourseService) GetLessonText(ctx context.Context, lessonID int64) (string, error) {
	lesson, err := s.lessons.GetByID(ctx, lessonID)
	if err != nil {
		return "", err
	}
	if len(lesson.Content) == 0 {
		return "", nil
	}

	plaintext, err := s.cipher.Decrypt(lesson.Content, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt lesson content: %w", err)
	}
	return string(plaintext), nil
}

// UpdateLessonProgress records lesson progress (0-100) and the playback
// position. The sync outbox entry is written by the vault in the same
// transaction.
func (s *CourseService) UpdateLessonProgress(ctx context.Context, lessonID int64, progress, playbackPosition int) error {
	return s.lessons.UpdateProgress(ctx, lessonID, progress, playbackPosition)
}

// CompleteLesson marks a lesson fully completed
func (s *CourseService) CompleteLesson(ctx context.Context, lessonID int64) error {
	lesson, err := s.lessons.GetByID(ctx, lessonID)
	if err != nil {
		return err
	}
	return s.lessons.UpdateProgress(ctx, lessonID, 100, lesson.PlaybackPosition)
}

// DeleteCourse removes a course's encrypted media files and then its vault
// rows. Deletion is always explicit, even for expired courses; expiry only
// hides content from playback.
func (s *CourseService) DeleteCourse(ctx context.Context, courseID int64) error {
	media, err := s.media.GetByCourse(ctx, courseID)
	if err != nil && !errors.Is(err, vault.ErrNotFound) {
		return err
	}

	for _, m := range media {
		path := filepath.Join(s.mediaDir, m.EncryptedPath)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove media file",
				zap.String("path", path), zap.Error(err))
		}
	}
	if err := os.Remove(filepath.Join(s.mediaDir, fmt.Sprint(courseID))); err != nil && !os.IsNotExist(err) {
		s.log.Debug("course media directory not removed", zap.Error(err))
	}

	if err := s.courses.Delete(ctx, courseID); err != nil {
		return err
	}

	s.log.Info("course deleted", zap.Int64("courseId", courseID))
	return nil
}
