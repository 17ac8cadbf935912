package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// LessonRepository persists lessons and owns the progress write path.
// Progress and completion changes automatically enqueue a sync-outbox
// entry in the same transaction; UI code never writes the outbox itself.
type LessonRepository struct {
	store *Store
}

// NewLessonRepository creates a new lesson repository
func NewLessonRepository(store *Store) *LessonRepository {
	return &LessonRepository{store: store}
}

const lessonColumns = `id, section_id, course_id, title, type, content,
	position, completed, progress, playback_position, updated_at`

// GetByID retrieves a lesson by its ID
func (r *LessonRepository) GetByID(ctx context.Context, id int64) (*models.Lesson, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = ? LIMIT 1`, id)

	lesson, err := scanLesson(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return lesson, nil
}

// GetBySection retrieves the lessons of a section in display order
func (r *LessonRepository) GetBySection(ctx context.Context, sectionID int64) ([]models.Lesson, error) {
	return r.query(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE section_id = ? ORDER BY position ASC`, sectionID)
}

// GetByCourse retrieves all lessons of a course ordered by section and position
func (r *LessonRepository) GetByCourse(ctx context.Context, courseID int64) ([]models.Lesson, error) {
	return r.query(ctx, `
		SELECT `+lessonColumns+` FROM lessons
		WHERE course_id = ?
		ORDER BY section_id ASC, position ASC`, courseID)
}

// UpdateProgress updates lesson progress (0-100) and the playback position.
// Reaching 100 marks the lesson completed. The matching outbox entry is
// inserted in the same transaction, so the change and its pending sync are
// committed or rolled back together.
func (r *LessonRepository) UpdateProgress(ctx context.Context, lessonID int64, progress, playbackPosition int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("vault: progress %d out of range", progress)
	}

	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		var courseID int64
		var wasCompleted bool
		err := tx.QueryRowContext(ctx,
			`SELECT course_id, completed FROM lessons WHERE id = ?`, lessonID).
			Scan(&courseID, &wasCompleted)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load lesson: %w", err)
		}

		completed := wasCompleted || progress == 100
		if completed {
			// completed lessons never report partial progress
			progress = 100
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE lessons
			SET progress = ?, completed = ?, playback_position = ?, updated_at = ?
			WHERE id = ?`,
			progress, completed, playbackPosition, time.Now().UTC(), lessonID)
		if err != nil {
			return fmt.Errorf("failed to update progress: %w", err)
		}

		action := models.OutboxActionProgress
		priority := 0
		if completed && !wasCompleted {
			action = models.OutboxActionComplete
			priority = 1
		}
		payload, err := json.Marshal(models.ProgressPayload{
			LessonID:         lessonID,
			CourseID:         courseID,
			Progress:         progress,
			Completed:        completed,
			PlaybackPosition: playbackPosition,
		})
		if err != nil {
			return fmt.Errorf("failed to encode progress payload: %w", err)
		}

		return insertOutboxTx(ctx, tx, &models.OutboxEntry{
			EntityType: "lesson",
			EntityID:   lessonID,
			Action:     action,
			Payload:    payload,
			Priority:   priority,
			CreatedAt:  time.Now().UTC(),
		})
	})
}

// SetContent replaces the encrypted content blob of a lesson
func (r *LessonRepository) SetContent(ctx context.Context, lessonID int64, content []byte) error {
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE lessons SET content = ?, updated_at = ? WHERE id = ?`,
		content, time.Now().UTC(), lessonID)
	if err != nil {
		return fmt.Errorf("failed to set lesson content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *LessonRepository) query(ctx context.Context, q string, args ...any) ([]models.Lesson, error) {
	rows, err := r.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get lessons: %w", err)
	}
	defer rows.Close()

	var lessons []models.Lesson
	for rows.Next() {
		var l models.Lesson
		var typ string
		if err := rows.Scan(&l.ID, &l.SectionID, &l.CourseID, &l.Title, &typ,
			&l.Content, &l.Position, &l.Completed, &l.Progress,
			&l.PlaybackPosition, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		l.Type = models.LessonType(typ)
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lessons: %w", err)
	}
	return lessons, nil
}

func scanLesson(row *sql.Row) (*models.Lesson, error) {
	var l models.Lesson
	var typ string
	err := row.Scan(&l.ID, &l.SectionID, &l.CourseID, &l.Title, &typ,
		&l.Content, &l.Position, &l.Completed, &l.Progress,
		&l.PlaybackPosition, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Type = models.LessonType(typ)
	return &l, nil
}
