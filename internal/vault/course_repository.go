package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// CourseRepository persists courses and their content trees
type CourseRepository struct {
	store *Store
}

// NewCourseRepository creates a new course repository
func NewCourseRepository(store *Store) *CourseRepository {
	return &CourseRepository{store: store}
}

const courseColumns = `id, title, description, instructor, category, tags,
	section_count, lesson_count, thumbnail_path, checksum, schema_version,
	metadata, download_status, downloaded_at, last_accessed_at, expires_at`

// SaveContent persists a course together with its sections and lessons as a
// single unit. Existing content for the course is replaced. A failure
// anywhere rolls back the whole tree: a course is never observed with some
// but not all of its sections.
func (r *CourseRepository) SaveContent(ctx context.Context, course *models.Course, sections []models.Section, lessons []models.Lesson) error {
	tags, err := json.Marshal(course.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	metadata, err := json.Marshal(course.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	lessonsBySection := make(map[int64]int, len(sections))
	for _, l := range lessons {
		lessonsBySection[l.SectionID]++
	}

	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO courses (`+courseColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				instructor = excluded.instructor,
				category = excluded.category,
				tags = excluded.tags,
				section_count = excluded.section_count,
				lesson_count = excluded.lesson_count,
				thumbnail_path = excluded.thumbnail_path,
				checksum = excluded.checksum,
				schema_version = excluded.schema_version,
				metadata = excluded.metadata,
				download_status = excluded.download_status,
				downloaded_at = excluded.downloaded_at,
				last_accessed_at = excluded.last_accessed_at,
				expires_at = excluded.expires_at`,
			course.ID, course.Title, course.Description, course.Instructor,
			course.Category, string(tags), len(sections), len(lessons),
			course.ThumbnailPath, course.Checksum, course.SchemaVersion,
			string(metadata), string(course.DownloadStatus),
			course.DownloadedAt, course.LastAccessedAt, course.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save course: %w", err)
		}

		// replace previous content; media cascades from lessons
		if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE course_id = ?`, course.ID); err != nil {
			return fmt.Errorf("failed to clear sections: %w", err)
		}

		for _, s := range sections {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sections (id, course_id, title, position, lesson_count)
				VALUES (?, ?, ?, ?, ?)`,
				s.ID, course.ID, s.Title, s.Position, lessonsBySection[s.ID],
			)
			if err != nil {
				return fmt.Errorf("failed to save section %d: %w", s.ID, err)
			}
		}

		for _, l := range lessons {
			updatedAt := l.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = time.Now().UTC()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO lessons (id, section_id, course_id, title, type, content,
					position, completed, progress, playback_position, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				l.ID, l.SectionID, course.ID, l.Title, string(l.Type), l.Content,
				l.Position, l.Completed, l.Progress, l.PlaybackPosition, updatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to save lesson %d: %w", l.ID, err)
			}
		}

		return nil
	})
}

// GetByID retrieves a course by its ID
func (r *CourseRepository) GetByID(ctx context.Context, id int64) (*models.Course, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = ? LIMIT 1`, id)
	return scanCourse(row)
}

// List retrieves all locally stored courses with completion counts
func (r *CourseRepository) List(ctx context.Context) ([]models.CourseListItem, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT
			c.id,
			c.title,
			c.instructor,
			c.category,
			c.section_count,
			c.lesson_count,
			COUNT(l.id) FILTER (WHERE l.completed = 1) AS completed_lessons,
			c.expires_at
		FROM courses c
		LEFT JOIN lessons l ON l.course_id = c.id
		GROUP BY c.id
		ORDER BY c.last_accessed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var items []models.CourseListItem
	for rows.Next() {
		var item models.CourseListItem
		var expiresAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.Title, &item.Instructor, &item.Category,
			&item.SectionCount, &item.LessonCount, &item.Completed, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			item.ExpiresAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}
	return items, nil
}

// ListByDownloadStatus retrieves course ids in the given download state
func (r *CourseRepository) ListByDownloadStatus(ctx context.Context, status models.DownloadStatus) ([]int64, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT id FROM courses WHERE download_status = ? ORDER BY downloaded_at ASC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list courses by status: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan course id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}
	return ids, nil
}

// SetDownloadStatus updates the course download state
func (r *CourseRepository) SetDownloadStatus(ctx context.Context, id int64, status models.DownloadStatus) error {
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE courses SET download_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update download status: %w", err)
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

// TouchLastAccessed sets the course last-accessed timestamp
func (r *CourseRepository) TouchLastAccessed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.store.db.ExecContext(ctx,
		`UPDATE courses SET last_accessed_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch course: %w", err)
	}
	return nil
}

// Delete removes a course. Sections, lessons and media rows cascade away
// with it; deletion is an explicit operation even for expired courses.
func (r *CourseRepository) Delete(ctx context.Context, id int64) error {
	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete course: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check delete result: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanCourse(row *sql.Row) (*models.Course, error) {
	var course models.Course
	var tags, metadata, status string
	var expiresAt sql.NullTime

	err := row.Scan(&course.ID, &course.Title, &course.Description,
		&course.Instructor, &course.Category, &tags, &course.SectionCount,
		&course.LessonCount, &course.ThumbnailPath, &course.Checksum,
		&course.SchemaVersion, &metadata, &status, &course.DownloadedAt,
		&course.LastAccessedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	if err := json.Unmarshal([]byte(tags), &course.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &course.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	course.DownloadStatus = models.DownloadStatus(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		course.ExpiresAt = &t
	}
	return &course, nil
}
