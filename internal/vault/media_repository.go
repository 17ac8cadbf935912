package vault

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// MediaRepository persists encrypted media file records
type MediaRepository struct {
	store *Store
}

// NewMediaRepository creates a new media repository
func NewMediaRepository(store *Store) *MediaRepository {
	return &MediaRepository{store: store}
}

const mediaColumns = `id, course_id, lesson_id, type, encrypted_path, source_url,
	size, mime_type, checksum, duration, resolution, bitrate, quality`

// Insert stores a media record and returns its generated id
func (r *MediaRepository) Insert(ctx context.Context, m *models.Media) (int64, error) {
	if !models.ValidMediaType(m.Type) {
		return 0, fmt.Errorf("vault: invalid media type %q", m.Type)
	}

	res, err := r.store.db.ExecContext(ctx, `
		INSERT INTO media (course_id, lesson_id, type, encrypted_path, source_url,
			size, mime_type, checksum, duration, resolution, bitrate, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.CourseID, m.LessonID, string(m.Type), m.EncryptedPath, m.SourceURL,
		m.Size, m.MimeType, m.Checksum, m.Duration, m.Resolution, m.Bitrate, m.Quality)
	if err != nil {
		return 0, fmt.Errorf("failed to insert media: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read media id: %w", err)
	}
	return id, nil
}

// GetByID retrieves a media record by its ID
func (r *MediaRepository) GetByID(ctx context.Context, id int64) (*models.Media, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE id = ? LIMIT 1`, id)

	m, err := scanMedia(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return m, nil
}

// GetByCourse retrieves all media records of a course
func (r *MediaRepository) GetByCourse(ctx context.Context, courseID int64) ([]models.Media, error) {
	return r.query(ctx, `SELECT `+mediaColumns+` FROM media WHERE course_id = ? ORDER BY id ASC`, courseID)
}

// GetByLesson retrieves the media records attached to a lesson
func (r *MediaRepository) GetByLesson(ctx context.Context, lessonID int64) ([]models.Media, error) {
	return r.query(ctx, `SELECT `+mediaColumns+` FROM media WHERE lesson_id = ? ORDER BY id ASC`, lessonID)
}

// Delete removes a media record
func (r *MediaRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.store.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete media: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MediaRepository) query(ctx context.Context, q string, args ...any) ([]models.Media, error) {
	rows, err := r.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	defer rows.Close()

	var items []models.Media
	for rows.Next() {
		m, err := scanMedia(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate media: %w", err)
	}
	return items, nil
}

func scanMedia(scan func(dest ...any) error) (*models.Media, error) {
	var m models.Media
	var typ string
	var lessonID sql.NullInt64
	err := scan(&m.ID, &m.CourseID, &lessonID, &typ, &m.EncryptedPath,
		&m.SourceURL, &m.Size, &m.MimeType, &m.Checksum, &m.Duration,
		&m.Resolution, &m.Bitrate, &m.Quality)
	if err != nil {
		return nil, err
	}
	m.Type = models.MediaType(typ)
	if lessonID.Valid {
		id := lessonID.Int64
		m.LessonID = &id
	}
	return &m, nil
}
