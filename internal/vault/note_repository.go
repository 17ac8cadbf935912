package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// NoteRepository manages user notes and completion certificates
type NoteRepository struct {
	store *Store
}

// NewNoteRepository creates a new note repository
func NewNoteRepository(store *Store) *NoteRepository {
	return &NoteRepository{store: store}
}

// CreateNote inserts a note and queues it for synchronization
func (r *NoteRepository) CreateNote(ctx context.Context, note *models.Note) error {
	now := time.Now().UTC()
	note.CreatedAt = now
	note.UpdatedAt = now

	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO notes (lesson_id, course_id, content, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			note.LessonID, note.CourseID, note.Content, note.CreatedAt, note.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create note: %w", err)
		}
		note.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get note id: %w", err)
		}

		return insertOutboxTx(ctx, tx, &models.OutboxEntry{
			EntityType: "note",
			EntityID:   note.ID,
			Action:     models.OutboxActionCreate,
			Payload:    []byte(fmt.Sprintf(`{"lessonId":%d,"courseId":%d}`, note.LessonID, note.CourseID)),
		})
	})
}

// UpdateNote replaces a note's content and queues the change
func (r *NoteRepository) UpdateNote(ctx context.Context, id int64, content []byte) error {
	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE notes SET content = ?, updated_at = ? WHERE id = ?`,
			content, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update note: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}

		return insertOutboxTx(ctx, tx, &models.OutboxEntry{
			EntityType: "note",
			EntityID:   id,
			Action:     models.OutboxActionUpdate,
			Payload:    []byte("{}"),
		})
	})
}

// DeleteNote removes a note and queues the deletion
func (r *NoteRepository) DeleteNote(ctx context.Context, id int64) error {
	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete note: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check delete result: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}

		return insertOutboxTx(ctx, tx, &models.OutboxEntry{
			EntityType: "note",
			EntityID:   id,
			Action:     models.OutboxActionDelete,
			Payload:    []byte("{}"),
		})
	})
}

// GetNotesByLesson returns notes for a lesson, newest first
func (r *NoteRepository) GetNotesByLesson(ctx context.Context, lessonID int64) ([]models.Note, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, lesson_id, course_id, content, created_at, updated_at
		FROM notes WHERE lesson_id = ? ORDER BY created_at DESC`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.LessonID, &n.CourseID, &n.Content,
			&n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}

// SaveCertificate stores a completion certificate for a course
func (r *NoteRepository) SaveCertificate(ctx context.Context, cert *models.Certificate) error {
	res, err := r.store.db.ExecContext(ctx, `
		INSERT INTO certificates (course_id, data, issued_at, remote_url, downloaded)
		VALUES (?, ?, ?, ?, ?)`,
		cert.CourseID, cert.Data, cert.IssuedAt.UTC(), cert.RemoteURL, cert.Downloaded)
	if err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	cert.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get certificate id: %w", err)
	}
	return nil
}

// GetCertificatesByCourse returns certificates for a course, newest first
func (r *NoteRepository) GetCertificatesByCourse(ctx context.Context, courseID int64) ([]models.Certificate, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, course_id, data, issued_at, remote_url, downloaded
		FROM certificates WHERE course_id = ? ORDER BY issued_at DESC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer rows.Close()

	var certs []models.Certificate
	for rows.Next() {
		var c models.Certificate
		if err := rows.Scan(&c.ID, &c.CourseID, &c.Data, &c.IssuedAt,
			&c.RemoteURL, &c.Downloaded); err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate certificates: %w", err)
	}
	return certs, nil
}
