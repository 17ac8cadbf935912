package vault

import (
	"context"
	"fmt"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// SectionRepository reads course sections. Sections are written through
// CourseRepository.SaveContent, which owns the denormalized lesson counts.
type SectionRepository struct {
	store *Store
}

// NewSectionRepository creates a new section repository
func NewSectionRepository(store *Store) *SectionRepository {
	return &SectionRepository{store: store}
}

// GetByCourse retrieves the sections of a course in display order
func (r *SectionRepository) GetByCourse(ctx context.Context, courseID int64) ([]models.Section, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, course_id, title, position, lesson_count
		FROM sections
		WHERE course_id = ?
		ORDER BY position ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sections: %w", err)
	}
	defer rows.Close()

	var sections []models.Section
	for rows.Next() {
		var s models.Section
		if err := rows.Scan(&s.ID, &s.CourseID, &s.Title, &s.Position, &s.LessonCount); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sections: %w", err)
	}
	return sections, nil
}
