package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// QuizRepository manages quizzes and assignments attached to lessons
type QuizRepository struct {
	store *Store
}

// NewQuizRepository creates a new quiz repository
func NewQuizRepository(store *Store) *QuizRepository {
	return &QuizRepository{store: store}
}

// UpsertQuiz inserts or replaces a quiz, preserving local attempt state
// when the quiz already exists.
func (r *QuizRepository) UpsertQuiz(ctx context.Context, quiz *models.Quiz) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO quizzes (id, lesson_id, title, questions, passing_grade, time_limit, attempts, best_score)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT (id) DO UPDATE SET
			lesson_id = excluded.lesson_id,
			title = excluded.title,
			questions = excluded.questions,
			passing_grade = excluded.passing_grade,
			time_limit = excluded.time_limit`,
		quiz.ID, quiz.LessonID, quiz.Title, quiz.Questions,
		quiz.PassingGrade, quiz.TimeLimit)
	if err != nil {
		return fmt.Errorf("failed to upsert quiz: %w", err)
	}
	return nil
}

// GetQuizByLesson returns the quiz attached to a lesson, or ErrNotFound
func (r *QuizRepository) GetQuizByLesson(ctx context.Context, lessonID int64) (*models.Quiz, error) {
	var quiz models.Quiz
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, lesson_id, title, questions, passing_grade, time_limit, attempts, best_score
		FROM quizzes WHERE lesson_id = ?`, lessonID).
		Scan(&quiz.ID, &quiz.LessonID, &quiz.Title, &quiz.Questions,
			&quiz.PassingGrade, &quiz.TimeLimit, &quiz.Attempts, &quiz.BestScore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return &quiz, nil
}

// RecordAttempt records a quiz attempt, keeps the best score, and queues
// the result for synchronization in the same transaction.
func (r *QuizRepository) RecordAttempt(ctx context.Context, quizID int64, score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("score %d out of range", score)
	}

	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		var lessonID int64
		err := tx.QueryRowContext(ctx,
			`SELECT lesson_id FROM quizzes WHERE id = ?`, quizID).Scan(&lessonID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load quiz: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE quizzes SET attempts = attempts + 1, best_score = MAX(best_score, ?)
			WHERE id = ?`, score, quizID)
		if err != nil {
			return fmt.Errorf("failed to record quiz attempt: %w", err)
		}

		return insertOutboxTx(ctx, tx, &models.OutboxEntry{
			EntityType: "quiz",
			EntityID:   quizID,
			Action:     models.OutboxActionUpdate,
			Payload:    []byte(fmt.Sprintf(`{"lessonId":%d,"score":%d}`, lessonID, score)),
		})
	})
}

// UpsertAssignment inserts or replaces an assignment, preserving the local
// submitted flag when the assignment already exists.
func (r *QuizRepository) UpsertAssignment(ctx context.Context, a *models.Assignment) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO assignments (id, lesson_id, title, instructions, max_grade, submitted)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (id) DO UPDATE SET
			lesson_id = excluded.lesson_id,
			title = excluded.title,
			instructions = excluded.instructions,
			max_grade = excluded.max_grade`,
		a.ID, a.LessonID, a.Title, a.Instructions, a.MaxGrade)
	if err != nil {
		return fmt.Errorf("failed to upsert assignment: %w", err)
	}
	return nil
}

// GetAssignmentByLesson returns the assignment attached to a lesson, or ErrNotFound
func (r *QuizRepository) GetAssignmentByLesson(ctx context.Context, lessonID int64) (*models.Assignment, error) {
	var a models.Assignment
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, lesson_id, title, instructions, max_grade, submitted
		FROM assignments WHERE lesson_id = ?`, lessonID).
		Scan(&a.ID, &a.LessonID, &a.Title, &a.Instructions, &a.MaxGrade, &a.Submitted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}
