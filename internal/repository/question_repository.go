package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencourse/lms-api/internal/models"
)

// QuestionRepository handles exam question persistence.
type QuestionRepository struct {
	db *sqlx.DB
}

// NewQuestionRepository creates a new question repository.
func NewQuestionRepository(db *sqlx.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, question *models.Question) error {
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if question.CreatedAt.IsZero() {
		question.CreatedAt = now
	}
	question.UpdatedAt = now
	const query = `INSERT INTO questions (id, exam_id, text, options, answer, marks, created_at, updated_at)
        VALUES (:id, :exam_id, :text, :options, :answer, :marks, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, question); err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// FindByID returns a question by identifier.
func (r *QuestionRepository) FindByID(ctx context.Context, id string) (*models.Question, error) {
	const query = `SELECT id, exam_id, text, options, answer, marks, created_at, updated_at FROM questions WHERE id = $1 LIMIT 1`
	var question models.Question
	if err := r.db.GetContext(ctx, &question, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find question by id: %w", err)
	}
	return &question, nil
}

// ListByExam returns all questions of an exam.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID string) ([]models.Question, error) {
	const query = `SELECT id, exam_id, text, options, answer, marks, created_at, updated_at FROM questions WHERE exam_id = $1 ORDER BY created_at, id`
	var questions []models.Question
	if err := r.db.SelectContext(ctx, &questions, query, examID); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}

// Update updates mutable question fields.
func (r *QuestionRepository) Update(ctx context.Context, question *models.Question) error {
	question.UpdatedAt = time.Now().UTC()
	const query = `UPDATE questions SET text = :text, options = :options, answer = :answer, marks = :marks, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, question); err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	return nil
}

// Delete removes a question.
func (r *QuestionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM questions WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	return nil
}
