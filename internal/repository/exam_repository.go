package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/models"
)

// ExamRepository handles exam persistence.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository creates a new exam repository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, exam *models.Exam) error {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = now
	}
	exam.UpdatedAt = now
	const query = `INSERT INTO exams (id, topic_id, title, marks, duration_min, weight, created_at, updated_at)
        VALUES (:id, :topic_id, :title, :marks, :duration_min, :weight, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, exam); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	return nil
}

// FindByID returns an exam by identifier.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	const query = `SELECT id, topic_id, title, marks, duration_min, weight, created_at, updated_at FROM exams WHERE id = $1 LIMIT 1`
	var exam models.Exam
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &exam, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find exam by id: %w", err)
	}
	return &exam, nil
}

// ListByTopic returns all exams of a topic in ascending ID order.
func (r *ExamRepository) ListByTopic(ctx context.Context, topicID string) ([]models.Exam, error) {
	const query = `SELECT id, topic_id, title, marks, duration_min, weight, created_at, updated_at FROM exams WHERE topic_id = $1 ORDER BY id`
	var exams []models.Exam
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &exams, query, topicID); err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, nil
}

// Weights returns exam weights of a topic in ascending ID order.
func (r *ExamRepository) Weights(ctx context.Context, topicID string) ([]float64, error) {
	const query = `SELECT weight FROM exams WHERE topic_id = $1 ORDER BY id`
	var weights []float64
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &weights, query, topicID); err != nil {
		return nil, fmt.Errorf("exam weights: %w", err)
	}
	return weights, nil
}

// Update updates mutable exam fields including the marks basis.
func (r *ExamRepository) Update(ctx context.Context, exam *models.Exam) error {
	exam.UpdatedAt = time.Now().UTC()
	const query = `UPDATE exams SET title = :title, marks = :marks, duration_min = :duration_min, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, exam); err != nil {
		return fmt.Errorf("update exam: %w", err)
	}
	return nil
}

// UpdateWeights stores recomputed weights for a topic's exams in one
// transaction, joining an ambient transaction when the context carries one.
func (r *ExamRepository) UpdateWeights(ctx context.Context, assignments []allocation.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	if tx, ok := txFrom(ctx); ok {
		return r.updateWeights(ctx, tx, assignments)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.updateWeights(ctx, tx, assignments); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exam weights: %w", err)
	}
	return nil
}

func (r *ExamRepository) updateWeights(ctx context.Context, tx *sqlx.Tx, assignments []allocation.Assignment) error {
	now := time.Now().UTC()
	const query = `UPDATE exams SET weight = $2, updated_at = $3 WHERE id = $1`
	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx, query, a.ID, a.Weight, now); err != nil {
			return fmt.Errorf("update exam weight: %w", err)
		}
	}
	return nil
}

// Delete removes an exam and, via cascade, its questions.
func (r *ExamRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM exams WHERE id = $1`
	if _, err := ext(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	return nil
}
