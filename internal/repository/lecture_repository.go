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

// LectureRepository handles lecture persistence.
type LectureRepository struct {
	db *sqlx.DB
}

// NewLectureRepository creates a new lecture repository.
func NewLectureRepository(db *sqlx.DB) *LectureRepository {
	return &LectureRepository{db: db}
}

// Create inserts a new lecture.
func (r *LectureRepository) Create(ctx context.Context, lecture *models.Lecture) error {
	if lecture.ID == "" {
		lecture.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lecture.CreatedAt.IsZero() {
		lecture.CreatedAt = now
	}
	lecture.UpdatedAt = now
	const query = `INSERT INTO lectures (id, topic_id, title, video_url, duration, weight, created_at, updated_at)
        VALUES (:id, :topic_id, :title, :video_url, :duration, :weight, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, lecture); err != nil {
		return fmt.Errorf("create lecture: %w", err)
	}
	return nil
}

// FindByID returns a lecture by identifier.
func (r *LectureRepository) FindByID(ctx context.Context, id string) (*models.Lecture, error) {
	const query = `SELECT id, topic_id, title, video_url, duration, weight, created_at, updated_at FROM lectures WHERE id = $1 LIMIT 1`
	var lecture models.Lecture
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &lecture, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find lecture by id: %w", err)
	}
	return &lecture, nil
}

// ListByTopic returns all lectures of a topic in ascending ID order, the
// order the weight calculator assigns remainders in.
func (r *LectureRepository) ListByTopic(ctx context.Context, topicID string) ([]models.Lecture, error) {
	const query = `SELECT id, topic_id, title, video_url, duration, weight, created_at, updated_at FROM lectures WHERE topic_id = $1 ORDER BY id`
	var lectures []models.Lecture
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &lectures, query, topicID); err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	return lectures, nil
}

// Weights returns lecture weights of a topic in ascending ID order.
func (r *LectureRepository) Weights(ctx context.Context, topicID string) ([]float64, error) {
	const query = `SELECT weight FROM lectures WHERE topic_id = $1 ORDER BY id`
	var weights []float64
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &weights, query, topicID); err != nil {
		return nil, fmt.Errorf("lecture weights: %w", err)
	}
	return weights, nil
}

// Update updates mutable lecture fields including the duration basis.
func (r *LectureRepository) Update(ctx context.Context, lecture *models.Lecture) error {
	lecture.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lectures SET title = :title, video_url = :video_url, duration = :duration, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, lecture); err != nil {
		return fmt.Errorf("update lecture: %w", err)
	}
	return nil
}

// UpdateWeights stores recomputed weights for a topic's lectures in one
// transaction so a sibling set is never half-written. When the context
// already carries a transaction the updates join it instead of opening a
// nested one.
func (r *LectureRepository) UpdateWeights(ctx context.Context, assignments []allocation.Assignment) error {
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
		return fmt.Errorf("commit lecture weights: %w", err)
	}
	return nil
}

func (r *LectureRepository) updateWeights(ctx context.Context, tx *sqlx.Tx, assignments []allocation.Assignment) error {
	now := time.Now().UTC()
	const query = `UPDATE lectures SET weight = $2, updated_at = $3 WHERE id = $1`
	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx, query, a.ID, a.Weight, now); err != nil {
			return fmt.Errorf("update lecture weight: %w", err)
		}
	}
	return nil
}

// Delete removes a lecture.
func (r *LectureRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM lectures WHERE id = $1`
	if _, err := ext(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete lecture: %w", err)
	}
	return nil
}
