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

// TopicRepository handles topic persistence.
type TopicRepository struct {
	db *sqlx.DB
}

// NewTopicRepository creates a new topic repository.
func NewTopicRepository(db *sqlx.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

// Create inserts a new topic.
func (r *TopicRepository) Create(ctx context.Context, topic *models.Topic) error {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = now
	}
	topic.UpdatedAt = now
	const query = `INSERT INTO topics (id, course_id, title, position, weight, created_at, updated_at)
        VALUES (:id, :course_id, :title, :position, :weight, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, topic); err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

// FindByID returns a topic by identifier.
func (r *TopicRepository) FindByID(ctx context.Context, id string) (*models.Topic, error) {
	const query = `SELECT id, course_id, title, position, weight, created_at, updated_at FROM topics WHERE id = $1 LIMIT 1`
	var topic models.Topic
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &topic, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find topic by id: %w", err)
	}
	return &topic, nil
}

// ListByCourse returns all topics of a course ordered by position.
func (r *TopicRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Topic, error) {
	const query = `SELECT id, course_id, title, position, weight, created_at, updated_at FROM topics WHERE course_id = $1 ORDER BY position, id`
	var topics []models.Topic
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &topics, query, courseID); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// Update updates the topic's descriptive fields.
func (r *TopicRepository) Update(ctx context.Context, topic *models.Topic) error {
	topic.UpdatedAt = time.Now().UTC()
	const query = `UPDATE topics SET title = :title, position = :position, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, topic); err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	return nil
}

// UpdateWeight stores the recomputed derived weight.
func (r *TopicRepository) UpdateWeight(ctx context.Context, id string, weight float64) error {
	const query = `UPDATE topics SET weight = $2, updated_at = $3 WHERE id = $1`
	if _, err := ext(ctx, r.db).ExecContext(ctx, query, id, weight, time.Now().UTC()); err != nil {
		return fmt.Errorf("update topic weight: %w", err)
	}
	return nil
}

// Weights returns the derived weights of a course's topics ordered by
// position.
func (r *TopicRepository) Weights(ctx context.Context, courseID string) ([]float64, error) {
	const query = `SELECT weight FROM topics WHERE course_id = $1 ORDER BY position, id`
	var weights []float64
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &weights, query, courseID); err != nil {
		return nil, fmt.Errorf("topic weights: %w", err)
	}
	return weights, nil
}

// Delete removes a topic and, via cascade, its lectures and exams.
func (r *TopicRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM topics WHERE id = $1`
	if _, err := ext(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	return nil
}
