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

// ReportJobRepository handles export job persistence.
type ReportJobRepository struct {
	db *sqlx.DB
}

// NewReportJobRepository creates a new report job repository.
func NewReportJobRepository(db *sqlx.DB) *ReportJobRepository {
	return &ReportJobRepository{db: db}
}

// Create inserts a queued export job.
func (r *ReportJobRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	const query = `INSERT INTO report_jobs (id, course_id, params, status, created_by, created_at)
        VALUES (:id, :course_id, :params, :status, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// FindByID returns a job by identifier.
func (r *ReportJobRepository) FindByID(ctx context.Context, id string) (*models.ReportJob, error) {
	const query = `SELECT id, course_id, params, status, result_url, created_by, created_at, finished_at, error_message FROM report_jobs WHERE id = $1 LIMIT 1`
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find report job by id: %w", err)
	}
	return &job, nil
}

// UpdateStatus transitions a job's lifecycle state.
func (r *ReportJobRepository) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error {
	const query = `UPDATE report_jobs SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update report job status: %w", err)
	}
	return nil
}

// MarkFinished records a successful completion with the signed result URL.
func (r *ReportJobRepository) MarkFinished(ctx context.Context, id, resultURL string, finishedAt time.Time) error {
	const query = `UPDATE report_jobs SET status = $2, result_url = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportStatusFinished, resultURL, finishedAt); err != nil {
		return fmt.Errorf("mark report job finished: %w", err)
	}
	return nil
}

// ListFinishedBefore returns finished jobs whose file is older than cutoff,
// for the retention sweep. Pagination by limit keeps each pass bounded.
func (r *ReportJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	const query = `SELECT id, course_id, params, status, result_url, created_by, created_at, finished_at, error_message
        FROM report_jobs WHERE status = $1 AND finished_at < $2 ORDER BY finished_at LIMIT $3`
	var jobsList []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobsList, query, models.ReportStatusFinished, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished report jobs: %w", err)
	}
	return jobsList, nil
}

// MarkExpired clears the result URL of a job whose file the retention sweep
// removed, so polling no longer hands out a dead link.
func (r *ReportJobRepository) MarkExpired(ctx context.Context, id string) error {
	const query = `UPDATE report_jobs SET status = $2, result_url = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportStatusExpired); err != nil {
		return fmt.Errorf("mark report job expired: %w", err)
	}
	return nil
}

// MarkFailed records a failure with its message.
func (r *ReportJobRepository) MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error {
	const query = `UPDATE report_jobs SET status = $2, error_message = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportStatusFailed, message, finishedAt); err != nil {
		return fmt.Errorf("mark report job failed: %w", err)
	}
	return nil
}
