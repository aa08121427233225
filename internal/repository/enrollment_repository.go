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

// EnrollmentRepository handles enrollment and lecture progress persistence.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts a new enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, user_id, course_id, status, enrolled_at)
        VALUES (:id, :user_id, :course_id, :status, :enrolled_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// FindByID returns an enrollment by identifier.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, user_id, course_id, status, enrolled_at FROM enrollments WHERE id = $1 LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by id: %w", err)
	}
	return &enrollment, nil
}

// FindByUserCourse returns the enrollment linking a user to a course.
func (r *EnrollmentRepository) FindByUserCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	const query = `SELECT id, user_id, course_id, status, enrolled_at FROM enrollments WHERE user_id = $1 AND course_id = $2 LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by user and course: %w", err)
	}
	return &enrollment, nil
}

// ListByUser returns all enrollments of a user.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	const query = `SELECT id, user_id, course_id, status, enrolled_at FROM enrollments WHERE user_id = $1 ORDER BY enrolled_at DESC`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, userID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// UpdateStatus transitions an enrollment's lifecycle state.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// MarkLectureCompleted records a completed lecture. Repeated completions are
// idempotent.
func (r *EnrollmentRepository) MarkLectureCompleted(ctx context.Context, progress *models.LectureProgress) error {
	if progress.ID == "" {
		progress.ID = uuid.NewString()
	}
	if progress.CompletedAt.IsZero() {
		progress.CompletedAt = time.Now().UTC()
	}
	const query = `INSERT INTO lecture_progress (id, enrollment_id, lecture_id, completed_at)
        VALUES (:id, :enrollment_id, :lecture_id, :completed_at)
        ON CONFLICT (enrollment_id, lecture_id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, progress); err != nil {
		return fmt.Errorf("mark lecture completed: %w", err)
	}
	return nil
}

// CompletedLectureWeight sums the weights of an enrollment's completed
// lectures together with the completed count.
func (r *EnrollmentRepository) CompletedLectureWeight(ctx context.Context, enrollmentID string) (float64, int, error) {
	const query = `SELECT COALESCE(SUM(l.weight), 0) AS weight, COUNT(*) AS completed
        FROM lecture_progress lp
        JOIN lectures l ON l.id = lp.lecture_id
        WHERE lp.enrollment_id = $1`
	var row struct {
		Weight    float64 `db:"weight"`
		Completed int     `db:"completed"`
	}
	if err := r.db.GetContext(ctx, &row, query, enrollmentID); err != nil {
		return 0, 0, fmt.Errorf("completed lecture weight: %w", err)
	}
	return row.Weight, row.Completed, nil
}

// CourseLectureStats returns the total lecture count and weight available
// across a course.
func (r *EnrollmentRepository) CourseLectureStats(ctx context.Context, courseID string) (float64, int, error) {
	const query = `SELECT COALESCE(SUM(l.weight), 0) AS weight, COUNT(l.id) AS total
        FROM lectures l
        JOIN topics t ON t.id = l.topic_id
        WHERE t.course_id = $1`
	var row struct {
		Weight float64 `db:"weight"`
		Total  int     `db:"total"`
	}
	if err := r.db.GetContext(ctx, &row, query, courseID); err != nil {
		return 0, 0, fmt.Errorf("course lecture stats: %w", err)
	}
	return row.Weight, row.Total, nil
}
