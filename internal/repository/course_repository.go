package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencourse/lms-api/internal/models"
)

// CourseRepository handles course persistence.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository creates a new course repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, title, description, lecture_weight, published, created_by, created_at, updated_at)
        VALUES (:id, :title, :description, :lecture_weight, :published, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, title, description, lecture_weight, published, created_by, created_at, updated_at FROM courses WHERE id = $1 LIMIT 1`
	var course models.Course
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// List returns courses matching the filter with total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	baseQuery := `FROM courses WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Published != nil {
		conditions = append(conditions, fmt.Sprintf("published = $%d", len(args)+1))
		args = append(args, *filter.Published)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, title, description, lecture_weight, published, created_by, created_at, updated_at %s ORDER BY created_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &courses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Update updates mutable fields of a course other than the weight split.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, description = :description, published = :published, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext(ctx, r.db), query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// UpdateSplit stores a new lecture/exam weight split for the course.
func (r *CourseRepository) UpdateSplit(ctx context.Context, id string, lectureWeight float64) error {
	const query = `UPDATE courses SET lecture_weight = $2, updated_at = $3 WHERE id = $1`
	if _, err := ext(ctx, r.db).ExecContext(ctx, query, id, lectureWeight, time.Now().UTC()); err != nil {
		return fmt.Errorf("update course split: %w", err)
	}
	return nil
}

// Delete removes a course. Topics, lectures, exams and enrollments go with it
// via ON DELETE CASCADE.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM courses WHERE id = $1`
	if _, err := ext(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}
