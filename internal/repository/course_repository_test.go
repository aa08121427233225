package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/lms-api/internal/models"
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "title", "description", "lecture_weight", "published", "created_by", "created_at", "updated_at"}).
		AddRow("crs-1", "Go Fundamentals", nil, 50.0, true, nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, description, lecture_weight, published, created_by, created_at, updated_at FROM courses WHERE id = $1 LIMIT 1")).
		WithArgs("crs-1").
		WillReturnRows(rows)

	course, err := repo.FindByID(context.Background(), "crs-1")
	require.NoError(t, err)
	require.Equal(t, 50.0, course.LectureWeight)
	require.Equal(t, 50.0, course.ExamWeight())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpdateSplit(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET lecture_weight = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("crs-1", 70.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateSplit(context.Background(), "crs-1", 70.0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryList(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	published := true
	rows := sqlmock.NewRows([]string{"id", "title", "description", "lecture_weight", "published", "created_by", "created_at", "updated_at"}).
		AddRow("crs-1", "Go Fundamentals", nil, 50.0, true, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, title, description, lecture_weight, published, created_by, created_at, updated_at FROM courses WHERE 1=1 AND published = .+ ORDER BY created_at DESC").
		WithArgs(true).
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM courses WHERE 1=1 AND published = .+`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	courses, total, err := repo.List(context.Background(), models.CourseFilter{Published: &published})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
