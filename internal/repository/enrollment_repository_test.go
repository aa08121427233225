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

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryFindByUserCourse(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "course_id", "status", "enrolled_at"}).
		AddRow("enr-1", "usr-1", "crs-1", models.EnrollmentStatusActive, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, course_id, status, enrolled_at FROM enrollments WHERE user_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("usr-1", "crs-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByUserCourse(context.Background(), "usr-1", "crs-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCompletedLectureWeight(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"weight", "completed"}).AddRow(33.333333, 2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(l.weight), 0) AS weight, COUNT(*) AS completed")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	weight, completed, err := repo.CompletedLectureWeight(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, 33.333333, weight)
	require.Equal(t, 2, completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkLectureCompletedIdempotent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lecture_progress")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkLectureCompleted(context.Background(), &models.LectureProgress{
		EnrollmentID: "enr-1",
		LectureID:    "lec-1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
