package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newTopicRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTopicRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newTopicRepoMock(t)
	defer cleanup()
	repo := NewTopicRepository(db)

	rows := sqlmock.NewRows([]string{"id", "course_id", "title", "position", "weight", "created_at", "updated_at"}).
		AddRow("top-1", "crs-1", "Basics", 1, 50.0, time.Now(), time.Now()).
		AddRow("top-2", "crs-1", "Advanced", 2, 50.0, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, title, position, weight, created_at, updated_at FROM topics WHERE course_id = $1 ORDER BY position, id")).
		WithArgs("crs-1").
		WillReturnRows(rows)

	topics, err := repo.ListByCourse(context.Background(), "crs-1")
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.Equal(t, "Basics", topics[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicRepositoryUpdateWeight(t *testing.T) {
	db, mock, cleanup := newTopicRepoMock(t)
	defer cleanup()
	repo := NewTopicRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE topics SET weight = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("top-1", 50.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateWeight(context.Background(), "top-1", 50.0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicRepositoryWeights(t *testing.T) {
	db, mock, cleanup := newTopicRepoMock(t)
	defer cleanup()
	repo := NewTopicRepository(db)

	rows := sqlmock.NewRows([]string{"weight"}).AddRow(40.0).AddRow(60.0)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT weight FROM topics WHERE course_id = $1 ORDER BY position, id")).
		WithArgs("crs-1").
		WillReturnRows(rows)

	weights, err := repo.Weights(context.Background(), "crs-1")
	require.NoError(t, err)
	require.Equal(t, []float64{40.0, 60.0}, weights)
	require.NoError(t, mock.ExpectationsWereMet())
}
