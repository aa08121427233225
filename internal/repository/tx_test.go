package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/lms-api/internal/allocation"
	"github.com/opencourse/lms-api/internal/models"
)

func newTxMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTxManagerCommitsOnSuccess(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	manager := NewTxManager(db)
	lectures := NewLectureRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lectures")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := manager.RunInTx(context.Background(), func(ctx context.Context) error {
		return lectures.Create(ctx, &models.Lecture{TopicID: "top-1", Title: "Intro", Duration: 100})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManagerRollsBackWhenStepFails(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	manager := NewTxManager(db)
	lectures := NewLectureRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lectures")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	stepErr := errors.New("redistribution failed")
	err := manager.RunInTx(context.Background(), func(ctx context.Context) error {
		if err := lectures.Create(ctx, &models.Lecture{TopicID: "top-1", Title: "Intro", Duration: 100}); err != nil {
			return err
		}
		return stepErr
	})
	require.ErrorIs(t, err, stepErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

// UpdateWeights must join the ambient transaction instead of opening a nested
// one, so an insert and the sibling weight rewrite it forces commit as a
// single unit.
func TestTxManagerSharesTransactionWithWeightUpdates(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	manager := NewTxManager(db)
	lectures := NewLectureRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lectures")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lectures SET weight = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("lec-1", 50.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := manager.RunInTx(context.Background(), func(ctx context.Context) error {
		if err := lectures.Create(ctx, &models.Lecture{TopicID: "top-1", Title: "Intro", Duration: 100}); err != nil {
			return err
		}
		return lectures.UpdateWeights(ctx, []allocation.Assignment{{ID: "lec-1", Weight: 50}})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManagerJoinsCarriedTransaction(t *testing.T) {
	db, mock, cleanup := newTxMock(t)
	defer cleanup()
	manager := NewTxManager(db)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := manager.RunInTx(context.Background(), func(ctx context.Context) error {
		// A nested run reuses the carried transaction, so no second
		// Begin/Commit pair reaches the driver.
		return manager.RunInTx(ctx, func(context.Context) error { return nil })
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
