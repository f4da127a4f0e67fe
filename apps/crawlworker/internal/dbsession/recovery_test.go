package dbsession

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/crawlmesh/pkg/database"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

func TestIsCorruptedMatchesKnownSubstrings(t *testing.T) {
	require.True(t, IsCorrupted(errors.New("current transaction is aborted, commands ignored")))
	require.True(t, IsCorrupted(errors.New("ERROR: pending rollback detected")))
	require.False(t, IsCorrupted(errors.New("duplicate key value violates unique constraint")))
	require.False(t, IsCorrupted(nil))
}

func newTestRecovery(t *testing.T) (*Recovery, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "postgres")
	uow := database.NewUnitOfWork(sqlxDB, observability.NewNoopLogger(), observability.NewNoOpMetricsClient())
	return New(uow, observability.NewNoopLogger()), mock, func() { db.Close() }
}

func TestExecuteSucceedsOnFirstTry(t *testing.T) {
	r, mock, cleanup := newTestRecovery(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := r.Execute(context.Background(), func(tx database.Transaction) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRetriesOnceAfterCorruption(t *testing.T) {
	r, mock, cleanup := newTestRecovery(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := r.Execute(context.Background(), func(tx database.Transaction) error {
		calls++
		if calls == 1 {
			return errors.New("current transaction is aborted")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls, "must retry exactly once after a corrupted session")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteDoesNotRetryOnOrdinaryError(t *testing.T) {
	r, mock, cleanup := newTestRecovery(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := r.Execute(context.Background(), func(tx database.Transaction) error {
		calls++
		return errors.New("duplicate key value violates unique constraint")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls, "an ordinary error must not trigger a retry")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutePropagatesFailureAfterRetryAlsoFails(t *testing.T) {
	r, mock, cleanup := newTestRecovery(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := r.Execute(context.Background(), func(tx database.Transaction) error {
		return errors.New("current transaction is aborted")
	})

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
