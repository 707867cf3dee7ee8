package processor_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbrun/dcb/internal/processor"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestProgressStore_Get_CreatesRowWhenMissing(t *testing.T) {
	db, mock := newMockDB(t)
	ps := processor.NewProgressStore(db)

	mock.ExpectQuery("SELECT processor_id, last_position").
		WithArgs("wallet-projector").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO processor_progress").
		WithArgs("wallet-projector", processor.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	pr, err := ps.Get(context.Background(), "wallet-projector")
	require.NoError(t, err)
	assert.Equal(t, "wallet-projector", pr.ProcessorID)
	assert.Equal(t, processor.StatusActive, pr.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStore_Advance(t *testing.T) {
	db, mock := newMockDB(t)
	ps := processor.NewProgressStore(db)

	mock.ExpectExec("INSERT INTO processor_progress").
		WithArgs("wallet-projector", int64(42), processor.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ps.Advance(context.Background(), "wallet-projector", 42)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStore_PauseResume(t *testing.T) {
	db, mock := newMockDB(t)
	ps := processor.NewProgressStore(db)

	mock.ExpectExec("INSERT INTO processor_progress").
		WithArgs("wallet-projector", processor.StatusPaused).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO processor_progress").
		WithArgs("wallet-projector", processor.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ps.Pause(context.Background(), "wallet-projector"))
	require.NoError(t, ps.Resume(context.Background(), "wallet-projector"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStore_RecordError_TransitionsToFailedAtBudget(t *testing.T) {
	db, mock := newMockDB(t)
	ps := processor.NewProgressStore(db)

	mock.ExpectExec("INSERT INTO processor_progress").
		WithArgs("wallet-projector", processor.StatusActive, "boom", 1, processor.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ps.RecordError(context.Background(), "wallet-projector", errors.New("boom"), 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStore_Reset(t *testing.T) {
	db, mock := newMockDB(t)
	ps := processor.NewProgressStore(db)

	mock.ExpectExec(`UPDATE processor_progress SET last_position = \$2`).
		WithArgs("wallet-projector", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ps.Reset(context.Background(), "wallet-projector"))
	require.NoError(t, mock.ExpectationsWereMet())
}
