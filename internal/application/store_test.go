package application

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logger.NewTestLogger(t)), mock
}

func TestStore_Insert(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now().UTC()
	app := &Application{
		ReceiptCode:       1001,
		UserID:            "user-1",
		EducationalStatus: "PROSPECTIVE_GRADUATE",
		SubmissionPayload: []byte(`{"applicantName":"Hong Gildong"}`),
		SagaStatus:        "PENDING",
		CreatedAt:         now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO applications`).
		WithArgs(int64(1001), "user-1", "PROSPECTIVE_GRADUATE", app.SubmissionPayload, "PENDING", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.db.Begin()
	require.NoError(t, err)

	assert.NoError(t, store.Insert(context.Background(), tx, app))
	assert.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateSagaStatus(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE applications[\s\S]*SET saga_status = \$2`).
		WithArgs(int64(1001), "COMPLETED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.db.Begin()
	require.NoError(t, err)

	assert.NoError(t, store.UpdateSagaStatus(context.Background(), tx, 1001, "COMPLETED"))
	assert.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Delete_AbsentRowIsNoOp(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM applications WHERE receipt_code = \$1`).
		WithArgs(int64(1002)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := store.db.Begin()
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), tx, 1002))
	assert.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"receipt_code", "user_id", "educational_status", "submission_payload",
		"saga_status", "created_at", "updated_at",
	}).AddRow(int64(1001), "user-1", "GRADUATE", []byte(`{}`), "COMPLETED", now, now)

	mock.ExpectQuery(`SELECT receipt_code, user_id, educational_status, submission_payload`).
		WithArgs(int64(1001)).
		WillReturnRows(rows)

	app, err := store.Get(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), app.ReceiptCode)
	assert.Equal(t, "user-1", app.UserID)
	assert.Equal(t, "COMPLETED", app.SagaStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT receipt_code, user_id, educational_status, submission_payload`).
		WithArgs(int64(9999)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, stderrors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
