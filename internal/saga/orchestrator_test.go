package saga

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EntryDSM/Casper-Application-sub008/internal/application"
	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
	"github.com/EntryDSM/Casper-Application-sub008/internal/outbox"
)

// ==========================
// Test Helper Functions
// ==========================

func newTestOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewTestLogger(t)
	o := NewOrchestrator(
		db,
		NewStore(db),
		application.NewStore(db, log),
		outbox.NewStore(db, log),
		8,
		nil,
		log,
	)
	return o, mock
}

func validSubmission() map[string]interface{} {
	return map[string]interface{}{
		"applicantName":     "Hong Gildong",
		"educationalStatus": "PROSPECTIVE_GRADUATE",
		"applicationType":   "COMMON",
	}
}

func stateRow(st *State) *sqlmock.Rows {
	var reason interface{}
	if st.FailureReason != "" {
		reason = st.FailureReason
	}
	return sqlmock.NewRows([]string{
		"receipt_code", "status", "user_acked", "status_acked", "failure_reason", "updated_at",
	}).AddRow(st.ReceiptCode, string(st.Status), st.UserAcked, st.StatusAcked, reason, time.Now().UTC())
}

func expectStateSelect(mock sqlmock.Sqlmock, st *State) {
	mock.ExpectQuery(`SELECT receipt_code, status, user_acked, status_acked, failure_reason, updated_at[\s\S]*FOR UPDATE`).
		WithArgs(st.ReceiptCode).
		WillReturnRows(stateRow(st))
}

// ==========================
// Initiate
// ==========================

func TestOrchestrator_Initiate_Success(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM saga_states WHERE receipt_code = \$1\)`).
		WithArgs(int64(1001)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO applications`).
		WithArgs(int64(1001), "user-1", "PROSPECTIVE_GRADUATE", sqlmock.AnyArg(), "PENDING", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO saga_states`).
		WithArgs(int64(1001), "PENDING", false, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), int64(1001), "CREATE_APPLICATION", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := o.Initiate(context.Background(), 1001, "user-1", validSubmission())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Initiate_Duplicate(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM saga_states WHERE receipt_code = \$1\)`).
		WithArgs(int64(1001)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := o.Initiate(context.Background(), 1001, "user-1", validSubmission())
	assert.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeDuplicateSaga, stderrors.CodeOf(err))
	assert.False(t, stderrors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Initiate_ConcurrentDuplicateLosesRace(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	// Another process commits the same receipt code between the existence
	// check and the insert. The unique violation surfaces as a duplicate,
	// not a retryable persistence error.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM saga_states WHERE receipt_code = \$1\)`).
		WithArgs(int64(1001)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO saga_states`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "saga_states_pkey"})
	mock.ExpectRollback()

	err := o.Initiate(context.Background(), 1001, "user-1", validSubmission())
	assert.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeDuplicateSaga, stderrors.CodeOf(err))
	assert.False(t, stderrors.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Initiate_InvalidPayload(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	err := o.Initiate(context.Background(), 1001, "user-1", map[string]interface{}{
		"educationalStatus": "PROSPECTIVE_GRADUATE",
	})
	assert.Error(t, err)
	assert.Equal(t, stderrors.ErrCodePayloadInvalid, stderrors.CodeOf(err))
	// Nothing touches the database when validation rejects the payload.
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Acknowledgements
// ==========================

func TestOrchestrator_AckFlow_StatusThenUser(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	// Status service acknowledges first.
	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1001, Status: StatusPending})
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1001), "STATUS_CREATED", false, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications`).
		WithArgs(int64(1001), "STATUS_CREATED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, o.OnStatusAck(context.Background(), 1001))

	// User service acknowledges second, completing the saga.
	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1001, Status: StatusStatusCreated, StatusAcked: true})
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1001), "COMPLETED", true, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications`).
		WithArgs(int64(1001), "COMPLETED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, o.OnUserAck(context.Background(), 1001))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Ack_UnknownSagaIsDropped(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT receipt_code, status, user_acked, status_acked, failure_reason, updated_at[\s\S]*FOR UPDATE`).
		WithArgs(int64(9999)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	// Unknown deliveries are dropped, not retried.
	assert.NoError(t, o.OnUserAck(context.Background(), 9999))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Ack_AfterTerminalIsDropped(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1001, Status: StatusCompleted, UserAcked: true, StatusAcked: true})
	mock.ExpectRollback()

	assert.NoError(t, o.OnStatusAck(context.Background(), 1001))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Compensation
// ==========================

func TestOrchestrator_OnUserFailed_Compensates(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	// Phase one: mark COMPENSATING and append compensation events.
	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1002, Status: StatusPending})
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1002), "COMPENSATING", false, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications`).
		WithArgs(int64(1002), "COMPENSATING", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), int64(1002), "CANCEL_SUBMITTED_APPLICATION", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), int64(1002), "DELETE_USER", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Phase two: delete the application and settle in COMPENSATED.
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM applications WHERE receipt_code = \$1`).
		WithArgs(int64(1002)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1002), "COMPENSATED", false, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := o.OnUserFailed(context.Background(), 1002, "user service rejected")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_OnStatusFailed_RollsBackAckedUser(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	// The user side already acknowledged, so its rollback is emitted too.
	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1003, Status: StatusUserLinked, UserAcked: true})
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1003), "COMPENSATING", true, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications`).
		WithArgs(int64(1003), "COMPENSATING", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), int64(1003), "CANCEL_SUBMITTED_APPLICATION", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), int64(1003), "DELETE_USER", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), int64(1003), "APPLICATION_STATUS_ROLLBACK", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM applications WHERE receipt_code = \$1`).
		WithArgs(int64(1003)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1003), "COMPENSATED", true, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := o.OnStatusFailed(context.Background(), 1003, "status store down")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Failure_ResumesInterruptedCompensation(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	// The saga is already COMPENSATING: phase one committed earlier but the
	// process died before settlement. The redelivery must not re-emit
	// compensation events; it runs phase two to the end.
	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1002, Status: StatusCompensating, FailureReason: "user service rejected"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM applications WHERE receipt_code = \$1`).
		WithArgs(int64(1002)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1002), "COMPENSATED", false, false, "user service rejected", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, o.OnUserFailed(context.Background(), 1002, "redelivered"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_Failure_AfterTerminalIsDropped(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1002, Status: StatusCompensated, FailureReason: "user service rejected"})
	mock.ExpectRollback()

	assert.NoError(t, o.OnUserFailed(context.Background(), 1002, "redelivered"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_SettleFailure_ParksSagaInFailed(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1002, Status: StatusPending})
	mock.ExpectExec(`UPDATE saga_states`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Phase two fails while deleting the application.
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM applications WHERE receipt_code = \$1`).
		WithArgs(int64(1002)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	// The saga is parked in FAILED instead of retrying forever.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1002), "FAILED", false, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := o.OnUserFailed(context.Background(), 1002, "user service rejected")
	assert.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeCompensationFailed, stderrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Deadline escalation
// ==========================

func TestOrchestrator_EscalateStalled_NoneStalled(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectQuery(`SELECT receipt_code[\s\S]*FROM saga_states`).
		WillReturnRows(sqlmock.NewRows([]string{"receipt_code"}))

	escalated, err := o.EscalateStalled(context.Background(), 5*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, 0, escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_EscalateStalled_CompensatesTimedOutSaga(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	mock.ExpectQuery(`SELECT receipt_code[\s\S]*FROM saga_states`).
		WillReturnRows(sqlmock.NewRows([]string{"receipt_code"}).AddRow(int64(1004)))

	// A stalled PENDING saga with no acks gets the cancellation only.
	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1004, Status: StatusPending})
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1004), "COMPENSATING", false, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications`).
		WithArgs(int64(1004), "COMPENSATING", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), int64(1004), "CANCEL_SUBMITTED_APPLICATION", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM applications WHERE receipt_code = \$1`).
		WithArgs(int64(1004)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1004), "COMPENSATED", false, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	escalated, err := o.EscalateStalled(context.Background(), 5*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, 1, escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_EscalateStalled_SettlesStrandedCompensation(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	// The sweep also picks up sagas stuck in COMPENSATING and finishes
	// settlement for them.
	mock.ExpectQuery(`SELECT receipt_code[\s\S]*FROM saga_states`).
		WillReturnRows(sqlmock.NewRows([]string{"receipt_code"}).AddRow(int64(1005)))

	mock.ExpectBegin()
	expectStateSelect(mock, &State{ReceiptCode: 1005, Status: StatusCompensating, FailureReason: "status store down"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM applications WHERE receipt_code = \$1`).
		WithArgs(int64(1005)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE saga_states`).
		WithArgs(int64(1005), "COMPENSATED", false, false, "status store down", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	escalated, err := o.EscalateStalled(context.Background(), 5*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, 1, escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Compensation event selection
// ==========================

func TestOrchestrator_CompensationEvents(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	tests := []struct {
		name   string
		state  *State
		failed Participant
		want   []string
	}{
		{
			name:   "user failed before any ack",
			state:  &State{Status: StatusCompensating},
			failed: ParticipantUser,
			want:   []string{"CANCEL_SUBMITTED_APPLICATION", "DELETE_USER"},
		},
		{
			name:   "status failed after user ack",
			state:  &State{Status: StatusCompensating, UserAcked: true},
			failed: ParticipantStatus,
			want:   []string{"CANCEL_SUBMITTED_APPLICATION", "DELETE_USER", "APPLICATION_STATUS_ROLLBACK"},
		},
		{
			name:   "timeout with no acks cancels only",
			state:  &State{Status: StatusCompensating},
			failed: "",
			want:   []string{"CANCEL_SUBMITTED_APPLICATION"},
		},
		{
			name:   "timeout after both acks rolls back both",
			state:  &State{Status: StatusCompensating, UserAcked: true, StatusAcked: true},
			failed: "",
			want:   []string{"CANCEL_SUBMITTED_APPLICATION", "DELETE_USER", "APPLICATION_STATUS_ROLLBACK"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, o.compensationEvents(tt.state, tt.failed))
		})
	}
}
