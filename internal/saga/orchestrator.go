// internal/saga/orchestrator.go
package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/EntryDSM/Casper-Application-sub008/internal/application"
	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/metrics"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/validation"
	"github.com/EntryDSM/Casper-Application-sub008/internal/outbox"
)

// AuditSink receives terminal saga states for operator-searchable audit.
type AuditSink interface {
	RecordTerminal(ctx context.Context, st *State) error
}

// NopAudit discards audit records.
type NopAudit struct{}

func (NopAudit) RecordTerminal(context.Context, *State) error { return nil }

// Orchestrator owns every saga transition. Each transition runs in one
// database transaction together with the outbox rows it emits, serialized per
// receipt code by a striped lock in-process and a row lock across processes.
type Orchestrator struct {
	db     *sql.DB
	states *Store
	apps   *application.Store
	events *outbox.Store
	locks  *keyLock
	audit  AuditSink
	logger logger.Logger
}

func NewOrchestrator(db *sql.DB, states *Store, apps *application.Store, events *outbox.Store, lockStripes int, audit AuditSink, log logger.Logger) *Orchestrator {
	if audit == nil {
		audit = NopAudit{}
	}
	return &Orchestrator{
		db:     db,
		states: states,
		apps:   apps,
		events: events,
		locks:  newKeyLock(lockStripes),
		audit:  audit,
		logger: log.WithFields(map[string]interface{}{"component": "saga-orchestrator"}),
	}
}

type createApplicationPayload struct {
	ReceiptCode int64           `json:"receiptCode"`
	UserID      string          `json:"userId"`
	Payload     json.RawMessage `json:"payload"`
}

type compensationPayload struct {
	ReceiptCode int64  `json:"receiptCode"`
	Reason      string `json:"reason,omitempty"`
}

// Initiate starts the saga: the Application row, the PENDING saga state, and
// the CREATE_APPLICATION outbox row commit in one transaction. The caller
// observes only this local commit; eventual success or failure is visible on
// the application's saga status.
func (o *Orchestrator) Initiate(ctx context.Context, receiptCode int64, userID string, payload map[string]interface{}) error {
	start := time.Now()
	defer func() {
		metrics.SagaTransitionDuration.WithLabelValues("initiate").Observe(time.Since(start).Seconds())
	}()

	if err := validation.ValidateSubmission(payload); err != nil {
		return stderrors.NewPayloadInvalidError(err.Error())
	}

	submission, err := json.Marshal(payload)
	if err != nil {
		return stderrors.NewPayloadInvalidError(err.Error())
	}

	educationalStatus, _ := payload["educationalStatus"].(string)

	unlock := o.locks.lock(receiptCode)
	defer unlock()

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewPersistenceError("initiate begin", err)
	}
	defer tx.Rollback()

	exists, err := o.states.Exists(ctx, tx, receiptCode)
	if err != nil {
		return err
	}
	if exists {
		return stderrors.NewDuplicateSagaError(receiptCode)
	}

	now := time.Now().UTC()
	app := &application.Application{
		ReceiptCode:       receiptCode,
		UserID:            userID,
		EducationalStatus: educationalStatus,
		SubmissionPayload: submission,
		SagaStatus:        string(StatusPending),
		CreatedAt:         now,
	}
	if err := o.apps.Insert(ctx, tx, app); err != nil {
		return err
	}

	if err := o.states.Insert(ctx, tx, NewState(receiptCode)); err != nil {
		return err
	}

	event, err := outbox.NewEvent(receiptCode, outbox.EventCreateApplication, createApplicationPayload{
		ReceiptCode: receiptCode,
		UserID:      userID,
		Payload:     submission,
	})
	if err != nil {
		return stderrors.NewPersistenceError("initiate event encode", err)
	}
	if err := o.events.Append(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewPersistenceError("initiate commit", err)
	}

	metrics.SagaTransitions.WithLabelValues(string(StatusPending)).Inc()
	o.logger.Info("saga initiated", map[string]interface{}{
		"receiptCode": receiptCode,
		"userId":      userID,
	})
	return nil
}

// OnUserAck records the user service's completion signal.
func (o *Orchestrator) OnUserAck(ctx context.Context, receiptCode int64) error {
	return o.ack(ctx, receiptCode, ParticipantUser)
}

// OnStatusAck records the status service's completion signal.
func (o *Orchestrator) OnStatusAck(ctx context.Context, receiptCode int64) error {
	return o.ack(ctx, receiptCode, ParticipantStatus)
}

// OnUserFailed compensates the saga after a user-side failure.
func (o *Orchestrator) OnUserFailed(ctx context.Context, receiptCode int64, reason string) error {
	return o.fail(ctx, receiptCode, reason, ParticipantUser)
}

// OnStatusFailed compensates the saga after a status-side failure.
func (o *Orchestrator) OnStatusFailed(ctx context.Context, receiptCode int64, reason string) error {
	return o.fail(ctx, receiptCode, reason, ParticipantStatus)
}

func (o *Orchestrator) ack(ctx context.Context, receiptCode int64, p Participant) error {
	start := time.Now()
	event := string(p) + "-ack"
	defer func() {
		metrics.SagaTransitionDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}()

	unlock := o.locks.lock(receiptCode)
	defer unlock()

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewPersistenceError("ack begin", err)
	}
	defer tx.Rollback()

	st, err := o.states.GetForUpdate(ctx, tx, receiptCode)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			o.dropMessage(receiptCode, event, "no saga state")
			return nil
		}
		return err
	}

	if !st.Ack(p) {
		stdErr := stderrors.NewInvalidTransitionError(receiptCode, string(st.Status), event)
		o.dropMessage(receiptCode, event, stdErr.Details)
		return nil
	}

	if err := o.states.Update(ctx, tx, st); err != nil {
		return err
	}
	if err := o.apps.UpdateSagaStatus(ctx, tx, receiptCode, string(st.Status)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewPersistenceError("ack commit", err)
	}

	metrics.SagaTransitions.WithLabelValues(string(st.Status)).Inc()
	o.logger.Info("saga advanced", map[string]interface{}{
		"receiptCode": receiptCode,
		"participant": string(p),
		"status":      string(st.Status),
	})

	if st.Status == StatusCompleted {
		o.recordTerminal(ctx, st)
	}
	return nil
}

// fail drives the two-phase compensation. Phase one marks the saga
// COMPENSATING and appends the compensation events atomically; phase two
// deletes the application and settles the saga in COMPENSATED. When phase two
// fails the saga is parked in FAILED for operator retry rather than retried
// forever. A delivery that finds the saga already COMPENSATING skips phase one
// and resumes settlement.
func (o *Orchestrator) fail(ctx context.Context, receiptCode int64, reason string, failed Participant) error {
	start := time.Now()
	event := "failure"
	if failed != "" {
		event = string(failed) + "-failed"
	}
	defer func() {
		metrics.SagaTransitionDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}()

	unlock := o.locks.lock(receiptCode)
	defer unlock()

	st, err := o.beginCompensation(ctx, receiptCode, reason, failed, event)
	if err != nil || st == nil {
		return err
	}

	if err := o.settleCompensation(ctx, st); err != nil {
		o.parkFailed(ctx, st, err)
		return stderrors.NewCompensationFailedError(receiptCode, err)
	}

	metrics.SagaTransitions.WithLabelValues(string(StatusCompensated)).Inc()
	o.logger.Info("saga compensated", map[string]interface{}{
		"receiptCode": receiptCode,
		"reason":      reason,
	})
	o.recordTerminal(ctx, st)
	return nil
}

// beginCompensation returns a nil state when the message was dropped as a
// duplicate or unknown delivery.
func (o *Orchestrator) beginCompensation(ctx context.Context, receiptCode int64, reason string, failed Participant, event string) (*State, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stderrors.NewPersistenceError("compensation begin", err)
	}
	defer tx.Rollback()

	st, err := o.states.GetForUpdate(ctx, tx, receiptCode)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			o.dropMessage(receiptCode, event, "no saga state")
			return nil, nil
		}
		return nil, err
	}

	if !st.Fail(reason) {
		if st.Status == StatusCompensating {
			// Phase one committed but settlement never ran, most likely a
			// crash between the two transactions. The compensation events
			// are already in the outbox; resume phase two.
			o.logger.Warn("resuming interrupted compensation", map[string]interface{}{
				"receiptCode": receiptCode,
				"reason":      st.FailureReason,
			})
			return st, nil
		}
		o.dropMessage(receiptCode, event, "duplicate or late delivery, state "+string(st.Status))
		return nil, nil
	}

	if err := o.states.Update(ctx, tx, st); err != nil {
		return nil, err
	}
	if err := o.apps.UpdateSagaStatus(ctx, tx, receiptCode, string(st.Status)); err != nil {
		return nil, err
	}

	for _, eventType := range o.compensationEvents(st, failed) {
		ev, err := outbox.NewEvent(receiptCode, eventType, compensationPayload{
			ReceiptCode: receiptCode,
			Reason:      reason,
		})
		if err != nil {
			return nil, stderrors.NewPersistenceError("compensation event encode", err)
		}
		if err := o.events.Append(ctx, tx, ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, stderrors.NewPersistenceError("compensation commit", err)
	}

	metrics.SagaTransitions.WithLabelValues(string(StatusCompensating)).Inc()
	return st, nil
}

// compensationEvents picks which compensation commands to emit: always the
// cancellation, the failed side's own rollback, and a rollback for any other
// side that had already acknowledged.
func (o *Orchestrator) compensationEvents(st *State, failed Participant) []string {
	events := []string{outbox.EventCancelSubmitted}

	if failed == ParticipantUser || st.UserAcked {
		events = append(events, outbox.EventDeleteUser)
	}
	if failed == ParticipantStatus || st.StatusAcked {
		events = append(events, outbox.EventStatusRollback)
	}
	return events
}

func (o *Orchestrator) settleCompensation(ctx context.Context, st *State) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewPersistenceError("settle begin", err)
	}
	defer tx.Rollback()

	if err := o.apps.Delete(ctx, tx, st.ReceiptCode); err != nil {
		return err
	}

	st.Status = StatusCompensated
	st.UpdatedAt = time.Now().UTC()
	if err := o.states.Update(ctx, tx, st); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewPersistenceError("settle commit", err)
	}
	return nil
}

// parkFailed is best-effort: even if the FAILED write fails the error is
// already surfaced to the caller and counted.
func (o *Orchestrator) parkFailed(ctx context.Context, st *State, cause error) {
	metrics.SagaFailures.WithLabelValues("compensation").Inc()
	o.logger.Error("compensation failed, parking saga in FAILED", map[string]interface{}{
		"receiptCode": st.ReceiptCode,
		"error":       cause.Error(),
	})

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		o.logger.Error("could not begin FAILED transaction", map[string]interface{}{
			"receiptCode": st.ReceiptCode,
			"error":       err.Error(),
		})
		return
	}
	defer tx.Rollback()

	st.Status = StatusFailed
	st.UpdatedAt = time.Now().UTC()
	if err := o.states.Update(ctx, tx, st); err != nil {
		o.logger.Error("could not persist FAILED state", map[string]interface{}{
			"receiptCode": st.ReceiptCode,
			"error":       err.Error(),
		})
		return
	}
	if err := tx.Commit(); err != nil {
		o.logger.Error("could not commit FAILED state", map[string]interface{}{
			"receiptCode": st.ReceiptCode,
			"error":       err.Error(),
		})
		return
	}

	metrics.SagaTransitions.WithLabelValues(string(StatusFailed)).Inc()
	o.recordTerminal(ctx, st)
}

// EscalateStalled compensates every saga stuck in a non-terminal state past
// the deadline, treating the missed acknowledgement as a failure.
func (o *Orchestrator) EscalateStalled(ctx context.Context, deadline time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-deadline)
	codes, err := o.states.FetchStalled(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, code := range codes {
		if err := o.fail(ctx, code, "timeout", ""); err != nil {
			o.logger.Error("deadline escalation failed", map[string]interface{}{
				"receiptCode": code,
				"error":       err.Error(),
			})
			continue
		}
		escalated++
	}

	if escalated > 0 {
		o.logger.Warn("stalled sagas escalated", map[string]interface{}{
			"count": escalated,
		})
	}
	return escalated, nil
}

// RunDeadlineSweep escalates stalled sagas on a fixed cadence until ctx is
// cancelled.
func (o *Orchestrator) RunDeadlineSweep(ctx context.Context, interval, deadline time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.EscalateStalled(ctx, deadline); err != nil {
				o.logger.Error("deadline sweep failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

func (o *Orchestrator) dropMessage(receiptCode int64, event, why string) {
	o.logger.Info("message dropped", map[string]interface{}{
		"receiptCode": receiptCode,
		"event":       event,
		"reason":      why,
	})
}

func (o *Orchestrator) recordTerminal(ctx context.Context, st *State) {
	if err := o.audit.RecordTerminal(ctx, st); err != nil {
		o.logger.Warn("audit record failed", map[string]interface{}{
			"receiptCode": st.ReceiptCode,
			"error":       err.Error(),
		})
	}
}
