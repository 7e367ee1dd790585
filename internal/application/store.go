// internal/application/store.go
package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
)

var ErrNotFound = errors.New("APPLICATION_NOT_FOUND")

// Store persists the Application aggregate. Writes that participate in a saga
// transition take the transition's transaction; only the orchestrator and the
// compensation path mutate an application after Insert.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "application-store"}),
	}
}

// Insert creates the aggregate within tx.
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, app *Application) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO applications (
			receipt_code, user_id, educational_status, submission_payload,
			saga_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		app.ReceiptCode,
		app.UserID,
		app.EducationalStatus,
		app.SubmissionPayload,
		app.SagaStatus,
		app.CreatedAt,
	)
	if err != nil {
		return stderrors.NewPersistenceError("application insert", err)
	}
	return nil
}

// UpdateSagaStatus reflects the saga's terminal or intermediate status on the
// aggregate within tx.
func (s *Store) UpdateSagaStatus(ctx context.Context, tx *sql.Tx, receiptCode int64, status string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE applications
		SET saga_status = $2, updated_at = $3
		WHERE receipt_code = $1`,
		receiptCode, status, time.Now().UTC())
	if err != nil {
		return stderrors.NewPersistenceError("application status update", err)
	}
	return nil
}

// Delete removes the aggregate as compensation. Deleting an absent or
// already-deleted application is a no-op.
func (s *Store) Delete(ctx context.Context, tx *sql.Tx, receiptCode int64) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM applications WHERE receipt_code = $1`, receiptCode)
	if err != nil {
		return stderrors.NewPersistenceError("application delete", err)
	}
	return nil
}

// Get loads one application by receipt code.
func (s *Store) Get(ctx context.Context, receiptCode int64) (*Application, error) {
	var app Application
	err := s.db.QueryRowContext(ctx, `
		SELECT receipt_code, user_id, educational_status, submission_payload,
		       saga_status, created_at, updated_at
		FROM applications
		WHERE receipt_code = $1`, receiptCode).
		Scan(
			&app.ReceiptCode,
			&app.UserID,
			&app.EducationalStatus,
			&app.SubmissionPayload,
			&app.SagaStatus,
			&app.CreatedAt,
			&app.UpdatedAt,
		)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: receipt code %d", ErrNotFound, receiptCode)
		}
		return nil, stderrors.NewPersistenceError("application get", err)
	}
	return &app, nil
}
