// internal/saga/store.go
package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
)

var ErrStateNotFound = errors.New("SAGA_STATE_NOT_FOUND")

// Store persists saga states. State rows are retained after terminal states
// for audit and idempotency; they are never deleted with the application.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert creates the state within tx. A unique-violation on receipt_code is
// the storage-level guard behind DuplicateSagaError.
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, st *State) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO saga_states (receipt_code, status, user_acked, status_acked, failure_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		st.ReceiptCode,
		st.Status,
		st.UserAcked,
		st.StatusAcked,
		nullableString(st.FailureReason),
		st.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return stderrors.NewDuplicateSagaError(st.ReceiptCode)
		}
		return stderrors.NewPersistenceError("saga state insert", err)
	}
	return nil
}

// Exists reports whether a state row is present for receiptCode, within tx.
func (s *Store) Exists(ctx context.Context, tx *sql.Tx, receiptCode int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM saga_states WHERE receipt_code = $1)`,
		receiptCode).Scan(&exists)
	if err != nil {
		return false, stderrors.NewPersistenceError("saga state exists", err)
	}
	return exists, nil
}

// GetForUpdate loads the state with a row lock, serializing concurrent
// transitions for one receipt code at the database level.
func (s *Store) GetForUpdate(ctx context.Context, tx *sql.Tx, receiptCode int64) (*State, error) {
	var st State
	var reason sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT receipt_code, status, user_acked, status_acked, failure_reason, updated_at
		FROM saga_states
		WHERE receipt_code = $1
		FOR UPDATE`, receiptCode).
		Scan(&st.ReceiptCode, &st.Status, &st.UserAcked, &st.StatusAcked, &reason, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: receipt code %d", ErrStateNotFound, receiptCode)
		}
		return nil, stderrors.NewPersistenceError("saga state get", err)
	}
	if reason.Valid {
		st.FailureReason = reason.String
	}
	return &st, nil
}

// Update writes the mutated state back within tx.
func (s *Store) Update(ctx context.Context, tx *sql.Tx, st *State) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE saga_states
		SET status = $2, user_acked = $3, status_acked = $4, failure_reason = $5, updated_at = $6
		WHERE receipt_code = $1`,
		st.ReceiptCode,
		st.Status,
		st.UserAcked,
		st.StatusAcked,
		nullableString(st.FailureReason),
		st.UpdatedAt,
	)
	if err != nil {
		return stderrors.NewPersistenceError("saga state update", err)
	}
	return nil
}

// FetchStalled returns receipt codes of sagas still in a non-terminal state
// whose last update is older than cutoff. COMPENSATING is included so a saga
// whose settlement was interrupted gets picked up again by the sweep.
func (s *Store) FetchStalled(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT receipt_code
		FROM saga_states
		WHERE status IN ('PENDING', 'USER_LINKED', 'STATUS_CREATED', 'COMPENSATING')
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, stderrors.NewPersistenceError("saga stalled fetch", err)
	}
	defer rows.Close()

	var codes []int64
	for rows.Next() {
		var code int64
		if err := rows.Scan(&code); err != nil {
			return nil, stderrors.NewPersistenceError("saga stalled scan", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewPersistenceError("saga stalled iterate", err)
	}
	return codes, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
