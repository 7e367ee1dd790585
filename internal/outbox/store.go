// internal/outbox/store.go
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
)

// Store persists outbox rows. Append runs inside the caller's transaction so
// an event is recorded if and only if the business state change commits; the
// relay reads only committed rows through the plain connection.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "outbox-store"}),
	}
}

// Append inserts the event within tx.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, event *Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at, dispatched)
		VALUES ($1, $2, $3, $4, $5, false)`,
		event.ID,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.CreatedAt,
	)
	if err != nil {
		return stderrors.NewPersistenceError("outbox append", err)
	}
	return nil
}

// FetchUndispatched returns up to limit undispatched events in creation
// order. Ordering is stable within one aggregate because its rows are always
// appended in causal order.
func (s *Store) FetchUndispatched(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE dispatched = false
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, stderrors.NewPersistenceError("outbox fetch", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, stderrors.NewPersistenceError("outbox scan", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewPersistenceError("outbox iterate", err)
	}

	return events, nil
}

// MarkDispatched flips the dispatched flag. Marking an already-dispatched row
// is a no-op.
func (s *Store) MarkDispatched(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET dispatched = true, dispatched_at = $2
		WHERE id = $1 AND dispatched = false`,
		id, time.Now().UTC())
	if err != nil {
		return stderrors.NewPersistenceError("outbox mark dispatched", err)
	}
	return nil
}

// DeleteDispatchedBefore removes dispatched rows older than cutoff and
// returns how many were deleted. Undispatched rows are never touched.
func (s *Store) DeleteDispatchedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox_events
		WHERE dispatched = true AND dispatched_at < $1`, cutoff)
	if err != nil {
		return 0, stderrors.NewPersistenceError("outbox retention sweep", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("outbox retention sweep", map[string]interface{}{
			"deleted": deleted,
			"cutoff":  cutoff,
		})
	}
	return deleted, nil
}
