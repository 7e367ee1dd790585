// internal/outbox/event.go
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted through the outbox.
const (
	EventCreateApplication = "CREATE_APPLICATION"
	EventStatusRollback    = "APPLICATION_STATUS_ROLLBACK"
	EventCancelSubmitted   = "CANCEL_SUBMITTED_APPLICATION"
	EventDeleteUser        = "DELETE_USER"
)

// Event is one pending domain event. Rows are inserted in the same
// transaction as the state change they announce and never updated except to
// flip the dispatched flag.
type Event struct {
	ID           string
	AggregateID  int64 // receipt code
	EventType    string
	Payload      []byte
	CreatedAt    time.Time
	Dispatched   bool
	DispatchedAt *time.Time
}

// NewEvent builds an undispatched event with a generated id and the payload
// serialized as JSON.
func NewEvent(aggregateID int64, eventType string, payload interface{}) (*Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     body,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
