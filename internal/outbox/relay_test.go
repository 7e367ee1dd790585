package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
	"github.com/EntryDSM/Casper-Application-sub008/pkg/registry"
)

type published struct {
	topic string
	key   string
	value string
}

// fakePublisher records publishes and fails topics listed in failTopics.
type fakePublisher struct {
	messages   []published
	failTopics map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	if p.failTopics[topic] {
		return fmt.Errorf("broker unavailable for %s", topic)
	}
	p.messages = append(p.messages, published{topic: topic, key: string(key), value: string(value)})
	return nil
}

func newTestRelay(t *testing.T, pub *fakePublisher) (*Relay, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewTestLogger(t)
	store := NewStore(db, log)
	relay := NewRelay(store, pub, registry.Default(), 100*time.Millisecond, 100, log)
	return relay, mock
}

func undispatchedRows(events ...Event) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "aggregate_id", "event_type", "payload", "created_at"})
	for _, e := range events {
		rows.AddRow(e.ID, e.AggregateID, e.EventType, e.Payload, e.CreatedAt)
	}
	return rows
}

func TestRelay_DispatchBatch_PublishesAndMarks(t *testing.T) {
	pub := &fakePublisher{}
	relay, mock := newTestRelay(t, pub)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, aggregate_id, event_type, payload, created_at`).
		WillReturnRows(undispatchedRows(
			Event{ID: "id-1", AggregateID: 1001, EventType: EventCreateApplication, Payload: []byte(`{"receiptCode":1001}`), CreatedAt: now},
			Event{ID: "id-2", AggregateID: 1002, EventType: EventCancelSubmitted, Payload: []byte(`{"receiptCode":1002}`), CreatedAt: now},
		))
	mock.ExpectExec(`UPDATE outbox_events`).WithArgs("id-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE outbox_events`).WithArgs("id-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	dispatched, err := relay.DispatchBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dispatched)

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "create-application", pub.messages[0].topic)
	assert.Equal(t, "1001", pub.messages[0].key)
	assert.Equal(t, `{"receiptCode":1001}`, pub.messages[0].value)
	assert.Equal(t, "cancel-submitted-application", pub.messages[1].topic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_DispatchBatch_PublishFailureLeavesRowForRetry(t *testing.T) {
	pub := &fakePublisher{failTopics: map[string]bool{"create-application": true}}
	relay, mock := newTestRelay(t, pub)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, aggregate_id, event_type, payload, created_at`).
		WillReturnRows(undispatchedRows(
			Event{ID: "id-1", AggregateID: 1001, EventType: EventCreateApplication, Payload: []byte(`{}`), CreatedAt: now},
			Event{ID: "id-2", AggregateID: 1002, EventType: EventDeleteUser, Payload: []byte(`{}`), CreatedAt: now},
		))
	// Only the event that published gets marked; the failed one stays
	// undispatched for the next cycle.
	mock.ExpectExec(`UPDATE outbox_events`).WithArgs("id-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	dispatched, err := relay.DispatchBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "delete-user", pub.messages[0].topic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_DispatchBatch_UnroutableEventIsSkipped(t *testing.T) {
	pub := &fakePublisher{}
	relay, mock := newTestRelay(t, pub)

	mock.ExpectQuery(`SELECT id, aggregate_id, event_type, payload, created_at`).
		WillReturnRows(undispatchedRows(
			Event{ID: "id-1", AggregateID: 1001, EventType: "UNKNOWN_EVENT", Payload: []byte(`{}`), CreatedAt: time.Now().UTC()},
		))

	dispatched, err := relay.DispatchBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
	assert.Empty(t, pub.messages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_DispatchBatch_EmptyBatch(t *testing.T) {
	pub := &fakePublisher{}
	relay, mock := newTestRelay(t, pub)

	mock.ExpectQuery(`SELECT id, aggregate_id, event_type, payload, created_at`).
		WillReturnRows(undispatchedRows())

	dispatched, err := relay.DispatchBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, dispatched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_DispatchBatch_FetchError(t *testing.T) {
	pub := &fakePublisher{}
	relay, mock := newTestRelay(t, pub)

	mock.ExpectQuery(`SELECT id, aggregate_id, event_type, payload, created_at`).
		WillReturnError(errors.New("connection refused"))

	_, err := relay.DispatchBatch(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
