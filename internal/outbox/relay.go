// internal/outbox/relay.go
package outbox

import (
	"context"
	"strconv"
	"time"

	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/metrics"
	"github.com/EntryDSM/Casper-Application-sub008/pkg/registry"
)

// Publisher is the broker side of the relay. Publish must return only after
// the broker has acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Relay polls undispatched outbox rows and pushes them to the broker. A row
// is marked dispatched only after the publish is acknowledged, so delivery is
// at-least-once and downstream consumers must tolerate duplicates.
type Relay struct {
	store     *Store
	publisher Publisher
	registry  *registry.EventRegistry
	interval  time.Duration
	batchSize int
	logger    logger.Logger
}

func NewRelay(store *Store, publisher Publisher, reg *registry.EventRegistry, interval time.Duration, batchSize int, log logger.Logger) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		registry:  reg,
		interval:  interval,
		batchSize: batchSize,
		logger:    log.WithFields(map[string]interface{}{"component": "outbox-relay"}),
	}
}

// Run blocks until ctx is cancelled, dispatching one batch per tick.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("relay started", map[string]interface{}{
		"interval":  r.interval.String(),
		"batchSize": r.batchSize,
	})

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped", nil)
			return
		case <-ticker.C:
			if _, err := r.DispatchBatch(ctx); err != nil {
				r.logger.Error("dispatch cycle failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// DispatchBatch publishes one batch and returns how many events were
// dispatched. A publish failure skips that event and moves on; the row stays
// undispatched and is retried next cycle.
func (r *Relay) DispatchBatch(ctx context.Context) (int, error) {
	events, err := r.store.FetchUndispatched(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	metrics.OutboxUndispatched.Set(float64(len(events)))
	if len(events) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, event := range events {
		topic, ok := r.registry.TopicFor(event.EventType)
		if !ok {
			// An unroutable event would spin forever; surface it loudly and
			// leave it for the operator rather than dropping it.
			r.logger.Error("no topic registered for event type", map[string]interface{}{
				"eventId":   event.ID,
				"eventType": event.EventType,
			})
			continue
		}

		key := []byte(strconv.FormatInt(event.AggregateID, 10))
		if err := r.publisher.Publish(ctx, topic, key, event.Payload); err != nil {
			var stdErr *stderrors.StandardError
			if !stderrors.As(err, &stdErr) {
				err = stderrors.NewPublishError(topic, err)
			}
			metrics.OutboxPublishFailures.WithLabelValues(event.EventType).Inc()
			r.logger.Warn("publish failed, event left for retry", map[string]interface{}{
				"eventId":     event.ID,
				"eventType":   event.EventType,
				"receiptCode": event.AggregateID,
				"errorCode":   string(stderrors.CodeOf(err)),
				"error":       err.Error(),
			})
			continue
		}

		if err := r.store.MarkDispatched(ctx, event.ID); err != nil {
			// The publish went out but the mark failed; the event will be
			// re-published next cycle. Consumers dedup.
			r.logger.Warn("mark dispatched failed", map[string]interface{}{
				"eventId": event.ID,
				"error":   err.Error(),
			})
			continue
		}

		metrics.OutboxEventsPublished.WithLabelValues(event.EventType).Inc()
		dispatched++
	}

	if dispatched > 0 {
		r.logger.Debug("batch dispatched", map[string]interface{}{
			"fetched":    len(events),
			"dispatched": dispatched,
		})
	}
	return dispatched, nil
}

// RunRetention deletes dispatched rows older than the retention window on a
// fixed cadence.
func (r *Relay) RunRetention(ctx context.Context, sweepInterval, retention time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			if _, err := r.store.DeleteDispatchedBefore(ctx, cutoff); err != nil {
				r.logger.Error("retention sweep failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}
