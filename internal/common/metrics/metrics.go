// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutboxEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Total number of outbox events published to the broker",
		},
		[]string{"event_type"},
	)

	OutboxPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
		[]string{"event_type"},
	)

	OutboxUndispatched = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_undispatched_events",
			Help: "Undispatched outbox rows observed at the last relay cycle",
		},
	)

	SagaTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_transitions_total",
			Help: "Total number of saga state transitions",
		},
		[]string{"to_state"},
	)

	SagaTransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "saga_transition_duration_seconds",
			Help: "Duration of saga transition processing in seconds",
		},
		[]string{"event"},
	)

	SagaFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_failures_total",
			Help: "Sagas parked in FAILED, awaiting operator intervention",
		},
		[]string{"reason"},
	)

	ConsumerMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_processed_total",
			Help: "Total number of broker messages processed by the consumer layer",
		},
		[]string{"topic"},
	)

	ConsumerDuplicatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_duplicates_dropped_total",
			Help: "Redelivered or late messages dropped by the idempotency check",
		},
		[]string{"topic"},
	)
)
