// internal/consumers/handlers.go
package consumers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/EntryDSM/Casper-Application-sub008/internal/common/config"
	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/kafka"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/metrics"
)

// Orchestrator is the transition surface the consumer layer drives. Exactly
// one transition is invoked per message.
type Orchestrator interface {
	Initiate(ctx context.Context, receiptCode int64, userID string, payload map[string]interface{}) error
	OnUserAck(ctx context.Context, receiptCode int64) error
	OnUserFailed(ctx context.Context, receiptCode int64, reason string) error
	OnStatusAck(ctx context.Context, receiptCode int64) error
	OnStatusFailed(ctx context.Context, receiptCode int64, reason string) error
}

// Recorder receives per-message telemetry alongside the prometheus counters.
type Recorder interface {
	RecordMessageProcessed(ctx context.Context, topic string)
	RecordMessageDuration(ctx context.Context, duration time.Duration, topic string)
}

type nopRecorder struct{}

func (nopRecorder) RecordMessageProcessed(context.Context, string) {}

func (nopRecorder) RecordMessageDuration(context.Context, time.Duration, string) {}

// Handlers translates inbound broker messages into orchestrator transitions.
// The message is acknowledged only after the transition commits; redelivered
// duplicates are absorbed by the dedup cache and the saga state itself.
type Handlers struct {
	orchestrator Orchestrator
	dedup        Deduper
	reporter     *stderrors.Reporter
	recorder     Recorder
	logger       logger.Logger
}

func NewHandlers(orchestrator Orchestrator, dedup Deduper, reporter *stderrors.Reporter, recorder Recorder, log logger.Logger) *Handlers {
	if dedup == nil {
		dedup = NopDeduper{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Handlers{
		orchestrator: orchestrator,
		dedup:        dedup,
		reporter:     reporter,
		recorder:     recorder,
		logger:       log.WithFields(map[string]interface{}{"component": "consumers"}),
	}
}

// Subscriptions returns the full explicit subscription set for the saga.
func (h *Handlers) Subscriptions(topics config.TopicsConfig) []kafka.Subscription {
	return []kafka.Subscription{
		{Topic: topics.ApplicationSubmitted, Handler: h.HandleApplicationSubmitted},
		{Topic: topics.UserUpdateCompleted, Handler: h.HandleUserUpdateCompleted},
		{Topic: topics.UserUpdateFailed, Handler: h.HandleUserUpdateFailed},
		{Topic: topics.StatusCreateCompleted, Handler: h.HandleStatusCreateCompleted},
		{Topic: topics.StatusCreateFailed, Handler: h.HandleStatusCreateFailed},
	}
}

type submittedMessage struct {
	ReceiptCode int64                  `json:"receiptCode"`
	UserID      string                 `json:"userId"`
	Payload     map[string]interface{} `json:"payload"`
}

type ackMessage struct {
	ReceiptCode int64  `json:"receiptCode"`
	Reason      string `json:"reason,omitempty"`
}

// HandleApplicationSubmitted starts a saga for an upstream submission.
func (h *Handlers) HandleApplicationSubmitted(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	defer func() { h.recorder.RecordMessageDuration(ctx, time.Since(start), msg.Topic) }()

	var in submittedMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return h.finish(ctx, msg.Topic, 0, stderrors.NewParseError(msg.Topic, err))
	}

	if h.dedup.Seen(ctx, msg.Topic, in.ReceiptCode) {
		metrics.ConsumerDuplicatesDropped.WithLabelValues(msg.Topic).Inc()
		return nil
	}

	err := h.orchestrator.Initiate(ctx, in.ReceiptCode, in.UserID, in.Payload)
	return h.finish(ctx, msg.Topic, in.ReceiptCode, err)
}

func (h *Handlers) HandleUserUpdateCompleted(ctx context.Context, msg kafka.Message) error {
	return h.handleAck(ctx, msg, func(ctx context.Context, in ackMessage) error {
		return h.orchestrator.OnUserAck(ctx, in.ReceiptCode)
	})
}

func (h *Handlers) HandleUserUpdateFailed(ctx context.Context, msg kafka.Message) error {
	return h.handleAck(ctx, msg, func(ctx context.Context, in ackMessage) error {
		return h.orchestrator.OnUserFailed(ctx, in.ReceiptCode, in.Reason)
	})
}

func (h *Handlers) HandleStatusCreateCompleted(ctx context.Context, msg kafka.Message) error {
	return h.handleAck(ctx, msg, func(ctx context.Context, in ackMessage) error {
		return h.orchestrator.OnStatusAck(ctx, in.ReceiptCode)
	})
}

func (h *Handlers) HandleStatusCreateFailed(ctx context.Context, msg kafka.Message) error {
	return h.handleAck(ctx, msg, func(ctx context.Context, in ackMessage) error {
		return h.orchestrator.OnStatusFailed(ctx, in.ReceiptCode, in.Reason)
	})
}

func (h *Handlers) handleAck(ctx context.Context, msg kafka.Message, transition func(context.Context, ackMessage) error) error {
	start := time.Now()
	defer func() { h.recorder.RecordMessageDuration(ctx, time.Since(start), msg.Topic) }()

	var in ackMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return h.finish(ctx, msg.Topic, 0, stderrors.NewParseError(msg.Topic, err))
	}

	if h.dedup.Seen(ctx, msg.Topic, in.ReceiptCode) {
		metrics.ConsumerDuplicatesDropped.WithLabelValues(msg.Topic).Inc()
		return nil
	}

	err := transition(ctx, in)
	return h.finish(ctx, msg.Topic, in.ReceiptCode, err)
}

// finish converts a transition result into the consumer contract: nil
// acknowledges; an error triggers redelivery only for retryable failures.
func (h *Handlers) finish(ctx context.Context, topic string, receiptCode int64, err error) error {
	if err == nil {
		h.dedup.Mark(ctx, topic, receiptCode)
		metrics.ConsumerMessagesProcessed.WithLabelValues(topic).Inc()
		h.recorder.RecordMessageProcessed(ctx, topic)
		return nil
	}

	if h.reporter.Report(ctx, topic, receiptCode, err) {
		return err
	}

	// Terminal errors are dropped: redelivering a duplicate saga or a broken
	// payload would fail identically forever.
	metrics.ConsumerMessagesProcessed.WithLabelValues(topic).Inc()
	return nil
}
