// internal/common/kafka/consumer.go
package kafka

import (
	"context"
	"errors"

	"github.com/EntryDSM/Casper-Application-sub008/internal/common/config"
	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"

	"github.com/segmentio/kafka-go"
)

// Message is the broker-agnostic view handlers receive.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Handler processes one inbound message. A nil return acknowledges the
// message; an error leaves it uncommitted so the broker redelivers it.
type Handler func(ctx context.Context, msg Message) error

// Subscription is the explicit consumer configuration: topic, group id, and
// handler function. One Consumer runs per subscription.
type Subscription struct {
	Topic   string
	GroupID string
	Handler Handler
}

// Consumer pulls messages for one subscription and commits offsets only after
// the handler (and the transaction it drives) has completed.
type Consumer struct {
	reader *kafka.Reader
	sub    Subscription
	logger logger.Logger
}

func NewConsumer(cfg config.KafkaConfig, sub Subscription, log logger.Logger) *Consumer {
	groupID := sub.GroupID
	if groupID == "" {
		groupID = cfg.GroupID
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   sub.Topic,
		GroupID: groupID,
	})

	return &Consumer{
		reader: reader,
		sub:    sub,
		logger: log.WithFields(map[string]interface{}{"topic": sub.Topic, "groupId": groupID}),
	}
}

// Run blocks until ctx is cancelled. Fetch errors terminate the loop; handler
// errors only skip the commit so the message comes back.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", nil)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopped", nil)
				return nil
			}
			c.logger.Error("fetch failed", map[string]interface{}{"error": err.Error()})
			return stderrors.NewConsumeError(c.sub.Topic, err)
		}

		msg := Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
		if err := c.sub.Handler(ctx, msg); err != nil {
			c.logger.Warn("handler failed, message left for redelivery", map[string]interface{}{
				"offset": m.Offset,
				"error":  err.Error(),
			})
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			// Crash-before-commit means redelivery; the idempotency layer
			// absorbs the duplicate.
			c.logger.Warn("offset commit failed", map[string]interface{}{
				"offset": m.Offset,
				"error":  err.Error(),
			})
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
