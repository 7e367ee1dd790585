// internal/common/kafka/publisher.go
package kafka

import (
	"context"
	"time"

	"github.com/EntryDSM/Casper-Application-sub008/internal/common/config"
	stderrors "github.com/EntryDSM/Casper-Application-sub008/internal/common/errors"

	"github.com/segmentio/kafka-go"
)

// Publisher writes saga events to the broker. Messages are keyed by receipt
// code so the broker's partitioning preserves per-aggregate ordering.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(cfg config.KafkaConfig) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Publisher{writer: writer}
}

// Publish sends one message and returns only after the broker acknowledges it.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return stderrors.NewPublishError(topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
