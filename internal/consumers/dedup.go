// internal/consumers/dedup.go
package consumers

import (
	"context"
	"fmt"
	"time"

	"github.com/EntryDSM/Casper-Application-sub008/internal/common/database"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// Deduper is the fast-path duplicate check keyed by (topic, receipt code).
// It is advisory: the authoritative idempotency boundary is the saga state's
// monotonic fields, so losing the cache only costs a redundant transition
// attempt, never correctness.
type Deduper interface {
	Seen(ctx context.Context, topic string, receiptCode int64) bool
	Mark(ctx context.Context, topic string, receiptCode int64)
}

// RedisDeduper keeps processed-message markers in redis with a TTL.
type RedisDeduper struct {
	client *database.RedisClient
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisDeduper(client *database.RedisClient, ttl time.Duration, log logger.Logger) *RedisDeduper {
	return &RedisDeduper{
		client: client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "consumer-dedup"}),
	}
}

func dedupKey(topic string, receiptCode int64) string {
	return fmt.Sprintf("saga:dedup:%s:%d", topic, receiptCode)
}

// Seen reports whether the marker exists. Cache errors degrade to "not seen"
// so the message still reaches the orchestrator.
func (d *RedisDeduper) Seen(ctx context.Context, topic string, receiptCode int64) bool {
	_, err := d.client.Get(ctx, dedupKey(topic, receiptCode))
	if err == nil {
		return true
	}
	if err != redis.Nil {
		d.logger.Warn("dedup cache read failed", map[string]interface{}{
			"topic": topic,
			"error": err.Error(),
		})
	}
	return false
}

// Mark records the marker after the transition has committed. Marking before
// commit could drop a message whose transaction never made it.
func (d *RedisDeduper) Mark(ctx context.Context, topic string, receiptCode int64) {
	if _, err := d.client.SetNX(ctx, dedupKey(topic, receiptCode), 1, d.ttl); err != nil {
		d.logger.Warn("dedup cache write failed", map[string]interface{}{
			"topic": topic,
			"error": err.Error(),
		})
	}
}

// NopDeduper disables the fast path; the orchestrator still dedups.
type NopDeduper struct{}

func (NopDeduper) Seen(context.Context, string, int64) bool { return false }
func (NopDeduper) Mark(context.Context, string, int64)      {}
