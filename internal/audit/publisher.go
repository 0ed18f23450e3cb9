// Package audit publishes reset orchestration outcomes to Kafka.
// Publishing is best-effort: a broker outage degrades auditing, not
// password resets.
package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"reset-guard/internal/client"
	"reset-guard/internal/models"
	"reset-guard/internal/util"
)

const defaultEventBuckets = 64

// Publisher writes one message per terminal orchestration outcome.
// Events are bucketed by email hash so downstream consumers can
// partition per caller without seeing raw identifiers.
type Publisher struct {
	producer     *client.KafkaProducer
	eventBuckets int
}

func NewPublisher(producer *client.KafkaProducer) *Publisher {
	return &Publisher{
		producer:     producer,
		eventBuckets: defaultEventBuckets,
	}
}

// Publish fills in event identity fields and writes the message.
// Failures are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, event models.ResetAuditEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	event.EventBucket = p.eventBucket(event.EmailHash)

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to encode audit event", zap.Error(err))
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.producer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(strconv.Itoa(event.EventBucket)),
		Value: payload,
	})
	if err != nil {
		util.Error("failed to publish audit event",
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return
	}

	util.Debug("audit event published",
		zap.String("event_type", event.EventType),
		zap.Int("event_bucket", event.EventBucket))
}

// eventBucket maps an identifier hash onto a stable bucket. Events
// without an email hash (e.g. deprecated-endpoint hits) land in
// bucket 0.
func (p *Publisher) eventBucket(emailHash string) int {
	if emailHash == "" {
		return 0
	}
	return int(murmur3.Sum64([]byte(emailHash)) % uint64(p.eventBuckets))
}

// NopPublisher satisfies the orchestrator's publisher dependency
// when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.ResetAuditEvent) {}
