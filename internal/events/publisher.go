// Package events publishes decided verifications to Kafka for downstream
// audit consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/example/idassure/internal/logging"
)

// TypeVerificationDecided labels decision events.
const TypeVerificationDecided = "verification.decided"

// DecisionEvent is the PII-light record of a decided attempt. Credentials and
// extracted text are never included.
type DecisionEvent struct {
	Type          string    `json:"type"`
	AttemptID     string    `json:"attempt_id"`
	IdentityKey   string    `json:"identity_key"`
	Success       bool      `json:"success"`
	Score         float64   `json:"score"`
	Similarity    *float64  `json:"similarity,omitempty"`
	DocumentScore *float64  `json:"document_score,omitempty"`
	IssueCount    int       `json:"issue_count"`
	DecidedAt     time.Time `json:"decided_at"`
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher writes events keyed by identity so that one identity's
// decisions stay ordered within a partition.
type KafkaPublisher struct {
	client producer
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher connects a producer to brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, logging.NewOperationError("events.new_kafka_publisher", "", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger.Named("events")}, nil
}

// Publish produces ev synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, ev DecisionEvent) error {
	if ev.Type == "" {
		ev.Type = TypeVerificationDecided
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return logging.NewOperationError("events.publish", ev.AttemptID, err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.IdentityKey),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Warn("publish decision event failed", zap.Error(err), zap.String("attempt_id", ev.AttemptID))
		return logging.NewOperationError("events.publish", ev.AttemptID, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// NopPublisher drops events. It is used when no brokers are configured.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, DecisionEvent) error { return nil }

// Close does nothing.
func (NopPublisher) Close() {}
