// Package kafka emits sync and export lifecycle events for downstream
// consumers. Emission is best effort: a broker outage never blocks a live
// session with the remote client.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/fieldserve/trellis/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// BridgeEvent is one sync or export lifecycle event.
type BridgeEvent struct {
	EventType   string          `json:"event_type"` // run.started, run.ended, invoice.exported, invoice.export_failed
	RunID       string          `json:"run_id,omitempty"`
	RunKind     string          `json:"run_kind,omitempty"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	RefNumber   string          `json:"ref_number,omitempty"`
	CompanyFile string          `json:"company_file,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// PublishBridgeEvent publishes one lifecycle event to Kafka.
func (p *Producer) PublishBridgeEvent(ctx context.Context, event *BridgeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishBridgeEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := event.InvoiceID
	if key == "" {
		key = event.RunID
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "run_kind", Value: []byte(event.RunKind)},
			{Key: "schema_version", Value: []byte("1.0")},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish bridge event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"run_id":     event.RunID,
		"invoice_id": event.InvoiceID,
	}).Debug("Published bridge event")

	return nil
}
