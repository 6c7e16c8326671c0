package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/sawpanic/tradegate/internal/pipeline"
)

// Publisher ships decision records to the reporting collaborator
type Publisher interface {
	pipeline.Publisher
	Close() error
}

// Config selects the Kafka topic and writer tuning. No brokers means Nop.
type Config struct {
	Brokers      []string      `yaml:"brokers" env:"TRADEGATE_KAFKA_BROKERS"`
	Topic        string        `yaml:"topic" env:"TRADEGATE_KAFKA_TOPIC"` // Default: tradegate.decisions
	Compression  string        `yaml:"compression"`                       // gzip, snappy, lz4, zstd
	RequiredAcks int           `yaml:"required_acks"`                     // Default: -1 (all)
	MaxAttempts  int           `yaml:"max_attempts"`                      // Default: 3
	WriteTimeout time.Duration `yaml:"write_timeout"`                     // Default: 10s
	BatchTimeout time.Duration `yaml:"batch_timeout"`                     // Default: 200ms
}

// DefaultConfig returns a disabled outbox
func DefaultConfig() Config {
	return Config{
		Topic:        "tradegate.decisions",
		Compression:  "gzip",
		RequiredAcks: -1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 200 * time.Millisecond,
	}
}

// messageWriter is the subset of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per record, keyed by ticker so a
// ticker's decisions stay ordered within a partition
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// New returns a KafkaPublisher, or Nop when no brokers are configured
func New(cfg Config) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return Nop{}, nil
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Kafka outbox enabled")
	return &KafkaPublisher{writer: writer, topic: cfg.Topic}, nil
}

// Publish encodes the record and writes it synchronously
func (p *KafkaPublisher) Publish(ctx context.Context, rec *pipeline.DecisionRecord) error {
	msg, err := message(rec)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish decision %s to %s: %w", rec.ID, p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func message(rec *pipeline.DecisionRecord) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal decision: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.Ticker),
		Value: value,
		Headers: []kafka.Header{
			{Key: "decision_id", Value: []byte(rec.ID)},
			{Key: "status", Value: []byte(rec.Status)},
		},
		Time: rec.AsOf,
	}, nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

// Nop discards records
type Nop struct{}

func (Nop) Publish(context.Context, *pipeline.DecisionRecord) error { return nil }
func (Nop) Close() error                                           { return nil }
