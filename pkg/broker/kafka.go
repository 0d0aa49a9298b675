package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/pkg/config"
)

// Message is a broker-agnostic record.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher writes messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msgs ...Message) error
	Close() error
}

// KafkaPublisher wraps a kafka-go writer. Delivery retries are driven by the
// caller's job queue, so the writer itself makes a single synchronous attempt.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher returns nil when no brokers are configured.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            1,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger.Info("kafka publisher initialised", zap.Strings("brokers", cfg.Brokers))

	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish writes msgs to topic.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, toKafka(topic, m))
	}
	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("failed to close kafka publisher", zap.Error(err))
		return err
	}
	return nil
}

func toKafka(topic string, m Message) kafka.Message {
	msg := kafka.Message{Topic: topic, Key: m.Key, Value: m.Value}
	for k, v := range m.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return msg
}
