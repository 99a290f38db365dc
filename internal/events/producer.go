package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultTopic receives every sync event.
const DefaultTopic = "smartgrip_sync_events"

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// KafkaProducer lazily manages writers per topic.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes messages to the given topic, creating a writer if necessary.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerForTopic(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 10 * time.Millisecond,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}

// Forwarder publishes bus events to Kafka, keyed by user id.
type Forwarder struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewForwarder constructs a Forwarder writing to topic.
func NewForwarder(writer messageWriter, topic string, logger *zap.Logger) *Forwarder {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{writer: writer, topic: topic, logger: logger}
}

// Publish encodes e and writes it to Kafka.
func (f *Forwarder) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.UserID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "user_id", Value: []byte(e.UserID)},
		},
	}
	return f.writer.WriteMessages(ctx, f.topic, msg)
}

// Handle is a bus Handler; delivery failures are logged.
func (f *Forwarder) Handle(ctx context.Context, e Event) {
	if err := f.Publish(ctx, e); err != nil {
		f.logger.Warn("event forward failed", zap.String("event_type", e.Type), zap.String("topic", f.topic), zap.Error(err))
	}
}
