package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic carries every auth event; consumers switch on the type header.
const DefaultTopic = "auth.events"

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Encoding     Encoding
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a single topic, keyed by principal so every
// event for a principal lands on the same partition in order.
type KafkaSink struct {
	w        messageWriter
	encoding Encoding
}

// NewKafkaSink builds a synchronous kafka-go writer. Retries are left to the
// Publisher, so the writer makes a single attempt per batch.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(w, cfg.Encoding), nil
}

func newKafkaSink(w messageWriter, enc Encoding) *KafkaSink {
	if enc == "" {
		enc = EncodingJSON
	}
	return &KafkaSink{w: w, encoding: enc}
}

// Write encodes batch and writes it in one request.
func (s *KafkaSink) Write(ctx context.Context, batch []Event) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, ev := range batch {
		value, err := s.encoding.Encode(ev)
		if err != nil {
			return fmt.Errorf("events: encode %s: %w", ev.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Principal),
			Value: value,
			Time:  ev.Timestamp,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(ev.Type)},
				{Key: "content-type", Value: []byte(s.encoding.ContentType())},
			},
		})
	}

	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events: kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error { return s.w.Close() }
