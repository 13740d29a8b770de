package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the subset of *kafka.Writer used by KafkaPublisher.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by Event.Key, so all
// events for one vendor land on the same partition.
type KafkaPublisher struct {
	w KafkaWriter
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Key()),
		Value: data,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
