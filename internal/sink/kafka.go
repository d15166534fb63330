package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/pdfcrawl/internal/model"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes every event as one JSON message keyed by run ID, so all
// events of a run land in the same partition in order.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewKafkaSinkWithWriter builds a sink using a custom writer (tests).
func NewKafkaSinkWithWriter(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := kafka.Message{
		Key:   []byte(ev.RunID),
		Value: payload,
		Time:  ts.UTC(),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: failed to write event: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
