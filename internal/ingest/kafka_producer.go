package ingest

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-console-sync/internal/models"
)

const DefaultTopic = "job-transitions"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TransitionProducer publishes applied job transitions for audit.
type TransitionProducer struct {
	writer  messageWriter
	timeout time.Duration
}

func NewTransitionProducer(brokers []string, topic string) *TransitionProducer {
	if topic == "" {
		topic = DefaultTopic
	}
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &TransitionProducer{writer: w, timeout: 2 * time.Second}
}

// Publish writes one transition keyed by job id, so a job's transitions stay
// ordered within a partition.
func (k *TransitionProducer) Publish(ctx context.Context, t models.Transition) error {
	msg, err := EncodeTransition(t)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, msg)
}

func (k *TransitionProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
