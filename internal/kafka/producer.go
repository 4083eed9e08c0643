package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/events"
)

const DefaultEventsTopic = "docker-queue.events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer appends lifecycle events to a topic, keyed by request id so every
// event of one request lands on the same partition.
type Producer struct {
	writer messageWriter
	logger *logrus.Entry
}

func NewProducer(brokerURL, topic string, logger *logrus.Entry) *Producer {
	if topic == "" {
		topic = DefaultEventsTopic
	}
	logger = logger.WithFields(logrus.Fields{"component": "kafka", "topic": topic})

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerURL),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.WithError(err).WithField("messages", len(messages)).Warn("failed to write kafka messages")
			}
		},
	}
	return &Producer{writer: writer, logger: logger}
}

func (p *Producer) Name() string { return "kafka" }

func (p *Producer) Publish(ctx context.Context, ev events.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RequestID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
