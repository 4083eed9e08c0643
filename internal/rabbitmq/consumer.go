package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/models"
	"github.com/lcnr/docker-queue/internal/service"
	"github.com/lcnr/docker-queue/internal/store"
)

// Submitter accepts launch requests.
type Submitter interface {
	Submit(ctx context.Context, in service.SubmitRequest) (*models.LaunchRequest, error)
}

// LaunchRequestMessage is the body consumed from QueueRequests.
type LaunchRequestMessage struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	Status  string `json:"status,omitempty"`
}

// RejectionEvent is published when a consumed request cannot be queued.
type RejectionEvent struct {
	EventType string               `json:"event_type"`
	Timestamp time.Time            `json:"timestamp"`
	Request   LaunchRequestMessage `json:"request"`
	Reason    string               `json:"reason"`
}

// Consumer submits launch requests arriving on RabbitMQ.
type Consumer struct {
	conn              *amqp.Connection
	channel           *amqp.Channel
	submitter         Submitter
	logger            *logrus.Entry
	rejectedPublisher func(ctx context.Context, msg LaunchRequestMessage, reason string)
}

// NewConsumer connects, declares the requests queue and binds it.
func NewConsumer(rabbitMQURL string, submitter Submitter, logger *logrus.Entry) (*Consumer, error) {
	conn, ch, err := connect(rabbitMQURL)
	if err != nil {
		return nil, err
	}

	_, err = ch.QueueDeclare(
		QueueRequests,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare requests queue: %w", err)
	}

	if err := ch.QueueBind(QueueRequests, RequestRoutingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	c := &Consumer{
		conn:      conn,
		channel:   ch,
		submitter: submitter,
		logger:    logger.WithField("component", "rabbitmq-consumer"),
	}
	c.rejectedPublisher = c.publishRejected
	c.logger.WithField("queue", QueueRequests).Info("RabbitMQ consumer connected and queue bound")
	return c, nil
}

// Start consumes until ctx is done or the delivery channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		QueueRequests,
		"docker-queue", // consumer tag
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			if err := c.handleMessage(ctx, msg.Body); err != nil {
				c.logger.WithError(err).Error("error processing message, requeueing")
				msg.Nack(false, true)
			} else {
				msg.Ack(false)
			}
		}
	}
}

// handleMessage returns an error only when the message should be redelivered.
func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var msg LaunchRequestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.WithError(err).Warn("dropping malformed message")
		c.emitRejected(ctx, msg, fmt.Sprintf("malformed message: %v", err))
		return nil
	}

	var status models.Status
	if msg.Status != "" {
		parsed, err := models.ParseStatus(msg.Status)
		if err != nil {
			c.emitRejected(ctx, msg, err.Error())
			return nil
		}
		status = parsed
	}

	req, err := c.submitter.Submit(ctx, service.SubmitRequest{ID: msg.ID, Command: msg.Command, Status: status})
	var validationErr *models.ValidationError
	switch {
	case err == nil:
		c.logger.WithFields(logrus.Fields{"request_id": req.ID, "status": req.Status}).Info("request submitted from RabbitMQ")
		return nil
	case errors.As(err, &validationErr):
		c.emitRejected(ctx, msg, err.Error())
		return nil
	case errors.Is(err, store.ErrQueueFull):
		c.emitRejected(ctx, msg, "queue is full")
		return nil
	default:
		return fmt.Errorf("failed to submit request: %w", err)
	}
}

func (c *Consumer) publishRejected(ctx context.Context, msg LaunchRequestMessage, reason string) {
	data, err := json.Marshal(RejectionEvent{
		EventType: "REQUEST_REJECTED",
		Timestamp: time.Now().UTC(),
		Request:   msg,
		Reason:    reason,
	})
	if err != nil {
		c.logger.WithError(err).Error("failed to marshal rejection")
		return
	}

	err = c.channel.PublishWithContext(ctx, ExchangeName, RejectedRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		c.logger.WithError(err).Error("failed to publish rejection")
	}
}

func (c *Consumer) emitRejected(ctx context.Context, msg LaunchRequestMessage, reason string) {
	c.logger.WithField("reason", reason).Warn("request rejected")
	if c.rejectedPublisher != nil {
		c.rejectedPublisher(ctx, msg, reason)
	}
}

// SetRejectedPublisher allows tests to intercept rejections without publishing to RabbitMQ.
func (c *Consumer) SetRejectedPublisher(publisher func(ctx context.Context, msg LaunchRequestMessage, reason string)) {
	c.rejectedPublisher = publisher
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.WithError(err).Warn("error closing RabbitMQ channel")
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
