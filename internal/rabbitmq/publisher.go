package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lcnr/docker-queue/internal/events"
)

// Publisher forwards lifecycle events to the exchange under event.<type>.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

func NewPublisher(rabbitMQURL string) (*Publisher, error) {
	conn, ch, err := connect(rabbitMQURL)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, channel: ch}, nil
}

// RoutingKey returns the key an event is published under.
func RoutingKey(ev events.Event) string {
	return eventRoutingPrefix + strings.ToLower(string(ev.Type))
}

func (p *Publisher) Name() string { return "rabbitmq" }

func (p *Publisher) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, ExchangeName, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Timestamp,
	})
}

func (p *Publisher) Close() error {
	p.channel.Close()
	return p.conn.Close()
}
