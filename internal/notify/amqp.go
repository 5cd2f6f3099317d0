package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/streadway/amqp"
)

// DefaultExchange is used when no exchange name is configured
const DefaultExchange = "handoff.notifications"

// amqpChannel is the subset of *amqp.Channel the sink uses
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes notifications to a fanout exchange so other services
// (CRM bridges, reporting) can follow the handoff lifecycle.
type AMQPSink struct {
	exchange string
	conn     *amqp.Connection
	channel  amqpChannel
	mu       sync.Mutex
}

// NewAMQPSink connects to the broker and declares a durable fanout exchange
func NewAMQPSink(amqpURL, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPSink{exchange: exchange, conn: conn, channel: ch}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, n types.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The routing key is ignored by fanout exchanges but lets bound
	// topic exchanges filter by kind
	err = s.channel.Publish(s.exchange, string(n.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.Timestamp,
		Type:         string(n.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.exchange, err)
	}
	return nil
}

// Close closes the channel and the connection
func (s *AMQPSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
