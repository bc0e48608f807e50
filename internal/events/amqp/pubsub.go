// Package amqpevents implements the job-updates channel on a RabbitMQ
// fanout exchange. Delivery is fire-and-forget: subscribers bind exclusive
// auto-delete queues, so events published while nobody listens are dropped
// and there is no replay.
package amqpevents

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/pipeline"
)

// Publisher publishes job update events to the fanout exchange.
type Publisher struct {
	exchange string
	channel  *amqp.Channel
}

// NewPublisher declares the exchange on the provided connection. The
// connection may be shared with command traffic (the queue), but never with
// a Subscriber.
func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "fanout", false, false, false, false, nil); err != nil {
		channel.Close() //nolint:errcheck
		return nil, fmt.Errorf("declare update exchange: %w", err)
	}
	return &Publisher{exchange: exchange, channel: channel}, nil
}

// Publish serializes the event and publishes it, unconditionally.
func (p *Publisher) Publish(ctx context.Context, event pipeline.JobUpdateEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal update event: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish update event: %w", err)
	}
	return nil
}

// Close releases the publish channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}

// Subscriber consumes the job-updates exchange on a dedicated connection.
// Blocking-consume traffic must never share a connection with command
// traffic, so the constructor takes its own connection.
type Subscriber struct {
	exchange string
	conn     *amqp.Connection
	logger   *zap.Logger
}

// NewSubscriber wraps a consume-only connection.
func NewSubscriber(conn *amqp.Connection, exchange string, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{exchange: exchange, conn: conn, logger: logger}
}

// Subscribe binds a fresh exclusive queue to the exchange and streams
// decoded events until the context ends.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan pipeline.JobUpdateEvent, error) {
	channel, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := channel.ExchangeDeclare(s.exchange, "fanout", false, false, false, false, nil); err != nil {
		channel.Close() //nolint:errcheck
		return nil, fmt.Errorf("declare update exchange: %w", err)
	}
	q, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		channel.Close() //nolint:errcheck
		return nil, fmt.Errorf("declare subscriber queue: %w", err)
	}
	if err := channel.QueueBind(q.Name, "", s.exchange, false, nil); err != nil {
		channel.Close() //nolint:errcheck
		return nil, fmt.Errorf("bind subscriber queue: %w", err)
	}
	deliveries, err := channel.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		channel.Close() //nolint:errcheck
		return nil, fmt.Errorf("consume updates: %w", err)
	}

	out := make(chan pipeline.JobUpdateEvent, 64)
	go func() {
		defer close(out)
		defer channel.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var event pipeline.JobUpdateEvent
				if err := json.Unmarshal(delivery.Body, &event); err != nil {
					s.logger.Warn("discarding malformed update event", zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
