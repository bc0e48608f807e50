// Package amqpqueue implements the job queue on RabbitMQ.
package amqpqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/pipeline"
)

// Config controls queue topology.
type Config struct {
	// URL is the amqp:// connection string.
	URL string
	// QueueName is the durable work queue.
	QueueName string
	// Prefetch bounds unacknowledged deliveries per consumer; it should
	// match the worker pool size.
	Prefetch int
}

// Queue is a durable at-least-once job queue. Requeue routes through a
// per-message-TTL retry queue that dead-letters back to the work queue, so
// backoff delays survive without a live timer in the worker process.
type Queue struct {
	cfg        Config
	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	logger     *zap.Logger
}

// New connects and declares the work and retry queues.
func New(cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 5
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := &Queue{cfg: cfg, conn: conn, channel: channel, logger: logger}
	if err := q.setup(); err != nil {
		channel.Close() //nolint:errcheck
		conn.Close()    //nolint:errcheck
		return nil, err
	}
	return q, nil
}

func (q *Queue) setup() error {
	if _, err := q.channel.QueueDeclare(q.cfg.QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare work queue: %w", err)
	}
	// Expired messages on the retry queue dead-letter back onto the work
	// queue, which is what redelivers a backed-off job.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.cfg.QueueName,
	}
	if _, err := q.channel.QueueDeclare(q.retryQueueName(), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}
	if err := q.channel.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

func (q *Queue) retryQueueName() string {
	return q.cfg.QueueName + ".retry"
}

// Enqueue publishes a descriptor onto the work queue.
func (q *Queue) Enqueue(ctx context.Context, job pipeline.JobDescriptor) error {
	return q.publish(ctx, q.cfg.QueueName, job, 0)
}

// Requeue publishes the descriptor to the retry queue with a per-message
// TTL equal to the backoff delay.
func (q *Queue) Requeue(ctx context.Context, job pipeline.JobDescriptor, delay time.Duration) error {
	return q.publish(ctx, q.retryQueueName(), job, delay)
}

func (q *Queue) publish(ctx context.Context, routingKey string, job pipeline.JobDescriptor, ttl time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job descriptor: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if ttl > 0 {
		msg.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}
	if err := q.channel.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}
	return nil
}

// Dequeue blocks for the next deliverable descriptor. Malformed payloads
// are rejected without requeue and skipped.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.JobDescriptor, error) {
	if q.deliveries == nil {
		deliveries, err := q.channel.Consume(q.cfg.QueueName, "", false, false, false, false, nil)
		if err != nil {
			return pipeline.JobDescriptor{}, fmt.Errorf("start consuming: %w", err)
		}
		q.deliveries = deliveries
	}

	for {
		select {
		case <-ctx.Done():
			return pipeline.JobDescriptor{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case delivery, ok := <-q.deliveries:
			if !ok {
				return pipeline.JobDescriptor{}, fmt.Errorf("amqp delivery channel closed")
			}
			var job pipeline.JobDescriptor
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				q.logger.Error("rejecting malformed job payload", zap.Error(err))
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					q.logger.Error("nack malformed payload failed", zap.Error(nackErr))
				}
				continue
			}
			// Processing outcomes are final by the time the worker
			// returns; redelivery happens via Requeue, so the broker
			// copy can be acked immediately.
			if err := delivery.Ack(false); err != nil {
				q.logger.Error("ack delivery failed",
					zap.String("job_id", job.JobID),
					zap.Error(err),
				)
			}
			return job, nil
		}
	}
}

// Close shuts down the channel and connection.
func (q *Queue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close() //nolint:errcheck
		return fmt.Errorf("close channel: %w", err)
	}
	if err := q.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
