package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPQueue is a durable work queue on RabbitMQ. Messages are persistent and
// acknowledged manually once the handler returns.
type AMQPQueue struct {
	conn    *amqp.Connection
	queue   string
	logger  *slog.Logger
	mu      sync.Mutex
	publish *amqp.Channel
}

var (
	_ Trigger = (*AMQPQueue)(nil)
	_ Queue   = (*AMQPQueue)(nil)
)

// DialAMQP connects to the broker and declares the durable queue.
func DialAMQP(url, queue string, logger *slog.Logger) (*AMQPQueue, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url not set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPQueue{conn: conn, queue: queue, logger: logger, publish: ch}, nil
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	return nil
}

// Close closes the broker connection.
func (q *AMQPQueue) Close() error {
	return q.conn.Close()
}

// Trigger publishes a persistent job message.
func (q *AMQPQueue) Trigger(ctx context.Context, jobID string) error {
	body, err := encodeMessage(jobID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.publish.PublishWithContext(ctx,
		"",
		q.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    jobID,
			Body:         body,
		},
	)
}

// Consume delivers messages with prefetch equal to concurrency. A message is
// acked after its handler returns and dropped if it cannot be decoded.
func (q *AMQPQueue) Consume(ctx context.Context, concurrency int, handle Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening consumer channel: %w", err)
	}
	defer ch.Close()

	if err := declare(ch, q.queue); err != nil {
		return err
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}

	msgs, err := ch.Consume(
		q.queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", q.queue, err)
	}

	pool := newPool(ctx, concurrency)
	defer pool.wait()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("job consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("broker channel closed")
			}

			jobID, err := decodeMessage(msg.Body)
			if err != nil {
				q.logger.Warn("dropping malformed job message", "error", err)
				msg.Nack(false, false)
				continue
			}

			pool.run(func(ctx context.Context) {
				if err := handle(ctx, jobID); err != nil {
					q.logger.Warn("job handler failed", "job_id", jobID, "error", err)
				}
				// Failed jobs are terminal in the store and never redelivered.
				msg.Ack(false)
			})
		}
	}
}
