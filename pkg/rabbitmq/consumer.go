package rabbitmq

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-ingest/config"
)

// Queue describes a work queue bound to an exchange, with its dead letter
// exchange and queue.
type Queue struct {
	Exchange      string
	Name          string
	RoutingKey    string
	DLX           string
	DLQ           string
	DLQRoutingKey string
}

// ControlQueue carries remote pause/resume/stop commands.
func ControlQueue(exchange string) Queue {
	return Queue{
		Exchange:      exchange,
		Name:          "recording_control_queue",
		RoutingKey:    "recording.control.*",
		DLX:           "recording_exchange_dlx",
		DLQ:           "recording_control_queue_dlq",
		DLQRoutingKey: "dlq.recording.control",
	}
}

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	queue      Queue
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
	maxTries   uint
}

func (c consumer[T]) declare(ctx context.Context, ch *amqp.Channel) error {
	q := c.queue
	logger := zerolog.Ctx(ctx).With().Str("queue", q.Name).Logger()

	if err := ch.ExchangeDeclare(q.Exchange, c.cfg.Kind, true, false, false, false, nil); err != nil {
		logger.Error().Err(err).Str("exchange", q.Exchange).Msg("failed to declare exchange")
		return err
	}
	if err := ch.ExchangeDeclare(q.DLX, c.cfg.Kind, true, false, false, false, nil); err != nil {
		logger.Error().Err(err).Str("exchange", q.DLX).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(q.DLQ, true, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to declare dlq")
		return err
	}
	if err := ch.QueueBind(dlq.Name, q.DLQRoutingKey, q.DLX, false, nil); err != nil {
		logger.Error().Err(err).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    q.DLX,
		"x-dead-letter-routing-key": q.DLQRoutingKey,
	}
	if _, err := ch.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
		logger.Error().Err(err).Msg("failed to declare queue")
		return err
	}
	if err := ch.QueueBind(q.Name, q.RoutingKey, q.Exchange, false, nil); err != nil {
		logger.Error().Err(err).Msg("failed to bind queue")
		return err
	}
	return nil
}

// Consume declares the topology and hands deliveries to a fixed pool of
// workers until ctx is done. A handler error is retried with backoff; once
// retries are exhausted, or the handler returns backoff.Permanent, the
// message is dead-lettered.
func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.declare(ctx, ch); err != nil {
		return err
	}

	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", c.queue.Name).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.queue.Name, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", c.queue.Name).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.queue.Name).
		Str("exchange", c.queue.Exchange).
		Str("routing_key", c.queue.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, workerId, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func (c consumer[T]) handle(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	operation := func() (struct{}, error) {
		return struct{}{}, c.handler(ctx, msg, dependencies)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message after all retries")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	queue Queue,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		queue:      queue,
		handler:    handler,
		numWorkers: numWorkers,
		maxTries:   5,
	}
}
