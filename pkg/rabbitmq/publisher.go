package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-ingest/config"
	"recording-ingest/dto"
)

// Publisher sends recording lifecycle events to the recording exchange,
// routed by event type.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", cfg.ExchangeName).Msg("failed to declare exchange")
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch, exchange: cfg.ExchangeName}, nil
}

func (p *Publisher) Publish(ctx context.Context, event dto.RecordingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventId.String(),
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().
		Str("exchange", p.exchange).
		Str("routing_key", string(event.Type)).
		Str("recording_id", event.RecordingId.String()).
		Msg("recording event published")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
