package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"recording-ingest/dto"
)

// Producer publishes recording lifecycle events. Events of one room share a
// partition so consumers see them in order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}, nil
}

// newMessage keys the event by room so a room's events stay on one partition.
func newMessage(event dto.RecordingEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.RoomId),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
			{Key: "recording_id", Value: []byte(event.RecordingId.String())},
		},
	}, nil
}

func (p *Producer) Publish(ctx context.Context, event dto.RecordingEvent) error {
	message, err := newMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write to kafka: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("topic", p.writer.Topic).
		Str("type", string(event.Type)).
		Str("room_id", event.RoomId).
		Msg("recording event published")
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
