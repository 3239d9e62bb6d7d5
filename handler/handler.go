package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/service"
)

type ServiceDependencies struct {
	RecordingService service.RecordingService
}

// ControlHandler applies a remote pause/resume/stop command. Commands that
// can never succeed are acknowledged and dropped; malformed messages are
// dead-lettered without retry.
func ControlHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var command dto.ControlMessage
	if err := json.Unmarshal(msg.Body, &command); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal control message")
		return backoff.Permanent(err)
	}

	logger := zerolog.Ctx(ctx).With().
		Str("room_id", command.RoomId).
		Str("action", string(command.Action)).
		Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("received control command")

	var err error
	switch command.Action {
	case constant.ControlActionPause:
		err = deps.RecordingService.Pause(ctx, command.RoomId)
	case constant.ControlActionResume:
		err = deps.RecordingService.Resume(ctx, command.RoomId)
	case constant.ControlActionStop:
		_, err = deps.RecordingService.Stop(ctx, dto.StopRequest{RoomID: command.RoomId, WithAudio: command.WithAudio})
	default:
		return backoff.Permanent(fmt.Errorf("unknown control action %q", command.Action))
	}

	if err != nil && !service.IsRetryable(err) {
		logger.Warn().Err(err).Msg("control command rejected")
		return nil
	}
	return err
}
