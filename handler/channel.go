package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/service"
)

// Reply sends one response back on the channel. It must be safe for
// concurrent use.
type Reply func(resp dto.Response)

// Channel dispatches ingest channel messages to the recording service.
// Frame, audio and stop requests are answered asynchronously so the caller's
// read loop never waits on disk or the encoder.
type Channel struct {
	svc service.RecordingService
}

func NewChannel(svc service.RecordingService) *Channel {
	return &Channel{svc: svc}
}

func failure(id string, err error) dto.Response {
	return dto.Response{ID: id, Success: false, Error: err.Error()}
}

func success(id string, data any) dto.Response {
	resp := dto.Response{ID: id, Success: true}
	if data == nil {
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return failure(id, err)
	}
	resp.Data = raw
	return resp
}

func decode(envelope dto.Envelope, out any) error {
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("%w: %s payload is required", service.ErrValidation, envelope.Type)
	}
	if err := json.Unmarshal(envelope.Payload, out); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", service.ErrValidation, envelope.Type, err)
	}
	return nil
}

// Dispatch handles one raw message. Exactly one response is passed to reply
// for it, possibly after Dispatch returns.
func (c *Channel) Dispatch(ctx context.Context, raw []byte, reply Reply) {
	var envelope dto.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		reply(failure("", fmt.Errorf("%w: malformed message: %v", service.ErrValidation, err)))
		return
	}
	if envelope.ID == "" {
		reply(failure("", fmt.Errorf("%w: message id is required", service.ErrValidation)))
		return
	}

	switch envelope.Type {
	case constant.MessageTypeStart:
		var req dto.StartRecordingRequest
		if err := decode(envelope, &req); err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		resp, err := c.svc.StartRecording(ctx, req)
		if err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		reply(success(envelope.ID, resp))

	case constant.MessageTypeFrame:
		var req dto.FrameRequest
		if err := decode(envelope, &req); err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		result := c.svc.IngestFrame(ctx, req)
		go func() {
			res := <-result
			if res.Err != nil {
				reply(failure(envelope.ID, res.Err))
				return
			}
			reply(success(envelope.ID, dto.FrameAck{FramesWritten: res.FramesWritten, FramesReceived: res.FramesReceived}))
		}()

	case constant.MessageTypeAudio:
		var req dto.AudioChunkRequest
		if err := decode(envelope, &req); err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		result := c.svc.IngestAudio(ctx, req)
		go func() {
			if res := <-result; res.Err != nil {
				reply(failure(envelope.ID, res.Err))
				return
			}
			reply(success(envelope.ID, dto.AudioAck{Ack: true}))
		}()

	case constant.MessageTypePause, constant.MessageTypeResume:
		var req dto.RoomRequest
		if err := decode(envelope, &req); err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		var err error
		if envelope.Type == constant.MessageTypePause {
			err = c.svc.Pause(ctx, req.RoomID)
		} else {
			err = c.svc.Resume(ctx, req.RoomID)
		}
		if err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		reply(success(envelope.ID, nil))

	case constant.MessageTypeStop:
		var req dto.StopRequest
		if err := decode(envelope, &req); err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		go func() {
			resp, err := c.svc.Stop(ctx, req)
			if err != nil {
				reply(failure(envelope.ID, err))
				return
			}
			reply(success(envelope.ID, resp))
		}()

	case constant.MessageTypeStatus:
		var req dto.RoomRequest
		if err := decode(envelope, &req); err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		status, err := c.svc.Status(ctx, req.RoomID)
		if err != nil {
			reply(failure(envelope.ID, err))
			return
		}
		reply(success(envelope.ID, status))

	default:
		zerolog.Ctx(ctx).Debug().Str("type", string(envelope.Type)).Msg("unknown message type")
		reply(failure(envelope.ID, fmt.Errorf("%w: unknown message type %q", service.ErrValidation, envelope.Type)))
	}
}
