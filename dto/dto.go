package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"recording-ingest/constant"
)

// Envelope is one request on the ingest channel. Payload is decoded according
// to Type.
type Envelope struct {
	ID      string               `json:"id"`
	Type    constant.MessageType `json:"type"`
	Payload json.RawMessage      `json:"payload"`
}

// Response answers exactly one Envelope with the same ID.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type RecordingOptions struct {
	TargetFPS    int  `json:"targetFps"`
	Width        int  `json:"width"`
	Height       int  `json:"height"`
	AudioEnabled bool `json:"audioEnabled"`
}

type StartRecordingRequest struct {
	RoomID  string           `json:"roomId"`
	UserID  string           `json:"userId"`
	Options RecordingOptions `json:"options"`
}

type StartRecordingResponse struct {
	RecordingID string `json:"recordingId"`
}

// FrameMetadata is informational; ClientFrame is never used for ordering.
type FrameMetadata struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ClientFrame int64   `json:"clientFrame"`
	ObservedFPS float64 `json:"observedFps,omitempty"`
}

type FrameRequest struct {
	RoomID      string        `json:"roomId"`
	RecordingID string        `json:"recordingId"`
	Data        []byte        `json:"data"`
	Timestamp   int64         `json:"timestamp"`
	Metadata    FrameMetadata `json:"metadata"`
}

type FrameAck struct {
	FramesWritten  int64 `json:"framesWritten"`
	FramesReceived int64 `json:"framesReceived"`
}

type AudioChunkRequest struct {
	RoomID      string `json:"roomId"`
	RecordingID string `json:"recordingId"`
	Data        []byte `json:"data"`
	Timestamp   int64  `json:"timestamp"`
	Index       int    `json:"index"`
}

type AudioAck struct {
	Ack bool `json:"ack"`
}

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

type StopRequest struct {
	RoomID    string `json:"roomId"`
	WithAudio bool   `json:"withAudio"`
}

type StopResponse struct {
	RecordingID  string  `json:"recordingId"`
	ArtifactURL  string  `json:"artifactUrl"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	Duration     float64 `json:"duration"`
	AudioDropped bool    `json:"audioDropped,omitempty"`
}

type RecordingStats struct {
	FramesReceived      int64   `json:"framesReceived"`
	FramesWritten       int64   `json:"framesWritten"`
	DroppedFrames       int64   `json:"droppedFrames"`
	AudioChunksReceived int64   `json:"audioChunksReceived"`
	AudioChunksWritten  int64   `json:"audioChunksWritten"`
	Errors              int64   `json:"errors"`
	AverageFPS          float64 `json:"averageFps"`
}

type StatusResponse struct {
	RecordingID  string                   `json:"recordingId"`
	RoomID       string                   `json:"roomId"`
	UserID       string                   `json:"userId"`
	Status       constant.RecordingStatus `json:"status"`
	Duration     float64                  `json:"duration"`
	Stats        RecordingStats           `json:"stats"`
	ArtifactURL  string                   `json:"artifactUrl,omitempty"`
	ThumbnailURL string                   `json:"thumbnailUrl,omitempty"`
	AudioDropped bool                     `json:"audioDropped,omitempty"`
	LastError    string                   `json:"lastError,omitempty"`
	StartedAt    time.Time                `json:"startedAt"`
	CompletedAt  *time.Time               `json:"completedAt,omitempty"`
}

// RecordingEvent is published on every lifecycle transition.
type RecordingEvent struct {
	EventId      uuid.UUID                `json:"eventId"`
	Type         constant.EventType       `json:"type"`
	RecordingId  uuid.UUID                `json:"recordingId"`
	RoomId       string                   `json:"roomId"`
	UserId       string                   `json:"userId"`
	Status       constant.RecordingStatus `json:"status"`
	ArtifactURL  string                   `json:"artifactUrl,omitempty"`
	AudioDropped bool                     `json:"audioDropped,omitempty"`
	Error        string                   `json:"error,omitempty"`
	OccurredAt   time.Time                `json:"occurredAt"`
}

// ControlMessage is a remote pause/resume/stop command delivered over AMQP.
type ControlMessage struct {
	Action    constant.ControlAction `json:"action"`
	RoomId    string                 `json:"roomId"`
	WithAudio bool                   `json:"withAudio"`
}
