package entities

import (
	"time"

	"github.com/google/uuid"
)

// Recording is the persisted summary of one recording session.
type Recording struct {
	ID                  uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	RoomId              string     `json:"room_id" gorm:"type:varchar(255);not null;index:idx_recordings_room_id"`
	UserId              string     `json:"user_id" gorm:"type:varchar(255);not null"`
	Status              string     `json:"status" gorm:"type:varchar(20);not null;index:idx_recordings_status"`
	TargetFPS           int        `json:"target_fps" gorm:"type:integer"`
	Width               int        `json:"width" gorm:"type:integer"`
	Height              int        `json:"height" gorm:"type:integer"`
	AudioEnabled        bool       `json:"audio_enabled"`
	FramesReceived      int64      `json:"frames_received" gorm:"type:bigint;default:0"`
	FramesWritten       int64      `json:"frames_written" gorm:"type:bigint;default:0"`
	DroppedFrames       int64      `json:"dropped_frames" gorm:"type:bigint;default:0"`
	AudioChunksReceived int64      `json:"audio_chunks_received" gorm:"type:bigint;default:0"`
	Errors              int64      `json:"errors" gorm:"type:bigint;default:0"`
	DurationSeconds     *float64   `json:"duration_seconds" gorm:"type:double precision"`
	ArtifactUrl         *string    `json:"artifact_url" gorm:"type:varchar(1000)"`
	ThumbnailUrl        *string    `json:"thumbnail_url" gorm:"type:varchar(1000)"`
	LastError           *string    `json:"last_error" gorm:"type:text"`
	StartedAt           time.Time  `json:"started_at" gorm:"type:timestamptz;not null"`
	CompletedAt         *time.Time `json:"completed_at" gorm:"type:timestamptz"`
	CreatedAt           time.Time  `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time  `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Recording) TableName() string {
	return "recordings"
}
