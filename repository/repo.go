package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"recording-ingest/constant"
	"recording-ingest/entities"
)

var ErrNotFound = errors.New("recording not found")

type RecordingRepository interface {
	CreateRecording(ctx context.Context, recording *entities.Recording) error
	FindRecordingById(ctx context.Context, id uuid.UUID) (*entities.Recording, error)
	FindLatestRecordingByRoom(ctx context.Context, roomId string) (*entities.Recording, error)
	UpdateRecordingStatus(ctx context.Context, id uuid.UUID, status constant.RecordingStatus) error
	UpdateRecordingResult(ctx context.Context, recording *entities.Recording) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB, debug bool) (RecordingRepository, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(level),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) getDB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *repo) CreateRecording(ctx context.Context, recording *entities.Recording) error {
	return r.getDB(ctx).Create(recording).Error
}

func (r *repo) FindRecordingById(ctx context.Context, id uuid.UUID) (*entities.Recording, error) {
	recording := &entities.Recording{}
	err := r.getDB(ctx).First(recording, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}

	return recording, nil
}

func (r *repo) FindLatestRecordingByRoom(ctx context.Context, roomId string) (*entities.Recording, error) {
	recording := &entities.Recording{}
	err := r.getDB(ctx).Where("room_id = ?", roomId).Order("started_at DESC").First(recording).Error
	if err != nil {
		return nil, notFound(err)
	}

	return recording, nil
}

func (r *repo) UpdateRecordingStatus(ctx context.Context, id uuid.UUID, status constant.RecordingStatus) error {
	return r.getDB(ctx).Model(&entities.Recording{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status.String(),
		"updated_at": time.Now(),
	}).Error
}

func (r *repo) UpdateRecordingResult(ctx context.Context, recording *entities.Recording) error {
	updates := map[string]interface{}{
		"status":                recording.Status,
		"frames_received":       recording.FramesReceived,
		"frames_written":        recording.FramesWritten,
		"dropped_frames":        recording.DroppedFrames,
		"audio_chunks_received": recording.AudioChunksReceived,
		"errors":                recording.Errors,
		"duration_seconds":      recording.DurationSeconds,
		"artifact_url":          recording.ArtifactUrl,
		"thumbnail_url":         recording.ThumbnailUrl,
		"last_error":            recording.LastError,
		"completed_at":          recording.CompletedAt,
		"updated_at":            time.Now(),
	}
	return r.getDB(ctx).Model(&entities.Recording{}).Where("id = ?", recording.ID).Updates(updates).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	return err
}
