package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"recording-ingest/config"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/entities"
	"recording-ingest/pkg/storage"
	"recording-ingest/repository"
)

const maxTargetFPS = 60

// EventPublisher delivers lifecycle events to the configured event bus.
type EventPublisher interface {
	Publish(ctx context.Context, event dto.RecordingEvent) error
}

type RecordingService interface {
	StartRecording(ctx context.Context, req dto.StartRecordingRequest) (*dto.StartRecordingResponse, error)
	// IngestFrame queues a frame and returns a channel resolved once the
	// frame is persisted or rejected.
	IngestFrame(ctx context.Context, req dto.FrameRequest) <-chan WriteResult
	IngestAudio(ctx context.Context, req dto.AudioChunkRequest) <-chan WriteResult
	Pause(ctx context.Context, roomID string) error
	Resume(ctx context.Context, roomID string) error
	Stop(ctx context.Context, req dto.StopRequest) (*dto.StopResponse, error)
	Status(ctx context.Context, roomID string) (*dto.StatusResponse, error)
	RunReaper(ctx context.Context)
	Shutdown(ctx context.Context)
}

type recordingService struct {
	cfg          *config.Config
	registry     *Registry
	encoder      Encoder
	orchestrator *Orchestrator
	repo         repository.RecordingRepository
	publisher    EventPublisher
	artifacts    storage.ArtifactStore
	now          func() time.Time
}

// NewRecordingService wires the recording pipeline. repo and publisher may be
// nil when persistence or events are disabled.
func NewRecordingService(
	cfg *config.Config,
	encoder Encoder,
	repo repository.RecordingRepository,
	publisher EventPublisher,
	artifacts storage.ArtifactStore,
) RecordingService {
	s := &recordingService{
		cfg:          cfg,
		encoder:      encoder,
		orchestrator: NewOrchestrator(encoder, cfg.Recording.CRF),
		repo:         repo,
		publisher:    publisher,
		artifacts:    artifacts,
		now:          time.Now,
	}
	s.registry = NewRegistry(cfg.Recording.Retention, func() time.Time { return s.now() }, s.cleanupRoom)
	return s
}

func validateRoomID(roomID string) error {
	switch {
	case strings.TrimSpace(roomID) == "":
		return validationError("roomId is required")
	case roomID == "." || roomID == "..", strings.ContainsAny(roomID, `/\`):
		return validationError("invalid roomId %q", roomID)
	}
	return nil
}

func (s *recordingService) normalizeOptions(opts dto.RecordingOptions) dto.RecordingOptions {
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = s.cfg.Recording.TargetFPS
	}
	if opts.TargetFPS > maxTargetFPS {
		opts.TargetFPS = maxTargetFPS
	}
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = defaultEncodeRate
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width = s.cfg.Recording.Width
		opts.Height = s.cfg.Recording.Height
	}
	return opts
}

func (s *recordingService) StartRecording(ctx context.Context, req dto.StartRecordingRequest) (*dto.StartRecordingResponse, error) {
	if err := validateRoomID(req.RoomID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, validationError("userId is required")
	}
	if err := s.encoder.Available(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("encoder prerequisite check failed")
		return nil, errors.Join(ErrResourceUnavailable, err)
	}

	room := s.registry.Acquire(req.RoomID)
	defer room.mu.Unlock()

	if room.session != nil && room.session.Active() {
		return nil, stateError("room %s already has recording %s in status %s", req.RoomID, room.session.ID, room.session.Status())
	}
	if room.writer != nil {
		room.writer.Close()
	}
	if room.session != nil {
		if err := os.RemoveAll(room.session.Dir); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("dir", room.session.Dir).Msg("failed to remove previous working area")
		}
	}
	room.session, room.writer = nil, nil

	id := uuid.New()
	session := newSession(id, req.RoomID, req.UserID, s.normalizeOptions(req.Options),
		filepath.Join(s.cfg.Paths.WorkDir, req.RoomID, id.String()), s.now())
	for _, dir := range []string{session.FramesDir(), session.AudioDir(), session.EncodeDir()} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("dir", dir).Msg("failed to create working area")
			os.RemoveAll(session.Dir)
			return nil, errors.Join(ErrIO, err)
		}
	}

	logger := zerolog.Ctx(ctx).With().
		Str("room_id", req.RoomID).
		Str("recording_id", id.String()).
		Logger()
	sessionCtx := logger.WithContext(context.WithoutCancel(ctx))

	writer := NewWriterQueue(sessionCtx, session, s.cfg.Recording.WriterConcurrency, s.cfg.Recording.WriterBuffer)
	if err := session.markRecording(); err != nil {
		writer.Close()
		return nil, err
	}
	room.session, room.writer = session, writer

	if s.repo != nil {
		if err := s.repo.CreateRecording(ctx, session.toEntity(s.now())); err != nil {
			logger.Error().Err(err).Msg("failed to create recording row")
		}
	}
	s.publish(sessionCtx, session, constant.EventRecordingStarted)

	logger.Info().
		Str("user_id", req.UserID).
		Int("target_fps", session.Options.TargetFPS).
		Int("width", session.Options.Width).
		Int("height", session.Options.Height).
		Bool("audio_enabled", session.Options.AudioEnabled).
		Msg("recording started")
	return &dto.StartRecordingResponse{RecordingID: id.String()}, nil
}

// lookup returns the current session of a room. A non-empty recordingID must
// match that session.
func (s *recordingService) lookup(roomID, recordingID string) (*Session, *WriterQueue, error) {
	room, ok := s.registry.Get(roomID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no recording for room %s", ErrNotFound, roomID)
	}
	session, writer := room.current()
	if session == nil {
		return nil, nil, fmt.Errorf("%w: no recording for room %s", ErrNotFound, roomID)
	}
	if recordingID != "" && recordingID != session.ID.String() {
		return nil, nil, fmt.Errorf("%w: recording %s is not current for room %s", ErrNotFound, recordingID, roomID)
	}
	return session, writer, nil
}

func (s *recordingService) IngestFrame(ctx context.Context, req dto.FrameRequest) <-chan WriteResult {
	_, writer, err := s.lookup(req.RoomID, req.RecordingID)
	if err != nil {
		return resolved(WriteResult{Err: err})
	}
	return writer.SubmitFrame(req.Data, req.Timestamp)
}

func (s *recordingService) IngestAudio(ctx context.Context, req dto.AudioChunkRequest) <-chan WriteResult {
	if req.Index < 0 {
		return resolved(WriteResult{Err: validationError("negative audio index %d", req.Index)})
	}
	_, writer, err := s.lookup(req.RoomID, req.RecordingID)
	if err != nil {
		return resolved(WriteResult{Err: err})
	}
	return writer.SubmitAudio(req.Data, req.Timestamp, req.Index)
}

func (s *recordingService) Pause(ctx context.Context, roomID string) error {
	session, _, err := s.lookup(roomID, "")
	if err != nil {
		return err
	}
	if err := session.Pause(s.now()); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("room_id", roomID).Str("recording_id", session.ID.String()).Msg("recording paused")
	s.updateStatus(ctx, session)
	s.publish(ctx, session, constant.EventRecordingPaused)
	return nil
}

func (s *recordingService) Resume(ctx context.Context, roomID string) error {
	session, _, err := s.lookup(roomID, "")
	if err != nil {
		return err
	}
	if err := session.Resume(s.now()); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("room_id", roomID).Str("recording_id", session.ID.String()).Msg("recording resumed")
	s.updateStatus(ctx, session)
	s.publish(ctx, session, constant.EventRecordingResumed)
	return nil
}

// Stop drains the writer, encodes the manifest and moves the result to the
// artifact store. It is not bound to the caller's cancellation: a caller that
// goes away does not abort an encode in progress.
func (s *recordingService) Stop(ctx context.Context, req dto.StopRequest) (*dto.StopResponse, error) {
	ctx = context.WithoutCancel(ctx)

	session, writer, err := s.lookup(req.RoomID, "")
	if err != nil {
		return nil, err
	}
	existing, err := session.BeginStop(s.now())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	logger := zerolog.Ctx(ctx).With().
		Str("room_id", req.RoomID).
		Str("recording_id", session.ID.String()).
		Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Bool("with_audio", req.WithAudio).Msg("stopping recording")
	s.updateStatus(ctx, session)

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Recording.DrainTimeout)
	if err := writer.Wait(drainCtx); err != nil {
		logger.Warn().Int("pending", writer.Pending()).Msg("writer did not drain in time, encoding what was written")
	}
	cancel()

	if grace := s.cfg.Recording.GracePeriod; grace > 0 {
		time.Sleep(grace)
	}

	result, err := s.orchestrator.Encode(ctx, EncodeInput{
		RecordingID: session.ID.String(),
		Frames:      session.Frames(),
		Audio:       session.Audio(),
		WithAudio:   req.WithAudio,
		Width:       session.Options.Width,
		Height:      session.Options.Height,
		TargetFPS:   session.Options.TargetFPS,
		WorkDir:     session.EncodeDir(),
	})
	if err != nil {
		return nil, s.fail(ctx, session, err)
	}

	artifact, err := s.artifacts.Store(ctx, session.ID.String(), result.VideoPath, result.ThumbnailPath)
	if err != nil {
		return nil, s.fail(ctx, session, errors.Join(ErrIO, fmt.Errorf("store artifact: %w", err)))
	}

	response := dto.StopResponse{
		RecordingID:  session.ID.String(),
		ArtifactURL:  artifact.VideoURL,
		ThumbnailURL: artifact.ThumbnailURL,
		Duration:     result.Duration,
		AudioDropped: result.AudioDropped,
	}
	if err := session.Complete(response, s.now()); err != nil {
		return nil, err
	}

	logger.Info().
		Int("frame_count", result.FrameCount).
		Int("skipped_frames", result.SkippedFrames).
		Int("rate", result.Rate).
		Bool("has_audio", result.HasAudio).
		Bool("audio_dropped", result.AudioDropped).
		Float64("duration", result.Duration).
		Str("artifact_url", artifact.VideoURL).
		Msg("recording completed")

	s.finish(ctx, session, constant.EventRecordingCompleted)
	return &response, nil
}

func (s *recordingService) fail(ctx context.Context, session *Session, cause error) error {
	zerolog.Ctx(ctx).Error().Err(cause).Msg("recording failed")
	session.Fail(cause, s.now())
	s.finish(ctx, session, constant.EventRecordingFailed)
	return cause
}

// finish persists the final state of a stop attempt.
func (s *recordingService) finish(ctx context.Context, session *Session, event constant.EventType) {
	if s.repo != nil {
		if err := s.repo.UpdateRecordingResult(ctx, session.toEntity(s.now())); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update recording row")
		}
	}
	s.writeJournal(ctx, session)
	s.publish(ctx, session, event)
}

func (s *recordingService) writeJournal(ctx context.Context, session *Session) {
	snapshot := session.Snapshot(s.now())
	dir := filepath.Join(s.cfg.Paths.CompletedDir, session.ID.String())
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to create journal directory")
		return
	}
	err := WriteJournal(filepath.Join(dir, journalFile), Journal{
		RecordingID: snapshot.RecordingID,
		RoomID:      snapshot.RoomID,
		Status:      snapshot.Status.String(),
		Error:       snapshot.LastError,
		WrittenAt:   s.now().UTC(),
		Frames:      session.Frames(),
		Audio:       session.Audio(),
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to write manifest journal")
	}
}

func (s *recordingService) updateStatus(ctx context.Context, session *Session) {
	if s.repo == nil {
		return
	}
	if err := s.repo.UpdateRecordingStatus(ctx, session.ID, session.Status()); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update recording status")
	}
}

func (s *recordingService) publish(ctx context.Context, session *Session, eventType constant.EventType) {
	if s.publisher == nil {
		return
	}
	snapshot := session.Snapshot(s.now())
	event := dto.RecordingEvent{
		EventId:      uuid.New(),
		Type:         eventType,
		RecordingId:  session.ID,
		RoomId:       session.RoomID,
		UserId:       session.UserID,
		Status:       snapshot.Status,
		ArtifactURL:  snapshot.ArtifactURL,
		AudioDropped: snapshot.AudioDropped,
		Error:        snapshot.LastError,
		OccurredAt:   s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", string(eventType)).Msg("failed to publish recording event")
	}
}

// Status reports the live session of a room, falling back to the last
// persisted recording once the room has been reaped.
func (s *recordingService) Status(ctx context.Context, roomID string) (*dto.StatusResponse, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}
	if session, _, err := s.lookup(roomID, ""); err == nil {
		snapshot := session.Snapshot(s.now())
		return &snapshot, nil
	}
	if s.repo == nil {
		return nil, fmt.Errorf("%w: no recording for room %s", ErrNotFound, roomID)
	}

	recording, err := s.repo.FindLatestRecordingByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no recording for room %s", ErrNotFound, roomID)
		}
		return nil, err
	}
	return statusFromEntity(recording), nil
}

func statusFromEntity(r *entities.Recording) *dto.StatusResponse {
	status := &dto.StatusResponse{
		RecordingID: r.ID.String(),
		RoomID:      r.RoomId,
		UserID:      r.UserId,
		Status:      constant.RecordingStatus(r.Status),
		Stats: dto.RecordingStats{
			FramesReceived:      r.FramesReceived,
			FramesWritten:       r.FramesWritten,
			DroppedFrames:       r.DroppedFrames,
			AudioChunksReceived: r.AudioChunksReceived,
			Errors:              r.Errors,
		},
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.DurationSeconds != nil {
		status.Duration = *r.DurationSeconds
		if status.Duration > 0 {
			status.Stats.AverageFPS = float64(r.FramesWritten) / status.Duration
		}
	}
	if r.ArtifactUrl != nil {
		status.ArtifactURL = *r.ArtifactUrl
	}
	if r.ThumbnailUrl != nil {
		status.ThumbnailURL = *r.ThumbnailUrl
	}
	if r.LastError != nil {
		status.LastError = *r.LastError
	}
	return status
}

func (s *recordingService) RunReaper(ctx context.Context) {
	s.registry.Run(ctx, s.cfg.Recording.ReapInterval)
}

// Shutdown tears down every room. Live recordings are aborted.
func (s *recordingService) Shutdown(ctx context.Context) {
	s.registry.Drain(ctx, s.cleanupRoom)
}

// cleanupRoom closes the room's writer, aborts a recording that is still
// live and removes its working area.
func (s *recordingService) cleanupRoom(ctx context.Context, room *Room) {
	room.mu.Lock()
	session, writer := room.session, room.writer
	room.session, room.writer = nil, nil
	room.removed = true
	room.mu.Unlock()

	if writer != nil {
		writer.Close()
	}
	if session == nil {
		return
	}

	if session.Active() {
		zerolog.Ctx(ctx).Warn().Str("room_id", room.ID).Str("recording_id", session.ID.String()).Msg("aborting live recording")
		session.abort("recording aborted during cleanup", s.now())
		if s.repo != nil {
			if err := s.repo.UpdateRecordingResult(ctx, session.toEntity(s.now())); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update recording row")
			}
		}
		s.publish(ctx, session, constant.EventRecordingFailed)
	}

	if err := os.RemoveAll(session.Dir); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("dir", session.Dir).Msg("failed to remove working area")
	}
	// drop the room directory once its last recording is gone
	os.Remove(filepath.Dir(session.Dir))
}
