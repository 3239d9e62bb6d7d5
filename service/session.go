package service

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/entities"
)

var transitions = map[constant.RecordingStatus][]constant.RecordingStatus{
	constant.RecordingStatusInitializing: {constant.RecordingStatusRecording, constant.RecordingStatusFailed},
	constant.RecordingStatusRecording:    {constant.RecordingStatusPaused, constant.RecordingStatusStopping},
	constant.RecordingStatusPaused:       {constant.RecordingStatusRecording, constant.RecordingStatusStopping},
	constant.RecordingStatusStopping:     {constant.RecordingStatusCompleted, constant.RecordingStatusFailed},
	// a failed stop may be retried
	constant.RecordingStatusFailed: {constant.RecordingStatusStopping},
}

func canTransition(from, to constant.RecordingStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Session is the state of one recording attempt for one room. All fields are
// guarded by mu; callers use the methods below.
type Session struct {
	mu sync.Mutex

	ID      uuid.UUID
	RoomID  string
	UserID  string
	Options dto.RecordingOptions
	Dir     string

	status      constant.RecordingStatus
	startedAt   time.Time
	pausedAt    time.Time
	resumedAt   time.Time
	completedAt time.Time
	pausedTotal time.Duration

	framesReceived      int64
	framesWritten       int64
	droppedFrames       int64
	audioChunksReceived int64
	audioChunksWritten  int64
	errors              int64

	nextSequence int64
	frames       []entities.FrameRecord
	audio        []entities.AudioRecord
	// audioIndexes holds every index accepted and not failed
	audioIndexes map[int]struct{}

	result    *dto.StopResponse
	lastError string
}

func newSession(id uuid.UUID, roomID, userID string, opts dto.RecordingOptions, dir string, now time.Time) *Session {
	return &Session{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Options:   opts,
		Dir:       dir,
		status:    constant.RecordingStatusInitializing,
		startedAt: now,
	}
}

func (s *Session) FramesDir() string { return filepath.Join(s.Dir, "frames") }
func (s *Session) AudioDir() string  { return filepath.Join(s.Dir, "audio") }
func (s *Session) EncodeDir() string { return filepath.Join(s.Dir, "encode") }

func (s *Session) Status() constant.RecordingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Active reports whether the session still holds its room.
func (s *Session) Active() bool {
	return !s.Status().Terminal()
}

func (s *Session) transitionLocked(to constant.RecordingStatus) error {
	if !canTransition(s.status, to) {
		return stateError("cannot move recording %s from %s to %s", s.ID, s.status, to)
	}
	s.status = to
	return nil
}

func (s *Session) markRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(constant.RecordingStatusRecording)
}

func (s *Session) Pause(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != constant.RecordingStatusRecording {
		return stateError("cannot pause recording while %s", s.status)
	}
	s.status = constant.RecordingStatusPaused
	s.pausedAt = now
	return nil
}

func (s *Session) Resume(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != constant.RecordingStatusPaused {
		return stateError("cannot resume recording while %s", s.status)
	}
	s.status = constant.RecordingStatusRecording
	s.resumedAt = now
	s.pausedTotal += now.Sub(s.pausedAt)
	return nil
}

// BeginStop moves the session to stopping. A completed session returns its
// existing result instead.
func (s *Session) BeginStop(now time.Time) (*dto.StopResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case constant.RecordingStatusStopping:
		return nil, ErrAlreadyStopping
	case constant.RecordingStatusCompleted:
		result := *s.result
		return &result, nil
	case constant.RecordingStatusPaused:
		s.pausedTotal += now.Sub(s.pausedAt)
	}
	if err := s.transitionLocked(constant.RecordingStatusStopping); err != nil {
		return nil, err
	}
	s.lastError = ""
	return nil, nil
}

func (s *Session) Complete(result dto.StopResponse, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(constant.RecordingStatusCompleted); err != nil {
		return err
	}
	result.RecordingID = s.ID.String()
	s.result = &result
	s.completedAt = now
	return nil
}

func (s *Session) Fail(cause error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cause != nil {
		s.lastError = cause.Error()
	}
	if s.status == constant.RecordingStatusStopping || s.status == constant.RecordingStatusInitializing {
		s.status = constant.RecordingStatusFailed
		s.completedAt = now
	}
}

// abort forces a live session into failed, used when its room is torn down
// without a stop.
func (s *Session) abort(reason string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = constant.RecordingStatusFailed
	s.lastError = reason
	s.completedAt = now
}

// acceptFrame counts a received frame and reserves its sequence number.
func (s *Session) acceptFrame() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() || s.status == constant.RecordingStatusInitializing {
		return 0, stateError("recording %s is %s", s.ID, s.status)
	}
	s.framesReceived++
	s.nextSequence++
	return s.nextSequence, nil
}

// acceptAudio reserves index for one chunk. An index already written or in
// flight is rejected so the audio manifest holds each index once.
func (s *Session) acceptAudio(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() || s.status == constant.RecordingStatusInitializing {
		return stateError("recording %s is %s", s.ID, s.status)
	}
	if _, ok := s.audioIndexes[index]; ok {
		return validationError("duplicate audio index %d", index)
	}
	if s.audioIndexes == nil {
		s.audioIndexes = make(map[int]struct{})
	}
	s.audioIndexes[index] = struct{}{}
	s.audioChunksReceived++
	return nil
}

func (s *Session) appendFrame(record entities.FrameRecord) (written, received int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, record)
	s.framesWritten++
	return s.framesWritten, s.framesReceived
}

func (s *Session) appendAudio(record entities.AudioRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, record)
	s.audioChunksWritten++
}

// frameFailed records a frame that was accepted but could not be persisted.
func (s *Session) frameFailed() (written, received int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
	s.droppedFrames++
	return s.framesWritten, s.framesReceived
}

// audioFailed releases index so the sender may retry it.
func (s *Session) audioFailed(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
	delete(s.audioIndexes, index)
}

// Frames returns a copy of the frame manifest ordered by sequence.
func (s *Session) Frames() []entities.FrameRecord {
	s.mu.Lock()
	frames := make([]entities.FrameRecord, len(s.frames))
	copy(frames, s.frames)
	s.mu.Unlock()

	sort.Slice(frames, func(i, j int) bool { return frames[i].Sequence < frames[j].Sequence })
	return frames
}

// Audio returns a copy of the audio manifest ordered by sender index.
func (s *Session) Audio() []entities.AudioRecord {
	s.mu.Lock()
	audio := make([]entities.AudioRecord, len(s.audio))
	copy(audio, s.audio)
	s.mu.Unlock()

	sort.SliceStable(audio, func(i, j int) bool { return audio[i].Index < audio[j].Index })
	return audio
}

func (s *Session) activeDurationLocked(now time.Time) time.Duration {
	end := now
	if !s.completedAt.IsZero() {
		end = s.completedAt
	}
	paused := s.pausedTotal
	if s.status == constant.RecordingStatusPaused {
		paused += end.Sub(s.pausedAt)
	}
	d := end.Sub(s.startedAt) - paused
	if d < 0 {
		return 0
	}
	return d
}

func (s *Session) statsLocked(now time.Time) dto.RecordingStats {
	stats := dto.RecordingStats{
		FramesReceived:      s.framesReceived,
		FramesWritten:       s.framesWritten,
		DroppedFrames:       s.droppedFrames,
		AudioChunksReceived: s.audioChunksReceived,
		AudioChunksWritten:  s.audioChunksWritten,
		Errors:              s.errors,
	}
	if secs := s.activeDurationLocked(now).Seconds(); secs > 0 {
		stats.AverageFPS = float64(s.framesWritten) / secs
	}
	return stats
}

func (s *Session) Snapshot(now time.Time) dto.StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := dto.StatusResponse{
		RecordingID: s.ID.String(),
		RoomID:      s.RoomID,
		UserID:      s.UserID,
		Status:      s.status,
		Duration:    s.activeDurationLocked(now).Seconds(),
		Stats:       s.statsLocked(now),
		LastError:   s.lastError,
		StartedAt:   s.startedAt,
	}
	if s.result != nil {
		snapshot.ArtifactURL = s.result.ArtifactURL
		snapshot.ThumbnailURL = s.result.ThumbnailURL
		snapshot.Duration = s.result.Duration
		snapshot.AudioDropped = s.result.AudioDropped
	}
	if !s.completedAt.IsZero() {
		completedAt := s.completedAt
		snapshot.CompletedAt = &completedAt
	}
	return snapshot
}

// endedAt is the time the session reached a terminal state, zero otherwise.
func (s *Session) endedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Terminal() {
		return time.Time{}
	}
	return s.completedAt
}

func (s *Session) toEntity(now time.Time) *entities.Recording {
	snapshot := s.Snapshot(now)
	recording := &entities.Recording{
		ID:                  s.ID,
		RoomId:              s.RoomID,
		UserId:              s.UserID,
		Status:              snapshot.Status.String(),
		TargetFPS:           s.Options.TargetFPS,
		Width:               s.Options.Width,
		Height:              s.Options.Height,
		AudioEnabled:        s.Options.AudioEnabled,
		FramesReceived:      snapshot.Stats.FramesReceived,
		FramesWritten:       snapshot.Stats.FramesWritten,
		DroppedFrames:       snapshot.Stats.DroppedFrames,
		AudioChunksReceived: snapshot.Stats.AudioChunksReceived,
		Errors:              snapshot.Stats.Errors,
		StartedAt:           snapshot.StartedAt,
		CompletedAt:         snapshot.CompletedAt,
	}
	if snapshot.Status.Terminal() {
		duration := snapshot.Duration
		recording.DurationSeconds = &duration
	}
	if snapshot.ArtifactURL != "" {
		recording.ArtifactUrl = &snapshot.ArtifactURL
	}
	if snapshot.ThumbnailURL != "" {
		recording.ThumbnailUrl = &snapshot.ThumbnailURL
	}
	if snapshot.LastError != "" {
		recording.LastError = &snapshot.LastError
	}
	return recording
}
