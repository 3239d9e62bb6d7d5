package handler

import (
	"context"
	"fmt"
	"sync"

	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/service"
)

type stubService struct {
	mu       sync.Mutex
	calls    []string
	frameErr error
	stopErr  error
	status   *dto.StatusResponse
	release  chan struct{}
}

func (s *stubService) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubService) StartRecording(_ context.Context, req dto.StartRecordingRequest) (*dto.StartRecordingResponse, error) {
	s.record("start:" + req.RoomID)
	if req.RoomID == "busy" {
		return nil, fmt.Errorf("%w: busy", service.ErrState)
	}
	return &dto.StartRecordingResponse{RecordingID: "rec-" + req.RoomID}, nil
}

func (s *stubService) IngestFrame(_ context.Context, req dto.FrameRequest) <-chan service.WriteResult {
	s.record("frame:" + req.RoomID)
	ch := make(chan service.WriteResult, 1)
	go func() {
		if s.release != nil {
			<-s.release
		}
		ch <- service.WriteResult{Err: s.frameErr, FramesWritten: 1, FramesReceived: 1}
	}()
	return ch
}

func (s *stubService) IngestAudio(_ context.Context, req dto.AudioChunkRequest) <-chan service.WriteResult {
	s.record("audio:" + req.RoomID)
	ch := make(chan service.WriteResult, 1)
	ch <- service.WriteResult{}
	return ch
}

func (s *stubService) Pause(_ context.Context, roomID string) error {
	s.record("pause:" + roomID)
	return nil
}

func (s *stubService) Resume(_ context.Context, roomID string) error {
	s.record("resume:" + roomID)
	return fmt.Errorf("%w: not paused", service.ErrState)
}

func (s *stubService) Stop(_ context.Context, req dto.StopRequest) (*dto.StopResponse, error) {
	s.record("stop:" + req.RoomID)
	if s.stopErr != nil {
		return nil, s.stopErr
	}
	return &dto.StopResponse{RecordingID: "rec-" + req.RoomID, ArtifactURL: "/files/rec/recording.mp4"}, nil
}

func (s *stubService) Status(_ context.Context, roomID string) (*dto.StatusResponse, error) {
	s.record("status:" + roomID)
	if s.status == nil || s.status.RoomID != roomID {
		return nil, fmt.Errorf("%w: no recording for room %s", service.ErrNotFound, roomID)
	}
	return s.status, nil
}

func (s *stubService) RunReaper(context.Context) {}
func (s *stubService) Shutdown(context.Context)  {}

var recordingStatus = &dto.StatusResponse{
	RecordingID: "rec-1",
	RoomID:      "room-1",
	Status:      constant.RecordingStatusRecording,
}
