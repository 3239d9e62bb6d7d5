package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"recording-ingest/config"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/entities"
	"recording-ingest/pkg/storage"
	"recording-ingest/repository"
)

var jpegFrame = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00frame")

// fakeEncoder writes placeholder outputs instead of running ffmpeg.
type fakeEncoder struct {
	mu sync.Mutex

	unavailable  error
	manifestErr  error
	sequenceErr  error
	muxErr       error
	audioErr     error
	thumbnailErr error

	// entered and release, when set, hold RenderManifest until release is closed
	entered chan struct{}
	release chan struct{}

	renders []RenderRequest
	muxes   []MuxRequest
	calls   []string
}

func (f *fakeEncoder) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEncoder) Available(context.Context) error { return f.unavailable }

func (f *fakeEncoder) RenderManifest(_ context.Context, req RenderRequest) error {
	f.record("manifest")
	f.mu.Lock()
	f.renders = append(f.renders, req)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.manifestErr != nil {
		return f.manifestErr
	}
	return os.WriteFile(req.Output, []byte("video"), 0o644)
}

func (f *fakeEncoder) RenderSequence(_ context.Context, req RenderRequest) error {
	f.record("sequence")
	f.mu.Lock()
	f.renders = append(f.renders, req)
	f.mu.Unlock()
	if f.sequenceErr != nil {
		return f.sequenceErr
	}
	return os.WriteFile(req.Output, []byte("video"), 0o644)
}

func (f *fakeEncoder) TranscodeAudio(_ context.Context, _, output string) error {
	f.record("audio")
	if f.audioErr != nil {
		return f.audioErr
	}
	return os.WriteFile(output, []byte("aac"), 0o644)
}

func (f *fakeEncoder) Mux(_ context.Context, req MuxRequest) error {
	f.record("mux")
	f.mu.Lock()
	f.muxes = append(f.muxes, req)
	f.mu.Unlock()
	if f.muxErr != nil {
		return f.muxErr
	}
	return os.WriteFile(req.Output, []byte("video+audio"), 0o644)
}

func (f *fakeEncoder) Thumbnail(_ context.Context, _, output string) error {
	f.record("thumbnail")
	if f.thumbnailErr != nil {
		return f.thumbnailErr
	}
	return os.WriteFile(output, []byte("jpg"), 0o644)
}

func (f *fakeEncoder) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEncoder) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

type fakeRepo struct {
	mu         sync.Mutex
	recordings map[uuid.UUID]*entities.Recording
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{recordings: make(map[uuid.UUID]*entities.Recording)}
}

func (r *fakeRepo) CreateRecording(_ context.Context, recording *entities.Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *recording
	r.recordings[recording.ID] = &copied
	return nil
}

func (r *fakeRepo) FindRecordingById(_ context.Context, id uuid.UUID) (*entities.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recording, ok := r.recordings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *recording
	return &copied, nil
}

func (r *fakeRepo) FindLatestRecordingByRoom(_ context.Context, roomId string) (*entities.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *entities.Recording
	for _, recording := range r.recordings {
		if recording.RoomId == roomId && (latest == nil || recording.StartedAt.After(latest.StartedAt)) {
			latest = recording
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeRepo) UpdateRecordingStatus(_ context.Context, id uuid.UUID, status constant.RecordingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	recording, ok := r.recordings[id]
	if !ok {
		return repository.ErrNotFound
	}
	recording.Status = status.String()
	return nil
}

func (r *fakeRepo) UpdateRecordingResult(_ context.Context, recording *entities.Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recordings[recording.ID]; !ok {
		return repository.ErrNotFound
	}
	copied := *recording
	r.recordings[recording.ID] = &copied
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []dto.RecordingEvent
}

func (p *fakePublisher) Publish(_ context.Context, event dto.RecordingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []constant.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]constant.EventType, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

type failingStore struct{}

func (failingStore) Store(context.Context, string, string, string) (storage.Artifact, error) {
	return storage.Artifact{}, errors.New("bucket unavailable")
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Recording: config.Recording{
			TargetFPS:         30,
			Width:             1280,
			Height:            720,
			CRF:               23,
			WriterConcurrency: 2,
			WriterBuffer:      64,
			DrainTimeout:      2 * time.Second,
			Retention:         time.Minute,
			ReapInterval:      time.Minute,
		},
		Paths: config.Paths{
			WorkDir:       dir + "/work",
			CompletedDir:  dir + "/completed",
			PublicBaseURL: "/files",
		},
	}
}
