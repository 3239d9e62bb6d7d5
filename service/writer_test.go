package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func TestWriterQueueAssignsSequenceInArrivalOrder(t *testing.T) {
	s := recordingSession(t, time.Now())
	for _, dir := range []string{s.FramesDir(), s.AudioDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	q := NewWriterQueue(context.Background(), s, 4, 256)
	defer q.Close()

	const n = 100
	results := make([]<-chan WriteResult, n)
	for i := 0; i < n; i++ {
		results[i] = q.SubmitFrame(jpegFrame, int64(i*33))
	}
	for i, ch := range results {
		res := <-ch
		if res.Err != nil {
			t.Fatalf("frame %d: %v", i, res.Err)
		}
		if res.Sequence != int64(i+1) {
			t.Fatalf("frame %d got sequence %d", i, res.Sequence)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	frames := s.Frames()
	if len(frames) != n {
		t.Fatalf("manifest has %d frames, want %d", len(frames), n)
	}
	for i, f := range frames {
		if f.Sequence != int64(i+1) || f.Timestamp != int64(i*33) {
			t.Fatalf("manifest[%d] = seq %d ts %d", i, f.Sequence, f.Timestamp)
		}
		if len(f.Digest) != 32 || f.Format != ".jpg" {
			t.Fatalf("manifest[%d] digest=%d format=%q", i, len(f.Digest), f.Format)
		}
	}
}

func TestWriterQueueConcurrentSubmitters(t *testing.T) {
	s := recordingSession(t, time.Now())
	if err := os.MkdirAll(s.FramesDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	q := NewWriterQueue(context.Background(), s, 8, 512)
	defer q.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res := <-q.SubmitFrame(jpegFrame, time.Now().UnixMilli())
				if res.Err != nil {
					t.Errorf("submit: %v", res.Err)
					return
				}
				mu.Lock()
				if seen[res.Sequence] {
					t.Errorf("sequence %d assigned twice", res.Sequence)
				}
				seen[res.Sequence] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 200 {
		t.Fatalf("got %d distinct sequences, want 200", len(seen))
	}
	for seq := int64(1); seq <= 200; seq++ {
		if !seen[seq] {
			t.Fatalf("sequence %d missing", seq)
		}
	}
}

func TestWriterQueueRejectsInvalidFrames(t *testing.T) {
	s := recordingSession(t, time.Now())
	if err := os.MkdirAll(s.FramesDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	q := NewWriterQueue(context.Background(), s, 1, 8)
	defer q.Close()

	if res := <-q.SubmitFrame(nil, 0); !errors.Is(res.Err, ErrValidation) {
		t.Fatalf("empty frame: got %v, want ErrValidation", res.Err)
	}
	if res := <-q.SubmitFrame([]byte("definitely not an image"), 0); !errors.Is(res.Err, ErrValidation) {
		t.Fatalf("text frame: got %v, want ErrValidation", res.Err)
	}
	res := <-q.SubmitFrame(jpegFrame, 0)
	if res.Err != nil {
		t.Fatalf("valid frame: %v", res.Err)
	}
	if res.FramesWritten != 1 || res.FramesReceived != 3 {
		t.Fatalf("ack = written %d received %d, want 1/3", res.FramesWritten, res.FramesReceived)
	}

	stats := s.Snapshot(time.Now()).Stats
	if stats.Errors != 2 || stats.DroppedFrames != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWriterQueueFullBufferDropsImmediately(t *testing.T) {
	s := recordingSession(t, time.Now())
	// no workers: the single buffer slot stays occupied
	q := newWriterQueue(context.Background(), s, 1)

	first := q.SubmitFrame(jpegFrame, 0)
	select {
	case res := <-first:
		t.Fatalf("first frame resolved early: %+v", res)
	default:
	}

	res := <-q.SubmitFrame(jpegFrame, 33)
	if !errors.Is(res.Err, ErrIO) {
		t.Fatalf("second frame: got %v, want ErrIO drop", res.Err)
	}
	if res.Sequence != 2 {
		t.Errorf("dropped frame sequence = %d, want 2", res.Sequence)
	}
	if q.Pending() != 1 {
		t.Errorf("pending = %d, want 1", q.Pending())
	}
	if got := s.Snapshot(time.Now()).Stats.DroppedFrames; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait with stuck job: got %v, want deadline exceeded", err)
	}
}

func TestWriterQueueAudio(t *testing.T) {
	s := recordingSession(t, time.Now())
	if err := os.MkdirAll(s.AudioDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	q := NewWriterQueue(context.Background(), s, 2, 8)
	defer q.Close()

	for _, index := range []int{2, 0, 1} {
		if res := <-q.SubmitAudio([]byte("OggS-chunk"), int64(index*100), index); res.Err != nil {
			t.Fatalf("audio %d: %v", index, res.Err)
		}
	}
	audio := s.Audio()
	if len(audio) != 3 {
		t.Fatalf("audio manifest has %d entries", len(audio))
	}
	for i, chunk := range audio {
		if chunk.Index != i {
			t.Fatalf("audio[%d].Index = %d", i, chunk.Index)
		}
	}
}

func TestWriterQueueRejectsDuplicateAudioIndex(t *testing.T) {
	s := recordingSession(t, time.Now())
	if err := os.MkdirAll(s.AudioDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	q := NewWriterQueue(context.Background(), s, 2, 8)
	defer q.Close()

	if res := <-q.SubmitAudio([]byte("OggS-first"), 100, 3); res.Err != nil {
		t.Fatalf("first chunk: %v", res.Err)
	}
	if res := <-q.SubmitAudio([]byte("OggS-second"), 200, 3); !errors.Is(res.Err, ErrValidation) {
		t.Fatalf("duplicate chunk: got %v, want ErrValidation", res.Err)
	}

	// a failed write frees its index for a retry
	if res := <-q.SubmitAudio(nil, 300, 4); !errors.Is(res.Err, ErrValidation) {
		t.Fatalf("empty chunk: got %v, want ErrValidation", res.Err)
	}
	if res := <-q.SubmitAudio([]byte("OggS-retry"), 300, 4); res.Err != nil {
		t.Fatalf("retried chunk: %v", res.Err)
	}

	audio := s.Audio()
	if len(audio) != 2 || audio[0].Index != 3 || audio[0].Timestamp != 100 || audio[1].Index != 4 {
		t.Fatalf("audio manifest = %+v", audio)
	}
	stats := s.Snapshot(time.Now()).Stats
	if stats.AudioChunksReceived != 3 || stats.AudioChunksWritten != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWriterQueueClosed(t *testing.T) {
	s := recordingSession(t, time.Now())
	q := NewWriterQueue(context.Background(), s, 1, 1)
	q.Close()
	q.Close()

	if res := <-q.SubmitFrame(jpegFrame, 0); !errors.Is(res.Err, ErrState) {
		t.Fatalf("submit after close: got %v, want ErrState", res.Err)
	}
}
