package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type countingSource struct{ fail bool }

func (s *countingSource) Capture(context.Context) (Frame, error) {
	if s.fail {
		return Frame{}, errors.New("no display")
	}
	return Frame{Data: []byte{0xff, 0xd8, 0xff}, Width: 4, Height: 2}, nil
}

func TestCapturerPauseSuppressesCaptures(t *testing.T) {
	q := NewQueue(100, 10)
	c := NewCapturer(&countingSource{}, q, 30)

	c.captureOnce(context.Background())
	c.captureOnce(context.Background())
	if q.Len() != 2 || c.Captured() != 2 {
		t.Fatalf("len %d captured %d", q.Len(), c.Captured())
	}
	batch := q.DrainBatch(2)
	if batch[1].Metadata.ClientFrame != 2 || batch[1].Metadata.Width != 4 {
		t.Fatalf("metadata = %+v", batch[1].Metadata)
	}

	c.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("captured %d frames while paused", q.Len())
	}
}

func TestCapturerSkipsSourceErrors(t *testing.T) {
	q := NewQueue(100, 10)
	c := NewCapturer(&countingSource{fail: true}, q, 30)
	c.captureOnce(context.Background())
	if q.Len() != 0 || c.failures.Load() != 1 {
		t.Fatalf("len %d failures %d", q.Len(), c.failures.Load())
	}
}

func TestCapturerTimestampsAreOffsetsFromEpoch(t *testing.T) {
	q := NewQueue(100, 10)
	c := NewCapturer(&countingSource{}, q, 30)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ticks := []time.Time{base.Add(1500 * time.Millisecond), base.Add(1533 * time.Millisecond)}
	c.epoch = base
	c.now = func() time.Time {
		now := ticks[0]
		ticks = ticks[1:]
		return now
	}
	c.captureOnce(context.Background())
	c.captureOnce(context.Background())

	batch := q.DrainBatch(2)
	if batch[0].Timestamp != 1500 || batch[1].Timestamp != 1533 {
		t.Fatalf("timestamps = %d, %d, want 1500, 1533", batch[0].Timestamp, batch[1].Timestamp)
	}
}

func TestCapturerTimestampsIncreaseFromProcessStart(t *testing.T) {
	q := NewQueue(100, 10)
	c := NewCapturer(&countingSource{}, q, 30)

	var last int64 = -1
	for i := 0; i < 5; i++ {
		c.captureOnce(context.Background())
		entry := q.DrainBatch(1)[0]
		if entry.Timestamp < last {
			t.Fatalf("timestamp %d after %d", entry.Timestamp, last)
		}
		last = entry.Timestamp
		time.Sleep(2 * time.Millisecond)
	}
	if limit := time.Since(epoch).Milliseconds(); last > limit {
		t.Fatalf("timestamp %d is not an offset from process start (%d ms ago)", last, limit)
	}
}

func TestDirSourceLoops(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for i := 0; i < 3; i++ {
		frame, err := src.Capture(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(frame.Data))
	}
	if got[0] != "a.jpg" || got[1] != "b.jpg" || got[2] != "a.jpg" {
		t.Fatalf("capture order = %v", got)
	}

	if _, err := NewDirSource(t.TempDir()); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
