package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// wire records frames in the order they are written, like a connection with
// a serialized writer, and answers them asynchronously.
type wire struct {
	mu          sync.Mutex
	order       []int64
	outstanding int
	maxOut      int
}

func (w *wire) send(_ context.Context, e Entry) (Pending, error) {
	if e.Timestamp == 13 {
		return nil, errors.New("write failed")
	}

	w.mu.Lock()
	w.order = append(w.order, e.Timestamp)
	w.outstanding++
	if w.outstanding > w.maxOut {
		w.maxOut = w.outstanding
	}
	w.mu.Unlock()

	ack := make(chan error, 1)
	go func() {
		time.Sleep(time.Millisecond)
		if e.Timestamp%5 == 0 {
			ack <- errors.New("rejected")
			return
		}
		ack <- nil
	}()
	return func() error {
		err := <-ack
		w.mu.Lock()
		w.outstanding--
		w.mu.Unlock()
		return err
	}, nil
}

func TestSenderWritesInCaptureOrderAndSwallowsErrors(t *testing.T) {
	q := NewQueue(100, 10)
	for i := 0; i < 25; i++ {
		q.Enqueue(Entry{Timestamp: int64(i), Metadata: Metadata{ClientFrame: int64(i + 1)}})
	}

	w := &wire{}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSender(q, w.send, nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Sent()+s.Failed() < 25 {
		if time.Now().After(deadline) {
			t.Fatalf("sent %d failed %d before deadline", s.Sent(), s.Failed())
		}
		time.Sleep(time.Millisecond)
	}

	// idle sender wakes up on enqueue
	q.Enqueue(Entry{Timestamp: 101})
	for s.Sent()+s.Failed() < 26 {
		if time.Now().After(deadline) {
			t.Fatal("idle sender did not pick up new frame")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}

	// 0,5,10,15,20 rejected by the far side, 13 never written
	if s.Failed() != 6 || s.Sent() != 20 {
		t.Fatalf("sent %d failed %d, want 20/6", s.Sent(), s.Failed())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) != 25 {
		t.Fatalf("%d frames on the wire, want 25", len(w.order))
	}
	for i := 1; i < len(w.order); i++ {
		if w.order[i] <= w.order[i-1] {
			t.Fatalf("wire order %v is not capture order", w.order)
		}
	}
	// a whole batch is written before its answers are awaited
	if w.maxOut != MaxBatch {
		t.Fatalf("max outstanding = %d, want %d", w.maxOut, MaxBatch)
	}
}

func TestSenderFlushKeepsOrderAcrossBatches(t *testing.T) {
	q := NewQueue(100, 10)
	for i := 0; i < 35; i++ {
		q.Enqueue(Entry{Timestamp: int64(100 + i)})
	}

	var mu sync.Mutex
	var order []int64
	s := NewSender(q, func(_ context.Context, e Entry) (Pending, error) {
		mu.Lock()
		order = append(order, e.Timestamp)
		mu.Unlock()
		return func() error { return nil }, nil
	}, nil)
	s.Flush(context.Background())

	if s.Sent() != 35 || q.Len() != 0 {
		t.Fatalf("sent %d remaining %d", s.Sent(), q.Len())
	}
	for i, ts := range order {
		if ts != int64(100+i) {
			t.Fatalf("order[%d] = %d, want %d", i, ts, 100+i)
		}
	}
}

func TestSenderStopsWhenInactive(t *testing.T) {
	q := NewQueue(100, 10)
	for i := 0; i < 30; i++ {
		q.Enqueue(Entry{Timestamp: int64(i)})
	}

	var batches atomic.Int64
	send := func(context.Context, Entry) (Pending, error) {
		return func() error { return nil }, nil
	}
	s := NewSender(q, send, func() bool {
		return batches.Add(1) < 2
	})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Sent() != 20 || q.Len() != 10 {
		t.Fatalf("sent %d remaining %d, want 20/10", s.Sent(), q.Len())
	}

	s.Flush(context.Background())
	if q.Len() != 0 || s.Sent() != 30 {
		t.Fatalf("after flush sent %d remaining %d", s.Sent(), q.Len())
	}
}
