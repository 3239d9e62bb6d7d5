package capture

import "sync"

const (
	DefaultCapacity   = 300
	DefaultEvictBatch = 30
	MaxBatch          = 10
)

// Metadata travels with a frame for diagnostics. ClientFrame is a local
// counter and is never used for ordering.
type Metadata struct {
	Width       int
	Height      int
	ClientFrame int64
}

type Entry struct {
	Data      []byte
	Timestamp int64
	Metadata  Metadata
}

// Queue is the bounded producer-side frame queue. When full, the oldest
// entries are evicted in one batch so a slow link sheds a burst of stale
// frames at once instead of one per capture.
type Queue struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	evict    int
	dropped  uint64
	ready    chan struct{}
}

func NewQueue(capacity, evict int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if evict <= 0 {
		evict = DefaultEvictBatch
	}
	if evict > capacity {
		evict = capacity
	}
	return &Queue{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		evict:    evict,
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends entry and returns how many old entries were evicted to
// make room.
func (q *Queue) Enqueue(entry Entry) int {
	q.mu.Lock()
	evicted := 0
	if len(q.entries) >= q.capacity {
		evicted = q.evict
		n := copy(q.entries, q.entries[evicted:])
		clear(q.entries[n:])
		q.entries = q.entries[:n]
		q.dropped += uint64(evicted)
	}
	q.entries = append(q.entries, entry)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// DrainBatch removes and returns up to n of the oldest entries.
func (q *Queue) DrainBatch(n int) []Entry {
	if n <= 0 || n > MaxBatch {
		n = MaxBatch
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.entries) {
		n = len(q.entries)
	}
	if n == 0 {
		return nil
	}

	batch := make([]Entry, n)
	copy(batch, q.entries[:n])
	rest := copy(q.entries, q.entries[n:])
	clear(q.entries[rest:])
	q.entries = q.entries[:rest]
	return batch
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped is the total number of entries evicted so far.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after an enqueue. The signal is coalesced: a receiver
// should drain until the queue is empty before waiting again.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
