package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"recording-ingest/entities"
)

const (
	minWriterConcurrency = 1
	maxWriterConcurrency = 8
)

var frameFormats = []string{"image/jpeg", "image/png", "image/webp"}

// WriteResult resolves one submitted frame or audio chunk.
type WriteResult struct {
	Err            error
	Sequence       int64
	FramesWritten  int64
	FramesReceived int64
}

type jobKind int

const (
	jobFrame jobKind = iota
	jobAudio
)

type writeJob struct {
	kind      jobKind
	sequence  int64
	index     int
	timestamp int64
	data      []byte
	result    chan WriteResult
}

// WriterQueue persists frames and audio chunks of one session with bounded
// concurrency. Sequence numbers are reserved at submit time under mu, so the
// manifest order follows arrival order whatever the number of workers.
type WriterQueue struct {
	ctx     context.Context
	session *Session
	jobs    chan *writeJob
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending int
	idle    chan struct{}
	closed  bool
}

func NewWriterQueue(ctx context.Context, session *Session, concurrency, buffer int) *WriterQueue {
	if concurrency < minWriterConcurrency {
		concurrency = minWriterConcurrency
	}
	if concurrency > maxWriterConcurrency {
		concurrency = maxWriterConcurrency
	}
	q := newWriterQueue(ctx, session, buffer)
	q.startWorkers(concurrency)
	return q
}

func newWriterQueue(ctx context.Context, session *Session, buffer int) *WriterQueue {
	if buffer < 1 {
		buffer = 1
	}
	idle := make(chan struct{})
	close(idle)

	return &WriterQueue{
		ctx:     ctx,
		session: session,
		jobs:    make(chan *writeJob, buffer),
		idle:    idle,
	}
}

func (q *WriterQueue) startWorkers(n int) {
	for i := 1; i <= n; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

func resolved(res WriteResult) <-chan WriteResult {
	ch := make(chan WriteResult, 1)
	ch <- res
	return ch
}

// SubmitFrame reserves the next sequence number and queues the frame. The
// returned channel yields exactly one result.
func (q *WriterQueue) SubmitFrame(data []byte, timestamp int64) <-chan WriteResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return resolved(WriteResult{Err: stateError("writer for recording %s is closed", q.session.ID)})
	}

	sequence, err := q.session.acceptFrame()
	if err != nil {
		return resolved(WriteResult{Err: err})
	}

	job := &writeJob{
		kind:      jobFrame,
		sequence:  sequence,
		timestamp: timestamp,
		data:      data,
		result:    make(chan WriteResult, 1),
	}
	if !q.enqueueLocked(job) {
		written, received := q.session.frameFailed()
		zerolog.Ctx(q.ctx).Warn().Int64("sequence", sequence).Msg("writer queue full, dropping frame")
		return resolved(WriteResult{
			Err:            fmt.Errorf("%w: writer queue full", ErrIO),
			Sequence:       sequence,
			FramesWritten:  written,
			FramesReceived: received,
		})
	}
	return job.result
}

func (q *WriterQueue) SubmitAudio(data []byte, timestamp int64, index int) <-chan WriteResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return resolved(WriteResult{Err: stateError("writer for recording %s is closed", q.session.ID)})
	}
	if err := q.session.acceptAudio(index); err != nil {
		return resolved(WriteResult{Err: err})
	}

	job := &writeJob{
		kind:      jobAudio,
		index:     index,
		timestamp: timestamp,
		data:      data,
		result:    make(chan WriteResult, 1),
	}
	if !q.enqueueLocked(job) {
		q.session.audioFailed(index)
		zerolog.Ctx(q.ctx).Warn().Int("index", index).Msg("writer queue full, dropping audio chunk")
		return resolved(WriteResult{Err: fmt.Errorf("%w: writer queue full", ErrIO)})
	}
	return job.result
}

func (q *WriterQueue) enqueueLocked(job *writeJob) bool {
	select {
	case q.jobs <- job:
	default:
		return false
	}
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	return true
}

func (q *WriterQueue) jobDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Pending is the number of queued plus in-flight jobs.
func (q *WriterQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Wait blocks until every submitted job has finished or ctx is done.
func (q *WriterQueue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.pending == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting jobs and waits for the workers to drain the queue.
func (q *WriterQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *WriterQueue) worker(id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		var res WriteResult
		switch job.kind {
		case jobFrame:
			res = q.writeFrame(job)
		case jobAudio:
			res = q.writeAudio(job)
		}
		if res.Err != nil {
			zerolog.Ctx(q.ctx).Debug().Err(res.Err).Int("worker_id", id).Msg("write job failed")
		}
		job.result <- res
		q.jobDone()
	}
}

func (q *WriterQueue) writeFrame(job *writeJob) WriteResult {
	if len(job.data) == 0 {
		written, received := q.session.frameFailed()
		return WriteResult{Err: validationError("empty frame payload"), Sequence: job.sequence, FramesWritten: written, FramesReceived: received}
	}

	mtype := mimetype.Detect(job.data)
	if !mtype.Is(frameFormats[0]) && !mtype.Is(frameFormats[1]) && !mtype.Is(frameFormats[2]) {
		written, received := q.session.frameFailed()
		return WriteResult{Err: validationError("unsupported frame format %s", mtype.String()), Sequence: job.sequence, FramesWritten: written, FramesReceived: received}
	}

	path := filepath.Join(q.session.FramesDir(), fmt.Sprintf("frame_%08d%s", job.sequence, mtype.Extension()))
	if err := writeFileAtomic(path, job.data); err != nil {
		written, received := q.session.frameFailed()
		return WriteResult{Err: errors.Join(ErrIO, err), Sequence: job.sequence, FramesWritten: written, FramesReceived: received}
	}

	digest := blake3.Sum256(job.data)
	written, received := q.session.appendFrame(entities.FrameRecord{
		Sequence:  job.sequence,
		Timestamp: job.timestamp,
		Size:      int64(len(job.data)),
		Path:      path,
		Format:    mtype.Extension(),
		Digest:    digest[:],
	})
	return WriteResult{Sequence: job.sequence, FramesWritten: written, FramesReceived: received}
}

func (q *WriterQueue) writeAudio(job *writeJob) WriteResult {
	if len(job.data) == 0 {
		q.session.audioFailed(job.index)
		return WriteResult{Err: validationError("empty audio payload")}
	}

	ext := mimetype.Detect(job.data).Extension()
	if ext == "" {
		ext = ".bin"
	}
	path := filepath.Join(q.session.AudioDir(), fmt.Sprintf("chunk_%06d%s", job.index, ext))
	if err := writeFileAtomic(path, job.data); err != nil {
		q.session.audioFailed(job.index)
		return WriteResult{Err: errors.Join(ErrIO, err)}
	}

	q.session.appendAudio(entities.AudioRecord{
		Index:     job.index,
		Timestamp: job.timestamp,
		Size:      int64(len(job.data)),
		Path:      path,
	})
	return WriteResult{}
}

// writeFileAtomic never leaves a partially written file under path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
