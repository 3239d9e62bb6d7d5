package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const DefaultYield = 5 * time.Millisecond

// Pending waits for the far side's answer to one sent frame.
type Pending func() error

// SendFunc puts one frame on the link before it returns. The server numbers
// frames in arrival order, so calls must not be reordered.
type SendFunc func(ctx context.Context, entry Entry) (Pending, error)

// Sender drains the queue in batches. While a backlog remains it yields
// briefly between batches; once the queue is empty it idles until the next
// enqueue. Send errors never stop it.
type Sender struct {
	queue  *Queue
	send   SendFunc
	active func() bool
	batch  int
	yield  time.Duration

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewSender builds a send loop. active reports whether the recording is
// still live; when it returns false the loop exits after the current batch.
func NewSender(queue *Queue, send SendFunc, active func() bool) *Sender {
	if active == nil {
		active = func() bool { return true }
	}
	return &Sender{
		queue:  queue,
		send:   send,
		active: active,
		batch:  MaxBatch,
		yield:  DefaultYield,
	}
}

func (s *Sender) Sent() uint64   { return s.sent.Load() }
func (s *Sender) Failed() uint64 { return s.failed.Load() }

func (s *Sender) Run(ctx context.Context) error {
	for {
		if batch := s.queue.DrainBatch(s.batch); len(batch) > 0 {
			s.sendBatch(ctx, batch)
		}
		if !s.active() {
			return nil
		}

		if s.queue.Len() > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.yield):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.Ready():
		}
	}
}

// Flush sends whatever is still queued, batch by batch.
func (s *Sender) Flush(ctx context.Context) {
	for {
		batch := s.queue.DrainBatch(s.batch)
		if len(batch) == 0 || ctx.Err() != nil {
			return
		}
		s.sendBatch(ctx, batch)
	}
}

// sendBatch writes the batch in capture order, then collects the answers.
func (s *Sender) sendBatch(ctx context.Context, batch []Entry) {
	pending := make([]Pending, len(batch))
	for i, entry := range batch {
		wait, err := s.send(ctx, entry)
		if err != nil {
			s.sendFailed(ctx, entry, err)
			continue
		}
		pending[i] = wait
	}

	for i, wait := range pending {
		if wait == nil {
			continue
		}
		if err := wait(); err != nil {
			s.sendFailed(ctx, batch[i], err)
			continue
		}
		s.sent.Add(1)
	}
}

func (s *Sender) sendFailed(ctx context.Context, entry Entry, err error) {
	s.failed.Add(1)
	zerolog.Ctx(ctx).Debug().Err(err).Int64("client_frame", entry.Metadata.ClientFrame).Msg("frame send failed")
}
