package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// epoch anchors frame timestamps for the life of the process. Offsets from it
// use the monotonic clock, so wall clock steps never reorder captures.
var epoch = time.Now()

// Capturer grabs a frame from its source at a fixed interval and enqueues it.
type Capturer struct {
	source   Source
	queue    *Queue
	interval time.Duration
	meter    FPSMeter
	now      func() time.Time
	epoch    time.Time

	paused   atomic.Bool
	captured atomic.Int64
	failures atomic.Uint64
}

func NewCapturer(source Source, queue *Queue, targetFPS int) *Capturer {
	if targetFPS <= 0 {
		targetFPS = 30
	}
	return &Capturer{
		source:   source,
		queue:    queue,
		interval: time.Second / time.Duration(targetFPS),
		now:      time.Now,
		epoch:    epoch,
	}
}

func (c *Capturer) Pause()       { c.paused.Store(true) }
func (c *Capturer) Resume()      { c.paused.Store(false) }
func (c *Capturer) Paused() bool { return c.paused.Load() }

// ObservedFPS is the rate measured over the recent captures.
func (c *Capturer) ObservedFPS() float64 { return c.meter.FPS() }

func (c *Capturer) Captured() int64 { return c.captured.Load() }

// Run captures until ctx is done. Source errors are counted and skipped.
func (c *Capturer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.paused.Load() {
				continue
			}
			c.captureOnce(ctx)
		}
	}
}

func (c *Capturer) captureOnce(ctx context.Context) {
	frame, err := c.source.Capture(ctx)
	if err != nil {
		c.failures.Add(1)
		zerolog.Ctx(ctx).Debug().Err(err).Msg("capture failed")
		return
	}

	now := c.now()
	c.meter.Observe(now)
	evicted := c.queue.Enqueue(Entry{
		Data:      frame.Data,
		Timestamp: now.Sub(c.epoch).Milliseconds(),
		Metadata: Metadata{
			Width:       frame.Width,
			Height:      frame.Height,
			ClientFrame: c.captured.Add(1),
		},
	})
	if evicted > 0 {
		zerolog.Ctx(ctx).Warn().
			Int("evicted", evicted).
			Uint64("dropped_total", c.queue.Dropped()).
			Msg("capture queue full, evicted oldest frames")
	}
}
