package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"recording-ingest/config"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/pkg/capture"
	"recording-ingest/pkg/wsclient"
)

type captureOptions struct {
	URL       string
	RoomID    string
	UserID    string
	SourceDir string
	FPS       int
	Width     int
	Height    int
	Duration  time.Duration
	Wait      time.Duration
}

func (o *captureOptions) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.URL, "url", "ws://localhost:8080/ws", "ingest channel url")
	flagSet.StringVar(&o.RoomID, "room", "", "room id to record (required)")
	flagSet.StringVar(&o.UserID, "user", "", "user id owning the recording (required)")
	flagSet.StringVar(&o.SourceDir, "source", "", "directory of jpeg/png images replayed as the screen (required)")
	flagSet.IntVar(&o.FPS, "fps", 30, "target capture rate")
	flagSet.IntVar(&o.Width, "width", 0, "output width, server default when 0")
	flagSet.IntVar(&o.Height, "height", 0, "output height, server default when 0")
	flagSet.DurationVar(&o.Duration, "duration", 10*time.Second, "how long to capture")
	flagSet.DurationVar(&o.Wait, "wait", 2*time.Minute, "how long to wait for the finished artifact")
}

func (o *captureOptions) validate() error {
	switch {
	case o.RoomID == "":
		return errors.New("--room is required")
	case o.UserID == "":
		return errors.New("--user is required")
	case o.SourceDir == "":
		return errors.New("--source is required")
	}
	return nil
}

func captureCmd(cfg *config.Config) *cobra.Command {
	var opts captureOptions
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "stream a screen source to the ingest server and wait for the recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			return runCapture(cfg, opts)
		},
	}

	flagSet := pflag.NewFlagSet("capture", pflag.ContinueOnError)
	opts.AddFlags(flagSet)
	cmd.Flags().AddFlagSet(flagSet)
	return cmd
}

// producer owns the link to the ingest server and re-establishes it when it
// drops, continuing the live recording or starting a new one at the observed
// capture rate.
type producer struct {
	opts     captureOptions
	capturer *capture.Capturer

	mu          sync.Mutex
	client      *wsclient.Client
	recordingID string
	active      atomic.Bool
}

func (p *producer) current() (*wsclient.Client, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client, p.recordingID
}

func (p *producer) start(ctx context.Context, targetFPS int) error {
	client, err := wsclient.Dial(ctx, p.opts.URL)
	if err != nil {
		return err
	}

	recordingID := ""
	if status, err := client.Status(ctx, p.opts.RoomID); err == nil && !status.Status.Terminal() {
		recordingID = status.RecordingID
		zerolog.Ctx(ctx).Info().Str("recording_id", recordingID).Msg("continuing live recording")
	} else {
		recordingID, err = client.Start(ctx, dto.StartRecordingRequest{
			RoomID: p.opts.RoomID,
			UserID: p.opts.UserID,
			Options: dto.RecordingOptions{
				TargetFPS: targetFPS,
				Width:     p.opts.Width,
				Height:    p.opts.Height,
			},
		})
		if err != nil {
			client.Close()
			return err
		}
		zerolog.Ctx(ctx).Info().Str("recording_id", recordingID).Int("target_fps", targetFPS).Msg("recording started")
	}

	p.mu.Lock()
	p.client, p.recordingID = client, recordingID
	p.mu.Unlock()
	return nil
}

// watch reconnects after the connection drops until ctx is done.
func (p *producer) watch(ctx context.Context) {
	for {
		client, _ := p.current()
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
		}
		if !p.active.Load() {
			return
		}

		fps := int(math.Round(p.capturer.ObservedFPS()))
		if fps <= 0 {
			fps = p.opts.FPS
		}
		zerolog.Ctx(ctx).Warn().Err(client.Err()).Int("observed_fps", fps).Msg("ingest connection lost, reconnecting")
		if err := p.start(ctx, fps); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to reconnect")
			return
		}
	}
}

func (p *producer) send(ctx context.Context, entry capture.Entry) (capture.Pending, error) {
	client, recordingID := p.current()
	call, err := client.Go(constant.MessageTypeFrame, dto.FrameRequest{
		RoomID:      p.opts.RoomID,
		RecordingID: recordingID,
		Data:        entry.Data,
		Timestamp:   entry.Timestamp,
		Metadata: dto.FrameMetadata{
			Width:       entry.Metadata.Width,
			Height:      entry.Metadata.Height,
			ClientFrame: entry.Metadata.ClientFrame,
			ObservedFPS: p.capturer.ObservedFPS(),
		},
	})
	if err != nil {
		return nil, err
	}
	return func() error { return call.Wait(ctx, nil) }, nil
}

func runCapture(cfg *config.Config, opts captureOptions) error {
	ctx, cancel := signal.NotifyContext(setupCaptureLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, err := capture.NewDirSource(opts.SourceDir)
	if err != nil {
		return err
	}

	queue := capture.NewQueue(capture.DefaultCapacity, capture.DefaultEvictBatch)
	p := &producer{
		opts:     opts,
		capturer: capture.NewCapturer(source, queue, opts.FPS),
	}
	if err := p.start(ctx, opts.FPS); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	p.active.Store(true)
	defer func() {
		client, _ := p.current()
		client.Close()
	}()

	sender := capture.NewSender(queue, p.send, p.active.Load)

	captureCtx, stopCapture := context.WithTimeout(ctx, opts.Duration)
	defer stopCapture()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		p.capturer.Run(captureCtx)
	}()
	go func() {
		defer wg.Done()
		sender.Run(captureCtx)
	}()
	go func() {
		defer wg.Done()
		p.watch(captureCtx)
	}()
	wg.Wait()
	p.active.Store(false)

	// the capture context is over; the remaining steps use the outer one
	sender.Flush(ctx)
	zerolog.Ctx(ctx).Info().
		Int64("captured", p.capturer.Captured()).
		Uint64("sent", sender.Sent()).
		Uint64("send_failures", sender.Failed()).
		Uint64("evicted", queue.Dropped()).
		Float64("observed_fps", p.capturer.ObservedFPS()).
		Msg("capture finished")

	client, _ := p.current()
	stop, err := client.Stop(ctx, dto.StopRequest{RoomID: opts.RoomID})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("stop request failed, waiting for status")
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, opts.Wait)
	defer cancelWait()
	status, err := client.WaitForArtifact(waitCtx, opts.RoomID, time.Second)
	if err != nil {
		return err
	}
	if status.Status != constant.RecordingStatusCompleted {
		return fmt.Errorf("recording ended in status %s", status.Status)
	}

	artifact := status.ArtifactURL
	if stop != nil && stop.ArtifactURL != "" {
		artifact = stop.ArtifactURL
	}
	zerolog.Ctx(ctx).Info().
		Str("recording_id", status.RecordingID).
		Str("artifact_url", artifact).
		Str("thumbnail_url", status.ThumbnailURL).
		Float64("duration", status.Duration).
		Int64("frames_written", status.Stats.FramesWritten).
		Int64("dropped_frames", status.Stats.DroppedFrames).
		Msg("recording ready")
	return nil
}

func setupCaptureLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}
