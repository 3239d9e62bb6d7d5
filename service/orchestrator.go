package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"recording-ingest/entities"
)

const (
	maxEncodeRate     = 60
	defaultEncodeRate = 30
)

// EncodeInput is everything the orchestrator needs from a stopping session.
type EncodeInput struct {
	RecordingID string
	Frames      []entities.FrameRecord
	Audio       []entities.AudioRecord
	WithAudio   bool
	Width       int
	Height      int
	TargetFPS   int
	WorkDir     string
}

type EncodeResult struct {
	VideoPath     string
	ThumbnailPath string
	Duration      float64
	FrameCount    int
	SkippedFrames int
	Rate          int
	HasAudio      bool
	// AudioDropped is set when audio was requested and captured but could
	// not be added to the artifact.
	AudioDropped  bool
	AudioOffset   float64
}

// Orchestrator turns a frame and audio manifest into the final artifact.
type Orchestrator struct {
	encoder Encoder
	crf     int
}

func NewOrchestrator(encoder Encoder, crf int) *Orchestrator {
	if crf <= 0 {
		crf = 23
	}
	return &Orchestrator{encoder: encoder, crf: crf}
}

// ValidFrames orders frames by sequence and drops records whose file is
// missing, empty, or no longer matches the size and digest recorded at write
// time.
func ValidFrames(frames []entities.FrameRecord) (valid []entities.FrameRecord, skipped int) {
	sorted := make([]entities.FrameRecord, len(frames))
	copy(sorted, frames)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	valid = make([]entities.FrameRecord, 0, len(sorted))
	for _, frame := range sorted {
		if !frameIntact(frame) {
			skipped++
			continue
		}
		valid = append(valid, frame)
	}
	return valid, skipped
}

func frameIntact(frame entities.FrameRecord) bool {
	info, err := os.Stat(frame.Path)
	if err != nil || info.Size() == 0 {
		return false
	}
	if frame.Size > 0 && info.Size() != frame.Size {
		return false
	}
	if len(frame.Digest) == 0 {
		return true
	}

	f, err := os.Open(frame.Path)
	if err != nil {
		return false
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return bytes.Equal(h.Sum(nil), frame.Digest)
}

// EffectiveRate derives the encode rate from the observed capture span,
// capped at 60. fallback is used when the span cannot be measured.
func EffectiveRate(frames []entities.FrameRecord, fallback int) int {
	if fallback <= 0 {
		fallback = defaultEncodeRate
	}
	if fallback > maxEncodeRate {
		fallback = maxEncodeRate
	}
	if len(frames) <= 1 {
		return fallback
	}

	span := float64(frames[len(frames)-1].Timestamp-frames[0].Timestamp) / 1000
	if span <= 0 {
		return fallback
	}

	rate := int(math.Round(float64(len(frames)) / span))
	if rate > maxEncodeRate {
		rate = maxEncodeRate
	}
	if rate < 1 {
		rate = 1
	}
	return rate
}

// FrameDurations returns the display time of every frame but the last:
// the gap to the next capture, never shorter than one frame at rate.
func FrameDurations(frames []entities.FrameRecord, rate int) []float64 {
	if len(frames) < 2 {
		return nil
	}
	minimum := 1 / float64(rate)
	durations := make([]float64, len(frames)-1)
	for i := 0; i < len(frames)-1; i++ {
		gap := float64(frames[i+1].Timestamp-frames[i].Timestamp) / 1000
		durations[i] = math.Max(gap, minimum)
	}
	return durations
}

// BuildTimingManifest renders an ffconcat manifest. The last frame is listed
// a second time without a duration so the demuxer honours the final duration.
func BuildTimingManifest(frames []entities.FrameRecord, rate int) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")

	durations := FrameDurations(frames, rate)
	for i, frame := range frames {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(frame.Path))
		if i < len(durations) {
			fmt.Fprintf(&b, "duration %s\n", strconv.FormatFloat(durations[i], 'f', 6, 64))
		} else {
			fmt.Fprintf(&b, "duration %s\n", strconv.FormatFloat(1/float64(rate), 'f', 6, 64))
		}
	}
	if len(frames) > 0 {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(frames[len(frames)-1].Path))
	}
	return b.String()
}

func escapeConcatPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return strings.ReplaceAll(path, "'", "'\\''")
}

// AudioOffset is the start of the audio track relative to the first frame,
// in seconds.
func AudioOffset(frames []entities.FrameRecord, audio []entities.AudioRecord) float64 {
	if len(frames) == 0 || len(audio) == 0 {
		return 0
	}
	return float64(audio[0].Timestamp-frames[0].Timestamp) / 1000
}

func manifestDuration(frames []entities.FrameRecord, rate int) float64 {
	total := 0.0
	for _, d := range FrameDurations(frames, rate) {
		total += d
	}
	if len(frames) > 0 {
		total += 1 / float64(rate)
	}
	return total
}

func (o *Orchestrator) Encode(ctx context.Context, in EncodeInput) (*EncodeResult, error) {
	logger := zerolog.Ctx(ctx)

	frames, skipped := ValidFrames(in.Frames)
	if skipped > 0 {
		logger.Warn().Int("skipped_frames", skipped).Msg("ignoring missing or empty frame files")
	}
	if len(frames) == 0 {
		return nil, ErrNoValidFrames
	}

	if err := os.MkdirAll(in.WorkDir, os.ModePerm); err != nil {
		return nil, errors.Join(ErrIO, err)
	}

	rate := EffectiveRate(frames, in.TargetFPS)
	result := &EncodeResult{
		FrameCount:    len(frames),
		SkippedFrames: skipped,
		Rate:          rate,
		Duration:      manifestDuration(frames, rate),
	}
	logger.Info().
		Int("frame_count", len(frames)).
		Int("rate", rate).
		Float64("duration", result.Duration).
		Msg("building timing manifest")

	manifestPath := filepath.Join(in.WorkDir, "frames.ffconcat")
	if err := os.WriteFile(manifestPath, []byte(BuildTimingManifest(frames, rate)), 0o644); err != nil {
		return nil, errors.Join(ErrEncode, fmt.Errorf("write manifest: %w", err))
	}

	audioPath := ""
	if in.WithAudio && len(in.Audio) > 0 {
		audio := sortedAudio(in.Audio)
		path, err := o.prepareAudio(ctx, audio, in.WorkDir)
		if err != nil {
			logger.Warn().Err(err).Msg("audio track unavailable, audio dropped from recording")
			result.AudioDropped = true
		} else {
			audioPath = path
			result.AudioOffset = AudioOffset(frames, audio)
		}
	}

	videoOnly := filepath.Join(in.WorkDir, "video.mp4")
	render := RenderRequest{
		Input:  manifestPath,
		Output: videoOnly,
		Width:  in.Width,
		Height: in.Height,
		Rate:   rate,
		CRF:    o.crf,
	}
	if err := o.encoder.RenderManifest(ctx, render); err != nil {
		logger.Warn().Err(err).Msg("manifest render failed, retrying with image sequence")
		if seqErr := o.renderSequence(ctx, frames, render, in.WorkDir); seqErr != nil {
			return nil, errors.Join(ErrEncode, err, seqErr)
		}
	}

	output := filepath.Join(in.WorkDir, "recording.mp4")
	if audioPath != "" {
		mux := MuxRequest{
			Video:         videoOnly,
			Audio:         audioPath,
			Output:        output,
			OffsetSeconds: result.AudioOffset,
		}
		logger.Info().Float64("audio_offset", result.AudioOffset).Msg("muxing audio track")
		if err := o.encoder.Mux(ctx, mux); err != nil {
			logger.Warn().Err(err).Msg("mux failed, audio dropped from recording")
			result.AudioDropped = true
			audioPath = ""
		} else {
			result.HasAudio = true
		}
	}
	if audioPath == "" {
		result.AudioOffset = 0
		if err := os.Rename(videoOnly, output); err != nil {
			return nil, errors.Join(ErrEncode, err)
		}
	}
	result.VideoPath = output

	thumbnail := filepath.Join(in.WorkDir, "thumbnail.jpg")
	if err := o.encoder.Thumbnail(ctx, output, thumbnail); err != nil {
		logger.Warn().Err(err).Msg("thumbnail generation failed")
	} else {
		result.ThumbnailPath = thumbnail
	}

	return result, nil
}

func sortedAudio(audio []entities.AudioRecord) []entities.AudioRecord {
	sorted := make([]entities.AudioRecord, len(audio))
	copy(sorted, audio)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return sorted
}

// prepareAudio joins the chunks in index order and transcodes them into one
// continuous AAC track.
func (o *Orchestrator) prepareAudio(ctx context.Context, audio []entities.AudioRecord, workDir string) (string, error) {
	rawPath := filepath.Join(workDir, "audio_raw"+filepath.Ext(audio[0].Path))
	raw, err := os.Create(rawPath)
	if err != nil {
		return "", err
	}

	written := 0
	for _, chunk := range audio {
		if err := appendFile(raw, chunk.Path); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int("index", chunk.Index).Msg("skipping unreadable audio chunk")
			continue
		}
		written++
	}
	if err := raw.Close(); err != nil {
		return "", err
	}
	if written == 0 {
		return "", fmt.Errorf("no readable audio chunks")
	}

	out := filepath.Join(workDir, "audio.m4a")
	if err := o.encoder.TranscodeAudio(ctx, rawPath, out); err != nil {
		return "", err
	}
	return out, nil
}

func appendFile(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

// renderSequence links the frames into a contiguous numbered sequence and
// renders it at a constant rate.
func (o *Orchestrator) renderSequence(ctx context.Context, frames []entities.FrameRecord, req RenderRequest, workDir string) error {
	seqDir := filepath.Join(workDir, "sequence")
	if err := os.RemoveAll(seqDir); err != nil {
		return err
	}
	if err := os.MkdirAll(seqDir, os.ModePerm); err != nil {
		return err
	}

	ext := filepath.Ext(frames[0].Path)
	n := 0
	for _, frame := range frames {
		if filepath.Ext(frame.Path) != ext {
			continue
		}
		n++
		target := filepath.Join(seqDir, fmt.Sprintf("%08d%s", n, ext))
		if err := os.Link(frame.Path, target); err != nil {
			return err
		}
	}

	req.Input = filepath.Join(seqDir, "%08d"+ext)
	return o.encoder.RenderSequence(ctx, req)
}
