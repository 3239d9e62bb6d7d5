package service

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type RenderRequest struct {
	// Input is an ffconcat manifest for RenderManifest or an image2 pattern
	// for RenderSequence.
	Input  string
	Output string
	Width  int
	Height int
	Rate   int
	CRF    int
}

type MuxRequest struct {
	Video  string
	Audio  string
	Output string
	// OffsetSeconds > 0 delays the audio, < 0 trims its head.
	OffsetSeconds float64
}

// Encoder runs the external encoder processes.
type Encoder interface {
	Available(ctx context.Context) error
	RenderManifest(ctx context.Context, req RenderRequest) error
	RenderSequence(ctx context.Context, req RenderRequest) error
	TranscodeAudio(ctx context.Context, input, output string) error
	Mux(ctx context.Context, req MuxRequest) error
	Thumbnail(ctx context.Context, video, output string) error
}

type ffmpegEncoder struct {
	ffmpegPath  string
	ffprobePath string
}

func NewFFmpegEncoder(ffmpegPath, ffprobePath string) Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &ffmpegEncoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

func (e *ffmpegEncoder) Available(ctx context.Context) error {
	if _, err := exec.LookPath(e.ffmpegPath); err != nil {
		return fmt.Errorf("%s not found: %w", e.ffmpegPath, err)
	}
	return nil
}

func scaleFilter(width, height int) string {
	// libx264 with yuv420p needs even dimensions
	width -= width % 2
	height -= height % 2
	return fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2,format=yuv420p",
		width, height, width, height)
}

func videoArgs(req RenderRequest) []string {
	return []string{
		"-vf", scaleFilter(req.Width, req.Height),
		"-r", strconv.Itoa(req.Rate),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", strconv.Itoa(req.CRF),
		"-movflags", "+faststart",
		"-an",
		req.Output,
	}
}

func (e *ffmpegEncoder) RenderManifest(ctx context.Context, req RenderRequest) error {
	args := append([]string{
		"-hide_banner", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", req.Input,
	}, videoArgs(req)...)
	return e.run(ctx, e.ffmpegPath, args...)
}

func (e *ffmpegEncoder) RenderSequence(ctx context.Context, req RenderRequest) error {
	args := append([]string{
		"-hide_banner", "-y",
		"-framerate", strconv.Itoa(req.Rate),
		"-i", req.Input,
	}, videoArgs(req)...)
	return e.run(ctx, e.ffmpegPath, args...)
}

func (e *ffmpegEncoder) TranscodeAudio(ctx context.Context, input, output string) error {
	return e.run(ctx, e.ffmpegPath,
		"-hide_banner", "-y",
		"-i", input,
		"-vn",
		"-c:a", "aac",
		"-b:a", "128k",
		output,
	)
}

func (e *ffmpegEncoder) Mux(ctx context.Context, req MuxRequest) error {
	return e.run(ctx, e.ffmpegPath, muxArgs(req)...)
}

// muxArgs delays late audio with -itsoffset and trims early audio with -ss.
func muxArgs(req MuxRequest) []string {
	args := []string{"-hide_banner", "-y", "-i", req.Video}
	switch {
	case req.OffsetSeconds > 0:
		args = append(args, "-itsoffset", formatSeconds(req.OffsetSeconds))
	case req.OffsetSeconds < 0:
		args = append(args, "-ss", formatSeconds(-req.OffsetSeconds))
	}
	args = append(args,
		"-i", req.Audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		"-movflags", "+faststart",
		req.Output,
	)
	return args
}

func (e *ffmpegEncoder) Thumbnail(ctx context.Context, video, output string) error {
	seek := 0.0
	if duration, err := e.probeDuration(ctx, video); err == nil && duration > 2 {
		seek = duration / 2
	}
	return e.run(ctx, e.ffmpegPath,
		"-hide_banner", "-y",
		"-ss", formatSeconds(seek),
		"-i", video,
		"-vframes", "1",
		"-vf", "scale=480:-2",
		"-q:v", "2",
		output,
	)
}

func (e *ffmpegEncoder) probeDuration(ctx context.Context, video string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		video,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
}

func (e *ffmpegEncoder) run(ctx context.Context, name string, args ...string) error {
	zerolog.Ctx(ctx).Debug().Str("cmd", name).Strs("args", args).Msg("executing encoder command")

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("cmd", name).
			Str("ffmpeg_output", tail(string(output), 2048)).
			Msg("encoder command failed")
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
