package service

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"recording-ingest/entities"
)

func TestMuxArgsAudioSync(t *testing.T) {
	frames := []entities.FrameRecord{{Timestamp: 1000}}

	tests := []struct {
		name      string
		audioTS   int64
		wantFlag  string
		wantValue string
	}{
		{"late audio is delayed", 1200, "-itsoffset", "0.200"},
		{"early audio is trimmed", 800, "-ss", "0.200"},
		{"aligned audio", 1000, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset := AudioOffset(frames, []entities.AudioRecord{{Timestamp: tt.audioTS}})
			args := muxArgs(MuxRequest{Video: "v.mp4", Audio: "a.m4a", Output: "out.mp4", OffsetSeconds: offset})

			audioInput := slices.Index(args, "a.m4a")
			if audioInput < 1 || args[audioInput-1] != "-i" {
				t.Fatalf("audio input missing: %v", args)
			}
			for _, flag := range []string{"-itsoffset", "-ss"} {
				i := slices.Index(args, flag)
				if flag != tt.wantFlag {
					if i >= 0 {
						t.Fatalf("unexpected %s in %v", flag, args)
					}
					continue
				}
				// input options apply to the audio input that follows them
				if i < 0 || i > audioInput || args[i+1] != tt.wantValue {
					t.Fatalf("want %s %s before the audio input, got %v", flag, tt.wantValue, args)
				}
			}
		})
	}
}

func TestFFmpegEncoderUnavailable(t *testing.T) {
	enc := NewFFmpegEncoder(filepath.Join(t.TempDir(), "no-ffmpeg"), "")
	if err := enc.Available(context.Background()); err == nil {
		t.Fatal("expected missing binary to be reported")
	}
}
