package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStoreMovesArtifacts(t *testing.T) {
	work := t.TempDir()
	completed := t.TempDir()

	video := filepath.Join(work, "recording.mp4")
	thumb := filepath.Join(work, "thumbnail.jpg")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(thumb, []byte("thumb"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewLocalStore(completed, "/files/")
	artifact, err := store.Store(context.Background(), "rec-1", video, thumb)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if artifact.VideoURL != "/files/rec-1/recording.mp4" {
		t.Errorf("video url = %q", artifact.VideoURL)
	}
	if artifact.ThumbnailURL != "/files/rec-1/thumbnail.jpg" {
		t.Errorf("thumbnail url = %q", artifact.ThumbnailURL)
	}
	if _, err := os.Stat(filepath.Join(completed, "rec-1", "recording.mp4")); err != nil {
		t.Errorf("video not in completed area: %v", err)
	}
	if _, err := os.Stat(video); !os.IsNotExist(err) {
		t.Errorf("video still in working area")
	}
}

func TestLocalStoreWithoutThumbnail(t *testing.T) {
	work := t.TempDir()
	video := filepath.Join(work, "recording.mp4")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	artifact, err := NewLocalStore(t.TempDir(), "http://cdn.example.com/rec").Store(context.Background(), "rec-2", video, "")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if artifact.VideoURL != "http://cdn.example.com/rec/rec-2/recording.mp4" {
		t.Errorf("video url = %q", artifact.VideoURL)
	}
	if artifact.ThumbnailURL != "" {
		t.Errorf("thumbnail url = %q, want empty", artifact.ThumbnailURL)
	}
}

func TestLocalStoreMissingVideo(t *testing.T) {
	_, err := NewLocalStore(t.TempDir(), "/files").Store(context.Background(), "rec-3", filepath.Join(t.TempDir(), "missing.mp4"), "")
	if err == nil {
		t.Fatal("expected error for missing video")
	}
}
