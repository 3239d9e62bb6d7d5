package service

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"recording-ingest/entities"
)

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), journalFile)
	in := Journal{
		RecordingID: "rec-1",
		RoomID:      "room-1",
		Status:      "failed",
		Error:       "encode error: no valid frames",
		WrittenAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Frames: []entities.FrameRecord{
			{Sequence: 1, Timestamp: 10, Size: 3, Path: "frames/frame_00000001.jpg", Format: ".jpg", Digest: []byte{1, 2, 3}},
		},
		Audio: []entities.AudioRecord{{Index: 0, Timestamp: 12, Size: 4, Path: "audio/chunk_000000.webm"}},
	}
	if err := WriteJournal(path, in); err != nil {
		t.Fatalf("WriteJournal: %v", err)
	}

	out, err := ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if out.RecordingID != in.RecordingID || out.Error != in.Error || !out.WrittenAt.Equal(in.WrittenAt) {
		t.Fatalf("journal = %+v", out)
	}
	if len(out.Frames) != 1 || !bytes.Equal(out.Frames[0].Digest, in.Frames[0].Digest) {
		t.Fatalf("frames = %+v", out.Frames)
	}
	if len(out.Audio) != 1 || out.Audio[0].Path != in.Audio[0].Path {
		t.Fatalf("audio = %+v", out.Audio)
	}
}
