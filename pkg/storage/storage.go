package storage

import "context"

// Artifact is where a finished recording can be fetched from.
type Artifact struct {
	VideoURL     string
	ThumbnailURL string
}

// ArtifactStore moves a finished recording out of the working area into the
// completed-artifacts area. thumbnailPath may be empty.
type ArtifactStore interface {
	Store(ctx context.Context, recordingID, videoPath, thumbnailPath string) (Artifact, error)
}

const (
	videoName     = "recording.mp4"
	thumbnailName = "thumbnail.jpg"
)
