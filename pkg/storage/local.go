package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
)

type localStore struct {
	dir     string
	baseURL string
}

// NewLocalStore keeps artifacts under dir/<recordingID>/ and addresses them
// as baseURL/<recordingID>/<file>.
func NewLocalStore(dir, baseURL string) ArtifactStore {
	return &localStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *localStore) Store(ctx context.Context, recordingID, videoPath, thumbnailPath string) (Artifact, error) {
	targetDir := filepath.Join(s.dir, recordingID)
	if err := os.MkdirAll(targetDir, os.ModePerm); err != nil {
		return Artifact{}, err
	}

	if err := moveFile(videoPath, filepath.Join(targetDir, videoName)); err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{VideoURL: s.url(recordingID, videoName)}

	if thumbnailPath != "" {
		if err := moveFile(thumbnailPath, filepath.Join(targetDir, thumbnailName)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("recording_id", recordingID).Msg("failed to store thumbnail")
		} else {
			artifact.ThumbnailURL = s.url(recordingID, thumbnailName)
		}
	}

	zerolog.Ctx(ctx).Info().Str("recording_id", recordingID).Str("dir", targetDir).Msg("artifact stored locally")
	return artifact, nil
}

func (s *localStore) url(recordingID, name string) string {
	return s.baseURL + "/" + path.Join(recordingID, name)
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
