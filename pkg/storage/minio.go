package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

type minioStore struct {
	client *minio.Client
	bucket string
	prefix string
	expiry time.Duration
}

// NewMinioStore uploads artifacts to bucket under recordings/<recordingID>/
// and returns presigned download URLs valid for expiry.
func NewMinioStore(ctx context.Context, client *minio.Client, bucket string, expiry time.Duration) (ArtifactStore, error) {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		zerolog.Ctx(ctx).Info().Str("bucket", bucket).Msg("creating artifact bucket")
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &minioStore{
		client: client,
		bucket: bucket,
		prefix: "recordings",
		expiry: expiry,
	}, nil
}

func (s *minioStore) Store(ctx context.Context, recordingID, videoPath, thumbnailPath string) (Artifact, error) {
	videoKey := path.Join(s.prefix, recordingID, videoName)
	if err := s.upload(ctx, videoKey, videoPath, "video/mp4"); err != nil {
		return Artifact{}, err
	}
	videoURL, err := s.presign(ctx, videoKey)
	if err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{VideoURL: videoURL}

	if thumbnailPath != "" {
		thumbKey := path.Join(s.prefix, recordingID, thumbnailName)
		if err := s.upload(ctx, thumbKey, thumbnailPath, "image/jpeg"); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("object", thumbKey).Msg("failed to upload thumbnail")
		} else if thumbURL, err := s.presign(ctx, thumbKey); err == nil {
			artifact.ThumbnailURL = thumbURL
		}
	}

	return artifact, nil
}

func (s *minioStore) upload(ctx context.Context, key, file, contentType string) error {
	operation := func() (minio.UploadInfo, error) {
		return s.client.FPutObject(ctx, s.bucket, key, file, minio.PutObjectOptions{
			ContentType: contentType,
		})
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 5 * time.Second
	info, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("object", key).Msg("failed to upload artifact")
		return err
	}

	zerolog.Ctx(ctx).Info().Str("object", key).Int64("size_bytes", info.Size).Msg("artifact uploaded")
	return nil
}

func (s *minioStore) presign(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
