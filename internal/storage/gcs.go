package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	apperrors "mysql-backup-coordinator/internal/errors"
)

// GCSUploader streams artifacts to a Cloud Storage bucket
type GCSUploader struct {
	client *gcs.Client
	bucket string
}

// NewGCSUploader creates a client from a credentials file or the default
// application credentials.
func NewGCSUploader(ctx context.Context, cfg GCSConfig) (*GCSUploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid GCS storage configuration", err)
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create GCS client", err)
	}

	return &GCSUploader{client: client, bucket: cfg.Bucket}, nil
}

func (u *GCSUploader) Name() string { return "gcs" }

func (u *GCSUploader) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer f.Close()

	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return apperrors.NewStorageError(fmt.Sprintf("failed to write gs://%s/%s", u.bucket, key), err)
	}
	if err := w.Close(); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to upload gs://%s/%s", u.bucket, key), err)
	}
	return nil
}

// Close releases the client
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
