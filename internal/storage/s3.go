package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	apperrors "mysql-backup-coordinator/internal/errors"
)

// S3Uploader streams artifacts to S3 with multipart uploads
type S3Uploader struct {
	uploader *s3manager.Uploader
	bucket   string
}

// NewS3Uploader creates an S3 session. Static credentials are used when
// configured, otherwise the default AWS credential chain.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid S3 storage configuration", err)
	}

	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create AWS session", err)
	}

	return &S3Uploader{
		uploader: s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
			u.PartSize = 16 * 1024 * 1024
			u.Concurrency = 4
		}),
		bucket: cfg.Bucket,
	}, nil
}

func (u *S3Uploader) Name() string { return "s3" }

func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer f.Close()

	_, err = u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to upload s3://%s/%s", u.bucket, key), err)
	}
	return nil
}
