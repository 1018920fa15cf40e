package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "mysql-backup-coordinator/internal/errors"
)

// LocalUploader copies artifacts into another directory
type LocalUploader struct {
	basePath string
}

// NewLocalUploader creates the base directory if needed
func NewLocalUploader(cfg LocalConfig) (*LocalUploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid local storage configuration", err)
	}
	if err := os.MkdirAll(cfg.BasePath, 0o750); err != nil {
		return nil, apperrors.NewStorageError("failed to create base directory", err)
	}
	return &LocalUploader{basePath: cfg.BasePath}, nil
}

func (u *LocalUploader) Name() string { return "local" }

// Upload copies through a temporary name so a partial copy is never visible
func (u *LocalUploader) Upload(ctx context.Context, localPath, key string) error {
	dest := filepath.Join(u.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return apperrors.NewStorageError("failed to create destination directory", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer src.Close()

	tmp := dest + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to create %s", tmp), err)
	}

	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		os.Remove(tmp)
		return apperrors.NewStorageError("failed to copy artifact", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return apperrors.NewStorageError("failed to sync artifact", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.NewStorageError("failed to close artifact", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return apperrors.NewStorageError("failed to commit artifact copy", err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
