// Package storage copies committed artifacts to an offsite location.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	apperrors "mysql-backup-coordinator/internal/errors"
)

// Uploader copies one local file to the offsite store under key
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
	Name() string
}

// NewUploader creates the uploader selected by cfg. It returns nil, nil
// when offsite uploads are disabled.
func NewUploader(ctx context.Context, cfg Config) (Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid storage configuration", err)
	}

	switch ProviderType(strings.ToLower(string(cfg.Provider))) {
	case ProviderNone:
		return nil, nil
	case ProviderLocal:
		return NewLocalUploader(cfg.Local)
	case ProviderS3:
		return NewS3Uploader(cfg.S3)
	case ProviderAzure:
		return NewAzureUploader(cfg.Azure)
	case ProviderGCS:
		return NewGCSUploader(ctx, cfg.GCS)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported storage provider %q (supported: %v)", cfg.Provider, SupportedProviders()), nil)
	}
}

// SupportedProviders returns the provider names NewUploader accepts
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderLocal, ProviderS3, ProviderAzure, ProviderGCS}
}

// ObjectKey joins the configured prefix and a file name into a slash key
func ObjectKey(prefix, name string) string {
	return strings.TrimPrefix(path.Join(prefix, name), "/")
}
