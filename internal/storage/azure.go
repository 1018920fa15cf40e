package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "mysql-backup-coordinator/internal/errors"
)

// AzureUploader uploads artifacts as block blobs
type AzureUploader struct {
	container azblob.ContainerURL
	name      string
}

// NewAzureUploader creates a shared-key pipeline for the configured account
func NewAzureUploader(cfg AzureConfig) (*AzureUploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, apperrors.NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureUploader{
		container: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.ContainerName),
		name:      cfg.ContainerName,
	}, nil
}

func (u *AzureUploader) Name() string { return "azure" }

func (u *AzureUploader) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer f.Close()

	blob := u.container.NewBlockBlobURL(key)
	_, err = azblob.UploadFileToBlockBlob(ctx, f, blob, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
	})
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to upload azure://%s/%s", u.name, key), err)
	}
	return nil
}
