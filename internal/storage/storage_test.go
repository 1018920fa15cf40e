package storage

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "disabled", config: Config{}},
		{name: "local", config: Config{Provider: ProviderLocal, Local: LocalConfig{BasePath: "/mnt/offsite"}}},
		{name: "local without path", config: Config{Provider: ProviderLocal}, wantErr: true},
		{name: "s3", config: Config{Provider: ProviderS3, S3: S3Config{Bucket: "b", Region: "eu-west-1"}}},
		{name: "s3 half credentials", config: Config{Provider: ProviderS3, S3: S3Config{Bucket: "b", Region: "r", AccessKey: "AK"}}, wantErr: true},
		{name: "azure missing key", config: Config{Provider: ProviderAzure, Azure: AzureConfig{AccountName: "a", ContainerName: "c"}}, wantErr: true},
		{name: "gcs", config: Config{Provider: ProviderGCS, GCS: GCSConfig{Bucket: "b"}}},
		{name: "unknown", config: Config{Provider: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewUploader(t *testing.T) {
	ctx := context.Background()

	u, err := NewUploader(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = NewUploader(ctx, Config{Provider: ProviderS3, S3: S3Config{Bucket: "b", Region: "us-east-1", Endpoint: "http://127.0.0.1:9000", ForcePathStyle: true}})
	require.NoError(t, err)
	assert.Equal(t, "s3", u.Name())

	key := base64.StdEncoding.EncodeToString([]byte("not-a-real-key"))
	u, err = NewUploader(ctx, Config{Provider: ProviderAzure, Azure: AzureConfig{AccountName: "acct", AccountKey: key, ContainerName: "backups"}})
	require.NoError(t, err)
	assert.Equal(t, "azure", u.Name())

	_, err = NewUploader(ctx, Config{Provider: ProviderLocal})
	assert.Error(t, err)
}

func TestLocalUploader_Upload(t *testing.T) {
	src := filepath.Join(t.TempDir(), "logical_all_20240101_120000.sql.gz")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o640))

	base := filepath.Join(t.TempDir(), "offsite")
	u, err := NewLocalUploader(LocalConfig{BasePath: base})
	require.NoError(t, err)

	key := ObjectKey("prod/db1", filepath.Base(src))
	require.NoError(t, u.Upload(context.Background(), src, key))

	got, err := os.ReadFile(filepath.Join(base, "prod", "db1", filepath.Base(src)))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	matches, _ := filepath.Glob(filepath.Join(base, "prod", "db1", "*.partial"))
	assert.Empty(t, matches)
}

func TestLocalUploader_Canceled(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.sql")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o640))
	u, err := NewLocalUploader(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, u.Upload(ctx, src, "a.sql"))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "a.sql", ObjectKey("", "a.sql"))
	assert.Equal(t, "backups/a.sql", ObjectKey("/backups/", "a.sql"))
}
