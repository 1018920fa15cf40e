package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderType names an offsite storage backend
type ProviderType string

const (
	ProviderNone  ProviderType = ""
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderAzure ProviderType = "azure"
	ProviderGCS   ProviderType = "gcs"
)

// Config selects and configures the offsite copy target. An empty Provider
// disables offsite uploads.
type Config struct {
	Provider ProviderType `mapstructure:"provider" yaml:"provider"`
	Prefix   string       `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Local    LocalConfig  `mapstructure:"local" yaml:"local,omitempty"`
	S3       S3Config     `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure    AzureConfig  `mapstructure:"azure" yaml:"azure,omitempty"`
	GCS      GCSConfig    `mapstructure:"gcs" yaml:"gcs,omitempty"`
}

// LocalConfig copies artifacts to another directory, typically a mount
type LocalConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path,omitempty"`
}

// S3Config for Amazon S3 and S3-compatible stores
type S3Config struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
	AccessKey      string `mapstructure:"access_key" yaml:"-"`
	SecretKey      string `mapstructure:"secret_key" yaml:"-"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name,omitempty"`
	AccountKey    string `mapstructure:"account_key" yaml:"-"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name,omitempty"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id,omitempty"`
}

// Enabled reports whether an offsite provider is configured
func (c Config) Enabled() bool {
	return c.Provider != ProviderNone
}

// Validate checks the section of the selected provider
func (c Config) Validate() error {
	switch ProviderType(strings.ToLower(string(c.Provider))) {
	case ProviderNone:
		return nil
	case ProviderLocal:
		return c.Local.Validate()
	case ProviderS3:
		return c.S3.Validate()
	case ProviderAzure:
		return c.Azure.Validate()
	case ProviderGCS:
		return c.GCS.Validate()
	default:
		return fmt.Errorf("unsupported storage provider %q (supported: %v)", c.Provider, SupportedProviders())
	}
}

// Validate validates local storage configuration
func (c LocalConfig) Validate() error {
	if c.BasePath == "" {
		return errors.New("local storage base_path is required")
	}
	return nil
}

// Validate validates S3 configuration
func (c S3Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("s3 bucket is required"))
	}
	if c.Region == "" {
		errs = append(errs, errors.New("s3 region is required"))
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		errs = append(errs, errors.New("s3 access_key and secret_key must be set together"))
	}
	return errors.Join(errs...)
}

// Validate validates Azure configuration
func (c AzureConfig) Validate() error {
	var errs []error
	if c.AccountName == "" {
		errs = append(errs, errors.New("azure account_name is required"))
	}
	if c.AccountKey == "" {
		errs = append(errs, errors.New("azure account_key is required"))
	}
	if c.ContainerName == "" {
		errs = append(errs, errors.New("azure container_name is required"))
	}
	return errors.Join(errs...)
}

// Validate validates GCS configuration
func (c GCSConfig) Validate() error {
	if c.Bucket == "" {
		return errors.New("gcs bucket is required")
	}
	return nil
}
