package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
	"mysql-backup-coordinator/internal/storage"
)

func loadFrom(t *testing.T, yamlText string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlText), 0o600))

	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Database.Timeout)
	assert.Equal(t, "logical", cfg.Backup.Strategy)
	assert.Equal(t, "gzip", cfg.Backup.Compression)
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
	assert.Equal(t, 5*time.Minute, cfg.Restore.ReadyTimeout)
	assert.Equal(t, 2*time.Second, cfg.Replication.PollInterval)
	assert.Equal(t, "mysqlbinlog", cfg.Tools.Mysqlbinlog)
	assert.False(t, cfg.Storage.Enabled())
	assert.NoError(t, cfg.Validate())
	assert.NoError(t, cfg.ValidateDatabase())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	t.Setenv("MYSQL_BACKUP_DATABASE_PASSWORD", "from-env")
	t.Setenv("MYSQL_BACKUP_BACKUP_PARALLELISM", "8")
	t.Setenv("MYSQL_BACKUP_REPLICATION_PASSWORD", "repl-env")

	cfg := loadFrom(t, `
database:
  host: db1.internal
  port: 3307
  username: backup
backup:
  root: /srv/backups
  strategy: physical
  compression: zstd
  parallelism: 2
restore:
  ready_timeout: 90s
storage:
  provider: local
  local:
    base_path: /mnt/offsite
schedule:
  backup: "*/15 * * * *"
`)

	assert.Equal(t, "db1.internal", cfg.Database.Host)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, 8, cfg.Backup.Parallelism, "environment wins over the file")
	assert.Equal(t, "physical", cfg.Backup.Strategy)
	assert.Equal(t, 90*time.Second, cfg.Restore.ReadyTimeout)
	assert.Equal(t, "repl-env", cfg.Replication.Password)
	assert.Equal(t, storage.ProviderLocal, cfg.Storage.Provider)
	assert.Equal(t, "/mnt/offsite", cfg.Storage.Local.BasePath)
	assert.Equal(t, "*/15 * * * *", cfg.Schedule.Backup)
	assert.NoError(t, cfg.Validate())
}

func TestReadFile(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		err := ReadFile(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("missing default file", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())
		assert.NoError(t, ReadFile(NewViper(), ""))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty root", func(c *Config) { c.Backup.Root = " " }},
		{"unknown strategy", func(c *Config) { c.Backup.Strategy = "snapshot" }},
		{"unknown compression", func(c *Config) { c.Backup.Compression = "bzip2" }},
		{"negative retention", func(c *Config) { c.Backup.RetentionDays = -1 }},
		{"bad cron spec", func(c *Config) { c.Schedule.Retention = "every day" }},
		{"incomplete storage", func(c *Config) { c.Storage.Provider = storage.ProviderS3 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad output format", func(c *Config) { c.Format = "csv" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(NewViper())
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "got %v", err)
		})
	}
}

func TestValidateDatabase(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)
	cfg.Database.Username = ""
	assert.True(t, errors.IsType(cfg.ValidateDatabase(), errors.ErrorTypeValidation))
}

func TestLoggerConfig(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)
	cfg.Logging.Level = "debug"
	cfg.Logging.File = "/var/log/mysql-backup.log"

	lc, err := cfg.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LogLevelDebug, lc.Level)
	assert.Equal(t, "/var/log/mysql-backup.log", lc.LogFile)
	assert.Equal(t, 100, lc.MaxSizeMB)
}

func TestSampleYAML(t *testing.T) {
	data, err := SampleYAML()
	require.NoError(t, err)

	body := string(data)
	assert.NotContains(t, body, "password:")
	assert.NotContains(t, body, "secret_key")
	assert.NotContains(t, body, "account_key")
	assert.Contains(t, body, "retention_days: 7")
	assert.Contains(t, body, "MYSQL_BACKUP_DATABASE_PASSWORD")

	// the sample loads back into a valid configuration
	cfg := loadFrom(t, body)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "repl_monitor", cfg.Replication.MonitorUser)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "backup.retention_days")
	assert.IsIncreasing(t, keys)
}
