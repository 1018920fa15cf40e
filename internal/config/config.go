// Package config resolves the coordinator's configuration from a YAML file,
// MYSQL_BACKUP_* environment variables and command line flags.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
	"mysql-backup-coordinator/internal/scheduler"
	"mysql-backup-coordinator/internal/storage"
	"mysql-backup-coordinator/internal/toolchain"
)

const (
	// EnvPrefix prefixes every environment override, e.g. MYSQL_BACKUP_DATABASE_PASSWORD
	EnvPrefix = "MYSQL_BACKUP"
	// DefaultFileName is looked up in $HOME and the working directory
	DefaultFileName = ".mysql-backup-coordinator"
)

// Config is the fully resolved configuration of one invocation
type Config struct {
	Database    database.ConnectionConfig `mapstructure:"database" yaml:"database"`
	Backup      BackupConfig              `mapstructure:"backup" yaml:"backup"`
	Restore     RestoreConfig             `mapstructure:"restore" yaml:"restore"`
	Replication ReplicationConfig         `mapstructure:"replication" yaml:"replication"`
	Tools       toolchain.Paths           `mapstructure:"tools" yaml:"tools"`
	Storage     storage.Config            `mapstructure:"storage" yaml:"storage"`
	Metrics     MetricsConfig             `mapstructure:"metrics" yaml:"metrics"`
	Schedule    ScheduleConfig            `mapstructure:"schedule" yaml:"schedule"`
	Logging     LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Format      string                    `mapstructure:"format" yaml:"format"`
}

// BackupConfig controls where and how artifacts are produced
type BackupConfig struct {
	Root          string `mapstructure:"root" yaml:"root"`
	Strategy      string `mapstructure:"strategy" yaml:"strategy"`
	Scope         string `mapstructure:"scope" yaml:"scope"`
	Compression   string `mapstructure:"compression" yaml:"compression"`
	Parallelism   int    `mapstructure:"parallelism" yaml:"parallelism"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	BinlogDir     string `mapstructure:"binlog_dir" yaml:"binlog_dir"`
}

// RestoreConfig controls the physical restore path
type RestoreConfig struct {
	Datadir      string        `mapstructure:"datadir" yaml:"datadir"`
	Owner        string        `mapstructure:"owner" yaml:"owner"`
	StopCommand  string        `mapstructure:"stop_command" yaml:"stop_command"`
	StartCommand string        `mapstructure:"start_command" yaml:"start_command"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ReplicationConfig holds the accounts and convergence bounds for replicate.
// Passwords are accepted from flags or the environment only.
type ReplicationConfig struct {
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"-"`
	MonitorUser     string        `mapstructure:"monitor_user" yaml:"monitor_user"`
	MonitorPassword string        `mapstructure:"monitor_password" yaml:"-"`
	AccountHost     string        `mapstructure:"account_host" yaml:"account_host"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MetricsConfig points at a node-exporter textfile collector file
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path"`
}

// ScheduleConfig holds standard five-field cron specs. Empty disables a job.
type ScheduleConfig struct {
	Backup    string `mapstructure:"backup" yaml:"backup"`
	Retention string `mapstructure:"retention" yaml:"retention"`
}

// LoggingConfig mirrors logging.Config in file form
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

var defaults = map[string]interface{}{
	"database.host":     "localhost",
	"database.port":     3306,
	"database.username": "root",
	"database.password": "",
	"database.socket":   "",
	"database.timeout":  "30s",

	"backup.root":           "/var/backups/mysql",
	"backup.strategy":       string(backup.StrategyLogical),
	"backup.scope":          "",
	"backup.compression":    string(compression.KindGzip),
	"backup.parallelism":    4,
	"backup.retention_days": 7,
	"backup.binlog_dir":     "/var/lib/mysql",

	"restore.datadir":       "/var/lib/mysql",
	"restore.owner":         "mysql:mysql",
	"restore.stop_command":  "systemctl stop mysql",
	"restore.start_command": "systemctl start mysql",
	"restore.ready_timeout": "5m",
	"restore.poll_interval": "2s",

	"replication.user":             "repl",
	"replication.password":         "",
	"replication.monitor_user":     "repl_monitor",
	"replication.monitor_password": "",
	"replication.account_host":     "%",
	"replication.poll_interval":    "2s",
	"replication.timeout":          "2m",

	"tools.mysqldump":   "mysqldump",
	"tools.mysql":       "mysql",
	"tools.xtrabackup":  "xtrabackup",
	"tools.mariabackup": "mariabackup",
	"tools.mysqlbinlog": "mysqlbinlog",
	"tools.chown":       "chown",

	"storage.provider":             "",
	"storage.prefix":               "",
	"storage.local.base_path":      "",
	"storage.s3.bucket":            "",
	"storage.s3.region":            "",
	"storage.s3.endpoint":          "",
	"storage.s3.force_path_style":  false,
	"storage.s3.access_key":        "",
	"storage.s3.secret_key":        "",
	"storage.azure.account_name":   "",
	"storage.azure.account_key":    "",
	"storage.azure.container_name": "",
	"storage.gcs.bucket":           "",
	"storage.gcs.credentials_path": "",
	"storage.gcs.project_id":       "",
	"metrics.textfile_path":        "",
	"schedule.backup":              "0 2 * * *",
	"schedule.retention":           "30 3 * * *",
	"logging.level":                string(logging.LogLevelNormal),
	"logging.format":               "text",
	"logging.file":                 "",
	"logging.max_size_mb":          100,
	"logging.max_backups":          5,
	"logging.max_age_days":         30,
	"format":                       "text",
}

// secretKeys never appear in generated sample files
var secretKeys = map[string]bool{
	"password":         true,
	"monitor_password": true,
	"access_key":       true,
	"secret_key":       true,
	"account_key":      true,
}

// RegisterDefaults sets every known key so environment overrides resolve
// during Unmarshal.
func RegisterDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// NewViper returns a viper instance with defaults and environment binding
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	RegisterDefaults(v)
	return v
}

// ReadFile reads path into v. With an empty path the default file is looked
// up in $HOME and the working directory, and its absence is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(DefaultFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && stderrors.As(err, &notFound) {
			return nil
		}
		return errors.NewValidationError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	return nil
}

// Load unmarshals v into a Config and fills in remaining defaults
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewValidationError("failed to decode configuration", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills zero values that the file or flags may have cleared
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Tools.SetDefaults()
	if c.Backup.Strategy == "" {
		c.Backup.Strategy = string(backup.StrategyLogical)
	}
	if c.Backup.Compression == "" {
		c.Backup.Compression = string(compression.KindGzip)
	}
	if c.Backup.Parallelism <= 0 {
		c.Backup.Parallelism = 1
	}
	if c.Restore.ReadyTimeout == 0 {
		c.Restore.ReadyTimeout = 5 * time.Minute
	}
	if c.Restore.PollInterval == 0 {
		c.Restore.PollInterval = 2 * time.Second
	}
	if c.Replication.PollInterval == 0 {
		c.Replication.PollInterval = 2 * time.Second
	}
	if c.Replication.Timeout == 0 {
		c.Replication.Timeout = 2 * time.Minute
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate checks everything except the database connection, which only
// commands that talk to a server require (see ValidateDatabase).
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Backup.Root) == "" {
		errs = append(errs, stderrors.New("backup.root is required"))
	}
	if _, err := backup.ParseStrategy(c.Backup.Strategy); err != nil {
		errs = append(errs, err)
	}
	if _, err := compression.ParseKind(c.Backup.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Backup.RetentionDays < 0 {
		errs = append(errs, stderrors.New("backup.retention_days must not be negative"))
	}
	if c.Restore.ReadyTimeout < 0 || c.Restore.PollInterval < 0 {
		errs = append(errs, stderrors.New("restore timeouts must not be negative"))
	}
	if c.Replication.PollInterval < 0 || c.Replication.Timeout < 0 {
		errs = append(errs, stderrors.New("replication timeouts must not be negative"))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}
	for name, spec := range map[string]string{"schedule.backup": c.Schedule.Backup, "schedule.retention": c.Schedule.Retention} {
		if spec == "" {
			continue
		}
		if err := scheduler.ValidateSpec(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	switch c.Format {
	case "text", "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("format must be text, json or yaml, got %q", c.Format))
	}

	if len(errs) > 0 {
		return errors.NewValidationError("invalid configuration", stderrors.Join(errs...))
	}
	return nil
}

// ValidateDatabase checks the connection section
func (c *Config) ValidateDatabase() error {
	if err := c.Database.Validate(); err != nil {
		return errors.NewValidationError("invalid database configuration", err)
	}
	return nil
}

// LoggerConfig converts the logging section for logging.NewLogger
func (c *Config) LoggerConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, errors.NewValidationError("invalid logging.level", err)
	}
	return logging.Config{
		Level:      level,
		Format:     c.Logging.Format,
		LogFile:    c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}, nil
}

// SampleYAML renders the defaults as YAML with every secret removed
func SampleYAML() ([]byte, error) {
	v := viper.New()
	RegisterDefaults(v)
	settings := v.AllSettings()
	stripSecrets(settings)

	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, errors.NewValidationError("failed to render sample configuration", err)
	}
	header := "# " + DefaultFileName + ".yaml\n" +
		"# Passwords and keys are read from " + EnvPrefix + "_* variables or flags only,\n" +
		"# e.g. " + EnvPrefix + "_DATABASE_PASSWORD, " + EnvPrefix + "_REPLICATION_PASSWORD.\n"
	return append([]byte(header), data...), nil
}

func stripSecrets(m map[string]interface{}) {
	for k, val := range m {
		if secretKeys[k] {
			delete(m, k)
			continue
		}
		if sub, ok := val.(map[string]interface{}); ok {
			stripSecrets(sub)
		}
	}
}

// Keys lists every configuration key in sorted order
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultPath returns the file ReadFile looks for when no path is given
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName + ".yaml"
	}
	return filepath.Join(home, DefaultFileName+".yaml")
}
