package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// ProbeResult describes a successful connectivity probe
type ProbeResult struct {
	Address string        `json:"address"`
	Version string        `json:"version"`
	Latency time.Duration `json:"latency"`
}

// Service opens and checks MySQL connections
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
	open              func(dsn string) (*sql.DB, error)
}

func openMySQL(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}

// NewService creates a new database service with default settings
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
		open:              openMySQL,
	}
}

// NewServiceWithOptions creates a new database service with custom retry behaviour
func NewServiceWithOptions(logger *logging.Logger, timeout time.Duration, retry errors.RetryConfig) *Service {
	s := NewService(logger)
	s.connectionTimeout = timeout
	s.retryHandler = errors.NewRetryHandler(retry)
	return s
}

// Connect establishes a connection to the MySQL server with retry logic
func (s *Service) Connect(ctx context.Context, config ConnectionConfig) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid connection configuration", err)
	}

	startTime := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var openErr error
		db, openErr = s.open(config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := s.Ping(ctx, db); pingErr != nil {
			db.Close()
			return pingErr
		}
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Port, err == nil, time.Since(startTime), err)

	if err != nil {
		return nil, asConnectivity(err, config)
	}
	return db, nil
}

// Ping verifies that the database connection is working
func (s *Service) Ping(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewValidationError("database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}
	return nil
}

// Version retrieves the MySQL server version
func (s *Service) Version(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewValidationError("database connection is nil", nil)
	}

	const query = "SELECT VERSION()"
	var version string
	startTime := time.Now()
	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(startTime), err)
	if err != nil {
		return "", errors.WrapError(err, "failed to get server version")
	}
	return version, nil
}

// Probe connects to the target, reads its version and closes the connection.
// Any failure is reported as a ConnectivityError; no other operation should
// proceed against a target that fails its probe.
func (s *Service) Probe(ctx context.Context, config ConnectionConfig) (*ProbeResult, error) {
	startTime := time.Now()

	db, err := s.Connect(ctx, config)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	version, err := s.Version(ctx, db)
	if err != nil {
		return nil, asConnectivity(err, config)
	}

	return &ProbeResult{
		Address: config.Address(),
		Version: version,
		Latency: time.Since(startTime),
	}, nil
}

// SchemaExists reports whether a database with the given name exists
func (s *Service) SchemaExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	const query = "SELECT COUNT(*) FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?"
	var count int
	startTime := time.Now()
	err := db.QueryRowContext(ctx, query, name).Scan(&count)
	s.logger.LogSQLExecution(query, time.Since(startTime), err)
	if err != nil {
		return false, errors.WrapError(err, fmt.Sprintf("failed to look up schema %s", name))
	}
	return count > 0, nil
}

// TableCount returns the number of tables in the named database
func (s *Service) TableCount(ctx context.Context, db *sql.DB, name string) (int, error) {
	const query = "SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = ?"
	var count int
	startTime := time.Now()
	err := db.QueryRowContext(ctx, query, name).Scan(&count)
	s.logger.LogSQLExecution(query, time.Since(startTime), err)
	if err != nil {
		return 0, errors.WrapError(err, fmt.Sprintf("failed to count tables of %s", name))
	}
	return count, nil
}

// DropSchema drops the named database if it exists
func (s *Service) DropSchema(ctx context.Context, db *sql.DB, name string) error {
	if name == "" {
		return errors.NewValidationError("schema name is required", nil)
	}
	return s.Exec(ctx, db, "DROP DATABASE IF EXISTS "+QuoteIdentifier(name))
}

// CreateSchema creates the named database if it does not exist
func (s *Service) CreateSchema(ctx context.Context, db *sql.DB, name string) error {
	if name == "" {
		return errors.NewValidationError("schema name is required", nil)
	}
	return s.Exec(ctx, db, "CREATE DATABASE IF NOT EXISTS "+QuoteIdentifier(name))
}

// Exec runs a single statement with logging
func (s *Service) Exec(ctx context.Context, db *sql.DB, query string, args ...interface{}) error {
	startTime := time.Now()
	_, err := db.ExecContext(ctx, query, args...)
	s.logger.LogSQLExecution(query, time.Since(startTime), err)
	if err != nil {
		return errors.WrapError(err, "statement failed")
	}
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// asConnectivity reports connection failures as ConnectivityError unless the
// caller interrupted the attempt.
func asConnectivity(err error, config ConnectionConfig) error {
	switch errors.GetErrorType(err) {
	case errors.ErrorTypeConnectivity, errors.ErrorTypeInterruption, errors.ErrorTypeValidation:
		return err
	}
	return errors.NewConnectivityError(
		fmt.Sprintf("cannot reach MySQL at %s", config.Address()), err)
}

// QuoteIdentifier quotes a schema or table name with backticks
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteString quotes a string literal for statements that do not accept
// placeholders, such as CREATE USER and CHANGE MASTER TO.
func QuoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\x00", `\0`, "\n", `\n`, "\r", `\r`, "\x1a", `\Z`)
	return "'" + r.Replace(s) + "'"
}
