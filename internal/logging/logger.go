package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// ParseLevel converts a configuration string into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", LogLevelNormal, "info":
		return LogLevelNormal, nil
	case LogLevelQuiet, "error":
		return LogLevelQuiet, nil
	case LogLevelVerbose:
		return LogLevelVerbose, nil
	case LogLevelDebug, "trace":
		return LogLevelDebug, nil
	default:
		return "", fmt.Errorf("unknown log level %q (quiet, normal, verbose, debug)", s)
	}
}

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
	closer io.Closer
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool

	// LogFile enables a rotating file sink next to Output.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type requestIDKey struct{}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	logger.SetOutput(output)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	l := &Logger{
		logger: logger,
		level:  config.Level,
	}

	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.LogFile, err)
		}
		file := &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    orDefault(config.MaxSizeMB, 100),
			MaxBackups: orDefault(config.MaxBackups, 5),
			MaxAge:     orDefault(config.MaxAgeDays, 30),
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(output, file))
		l.closer = file
	}

	return l, nil
}

// NewNopLogger returns a logger that discards everything. Used by tests and
// components constructed without a logger.
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Close releases the rotating file sink, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// WithContext returns a logger entry carrying the request ID stored in ctx
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if requestID := GetRequestIDFromContext(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogDatabaseConnection logs database connection attempts
func (l *Logger) LogDatabaseConnection(host string, port int, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"port":      port,
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Debug("Database connection established")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.WithFields(fields).Error("Database connection failed")
}

// LogSQLExecution logs SQL statement execution
func (l *Logger) LogSQLExecution(sql string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "sql_execution",
		"duration":  duration.String(),
		"sql":       SanitizeSQL(sql),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("SQL execution failed")
		return
	}
	l.logger.WithFields(fields).Debug("SQL executed")
}

// LogToolInvocation logs an external tool run with secrets redacted from its arguments
func (l *Logger) LogToolInvocation(tool string, args []string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "tool_invocation",
		"tool":      tool,
		"args":      strings.Join(SanitizeArgs(args), " "),
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("External tool failed")
		return
	}
	l.logger.WithFields(fields).Debug("External tool completed")
}

// LogArtifact logs a committed backup artifact
func (l *Logger) LogArtifact(strategy, path string, sizeBytes int64, duration time.Duration) {
	l.logger.WithFields(logrus.Fields{
		"operation":  "backup",
		"strategy":   strategy,
		"path":       path,
		"size_bytes": sizeBytes,
		"duration":   duration.String(),
	}).Info("Backup artifact committed")
}

// LogPhase logs the outcome of one restore phase
func (l *Logger) LogPhase(session, phase, status string, duration time.Duration, message string) {
	fields := logrus.Fields{
		"operation": "restore",
		"session":   session,
		"phase":     phase,
		"status":    status,
		"duration":  duration.String(),
	}
	if message != "" {
		fields["detail"] = message
	}

	entry := l.logger.WithFields(fields)
	switch status {
	case "failed":
		entry.Error("Restore phase failed")
	case "warning":
		entry.Warn("Restore phase completed with warnings")
	default:
		entry.Info("Restore phase completed")
	}
}

// LogReplicationStatus logs one convergence poll observation
func (l *Logger) LogReplicationStatus(status string, ioRunning, sqlRunning bool, lagSeconds *int64) {
	fields := logrus.Fields{
		"operation":   "replication",
		"status":      status,
		"io_running":  ioRunning,
		"sql_running": sqlRunning,
	}
	if lagSeconds != nil {
		fields["lag_seconds"] = *lagSeconds
	}
	l.logger.WithFields(fields).Debug("Replication status polled")
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return l.logger.IsLevelEnabled(toLogrusLevel(level))
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// CreateContextWithRequestID creates a context with a request ID for tracing
func CreateContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestIDFromContext extracts request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

var (
	sqlSecretPattern = regexp.MustCompile(`(?i)((?:IDENTIFIED\s+BY|MASTER_PASSWORD\s*=|SOURCE_PASSWORD\s*=|PASSWORD\s*=)\s*)('(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"|\S+)`)
	argSecretPattern = regexp.MustCompile(`^(--password=|-p)(.+)$`)
)

// SanitizeSQL masks credentials in SQL before it reaches a log line
func SanitizeSQL(sql string) string {
	sql = sqlSecretPattern.ReplaceAllString(sql, "${1}'***'")

	if len(sql) > 500 {
		return sql[:500] + "... [truncated]"
	}
	return sql
}

// SanitizeArgs masks password arguments of mysql client tools
func SanitizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = argSecretPattern.ReplaceAllString(a, "${1}***")
	}
	return out
}
