package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeConnectivity, "connection failed", cause)

	if appErr.Type != ErrorTypeConnectivity {
		t.Errorf("Expected type %v, got %v", ErrorTypeConnectivity, appErr.Type)
	}

	if appErr.Cause != cause {
		t.Errorf("Expected cause %v, got %v", cause, appErr.Cause)
	}

	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}

	expectedError := "connectivity: connection failed (caused by: underlying error)"
	if appErr.Error() != expectedError {
		t.Errorf("Expected error string %v, got %v", expectedError, appErr.Error())
	}

	if !errors.Is(appErr, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewExecutionError("dump failed", nil)
	appErr.WithContext("scope", "mydb").WithContext("exit_code", 2)

	if appErr.Context["scope"] != "mydb" {
		t.Errorf("Expected context scope=mydb, got %v", appErr.Context["scope"])
	}

	if appErr.Context["exit_code"] != 2 {
		t.Errorf("Expected context exit_code=2, got %v", appErr.Context["exit_code"])
	}
}

func TestTaxonomyConstructors(t *testing.T) {
	tests := []struct {
		name         string
		err          *AppError
		expectedType ErrorType
		fatal        bool
	}{
		{"connectivity", NewConnectivityError("unreachable", nil), ErrorTypeConnectivity, true},
		{"tool unavailable", NewToolUnavailableError("xtrabackup", nil), ErrorTypeToolUnavailable, true},
		{"empty artifact", NewEmptyArtifactError("/backups/x.sql.gz"), ErrorTypeEmptyArtifact, true},
		{"unknown type", NewUnknownBackupTypeError("/backups/x"), ErrorTypeUnknownBackupType, true},
		{"server not ready", NewServerNotReadyError(time.Minute, nil), ErrorTypeServerNotReady, true},
		{"missing stop timestamp", NewMissingStopTimestampError(), ErrorTypeMissingStopTimestamp, true},
		{"replication degraded", NewReplicationDegradedError(true, false), ErrorTypeReplicationDegraded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, tt.err.Type)
			}
			if IsFatal(tt.err) != tt.fatal {
				t.Errorf("Expected fatal=%v, got %v", tt.fatal, IsFatal(tt.err))
			}
		})
	}
}

func TestErrorClassifier_ClassifyMySQLError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		mysqlErr     *mysql.MySQLError
		expectedType ErrorType
		recoverable  bool
	}{
		{
			name:         "access denied",
			mysqlErr:     &mysql.MySQLError{Number: 1045, Message: "Access denied"},
			expectedType: ErrorTypeConnectivity,
			recoverable:  false,
		},
		{
			name:         "unknown database",
			mysqlErr:     &mysql.MySQLError{Number: 1049, Message: "Unknown database"},
			expectedType: ErrorTypeValidation,
			recoverable:  false,
		},
		{
			name:         "missing privilege",
			mysqlErr:     &mysql.MySQLError{Number: 1227, Message: "Access denied; you need the SUPER privilege"},
			expectedType: ErrorTypePermission,
			recoverable:  false,
		},
		{
			name:         "can't connect to server",
			mysqlErr:     &mysql.MySQLError{Number: 2003, Message: "Can't connect to MySQL server"},
			expectedType: ErrorTypeConnectivity,
			recoverable:  true,
		},
		{
			name:         "server has gone away",
			mysqlErr:     &mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"},
			expectedType: ErrorTypeConnectivity,
			recoverable:  true,
		},
		{
			name:         "other server error",
			mysqlErr:     &mysql.MySQLError{Number: 1064, Message: "syntax error"},
			expectedType: ErrorTypeExecution,
			recoverable:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.mysqlErr)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}

			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}

			if appErr.Context["mysql_error_code"] != tt.mysqlErr.Number {
				t.Errorf("Expected mysql_error_code=%v, got %v", tt.mysqlErr.Number, appErr.Context["mysql_error_code"])
			}
		})
	}
}

func TestErrorClassifier_ClassifySQLError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
		recoverable  bool
	}{
		{"no rows", sql.ErrNoRows, ErrorTypeValidation, false},
		{"connection done", sql.ErrConnDone, ErrorTypeConnectivity, true},
		{"invalid connection", mysql.ErrInvalidConn, ErrorTypeConnectivity, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}

			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
		})
	}
}

func TestErrorClassifier_ClassifyExecError(t *testing.T) {
	classifier := NewErrorClassifier()

	appErr := classifier.ClassifyError(&exec.Error{Name: "xtrabackup", Err: exec.ErrNotFound})
	if appErr.Type != ErrorTypeToolUnavailable {
		t.Errorf("Expected type %v, got %v", ErrorTypeToolUnavailable, appErr.Type)
	}
	if appErr.Context["tool"] != "xtrabackup" {
		t.Errorf("Expected tool context xtrabackup, got %v", appErr.Context["tool"])
	}
}

func TestErrorClassifier_ClassifyContextError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
		recoverable  bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrorTypeTimeout, true},
		{"context canceled", context.Canceled, ErrorTypeInterruption, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}

			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
		})
	}
}

func TestErrorClassifier_ClassifyFileSystemError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
	}{
		{
			name:         "file not found",
			err:          &os.PathError{Op: "open", Path: "/nonexistent", Err: syscall.ENOENT},
			expectedType: ErrorTypeValidation,
		},
		{
			name:         "permission denied",
			err:          &os.PathError{Op: "open", Path: "/restricted", Err: syscall.EACCES},
			expectedType: ErrorTypePermission,
		},
		{
			name:         "no space left",
			err:          &os.PathError{Op: "write", Path: "/full", Err: syscall.ENOSPC},
			expectedType: ErrorTypeStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}
		})
	}
}

func TestErrorClassifier_ClassifyNetworkError(t *testing.T) {
	classifier := NewErrorClassifier()

	appErr := classifier.ClassifyError(&mockNetError{timeout: true})

	if appErr.Type != ErrorTypeTimeout {
		t.Errorf("Expected type %v, got %v", ErrorTypeTimeout, appErr.Type)
	}

	if !appErr.IsRecoverable() {
		t.Error("Expected recoverable error for timeout")
	}
}

type mockNetError struct {
	timeout bool
}

func (e *mockNetError) Error() string   { return "mock network error" }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

func TestRetryHandler_Retry(t *testing.T) {
	config := RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
	}
	handler := NewRetryHandler(config)

	t.Run("success after retries", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return NewRecoverableError(ErrorTypeConnectivity, "temporary failure", nil)
			}
			return nil
		})

		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("non-recoverable error", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return NewConnectivityError("access denied", nil)
		})

		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
		if GetErrorType(err) != ErrorTypeConnectivity {
			t.Errorf("Expected connectivity error, got %v", err)
		}
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return NewRecoverableError(ErrorTypeConnectivity, "always fails", nil)
		})

		if err == nil {
			t.Error("Expected error, got nil")
		}
		if attempts != config.MaxAttempts {
			t.Errorf("Expected %d attempts, got %d", config.MaxAttempts, attempts)
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := handler.Retry(ctx, func() error {
			return NewRecoverableError(ErrorTypeConnectivity, "temporary failure", nil)
		})

		if GetErrorType(err) != ErrorTypeInterruption {
			t.Errorf("Expected interruption error, got %v", err)
		}
	})
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	})

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			if delay := handler.calculateDelay(tt.attempt); delay != tt.expected {
				t.Errorf("Attempt %d: expected delay %v, got %v", tt.attempt, tt.expected, delay)
			}
		})
	}
}

func TestGracefulShutdownHandler(t *testing.T) {
	handler := NewGracefulShutdownHandler()

	var order []int
	handler.RegisterShutdownFunc(func() error {
		order = append(order, 1)
		return nil
	})
	handler.RegisterShutdownFunc(func() error {
		order = append(order, 2)
		return errors.New("ignored")
	})

	handler.shutdown()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("Expected shutdown funcs in reverse order, got %v", order)
	}
}

func TestIsType(t *testing.T) {
	inner := NewServerNotReadyError(time.Second, nil)
	outer := WrapError(inner, "physical restore failed")

	if !IsType(outer, ErrorTypeServerNotReady) {
		t.Error("Expected wrapped error to carry server_not_ready")
	}
	if IsType(outer, ErrorTypeEmptyArtifact) {
		t.Error("Did not expect empty_artifact in chain")
	}
	if IsType(errors.New("plain"), ErrorTypeUnknown) {
		t.Error("Plain errors carry no AppError type")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "nothing") != nil {
		t.Error("Expected nil for nil error")
	}

	wrapped := WrapError(&mysql.MySQLError{Number: 2003, Message: "down"}, "probe failed")
	if GetErrorType(wrapped) != ErrorTypeConnectivity {
		t.Errorf("Expected connectivity, got %v", GetErrorType(wrapped))
	}
	if !IsRecoverableError(wrapped) {
		t.Error("Expected wrapped 2003 to stay recoverable")
	}
	if FormatUserError(wrapped) != "probe failed" {
		t.Errorf("Unexpected user message %q", FormatUserError(wrapped))
	}
	if FormatUserError(errors.New("plain")) != "plain" {
		t.Error("Plain errors are shown as is")
	}
}
