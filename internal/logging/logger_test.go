package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose json",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLogger_UnknownFormat(t *testing.T) {
	if _, err := NewLogger(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"", LogLevelNormal, false},
		{"info", LogLevelNormal, false},
		{"QUIET", LogLevelQuiet, false},
		{"verbose", LogLevelVerbose, false},
		{"debug", LogLevelDebug, false},
		{"loud", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogFileRotationSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "coordinator.log")

	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("written twice")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written twice") {
		t.Errorf("log file missing entry: %s", data)
	}
	if !strings.Contains(buf.String(), "written twice") {
		t.Errorf("output missing entry: %s", buf.String())
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "json"})

	done := logger.LogOperationStart("backup", map[string]interface{}{"strategy": "logical"})
	done(errors.New("dump failed"))

	out := buf.String()
	if !strings.Contains(out, `"operation":"backup"`) {
		t.Errorf("expected operation field, got %s", out)
	}
	if !strings.Contains(out, `"error":"dump failed"`) {
		t.Errorf("expected error field, got %s", out)
	}
	if !strings.Contains(out, `"success":false`) {
		t.Errorf("expected success=false, got %s", out)
	}
}

func TestLogPhase(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	logger.LogPhase("s-1", "safety", "warning", time.Second, "safety backup failed")

	out := buf.String()
	if !strings.Contains(out, `"level":"warning"`) {
		t.Errorf("expected warning level, got %s", out)
	}
	if !strings.Contains(out, `"phase":"safety"`) {
		t.Errorf("expected phase field, got %s", out)
	}
}

func TestLogToolInvocation_RedactsPassword(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogToolInvocation("xtrabackup", []string{"--backup", "--password=hunter2"}, time.Second, errors.New("exit 1"))

	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("password leaked into log: %s", buf.String())
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := CreateContextWithRequestID(context.Background(), "req-42")
	if got := GetRequestIDFromContext(ctx); got != "req-42" {
		t.Errorf("GetRequestIDFromContext() = %q", got)
	}
	if got := GetRequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}
}

func TestSanitizeSQL(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		leak string
	}{
		{
			name: "create user",
			sql:  "CREATE USER IF NOT EXISTS 'repl'@'%' IDENTIFIED BY 's3cr3t'",
			leak: "s3cr3t",
		},
		{
			name: "change master",
			sql:  "CHANGE MASTER TO MASTER_HOST='db1', MASTER_PASSWORD='p@ss', MASTER_AUTO_POSITION=1",
			leak: "p@ss",
		},
		{
			name: "change replication source",
			sql:  "CHANGE REPLICATION SOURCE TO SOURCE_HOST='db1', SOURCE_PASSWORD = 'zz9'",
			leak: "zz9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeSQL(tt.sql)
			if strings.Contains(got, tt.leak) {
				t.Errorf("SanitizeSQL() leaked secret: %s", got)
			}
			if !strings.Contains(got, "'***'") {
				t.Errorf("SanitizeSQL() did not mask: %s", got)
			}
		})
	}

	long := strings.Repeat("x", 600)
	if got := SanitizeSQL(long); !strings.HasSuffix(got, "[truncated]") {
		t.Error("expected long SQL to be truncated")
	}
}

func TestSanitizeArgs(t *testing.T) {
	got := SanitizeArgs([]string{"--user=root", "--password=abc", "-pabc", "-P3306"})
	want := []string{"--user=root", "--password=***", "-p***", "-P3306"}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SanitizeArgs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
