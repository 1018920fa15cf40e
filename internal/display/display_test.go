package display

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/errors"
)

func TestColorSystem_PlainForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	cs := NewColorSystem(&buf, DarkTheme(), false)

	assert.False(t, cs.Enabled())
	assert.Equal(t, "done", cs.Sprint(ColorSuccess, "done"))
	assert.False(t, SupportsColor(&buf))
}

func TestThemeByName(t *testing.T) {
	assert.Equal(t, LightTheme(), ThemeByName("light"))
	assert.Equal(t, DarkTheme(), ThemeByName("dark"))
	assert.Equal(t, DarkTheme(), ThemeByName("unknown"))
}

func TestConsole_Lines(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, strings.NewReader(""), DarkTheme(), true)

	c.Success("backup %s", "done")
	c.Warn("downgraded")
	c.Error("failed")
	c.Info("note")

	assert.Equal(t, "✓ backup done\n! downgraded\n✗ failed\n• note\n", buf.String())
	assert.Equal(t, defaultWidth, c.Width())
	assert.False(t, c.Interactive())
}

func TestConsole_Confirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"full yes", "YES\n", true},
		{"no", "n\n", false},
		{"empty answer defaults to no", "\n", false},
		{"end of input", "", false},
		{"anything else", "sure\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := NewConsole(&out, strings.NewReader(tt.input), DarkTheme(), true)
			c.SetInteractive(true)

			ok, err := c.Confirm(context.Background(), "Drop database mydb?", []string{"Artifact: x.sql.gz"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Contains(t, out.String(), "Drop database mydb?")
			assert.Contains(t, out.String(), "Artifact: x.sql.gz")
			assert.Contains(t, out.String(), "[y/N]")
		})
	}
}

func TestConsole_ConfirmNonInteractive(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, strings.NewReader(""), DarkTheme(), true)

	ok, err := c.Confirm(context.Background(), "Drop?", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, out.String())
}

func TestConsole_ConfirmCanceled(t *testing.T) {
	r, w := io.Pipe()
	t.Cleanup(func() { w.Close() })

	var out bytes.Buffer
	c := NewConsole(&out, r, DarkTheme(), true)
	c.SetInteractive(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := c.Confirm(ctx, "Drop?", nil)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInterruption))
}

func sampleArtifacts() []*backup.Artifact {
	created := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	return []*backup.Artifact{
		{
			ID:          "a1",
			Strategy:    backup.StrategyLogical,
			CreatedAt:   created,
			Scope:       backup.Scope{Database: "mydb"},
			Compression: compression.KindGzip,
			SizeBytes:   2048,
			StoragePath: "/var/backups/mysql/logical_mydb_20240301_020000.sql.gz",
			Checksum:    "sha256:0123456789abcdef0123",
		},
		{
			ID:                "a2",
			Strategy:          backup.StrategyLogical,
			RequestedStrategy: backup.StrategyPhysical,
			Downgraded:        true,
			CreatedAt:         created.Add(time.Hour),
			Compression:       compression.KindZstd,
			SizeBytes:         512,
			StoragePath:       "/var/backups/mysql/logical_all_20240301_030000.sql.zst",
			Checksum:          "sha256:fedcba",
		},
	}
}

func TestRenderArtifacts_Table(t *testing.T) {
	var buf bytes.Buffer
	cs := NewColorSystem(&buf, DarkTheme(), true)

	require.NoError(t, RenderArtifacts(&buf, cs, sampleArtifacts(), "table"))

	out := buf.String()
	assert.Contains(t, out, "CREATED")
	assert.Contains(t, out, "CHECKSUM")
	assert.Contains(t, out, "mydb")
	assert.Contains(t, out, "all databases")
	assert.Contains(t, out, "logical (from physical)")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "2.5 KIB")
}

func TestRenderArtifacts_Empty(t *testing.T) {
	var buf bytes.Buffer
	cs := NewColorSystem(&buf, DarkTheme(), true)

	require.NoError(t, RenderArtifacts(&buf, cs, nil, "text"))
	assert.Equal(t, "No artifacts found\n", buf.String())

	buf.Reset()
	require.NoError(t, RenderArtifacts(&buf, cs, nil, "json"))
	assert.JSONEq(t, "[]", buf.String())
}

func TestRenderArtifacts_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderArtifacts(&buf, NewColorSystem(&buf, DarkTheme(), true), sampleArtifacts(), "json"))

	var got []backup.Artifact
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "mydb", got[0].Scope.Database)
	assert.True(t, got[1].Downgraded)
}

func TestRenderArtifacts_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := RenderArtifacts(&buf, NewColorSystem(&buf, DarkTheme(), true), nil, "xml")
	assert.Error(t, err)
}

func TestShortChecksum(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortChecksum("sha256:0123456789abcdef"))
	assert.Equal(t, "abc", shortChecksum("abc"))
	assert.Equal(t, "", shortChecksum(""))
}
