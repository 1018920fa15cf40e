package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/errors"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyLogical, false},
		{"logical", StrategyLogical, false},
		{"Physical", StrategyPhysical, false},
		{" binlog ", StrategyBinlog, false},
		{"snapshot", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArtifactName(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name     string
		strategy Strategy
		scope    Scope
		kind     compression.Kind
		want     string
	}{
		{"logical all gzip", StrategyLogical, Scope{}, compression.KindGzip, "logical_all_20240102_020405.sql.gz"},
		{"physical xz", StrategyPhysical, Scope{}, compression.KindXz, "physical_all_20240102_020405.tar.xz"},
		{"binlog uncompressed", StrategyBinlog, Scope{}, compression.KindNone, "binlog_all_20240102_020405.tar"},
		{"scoped database", StrategyLogical, Scope{Database: "shop_eu"}, compression.KindZstd, "logical_shop-eu_20240102_020405.sql.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtifactName(tt.strategy, tt.scope, tt.kind, at))
		})
	}
}

func TestParseNameTimestamp(t *testing.T) {
	got, ok := ParseNameTimestamp("/backups/logical_shop_20240309_143000.sql.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC), got)

	_, ok = ParseNameTimestamp("logical_shop.sql.gz")
	assert.False(t, ok)
}

func TestBinlogSequence(t *testing.T) {
	tests := []struct {
		name string
		want int64
		ok   bool
	}{
		{"mysql-bin.000012", 12, true},
		{"binlog.1000000", 1000000, true},
		{"mysql-bin.index", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BinlogSequence(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	files := []BinlogFile{{Name: "b.000010", Sequence: 10}, {Name: "b.000002", Sequence: 2}, {Name: "b.000009", Sequence: 9}}
	SortBinlogFiles(files)
	assert.Equal(t, []string{"b.000002", "b.000009", "b.000010"}, []string{files[0].Name, files[1].Name, files[2].Name})
}

func TestStore_BeginCommitAbort(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)

	p, err := store.Begin(StrategyLogical, Scope{}, compression.KindNone, at)
	require.NoError(t, err)
	_, err = p.File.WriteString("DATABASE shop\n")
	require.NoError(t, err)
	assert.FileExists(t, p.Path())
	assert.NoFileExists(t, p.FinalPath())

	a := &Artifact{ID: "a1", Strategy: StrategyLogical, CreatedAt: at, Compression: compression.KindNone}
	require.NoError(t, p.Commit(a))
	assert.NoFileExists(t, p.Path())
	assert.FileExists(t, a.StoragePath)
	assert.FileExists(t, a.StoragePath+MetaSuffix)

	_, err = store.Begin(StrategyLogical, Scope{}, compression.KindNone, at)
	assert.ErrorIs(t, err, ErrArtifactExists, "an existing artifact must not be overwritten")

	p2, err := store.Begin(StrategyBinlog, Scope{}, compression.KindGzip, at)
	require.NoError(t, err)
	p2.Abort()
	assert.NoFileExists(t, p2.Path())

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)
}

func TestStore_CommitRemovesArtifactWithoutSidecar(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)

	p, err := store.Begin(StrategyLogical, Scope{}, compression.KindNone, at)
	require.NoError(t, err)
	_, err = p.File.WriteString("DATABASE shop\n")
	require.NoError(t, err)

	// a directory in the sidecar's place makes the final rename fail
	blocker := p.FinalPath() + MetaSuffix
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "keep"), 0o750))

	a := &Artifact{ID: "a1", Strategy: StrategyLogical, CreatedAt: at, Compression: compression.KindNone}
	err = p.Commit(a)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeStorage, errors.GetErrorType(err))
	assert.NoFileExists(t, p.FinalPath())
	assert.NoFileExists(t, p.Path())
	assert.Empty(t, a.StoragePath)

	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ListSkipsOrphanSidecars(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "logical_all_20240101_000000.sql"+MetaSuffix), []byte(`{"id":"x"}`), 0o640))

	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestVerifier(t *testing.T) {
	f := newFixture(t, nil)
	f.server.Insert("shop", "orders", "1")
	a, err := f.exec.Run(t.Context(), Request{Strategy: StrategyLogical})
	require.NoError(t, err)

	v := NewVerifier(compression.NewRegistry())

	t.Run("committed artifact passes", func(t *testing.T) {
		meta, err := v.VerifyCommitted(a.StoragePath)
		require.NoError(t, err)
		assert.Equal(t, a.ID, meta.ID)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		tampered := *a
		tampered.Checksum = "blake2b-256:00"
		require.NoError(t, writeMeta(&tampered))
		defer writeMeta(a)

		_, err := v.VerifyCommitted(a.StoragePath)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logical_all_20240101_000000.sql.gz")
		require.NoError(t, os.WriteFile(path, nil, 0o640))
		_, err := v.Verify(path, compression.KindGzip, false)
		assert.True(t, errors.IsType(err, errors.ErrorTypeEmptyArtifact))
	})

	t.Run("not a gzip stream", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logical_all_20240101_000000.sql.gz")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o640))
		_, err := v.Verify(path, compression.KindGzip, false)
		assert.Error(t, err)
	})
}
