package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-coordinator/internal/metrics"
	"mysql-backup-coordinator/internal/report"
)

var sweepNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o640))
}

func writeTestMeta(t *testing.T, path string, created time.Time) {
	t.Helper()
	data, err := json.Marshal(Artifact{ID: filepath.Base(path), CreatedAt: created})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+MetaSuffix, data, 0o640))
}

// seedStore lays out a store with a mix of expired, fresh and in-flight files
func seedStore(t *testing.T) (root string, expired, kept []string) {
	t.Helper()
	root = t.TempDir()

	// sidecar says old even though the name says recent
	withMeta := filepath.Join(root, "logical_shop_20240319_000000.sql.gz")
	touch(t, withMeta)
	writeTestMeta(t, withMeta, sweepNow.AddDate(0, 0, -30))
	touch(t, withMeta+".report.txt")
	touch(t, withMeta+".report.json")

	nameOnly := filepath.Join(root, "physical_all_20240101_000000.tar.zst")
	touch(t, nameOnly)

	mtimeOnly := filepath.Join(root, "binlog_all.tar")
	touch(t, mtimeOnly)
	old := sweepNow.AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(mtimeOnly, old, old))

	fresh := filepath.Join(root, "logical_all_20240319_000000.sql.gz")
	touch(t, fresh)
	writeTestMeta(t, fresh, sweepNow.AddDate(0, 0, -1))

	partial := filepath.Join(root, "logical_all_20200101_000000.sql.gz"+PartialSuffix)
	touch(t, partial)
	unrelated := filepath.Join(root, "notes.txt")
	touch(t, unrelated)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "reports"), 0o750))

	return root, []string{withMeta, nameOnly, mtimeOnly}, []string{fresh, partial, unrelated}
}

func newTestSweeper(m *metrics.Collector, w *report.Writer) *Sweeper {
	s := NewSweeper(nil, m, w)
	s.now = func() time.Time { return sweepNow }
	return s
}

func TestSweeper_Sweep(t *testing.T) {
	root, expired, kept := seedStore(t)
	m := metrics.NewCollector()
	s := newTestSweeper(m, report.NewWriter(root))

	res, err := s.Sweep(context.Background(), root, RetentionPolicy{MaxAgeDays: 7})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 1, res.Kept)

	for _, p := range expired {
		assert.NoFileExists(t, p)
		assert.NoFileExists(t, p+MetaSuffix)
		assert.NoFileExists(t, p+".report.txt")
		assert.NoFileExists(t, p+".report.json")
	}
	for _, p := range kept {
		assert.FileExists(t, p)
	}
	assert.Equal(t, 3.0, gatheredValue(t, m, "mysql_backup_retention_deleted_total"))

	counter, err := ReadCounter(root)
	require.NoError(t, err)
	assert.Equal(t, 3, counter.LastDeleted)
	assert.Equal(t, 3, counter.TotalDeleted)
	assert.True(t, counter.LastSweepAt.Equal(sweepNow))

	history, err := report.NewWriter(root).History()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, report.OperationSweep, history[0].Operation)

	t.Run("second sweep is a no-op", func(t *testing.T) {
		res, err := s.Sweep(context.Background(), root, RetentionPolicy{MaxAgeDays: 7})
		require.NoError(t, err)
		assert.Zero(t, res.Deleted)

		counter, err := ReadCounter(root)
		require.NoError(t, err)
		assert.Equal(t, 0, counter.LastDeleted)
		assert.Equal(t, 3, counter.TotalDeleted)
		for _, p := range kept {
			assert.FileExists(t, p)
		}
	})
}

func TestSweeper_DryRun(t *testing.T) {
	root, expired, _ := seedStore(t)
	s := newTestSweeper(nil, nil)

	res, err := s.Sweep(context.Background(), root, RetentionPolicy{MaxAgeDays: 7, DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Zero(t, res.Deleted)
	assert.Len(t, res.Candidates, len(expired))
	for _, p := range expired {
		assert.FileExists(t, p)
	}
	assert.NoFileExists(t, filepath.Join(root, CounterFile))
}

func TestSweeper_Disabled(t *testing.T) {
	for _, days := range []int{0, -3} {
		root, expired, _ := seedStore(t)
		res, err := newTestSweeper(nil, nil).Sweep(context.Background(), root, RetentionPolicy{MaxAgeDays: days})
		require.NoError(t, err)
		assert.True(t, res.Disabled)
		for _, p := range expired {
			assert.FileExists(t, p)
		}
	}
}

func TestSweeper_CanceledContext(t *testing.T) {
	root, _, _ := seedStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSweeper(nil, nil).Sweep(ctx, root, RetentionPolicy{MaxAgeDays: 7})
	assert.Error(t, err)
}

func TestReadCounter_Missing(t *testing.T) {
	c, err := ReadCounter(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, c.TotalDeleted)
}

func gatheredValue(t *testing.T, m *metrics.Collector, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}
