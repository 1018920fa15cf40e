package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Observations(t *testing.T) {
	c := NewCollector()

	c.ObserveBackup("logical", "succeeded", 3*time.Second, 2048)
	c.ObserveBackup("logical", "failed", time.Second, 0)
	c.ObserveRestore("physical", "succeeded")
	c.AddRetentionDeleted(3)
	c.AddRetentionDeleted(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.backupRuns.WithLabelValues("logical", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backupRuns.WithLabelValues("logical", "failed")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.artifactBytes.WithLabelValues("logical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.restoreRuns.WithLabelValues("physical", "succeeded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.retentionDeleted))
}

func TestCollector_Replication(t *testing.T) {
	c := NewCollector()

	lag := int64(12)
	c.SetReplication(true, false, &lag)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.replicationRun.WithLabelValues("io")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.replicationRun.WithLabelValues("sql")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.replicationLag))

	c.SetReplication(true, true, nil)
	assert.Equal(t, -1.0, testutil.ToFloat64(c.replicationLag))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector()
	c.ObserveRestore("logical", "failed")

	path := filepath.Join(t.TempDir(), "textfile", "mysql_backup.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mysql_backup_restore_runs_total{outcome="failed",strategy="logical"} 1`)

	assert.NoError(t, c.WriteTextfile(""))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveBackup("binlog", "succeeded", time.Second, 1)
	c.ObserveRestore("binlog", "failed")
	c.AddRetentionDeleted(1)
	c.SetReplication(false, false, nil)
	assert.NoError(t, c.WriteTextfile("/nonexistent/x.prom"))
	assert.Nil(t, c.Registry())
}
