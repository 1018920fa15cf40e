// Package metrics exposes backup, restore, retention and replication
// counters in Prometheus form, optionally exported to a node-exporter
// textfile.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mysql_backup"

// Collector holds the coordinator's metrics in its own registry. A nil
// Collector discards every observation.
type Collector struct {
	registry *prometheus.Registry

	backupRuns       *prometheus.CounterVec
	backupDuration   *prometheus.HistogramVec
	artifactBytes    *prometheus.GaugeVec
	restoreRuns      *prometheus.CounterVec
	retentionDeleted prometheus.Counter
	replicationLag   prometheus.Gauge
	replicationRun   *prometheus.GaugeVec
}

// NewCollector registers every metric on a fresh registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		backupRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backup_runs_total",
				Help:      "Backup runs by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		backupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backup_duration_seconds",
				Help:      "Wall time of backup runs",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"strategy"},
		),
		artifactBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backup_artifact_bytes",
				Help:      "Size of the most recent committed artifact",
			},
			[]string{"strategy"},
		),
		restoreRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restore_runs_total",
				Help:      "Restore runs by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		retentionDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Artifacts removed by retention sweeps",
			},
		),
		replicationLag: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "replication_lag_seconds",
				Help:      "Seconds the replica is behind its source, -1 when unknown",
			},
		),
		replicationRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "replication_threads_running",
				Help:      "1 when the replication thread is running",
			},
			[]string{"thread"},
		),
	}
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveBackup records one backup run. size is ignored for failed runs.
func (c *Collector) ObserveBackup(strategy, outcome string, d time.Duration, size int64) {
	if c == nil {
		return
	}
	c.backupRuns.WithLabelValues(strategy, outcome).Inc()
	c.backupDuration.WithLabelValues(strategy).Observe(d.Seconds())
	if outcome == "succeeded" {
		c.artifactBytes.WithLabelValues(strategy).Set(float64(size))
	}
}

// ObserveRestore records one restore run
func (c *Collector) ObserveRestore(strategy, outcome string) {
	if c == nil {
		return
	}
	c.restoreRuns.WithLabelValues(strategy, outcome).Inc()
}

// AddRetentionDeleted adds n deleted artifacts
func (c *Collector) AddRetentionDeleted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.retentionDeleted.Add(float64(n))
}

// SetReplication records the latest replica thread state and lag
func (c *Collector) SetReplication(ioRunning, sqlRunning bool, lagSeconds *int64) {
	if c == nil {
		return
	}
	c.replicationRun.WithLabelValues("io").Set(boolToFloat(ioRunning))
	c.replicationRun.WithLabelValues("sql").Set(boolToFloat(sqlRunning))
	if lagSeconds != nil {
		c.replicationLag.Set(float64(*lagSeconds))
	} else {
		c.replicationLag.Set(-1)
	}
}

// WriteTextfile writes the registry to path in the text exposition format.
// An empty path is a no-op.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, c.registry)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
