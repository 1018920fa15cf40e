package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
	"mysql-backup-coordinator/internal/metrics"
	"mysql-backup-coordinator/internal/report"
)

// CounterFile records the outcome of the last sweep under the store root
const CounterFile = ".retention.json"

// RetentionPolicy bounds how long artifacts are kept. MaxAgeDays <= 0
// disables deletion.
type RetentionPolicy struct {
	MaxAgeDays int  `json:"max_age_days"`
	DryRun     bool `json:"dry_run"`
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Deleted    int      `json:"deleted"`
	Kept       int      `json:"kept"`
	Candidates []string `json:"candidates,omitempty"`
	DryRun     bool     `json:"dry_run"`
	Disabled   bool     `json:"disabled,omitempty"`
}

// RetentionCounter is the content of CounterFile
type RetentionCounter struct {
	LastSweepAt  time.Time `json:"last_sweep_at"`
	LastDeleted  int       `json:"last_deleted"`
	TotalDeleted int       `json:"total_deleted"`
}

// Sweeper deletes artifacts older than the retention window
type Sweeper struct {
	logger  *logging.Logger
	metrics *metrics.Collector
	reports *report.Writer
	now     func() time.Time
}

// NewSweeper creates a sweeper. Any argument may be nil.
func NewSweeper(logger *logging.Logger, m *metrics.Collector, reports *report.Writer) *Sweeper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Sweeper{logger: logger, metrics: m, reports: reports, now: time.Now}
}

var artifactPrefixes = []Strategy{StrategyLogical, StrategyPhysical, StrategyBinlog}

// isArtifactName reports whether name is a committed artifact payload, as
// opposed to a sidecar, an in-flight file or scratch data.
func isArtifactName(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, PartialSuffix) || strings.HasSuffix(name, MetaSuffix) {
		return false
	}
	for _, s := range report.SidecarSuffixes() {
		if strings.HasSuffix(name, s) {
			return false
		}
	}
	for _, p := range artifactPrefixes {
		if strings.HasPrefix(name, string(p)+"_") {
			return true
		}
	}
	return false
}

// createdAt resolves an artifact's creation time from its sidecar, then
// the timestamp in its name, then its modification time.
func createdAt(path string, info os.FileInfo) time.Time {
	if meta, err := ReadMeta(path); err == nil && !meta.CreatedAt.IsZero() {
		return meta.CreatedAt
	}
	if t, ok := ParseNameTimestamp(path); ok {
		return t
	}
	return info.ModTime()
}

// Sweep deletes every artifact in root older than policy.MaxAgeDays along
// with its metadata and report sidecars. Running it twice deletes nothing
// the second time.
func (s *Sweeper) Sweep(ctx context.Context, root string, policy RetentionPolicy) (*SweepResult, error) {
	result := &SweepResult{DryRun: policy.DryRun}
	if policy.MaxAgeDays <= 0 {
		result.Disabled = true
		s.logger.Debug("Retention disabled, nothing swept")
		return result, nil
	}

	rep := report.New(report.OperationSweep)
	rep.SetField("max_age_days", fmt.Sprintf("%d", policy.MaxAgeDays))

	err := s.sweep(ctx, root, policy, result)
	if err == nil && !policy.DryRun {
		err = s.updateCounter(root, result.Deleted)
		s.metrics.AddRetentionDeleted(result.Deleted)
	}

	rep.SetField("deleted", fmt.Sprintf("%d", result.Deleted))
	rep.SetField("kept", fmt.Sprintf("%d", result.Kept))
	rep.SetField("dry_run", fmt.Sprintf("%t", policy.DryRun))
	rep.Finish(err)
	if s.reports != nil && !policy.DryRun {
		if _, werr := s.reports.Write(rep); werr != nil {
			s.logger.Warnf("Failed to write retention report: %v", werr)
		}
	}

	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *Sweeper) sweep(ctx context.Context, root string, policy RetentionPolicy, result *SweepResult) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to read %s", root), err)
	}

	cutoff := s.now().Add(-time.Duration(policy.MaxAgeDays) * 24 * time.Hour)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return errors.NewAppError(errors.ErrorTypeInterruption, "retention sweep interrupted", err)
		}
		if e.IsDir() || !isArtifactName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(root, e.Name())
		if !createdAt(path, info).Before(cutoff) {
			result.Kept++
			continue
		}

		result.Candidates = append(result.Candidates, path)
		if policy.DryRun {
			continue
		}
		if err := removeArtifact(path); err != nil {
			return err
		}
		result.Deleted++
		s.logger.WithField("path", path).Info("Expired artifact deleted")
	}
	sort.Strings(result.Candidates)
	return nil
}

// removeArtifact deletes the payload first so a partially removed artifact
// is never listed as committed.
func removeArtifact(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewStorageError(fmt.Sprintf("failed to delete %s", path), err)
	}
	sidecars := append([]string{MetaSuffix}, report.SidecarSuffixes()...)
	for _, suffix := range sidecars {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return errors.NewStorageError(fmt.Sprintf("failed to delete %s%s", path, suffix), err)
		}
	}
	return nil
}

// ReadCounter returns the retention counter of root, zero if none exists
func ReadCounter(root string) (RetentionCounter, error) {
	var c RetentionCounter
	data, err := os.ReadFile(filepath.Join(root, CounterFile))
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, errors.NewStorageError("failed to read retention counter", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return RetentionCounter{}, errors.NewStorageError("retention counter is corrupt", err)
	}
	return c, nil
}

func (s *Sweeper) updateCounter(root string, deleted int) error {
	c, err := ReadCounter(root)
	if err != nil {
		s.logger.Warnf("Resetting retention counter: %v", err)
		c = RetentionCounter{}
	}
	c.LastSweepAt = s.now().UTC()
	c.LastDeleted = deleted
	c.TotalDeleted += deleted

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.NewStorageError("failed to encode retention counter", err)
	}
	tmp := filepath.Join(root, CounterFile+PartialSuffix)
	if err := os.WriteFile(tmp, append(data, '\n'), 0o640); err != nil {
		return errors.NewStorageError("failed to write retention counter", err)
	}
	if err := os.Rename(tmp, filepath.Join(root, CounterFile)); err != nil {
		return errors.NewStorageError("failed to write retention counter", err)
	}
	return nil
}
