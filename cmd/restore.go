package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/display"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/restore"
)

// restore flag variables
var (
	restoreScope       string
	restoreType        string
	restoreForce       bool
	restoreYes         bool
	restorePointInTime string
)

var restoreCmd = &cobra.Command{
	Use:   "restore <artifact>",
	Short: "Restore an artifact onto the configured server",
	Long: `Restore a logical, physical or binlog artifact.

The artifact type is detected from its metadata sidecar or file name. The
server, the required tools and the artifact checksum are validated before
anything changes, and a logical backup of the current state is taken first.

Without --force a logical restore never drops existing databases and a
physical restore moves the current datadir aside instead of deleting it.
With --force on a terminal the command asks for confirmation unless --yes
is given.

Examples:
  # Restore one database from a logical dump
  mysql-backup-coordinator restore logical_mydb_20240301_020000.sql.gz --scope mydb

  # Replace the datadir from a physical backup
  mysql-backup-coordinator restore physical_all_20240301_020000.tar.zst --force --yes

  # Replay binary logs up to and including 10:15:00 local time
  mysql-backup-coordinator restore binlog_all_20240301_110000.tar.gz --point-in-time "2024-03-01 10:15:00"`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	f := restoreCmd.Flags()
	f.StringVar(&restoreScope, "scope", "", "database to restore into (default all databases)")
	f.StringVar(&restoreType, "type", "", "override the detected type (logical, physical, binlog)")
	f.BoolVar(&restoreForce, "force", false, "drop the target database or datadir instead of preserving it")
	f.BoolVarP(&restoreYes, "yes", "y", false, "do not ask for confirmation with --force")
	f.StringVar(&restorePointInTime, "point-in-time", "", `replay binlogs up to this second, inclusive (RFC3339 or "2006-01-02 15:04:05" local time, whole seconds)`)
}

// pointInTimeLayouts are tried in order; the second is read as local time
var pointInTimeLayouts = []string{time.RFC3339, time.DateTime}

// parsePointInTime parses a --point-in-time value. Empty yields the zero time.
// Binlog event times have one-second resolution, so fractional seconds are
// rejected.
func parsePointInTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range pointInTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			if t.Nanosecond() != 0 {
				return time.Time{}, errors.NewValidationError(
					fmt.Sprintf("invalid --point-in-time %q, use whole seconds", s), nil)
			}
			return t, nil
		}
	}
	return time.Time{}, errors.NewValidationError(
		fmt.Sprintf("invalid --point-in-time %q, expected RFC3339 or \"2006-01-02 15:04:05\"", s), nil)
}

func runRestore(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	pit, err := parsePointInTime(restorePointInTime)
	if err != nil {
		return err
	}
	req := restore.Request{
		ArtifactPath: args[0],
		Scope:        backup.Scope{Database: restoreScope},
		TypeOverride: restoreType,
		Force:        restoreForce,
		PointInTime:  pit,
	}

	if req.Force && !restoreYes {
		ok, err := rt.console.Confirm(ctx, "Forced restore replaces existing data", []string{
			"Artifact: " + req.ArtifactPath,
			"Target:   " + rt.cfg.Database.Address() + " (" + req.Scope.String() + ")",
			"A pre-restore backup is taken first, but nothing is rolled back automatically.",
		})
		if err != nil {
			return err
		}
		if !ok {
			rt.console.Info("Restore cancelled")
			return errors.NewAppError(errors.ErrorTypeInterruption, "restore declined at confirmation", nil)
		}
	}

	orch, err := rt.orchestrator(ctx)
	if err != nil {
		return err
	}

	session, err := orch.Restore(ctx, req)
	if rerr := display.RenderSession(rt.console.Out(), rt.console.Colors(), session, rt.cfg.Format); rerr != nil {
		return rerr
	}
	if err != nil {
		rt.console.Error("Restore failed: %v", err)
		return err
	}
	rt.console.Success("Restore of %s completed", req.ArtifactPath)
	return nil
}
