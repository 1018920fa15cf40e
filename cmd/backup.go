package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/config"
	"mysql-backup-coordinator/internal/display"
	"mysql-backup-coordinator/internal/report"
)

var backupRetentionDays int

// backupCmd takes one backup
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a logical, physical or binlog backup",
	Long: `Take one backup into the backup root.

The artifact is written to a .partial file, verified, checksummed and only
then renamed into place with a .meta.json sidecar. A physical request falls
back to a logical dump when no hot-copy tool is installed. After a successful
backup, artifacts older than backup.retention_days (default 7) are deleted;
--retention-days overrides it and 0 turns the sweep off.

Examples:
  # Logical backup of every database
  mysql-backup-coordinator backup

  # Physical backup with 8 copy threads
  mysql-backup-coordinator backup --strategy physical --parallelism 8

  # Archive the binary logs, then drop artifacts older than 14 days
  mysql-backup-coordinator backup --strategy binlog --retention-days 14`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List committed artifacts",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <artifact>",
	Short: "Re-check an artifact's size, readability and checksum",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupVerify,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupVerifyCmd)

	f := backupCmd.Flags()
	f.String("strategy", "", "backup strategy (logical, physical, binlog)")
	f.String("scope", "", "database to back up (default all databases)")
	f.String("compression", "", fmt.Sprintf("compression %v", compression.NewRegistry().Supported()))
	f.Int("parallelism", 0, "copy threads for physical and binlog backups")
	f.String("output", "", "backup root directory")
	f.IntVar(&backupRetentionDays, "retention-days", 0, "after a successful backup, delete artifacts older than this many days (default backup.retention_days, 0 disables)")

	bindFlags(f, map[string]string{
		"backup.strategy":    "strategy",
		"backup.scope":       "scope",
		"backup.compression": "compression",
		"backup.parallelism": "parallelism",
		"backup.root":        "output",
	})
}

// backupRequest converts the backup section into an executor request
func backupRequest(cfg *config.Config) (backup.Request, error) {
	strategy, err := backup.ParseStrategy(cfg.Backup.Strategy)
	if err != nil {
		return backup.Request{}, err
	}
	kind, err := compression.ParseKind(cfg.Backup.Compression)
	if err != nil {
		return backup.Request{}, err
	}
	return backup.Request{
		Strategy:    strategy,
		Scope:       backup.Scope{Database: cfg.Backup.Scope},
		Compression: kind,
		Parallelism: cfg.Backup.Parallelism,
	}, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	req, err := backupRequest(rt.cfg)
	if err != nil {
		return err
	}
	exec, err := rt.executor(ctx)
	if err != nil {
		return err
	}

	artifact, err := exec.Run(ctx, req)
	if err != nil {
		rt.console.Error("Backup failed: %v", err)
		return err
	}

	if artifact.Downgraded {
		rt.console.Warn("No hot-copy tool found, took a %s backup instead of %s", artifact.Strategy, artifact.RequestedStrategy)
	}
	rt.console.Success("Backup written to %s (%s)", artifact.StoragePath, report.HumanBytes(artifact.SizeBytes))

	if days := retentionDays(cmd.Flags(), rt.cfg.Backup); days > 0 {
		res, err := rt.sweep(ctx, days, false)
		if err != nil {
			return err
		}
		printSweep(rt, res)
	}
	return nil
}

// retentionDays is the age limit for the post-backup sweep: the flag when
// given, otherwise backup.retention_days. Zero disables the sweep.
func retentionDays(flags *pflag.FlagSet, cfg config.BackupConfig) int {
	if flags.Changed("retention-days") {
		return backupRetentionDays
	}
	return cfg.RetentionDays
}

func runBackupList(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer rt.close()

	store, err := backup.NewStore(rt.cfg.Backup.Root)
	if err != nil {
		return err
	}
	artifacts, err := store.List()
	if err != nil {
		return err
	}
	return display.RenderArtifacts(rt.console.Out(), rt.console.Colors(), artifacts, rt.cfg.Format)
}

func runBackupVerify(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer rt.close()

	meta, err := backup.NewVerifier(rt.codecs).VerifyCommitted(args[0])
	if err != nil {
		rt.console.Error("%s failed verification: %v", args[0], err)
		return err
	}
	if meta == nil {
		rt.console.Warn("%s is readable but has no metadata sidecar", args[0])
		return nil
	}
	rt.console.Success("%s verified (%s, %s)", args[0], report.HumanBytes(meta.SizeBytes), meta.Checksum)
	return nil
}

func printSweep(rt *runtime, res *backup.SweepResult) {
	switch {
	case res.Disabled:
		rt.console.Info("Retention is disabled")
	case res.DryRun:
		rt.console.Info("Would delete %d artifacts, keeping %d", len(res.Candidates), res.Kept)
		for _, c := range res.Candidates {
			fmt.Fprintln(rt.console.Out(), "  "+c)
		}
	default:
		rt.console.Success("Retention deleted %d artifacts, kept %d", res.Deleted, res.Kept)
	}
}
