package cmd

import (
	"github.com/spf13/cobra"
)

var (
	sweepDryRun bool
	sweepDays   int
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Manage artifact retention",
}

var retentionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete artifacts older than the retention window",
	Long: `Delete every artifact in the backup root older than backup.retention_days,
together with its metadata and report sidecars. A retention of 0 disables
deletion.

Examples:
  # Show what would be deleted
  mysql-backup-coordinator retention sweep --dry-run

  # Keep 30 days regardless of the configured value
  mysql-backup-coordinator retention sweep --days 30`,
	Args: cobra.NoArgs,
	RunE: runRetentionSweep,
}

func init() {
	rootCmd.AddCommand(retentionCmd)
	retentionCmd.AddCommand(retentionSweepCmd)

	retentionSweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "list expired artifacts without deleting them")
	retentionSweepCmd.Flags().IntVar(&sweepDays, "days", 0, "retention window in days (default backup.retention_days)")
}

func runRetentionSweep(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer rt.close()

	days := rt.cfg.Backup.RetentionDays
	if cmd.Flags().Changed("days") {
		days = sweepDays
	}

	res, err := rt.sweep(cmd.Context(), days, sweepDryRun)
	if err != nil {
		rt.console.Error("Retention sweep failed: %v", err)
		return err
	}
	printSweep(rt, res)
	return nil
}
