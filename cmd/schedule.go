package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"mysql-backup-coordinator/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled backups and retention sweeps in the foreground",
	Long: `Run the backup and retention jobs on the cron specs in schedule.backup and
schedule.retention until SIGINT or SIGTERM. An empty spec disables its job.
A job still running at its next activation is skipped, and on shutdown the
command waits for a running job to finish.

Example configuration:
  schedule:
    backup: "0 2 * * *"
    retention: "30 3 * * *"`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
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

	s := scheduler.New(rt.logger)
	if spec := rt.cfg.Schedule.Backup; spec != "" {
		err := s.Add("backup", spec, func(ctx context.Context) error {
			defer rt.exportMetrics()
			_, err := exec.Run(ctx, req)
			return err
		})
		if err != nil {
			return err
		}
	}
	if spec := rt.cfg.Schedule.Retention; spec != "" {
		err := s.Add("retention", spec, func(ctx context.Context) error {
			defer rt.exportMetrics()
			_, err := rt.sweep(ctx, rt.cfg.Backup.RetentionDays, false)
			return err
		})
		if err != nil {
			return err
		}
	}

	rt.console.Info("Scheduler started, press Ctrl-C to stop")
	return s.Run(ctx)
}
