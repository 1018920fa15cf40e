package cmd

import (
	"github.com/spf13/cobra"

	"mysql-backup-coordinator/internal/display"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded backup, restore, retention and replication runs",
	Long: `Print the run history kept in <backup root>/reports/history.jsonl, oldest
first. Every completed command appends one line with its outcome and the
path of its full report.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "show only the most recent runs (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer rt.close()

	entries, err := rt.reports.History()
	if err != nil {
		return err
	}
	if historyLimit > 0 && len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}
	return display.RenderHistory(rt.console.Out(), rt.console.Colors(), entries, rt.cfg.Format)
}
