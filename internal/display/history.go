package display

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"mysql-backup-coordinator/internal/report"
)

// RenderHistory writes run history entries, newest last
func RenderHistory(out io.Writer, cs *ColorSystem, entries []report.HistoryEntry, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []report.HistoryEntry{}
		}
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(entries)
	case "", "text", "table":
	default:
		return fmt.Errorf("unknown output format %q (text, json, yaml)", format)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, cs.Sprint(ColorMuted, "No runs recorded"))
		return nil
	}

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"FINISHED", "OPERATION", "OUTCOME", "STRATEGY", "SIZE", "ERROR", "ARTIFACT"})
	tw.SetAutoWrapText(false)
	tw.SetBorder(false)
	for _, e := range entries {
		tw.Append([]string{
			e.FinishedAt.Local().Format(time.DateTime),
			string(e.Operation),
			cs.Sprint(outcomeColor(e.Outcome), string(e.Outcome)),
			e.Strategy,
			report.HumanBytes(e.SizeBytes),
			e.ErrorType,
			e.ArtifactPath,
		})
	}
	tw.Render()
	return nil
}

func outcomeColor(o report.Outcome) Color {
	switch o {
	case report.OutcomeSucceeded:
		return ColorSuccess
	case report.OutcomeDegraded:
		return ColorWarning
	case report.OutcomeFailed:
		return ColorError
	default:
		return ColorMuted
	}
}
