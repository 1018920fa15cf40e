package display

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"mysql-backup-coordinator/internal/report"
	"mysql-backup-coordinator/internal/restore"
)

// RenderSession writes a restore session as a phase table, JSON or YAML
func RenderSession(out io.Writer, cs *ColorSystem, s *restore.Session, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(s)
	case "", "text", "table":
	default:
		return fmt.Errorf("unknown output format %q (text, json, yaml)", format)
	}

	outcome := ColorSuccess
	if s.Outcome != report.OutcomeSucceeded {
		outcome = ColorError
	}
	fmt.Fprintf(out, "restore %s %s\n", s.ID, cs.Sprint(outcome, string(s.Outcome)))
	fmt.Fprintf(out, "artifact: %s\n", s.ArtifactPath)
	if s.Strategy != "" {
		fmt.Fprintf(out, "strategy: %s\n", s.Strategy)
	}
	if s.PreRestoreBackup != nil {
		fmt.Fprintf(out, "pre-restore backup: %s\n", s.PreRestoreBackup.StoragePath)
	}
	if s.RelocatedDatadir != "" {
		fmt.Fprintf(out, "previous datadir moved to: %s\n", s.RelocatedDatadir)
	}

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"PHASE", "STATUS", "DURATION", "MESSAGE"})
	tw.SetAutoWrapText(false)
	tw.SetBorder(false)
	for _, p := range s.Phases {
		tw.Append([]string{
			p.Name,
			cs.Sprint(phaseColor(p.Status), string(p.Status)),
			p.Duration.Round(time.Millisecond).String(),
			p.Message,
		})
	}
	tw.Render()
	return nil
}

func phaseColor(s restore.PhaseStatus) Color {
	switch s {
	case restore.PhaseOK:
		return ColorSuccess
	case restore.PhaseWarning:
		return ColorWarning
	case restore.PhaseFailed:
		return ColorError
	default:
		return ColorMuted
	}
}
