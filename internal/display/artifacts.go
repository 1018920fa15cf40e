package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/report"
)

// RenderArtifacts writes the artifact list as a table, JSON or YAML
func RenderArtifacts(out io.Writer, cs *ColorSystem, artifacts []*backup.Artifact, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if artifacts == nil {
			artifacts = []*backup.Artifact{}
		}
		return enc.Encode(artifacts)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(artifacts)
	case "", "text", "table":
	default:
		return fmt.Errorf("unknown output format %q (text, json, yaml)", format)
	}

	if len(artifacts) == 0 {
		fmt.Fprintln(out, cs.Sprint(ColorMuted, "No artifacts found"))
		return nil
	}

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"CREATED", "STRATEGY", "SCOPE", "COMPRESSION", "SIZE", "CHECKSUM", "PATH"})
	tw.SetAutoWrapText(false)
	tw.SetBorder(false)

	var total int64
	for _, a := range artifacts {
		strategy := string(a.Strategy)
		if a.Downgraded {
			strategy = cs.Sprint(ColorWarning, strategy+" (from "+string(a.RequestedStrategy)+")")
		}
		tw.Append([]string{
			a.CreatedAt.Local().Format(time.DateTime),
			strategy,
			a.Scope.String(),
			string(a.Compression),
			report.HumanBytes(a.SizeBytes),
			shortChecksum(a.Checksum),
			a.StoragePath,
		})
		total += a.SizeBytes
	}
	tw.SetFooter([]string{"", "", "", fmt.Sprintf("%d artifacts", len(artifacts)), report.HumanBytes(total), "", ""})
	tw.Render()
	return nil
}

func shortChecksum(sum string) string {
	_, hex, ok := strings.Cut(sum, ":")
	if !ok {
		hex = sum
	}
	if len(hex) > 12 {
		return hex[:12]
	}
	return hex
}
