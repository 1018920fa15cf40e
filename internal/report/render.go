package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Render writes the report to out as "text", "json" or "yaml"
func Render(out io.Writer, r *Report, format string) error {
	switch format {
	case "", "text", "table":
		return renderTable(out, r)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(r)
	default:
		return fmt.Errorf("unknown output format %q (text, json, yaml)", format)
	}
}

func renderTable(out io.Writer, r *Report) error {
	fmt.Fprintf(out, "%s %s\n", color.New(color.Bold).Sprintf("%s", r.Operation), OutcomeColor(r.Outcome).Sprint(r.Outcome))

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"FIELD", "VALUE"})
	tw.SetAutoWrapText(false)
	tw.Append([]string{"id", r.ID})
	if r.Strategy != "" {
		tw.Append([]string{"strategy", r.Strategy})
	}
	if r.ArtifactPath != "" {
		tw.Append([]string{"artifact", r.ArtifactPath})
	}
	tw.Append([]string{"size", HumanBytes(r.SizeBytes)})
	tw.Append([]string{"duration", r.Duration().Round(time.Millisecond).String()})
	if r.Error != "" {
		tw.Append([]string{"error", fmt.Sprintf("[%s] %s", r.ErrorType, r.Error)})
	}
	for _, k := range sortedKeys(r.Fields) {
		tw.Append([]string{k, r.Fields[k]})
	}
	tw.Render()

	if len(r.Phases) == 0 {
		return nil
	}

	pt := tablewriter.NewWriter(out)
	pt.SetHeader([]string{"PHASE", "STATUS", "DURATION", "MESSAGE"})
	pt.SetAutoWrapText(false)
	for _, p := range r.Phases {
		pt.Append([]string{p.Name, StatusColor(p.Status).Sprint(p.Status), p.Duration.Round(time.Millisecond).String(), p.Message})
	}
	pt.Render()
	return nil
}

// OutcomeColor picks the terminal color for an outcome
func OutcomeColor(o Outcome) *color.Color {
	switch o {
	case OutcomeSucceeded:
		return color.New(color.FgGreen, color.Bold)
	case OutcomeFailed:
		return color.New(color.FgRed, color.Bold)
	case OutcomeDegraded:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgCyan)
	}
}

// StatusColor picks the terminal color for a phase status
func StatusColor(status string) *color.Color {
	switch status {
	case "ok":
		return color.New(color.FgGreen)
	case "warning":
		return color.New(color.FgYellow)
	case "failed":
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}
