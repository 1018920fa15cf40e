package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"mysql-backup-coordinator/internal/replication"
)

// RenderReplicaStatus writes one replica status reading
func RenderReplicaStatus(out io.Writer, cs *ColorSystem, st *replication.ReplicaStatus, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(st)
	case "", "text", "table":
	default:
		return fmt.Errorf("unknown output format %q (text, json, yaml)", format)
	}

	if !st.Configured {
		fmt.Fprintln(out, cs.Sprint(ColorMuted, "Server is not configured as a replica"))
		return nil
	}

	lag := "unknown"
	if st.LagSeconds != nil {
		lag = strconv.FormatInt(*st.LagSeconds, 10) + "s"
	}

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"FIELD", "VALUE"})
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(false)
	tw.Append([]string{"source", fmt.Sprintf("%s@%s:%d", st.SourceUser, st.SourceHost, st.SourcePort)})
	tw.Append([]string{"io thread", cs.Sprint(threadColor(st.IORunning()), st.IOState)})
	tw.Append([]string{"sql thread", cs.Sprint(threadColor(st.SQLRunning()), st.SQLState)})
	tw.Append([]string{"lag", lag})
	tw.Append([]string{"auto position", strconv.FormatBool(st.AutoPosition)})
	if st.ExecutedGtidSet != "" {
		tw.Append([]string{"executed gtid set", st.ExecutedGtidSet})
	}
	if msg := st.LastError(); msg != "" {
		tw.Append([]string{"last error", cs.Sprint(ColorError, msg)})
	}
	tw.Render()
	return nil
}

func threadColor(running bool) Color {
	if running {
		return ColorSuccess
	}
	return ColorError
}
