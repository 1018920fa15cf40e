// Package report produces the summary emitted for every backup, restore,
// retention sweep and replication run: a human readable text sidecar, a
// machine readable JSON sidecar and one line in the run history.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mysql-backup-coordinator/internal/errors"
)

// Operation names the kind of run a report describes
type Operation string

const (
	OperationBackup    Operation = "backup"
	OperationRestore   Operation = "restore"
	OperationSweep     Operation = "sweep"
	OperationReplicate Operation = "replicate"
)

// Outcome is the terminal state of a run
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeDegraded  Outcome = "degraded"
)

// Phase is one step of a multi-phase run
type Phase struct {
	Name      string        `json:"name" yaml:"name"`
	Status    string        `json:"status" yaml:"status"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration"`
	Message   string        `json:"message,omitempty" yaml:"message,omitempty"`
}

// Report summarizes one run
type Report struct {
	ID              string            `json:"id" yaml:"id"`
	Operation       Operation         `json:"operation" yaml:"operation"`
	Outcome         Outcome           `json:"outcome" yaml:"outcome"`
	Strategy        string            `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	ArtifactPath    string            `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	SizeBytes       int64             `json:"size_bytes" yaml:"size_bytes"`
	StartedAt       time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time         `json:"finished_at" yaml:"finished_at"`
	DurationSeconds float64           `json:"duration_seconds" yaml:"duration_seconds"`
	ErrorType       string            `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	Error           string            `json:"error,omitempty" yaml:"error,omitempty"`
	Phases          []Phase           `json:"phases,omitempty" yaml:"phases,omitempty"`
	Fields          map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// New starts a pending report
func New(op Operation) *Report {
	return &Report{
		ID:        uuid.New().String(),
		Operation: op,
		Outcome:   OutcomePending,
		StartedAt: time.Now(),
	}
}

// SetField records a free-form key/value
func (r *Report) SetField(key, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[key] = value
}

// AddPhase appends a phase result
func (r *Report) AddPhase(p Phase) {
	r.Phases = append(r.Phases, p)
}

// Duration returns the wall time of the run
func (r *Report) Duration() time.Duration {
	return time.Duration(r.DurationSeconds * float64(time.Second))
}

// Finish stamps the finish time and derives the outcome from err. A
// degraded replication error yields OutcomeDegraded rather than failed.
func (r *Report) Finish(err error) {
	r.FinishedAt = time.Now()
	r.DurationSeconds = r.FinishedAt.Sub(r.StartedAt).Seconds()

	switch {
	case err == nil:
		r.Outcome = OutcomeSucceeded
	case !errors.IsFatal(err):
		r.Outcome = OutcomeDegraded
		r.ErrorType = string(errors.GetErrorType(err))
		r.Error = err.Error()
	default:
		r.Outcome = OutcomeFailed
		r.ErrorType = string(errors.GetErrorType(err))
		r.Error = err.Error()
	}
}

// HistoryEntry is one line of reports/history.jsonl
type HistoryEntry struct {
	ID           string    `json:"id" yaml:"id"`
	Operation    Operation `json:"operation" yaml:"operation"`
	Outcome      Outcome   `json:"outcome" yaml:"outcome"`
	Strategy     string    `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	ArtifactPath string    `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	SizeBytes    int64     `json:"size_bytes" yaml:"size_bytes"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finished_at"`
	ErrorType    string    `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	ReportPath   string    `json:"report_path" yaml:"report_path"`
}

const (
	reportsDir  = "reports"
	historyFile = "history.jsonl"
	textSuffix  = ".report.txt"
	jsonSuffix  = ".report.json"
)

// SidecarSuffixes lists the suffixes Write appends to an artifact path
func SidecarSuffixes() []string {
	return []string{textSuffix, jsonSuffix}
}

// Writer persists reports under a backup root
type Writer struct {
	root string
}

// NewWriter creates a writer rooted at the backup store root
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Dir returns the directory holding standalone reports and the history
func (w *Writer) Dir() string {
	return filepath.Join(w.root, reportsDir)
}

// base picks the sidecar prefix. Backup reports sit next to their artifact;
// every other report gets its own name under reports/ so restoring an
// artifact never overwrites the report of the backup that produced it.
func (w *Writer) base(r *Report) string {
	if r.Operation == OperationBackup && r.ArtifactPath != "" {
		return r.ArtifactPath
	}
	ts := r.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	short := r.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(w.Dir(), fmt.Sprintf("%s_%s_%s", r.Operation, ts.Format("20060102_150405"), short))
}

// Write stores the text and JSON sidecars and appends a history entry. It
// returns the path of the JSON sidecar.
func (w *Writer) Write(r *Report) (string, error) {
	base := w.base(r)
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return "", errors.NewStorageError("failed to create report directory", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.NewStorageError("failed to encode report", err)
	}
	jsonPath := base + jsonSuffix
	if err := os.WriteFile(jsonPath, append(data, '\n'), 0o644); err != nil {
		return "", errors.NewStorageError("failed to write report", err)
	}
	if err := os.WriteFile(base+textSuffix, []byte(FormatText(r)), 0o644); err != nil {
		return "", errors.NewStorageError("failed to write report", err)
	}

	entry := HistoryEntry{
		ID:           r.ID,
		Operation:    r.Operation,
		Outcome:      r.Outcome,
		Strategy:     r.Strategy,
		ArtifactPath: r.ArtifactPath,
		SizeBytes:    r.SizeBytes,
		FinishedAt:   r.FinishedAt,
		ErrorType:    r.ErrorType,
		ReportPath:   jsonPath,
	}
	if err := w.Append(entry); err != nil {
		return jsonPath, err
	}
	return jsonPath, nil
}

// Append adds one JSON line to the run history
func (w *Writer) Append(entry HistoryEntry) error {
	if err := os.MkdirAll(w.Dir(), 0o755); err != nil {
		return errors.NewStorageError("failed to create report directory", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return errors.NewStorageError("failed to encode history entry", err)
	}

	f, err := os.OpenFile(filepath.Join(w.Dir(), historyFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.NewStorageError("failed to open history", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.NewStorageError("failed to append history", err)
	}
	return nil
}

// History reads every entry from the run history, oldest first
func (w *Writer) History() ([]HistoryEntry, error) {
	data, err := os.ReadFile(filepath.Join(w.Dir(), historyFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to read history", err)
	}

	var entries []HistoryEntry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return entries, errors.NewStorageError("corrupt history line", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FormatText renders the report as plain text for the .report.txt sidecar
func FormatText(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s report %s\n", strings.ToUpper(string(r.Operation)), r.ID)
	fmt.Fprintf(&b, "Outcome:    %s\n", r.Outcome)
	if r.Strategy != "" {
		fmt.Fprintf(&b, "Strategy:   %s\n", r.Strategy)
	}
	if r.ArtifactPath != "" {
		fmt.Fprintf(&b, "Artifact:   %s\n", r.ArtifactPath)
	}
	fmt.Fprintf(&b, "Size:       %s (%d bytes)\n", HumanBytes(r.SizeBytes), r.SizeBytes)
	fmt.Fprintf(&b, "Started:    %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished:   %s\n", r.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:   %s\n", r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:      [%s] %s\n", r.ErrorType, r.Error)
	}

	if len(r.Phases) > 0 {
		b.WriteString("\nPhases:\n")
		for _, p := range r.Phases {
			fmt.Fprintf(&b, "  %-10s %-8s %10s", p.Name, p.Status, p.Duration.Round(time.Millisecond))
			if p.Message != "" {
				fmt.Fprintf(&b, "  %s", p.Message)
			}
			b.WriteString("\n")
		}
	}

	if len(r.Fields) > 0 {
		b.WriteString("\nDetails:\n")
		for _, k := range sortedKeys(r.Fields) {
			fmt.Fprintf(&b, "  %s: %s\n", k, r.Fields[k])
		}
	}
	return b.String()
}

// HumanBytes formats a byte count with a binary unit
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
