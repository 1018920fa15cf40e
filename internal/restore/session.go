package restore

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/report"
)

// PhaseStatus is the result of one restore phase
type PhaseStatus string

const (
	PhaseOK      PhaseStatus = "ok"
	PhaseWarning PhaseStatus = "warning"
	PhaseFailed  PhaseStatus = "failed"
	PhaseSkipped PhaseStatus = "skipped"
)

// Phase names in execution order
const (
	PhaseDetect   = "detect"
	PhaseValidate = "validate"
	PhaseSafety   = "safety"
	PhaseDispatch = "dispatch"
	PhaseVerify   = "verify"
)

var phaseOrder = []string{PhaseDetect, PhaseValidate, PhaseSafety, PhaseDispatch, PhaseVerify}

// PhaseResult records one phase of a session
type PhaseResult struct {
	Name     string        `json:"name"`
	Status   PhaseStatus   `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// Session is the state of one restore invocation. It is terminal once
// Outcome leaves pending.
type Session struct {
	ID               string           `json:"id"`
	ArtifactPath     string           `json:"artifact_path"`
	ArtifactSize     int64            `json:"artifact_size"`
	Strategy         backup.Strategy  `json:"strategy,omitempty"`
	TargetScope      backup.Scope     `json:"target_scope"`
	Force            bool             `json:"force"`
	PointInTime      time.Time        `json:"point_in_time,omitempty"`
	PreRestoreBackup *backup.Artifact `json:"pre_restore_backup,omitempty"`
	RelocatedDatadir string           `json:"relocated_datadir,omitempty"`
	AppliedLogs      []string         `json:"applied_logs,omitempty"`
	Outcome          report.Outcome   `json:"outcome"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	Phases           []PhaseResult    `json:"phases"`

	// selectDatabase loads into TargetScope as the default database. Set
	// only for dumps whose own scope is unknown.
	selectDatabase bool
}

func newSession(req Request) *Session {
	return &Session{
		ID:           uuid.New().String(),
		ArtifactPath: req.ArtifactPath,
		TargetScope:  req.Scope,
		Force:        req.Force,
		PointInTime:  req.PointInTime,
		Outcome:      report.OutcomePending,
		StartedAt:    time.Now(),
	}
}

// Phase returns the recorded result for name
func (s *Session) Phase(name string) (PhaseResult, bool) {
	for _, p := range s.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}

// skipRemaining records every phase after the failed one as skipped
func (s *Session) skipRemaining() {
	seen := make(map[string]bool, len(s.Phases))
	for _, p := range s.Phases {
		seen[p.Name] = true
	}
	for _, name := range phaseOrder {
		if !seen[name] {
			s.Phases = append(s.Phases, PhaseResult{Name: name, Status: PhaseSkipped, Started: time.Now()})
		}
	}
}

func (s *Session) toReport(rep *report.Report) {
	rep.Strategy = string(s.Strategy)
	rep.ArtifactPath = s.ArtifactPath
	rep.SizeBytes = s.ArtifactSize
	rep.SetField("session", s.ID)
	rep.SetField("scope", s.TargetScope.String())
	if s.Force {
		rep.SetField("force", "true")
	}
	if !s.PointInTime.IsZero() {
		rep.SetField("point_in_time", s.PointInTime.Format(time.RFC3339))
	}
	if s.PreRestoreBackup != nil {
		rep.SetField("pre_restore_backup", s.PreRestoreBackup.StoragePath)
	}
	if s.RelocatedDatadir != "" {
		rep.SetField("relocated_datadir", s.RelocatedDatadir)
	}
	if len(s.AppliedLogs) > 0 {
		rep.SetField("applied_logs", strings.Join(s.AppliedLogs, ","))
	}
	for _, p := range s.Phases {
		rep.AddPhase(report.Phase{
			Name:      p.Name,
			Status:    string(p.Status),
			StartedAt: p.Started,
			Duration:  p.Duration,
			Message:   p.Message,
		})
	}
}
