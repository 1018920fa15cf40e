// Package restore drives a restore through detection, validation, a
// safety backup, the strategy specific dispatch and verification.
package restore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"mysql-backup-coordinator/internal/archive"
	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
	"mysql-backup-coordinator/internal/metrics"
	"mysql-backup-coordinator/internal/pitr"
	"mysql-backup-coordinator/internal/poll"
	"mysql-backup-coordinator/internal/report"
	"mysql-backup-coordinator/internal/toolchain"
)

// Request describes one restore
type Request struct {
	ArtifactPath string
	Scope        backup.Scope
	TypeOverride string
	Force        bool
	PointInTime  time.Time
}

// Target is the server being restored. database.Service implements it.
type Target interface {
	Probe(ctx context.Context, cfg database.ConnectionConfig) (*database.ProbeResult, error)
	Connect(ctx context.Context, cfg database.ConnectionConfig) (*sql.DB, error)
	SchemaExists(ctx context.Context, db *sql.DB, name string) (bool, error)
	DropSchema(ctx context.Context, db *sql.DB, name string) error
	CreateSchema(ctx context.Context, db *sql.DB, name string) error
	TableCount(ctx context.Context, db *sql.DB, name string) (int, error)
}

// SafetyBackup takes the pre-restore backup. backup.Executor implements it.
type SafetyBackup interface {
	Run(ctx context.Context, req backup.Request) (*backup.Artifact, error)
}

// Replayer applies binlog artifacts. pitr.Replayer implements it.
type Replayer interface {
	Run(ctx context.Context, artifactPath string, stopAt time.Time) (*pitr.Result, error)
}

// Options are the server-side settings of a restore
type Options struct {
	Conn         database.ConnectionConfig
	Datadir      string
	Owner        string
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Target     Target
	Locator    toolchain.Locator
	Paths      toolchain.Paths
	Loader     toolchain.Loader
	Controller toolchain.ServerController
	Chowner    toolchain.Chowner
	Replayer   Replayer
	Safety     SafetyBackup
	Codecs     *compression.Registry
	Reports    *report.Writer
	Metrics    *metrics.Collector
	Logger     *logging.Logger
}

// Orchestrator runs restores one at a time
type Orchestrator struct {
	mu   sync.Mutex
	opts Options
	deps Deps
	now  func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Target == nil {
		return nil, errors.NewValidationError("a restore target is required", nil)
	}
	if deps.Locator == nil {
		deps.Locator = toolchain.ExecLocator{}
	}
	if deps.Codecs == nil {
		deps.Codecs = compression.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	deps.Paths.SetDefaults()
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Orchestrator{opts: opts, deps: deps, now: time.Now}, nil
}

// Restore runs every phase and always returns the session. The error is
// the first fatal phase failure. A failed restore is never rolled back to
// the safety backup; restoring it is a separate operator decision.
func (o *Orchestrator) Restore(ctx context.Context, req Request) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := newSession(req)
	rep := report.New(report.OperationRestore)
	done := o.deps.Logger.LogOperationStart("restore", map[string]interface{}{
		"session":  s.ID,
		"artifact": req.ArtifactPath,
		"force":    req.Force,
	})

	var kind compression.Kind
	err := o.phase(ctx, s, PhaseDetect, func() (PhaseStatus, string, error) {
		strategy, err := DetectType(req.ArtifactPath, req.TypeOverride)
		if err != nil {
			return PhaseFailed, "", err
		}
		s.Strategy = strategy
		return PhaseOK, string(strategy), nil
	})
	if err == nil {
		err = o.phase(ctx, s, PhaseValidate, func() (PhaseStatus, string, error) {
			var verr error
			kind, verr = o.validate(ctx, s)
			if verr != nil {
				return PhaseFailed, "", verr
			}
			return PhaseOK, fmt.Sprintf("%s artifact, %s", kind, report.HumanBytes(s.ArtifactSize)), nil
		})
	}
	if err == nil {
		err = o.phase(ctx, s, PhaseSafety, func() (PhaseStatus, string, error) {
			return o.safety(ctx, s)
		})
	}
	if err == nil {
		err = o.phase(ctx, s, PhaseDispatch, func() (PhaseStatus, string, error) {
			msg, derr := o.dispatch(ctx, s, kind)
			if derr != nil {
				return PhaseFailed, msg, derr
			}
			return PhaseOK, msg, nil
		})
	}
	if err == nil {
		err = o.phase(ctx, s, PhaseVerify, func() (PhaseStatus, string, error) {
			return o.verify(ctx, s)
		})
	}

	s.FinishedAt = time.Now()
	if err != nil {
		s.Outcome = report.OutcomeFailed
		s.skipRemaining()
	} else {
		s.Outcome = report.OutcomeSucceeded
	}
	done(err)

	s.toReport(rep)
	rep.Finish(err)
	o.deps.Metrics.ObserveRestore(string(s.Strategy), string(s.Outcome))
	if o.deps.Reports != nil {
		if _, werr := o.deps.Reports.Write(rep); werr != nil {
			o.deps.Logger.Warnf("Failed to write restore report: %v", werr)
		}
	}

	return s, err
}

// phase times fn and records its result. A failed status stops the session.
func (o *Orchestrator) phase(ctx context.Context, s *Session, name string, fn func() (PhaseStatus, string, error)) error {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		s.Phases = append(s.Phases, PhaseResult{Name: name, Status: PhaseFailed, Started: started, Message: "interrupted"})
		return errors.NewAppError(errors.ErrorTypeInterruption, "restore interrupted", err)
	}

	status, msg, err := fn()
	if err != nil && msg == "" {
		msg = err.Error()
	}
	res := PhaseResult{Name: name, Status: status, Started: started, Duration: time.Since(started), Message: msg}
	s.Phases = append(s.Phases, res)
	o.deps.Logger.LogPhase(s.ID, name, string(status), res.Duration, msg)

	if status == PhaseFailed {
		return err
	}
	return nil
}

// validate checks everything the dispatch will need before anything is
// touched: the artifact, the server, the tools and the codec.
func (o *Orchestrator) validate(ctx context.Context, s *Session) (compression.Kind, error) {
	if _, err := o.deps.Target.Probe(ctx, o.opts.Conn); err != nil {
		return "", err
	}

	info, err := os.Stat(s.ArtifactPath)
	if err != nil {
		return "", errors.NewValidationError(fmt.Sprintf("artifact %s is not readable", s.ArtifactPath), err)
	}
	s.ArtifactSize = info.Size()

	if s.Strategy == backup.StrategyBinlog && s.PointInTime.IsZero() {
		return "", errors.NewMissingStopTimestampError()
	}
	if s.Strategy == backup.StrategyPhysical {
		if o.opts.Datadir == "" {
			return "", errors.NewValidationError("restore.datadir is required for physical restores", nil)
		}
		if o.deps.Controller == nil {
			return "", errors.NewValidationError("physical restores need server stop and start commands", nil)
		}
	}
	if s.Strategy == backup.StrategyBinlog && o.deps.Replayer == nil {
		return "", errors.NewValidationError("binlog restores need a replayer", nil)
	}
	if s.Strategy != backup.StrategyPhysical && o.deps.Loader == nil {
		return "", errors.NewValidationError(fmt.Sprintf("%s restores need the mysql client", s.Strategy), nil)
	}

	for _, tool := range o.requiredTools(s.Strategy) {
		if err := o.lookAny(tool...); err != nil {
			return "", err
		}
	}

	kind := compression.KindFromPath(s.ArtifactPath)
	meta, metaErr := backup.ReadMeta(s.ArtifactPath)
	if metaErr == nil && meta.Compression != "" {
		kind = meta.Compression
	}
	if _, err := o.deps.Codecs.Get(kind); err != nil {
		return "", err
	}

	if s.Strategy == backup.StrategyLogical {
		if metaErr != nil {
			meta = nil
		}
		if err := resolveLogicalScope(s, meta); err != nil {
			return "", err
		}
	}

	verifier := backup.NewVerifier(o.deps.Codecs)
	if metaErr == nil {
		_, err = verifier.VerifyCommitted(s.ArtifactPath)
	} else {
		_, err = verifier.Verify(s.ArtifactPath, kind, false)
	}
	if err != nil {
		return "", err
	}
	return kind, nil
}

// resolveLogicalScope matches the requested scope against the scope the
// dump was taken with. A dump selects its own databases, so loading it
// under another name would write into the original database.
func resolveLogicalScope(s *Session, meta *backup.Artifact) error {
	if meta == nil {
		s.selectDatabase = !s.TargetScope.All()
		return nil
	}

	source := meta.Scope
	switch {
	case s.TargetScope.All():
		s.TargetScope = source
	case source.All():
		return errors.NewValidationError(fmt.Sprintf(
			"%s covers all databases and would overwrite every one of them; restore it without --scope",
			s.ArtifactPath), nil)
	case source.Database != s.TargetScope.Database:
		return errors.NewValidationError(fmt.Sprintf(
			"%s holds database %s and cannot be restored into %s",
			s.ArtifactPath, source.Database, s.TargetScope.Database), nil)
	}
	return nil
}

// requiredTools lists, per strategy, groups of binaries of which at least
// one must be installed.
func (o *Orchestrator) requiredTools(strategy backup.Strategy) [][]string {
	p := o.deps.Paths
	switch strategy {
	case backup.StrategyPhysical:
		return [][]string{{p.Xtrabackup, p.Mariabackup}}
	case backup.StrategyBinlog:
		return [][]string{{p.Mysqlbinlog}, {p.Mysql}}
	default:
		return [][]string{{p.Mysql}}
	}
}

func (o *Orchestrator) lookAny(tools ...string) error {
	var lastErr error
	for _, t := range tools {
		if t == "" {
			continue
		}
		if _, err := o.deps.Locator.LookPath(t); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.NewToolUnavailableError(tools[0], lastErr)
}

// safety takes a logical backup of the current state. Failure is a
// warning: the operator chose not to force.
func (o *Orchestrator) safety(ctx context.Context, s *Session) (PhaseStatus, string, error) {
	if s.Force {
		return PhaseSkipped, "skipped under --force", nil
	}
	if o.deps.Safety == nil {
		return PhaseWarning, "no backup executor configured, continuing without a safety backup", nil
	}

	a, err := o.deps.Safety.Run(ctx, backup.Request{
		Strategy:    backup.StrategyLogical,
		Scope:       s.TargetScope,
		Compression: compression.KindGzip,
	})
	if err != nil {
		if ctx.Err() != nil {
			return PhaseFailed, "", errors.NewAppError(errors.ErrorTypeInterruption, "restore interrupted", ctx.Err())
		}
		o.deps.Logger.Warnf("Pre-restore safety backup failed, continuing: %v", err)
		return PhaseWarning, fmt.Sprintf("safety backup failed: %v", err), nil
	}
	s.PreRestoreBackup = a
	return PhaseOK, a.StoragePath, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, s *Session, kind compression.Kind) (string, error) {
	switch s.Strategy {
	case backup.StrategyLogical:
		return o.restoreLogical(ctx, s, kind)
	case backup.StrategyPhysical:
		return o.restorePhysical(ctx, s, kind)
	case backup.StrategyBinlog:
		res, err := o.deps.Replayer.Run(ctx, s.ArtifactPath, s.PointInTime)
		if res != nil {
			s.AppliedLogs = res.Applied
		}
		if err != nil {
			return fmt.Sprintf("%d logs applied before failure", len(s.AppliedLogs)), err
		}
		return fmt.Sprintf("%d logs applied", len(res.Applied)), nil
	}
	return "", errors.NewValidationError(fmt.Sprintf("unsupported strategy %q", s.Strategy), nil)
}

func (o *Orchestrator) restoreLogical(ctx context.Context, s *Session, kind compression.Kind) (string, error) {
	if !s.TargetScope.All() {
		db, err := o.deps.Target.Connect(ctx, o.opts.Conn)
		if err != nil {
			return "", err
		}
		defer closeDB(db)

		if s.Force {
			if err := o.deps.Target.DropSchema(ctx, db, s.TargetScope.Database); err != nil {
				return "", err
			}
		}
		if s.selectDatabase {
			if err := o.deps.Target.CreateSchema(ctx, db, s.TargetScope.Database); err != nil {
				return "", err
			}
		}
	}

	r, closeFn, err := o.openPayload(s.ArtifactPath, kind)
	if err != nil {
		return "", err
	}
	defer closeFn()

	opts := toolchain.LoadOptions{Conn: o.opts.Conn}
	if s.selectDatabase {
		opts.Database = s.TargetScope.Database
	}
	if err := o.deps.Loader.Load(ctx, opts, r); err != nil {
		return "", errors.WrapError(err, "loading the dump failed")
	}
	return "dump loaded into " + s.TargetScope.String(), nil
}

func (o *Orchestrator) restorePhysical(ctx context.Context, s *Session, kind compression.Kind) (string, error) {
	datadir := o.opts.Datadir

	if err := o.deps.Controller.Stop(ctx); err != nil {
		return "", errors.WrapError(err, "failed to stop the server")
	}

	if _, err := os.Stat(datadir); err == nil {
		if s.Force {
			if err := os.RemoveAll(datadir); err != nil {
				return "", errors.NewStorageError("failed to remove the data directory", err)
			}
		} else {
			relocated := datadir + ".pre-restore-" + o.now().UTC().Format("20060102_150405")
			if err := os.Rename(datadir, relocated); err != nil {
				return "", errors.NewStorageError("failed to relocate the data directory", err)
			}
			s.RelocatedDatadir = relocated
		}
	}

	r, closeFn, err := o.openPayload(s.ArtifactPath, kind)
	if err != nil {
		return "", err
	}
	err = archive.Extract(r, datadir)
	closeFn()
	if err != nil {
		return "", err
	}

	if o.opts.Owner != "" && o.deps.Chowner != nil {
		if err := o.deps.Chowner.Chown(ctx, datadir, o.opts.Owner); err != nil {
			return "", errors.WrapError(err, "failed to fix data directory ownership")
		}
	}

	if err := o.deps.Controller.Start(ctx); err != nil {
		return "", errors.WrapError(err, "failed to start the server")
	}

	err = poll.Until(ctx, o.opts.PollInterval, o.opts.ReadyTimeout, func(ctx context.Context) (bool, error) {
		_, perr := o.deps.Target.Probe(ctx, o.opts.Conn)
		return perr == nil, nil
	})
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeInterruption) {
			return "", err
		}
		return "", errors.NewServerNotReadyError(o.opts.ReadyTimeout, err)
	}

	msg := "data directory replaced"
	if s.RelocatedDatadir != "" {
		msg += ", previous kept at " + s.RelocatedDatadir
	}
	return msg, nil
}

// verify re-probes the server and checks the restored scope exists. A
// scope without tables is reported as a warning.
func (o *Orchestrator) verify(ctx context.Context, s *Session) (PhaseStatus, string, error) {
	if _, err := o.deps.Target.Probe(ctx, o.opts.Conn); err != nil {
		return PhaseFailed, "", err
	}
	if s.TargetScope.All() {
		return PhaseOK, "target reachable", nil
	}

	db, err := o.deps.Target.Connect(ctx, o.opts.Conn)
	if err != nil {
		return PhaseFailed, "", err
	}
	defer closeDB(db)

	name := s.TargetScope.Database
	ok, err := o.deps.Target.SchemaExists(ctx, db, name)
	if err != nil {
		return PhaseFailed, "", err
	}
	if !ok {
		return PhaseFailed, "", errors.NewValidationError(fmt.Sprintf("database %s does not exist after restore", name), nil)
	}
	tables, err := o.deps.Target.TableCount(ctx, db, name)
	if err != nil {
		return PhaseFailed, "", err
	}
	if tables == 0 {
		return PhaseWarning, fmt.Sprintf("database %s exists but has no tables", name), nil
	}
	return PhaseOK, fmt.Sprintf("database %s has %d tables", name, tables), nil
}

// openPayload opens the artifact and its decompressor
func (o *Orchestrator) openPayload(path string, kind compression.Kind) (io.Reader, func(), error) {
	codec, err := o.deps.Codecs.Get(kind)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.NewStorageError(fmt.Sprintf("cannot open %s", path), err)
	}
	zr, err := codec.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, errors.NewStorageError(fmt.Sprintf("%s is not a readable %s stream", path, kind), err)
	}
	return zr, func() {
		zr.Close()
		f.Close()
	}, nil
}

func closeDB(db *sql.DB) {
	if db != nil {
		db.Close()
	}
}
