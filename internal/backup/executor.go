package backup

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
	"mysql-backup-coordinator/internal/metrics"
	"mysql-backup-coordinator/internal/report"
	"mysql-backup-coordinator/internal/storage"
	"mysql-backup-coordinator/internal/toolchain"
)

const maxNameCollisions = 5

// Request describes one backup run
type Request struct {
	Strategy    Strategy
	Scope       Scope
	Compression compression.Kind
	Parallelism int
}

// Deps are the collaborators an Executor drives. Dumper is required;
// everything else is optional and only needed by the strategies or
// features that use it.
type Deps struct {
	Conn   database.ConnectionConfig
	Dumper toolchain.Dumper

	// ResolveHotCopier returns the physical copy tool. A ToolUnavailable
	// error downgrades a physical request to logical.
	ResolveHotCopier func() (toolchain.HotCopier, error)

	// OpenDB opens the connection used by the binlog strategy. The
	// executor closes it when the run ends.
	OpenDB    func(ctx context.Context) (*sql.DB, error)
	BinlogDir string

	Codecs       *compression.Registry
	Reports      *report.Writer
	Metrics      *metrics.Collector
	Uploader     storage.Uploader
	UploadPrefix string
	Logger       *logging.Logger
}

// Executor takes backups into a Store
type Executor struct {
	store    *Store
	deps     Deps
	verifier *Verifier
	now      func() time.Time
}

// NewExecutor creates an executor writing into store
func NewExecutor(store *Store, deps Deps) (*Executor, error) {
	if store == nil {
		return nil, errors.NewValidationError("backup store is required", nil)
	}
	if deps.Dumper == nil {
		return nil, errors.NewValidationError("a dump tool is required", nil)
	}
	if deps.Codecs == nil {
		deps.Codecs = compression.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &Executor{
		store:    store,
		deps:     deps,
		verifier: NewVerifier(deps.Codecs),
		now:      time.Now,
	}, nil
}

// Store returns the artifact store
func (e *Executor) Store() *Store {
	return e.store
}

// producer streams the uncompressed payload of one strategy into w and
// returns the number of uncompressed bytes written.
type producer func(ctx context.Context, w io.Writer, a *Artifact) (int64, error)

// Run takes one backup. The artifact is only registered once it has been
// fully written and verified; on any failure or cancellation the in-flight
// file is removed.
func (e *Executor) Run(ctx context.Context, req Request) (*Artifact, error) {
	rep := report.New(report.OperationBackup)
	rep.Strategy = string(req.Strategy)
	rep.SetField("scope", req.Scope.String())

	done := e.deps.Logger.LogOperationStart("backup", map[string]interface{}{
		"strategy":    string(req.Strategy),
		"scope":       req.Scope.String(),
		"compression": string(req.Compression),
	})

	artifact, err := e.run(ctx, req, rep)
	done(err)

	strategy := rep.Strategy
	outcome := string(report.OutcomeSucceeded)
	var size int64
	if err != nil {
		outcome = string(report.OutcomeFailed)
	} else {
		rep.ArtifactPath = artifact.StoragePath
		rep.SizeBytes = artifact.SizeBytes
		size = artifact.SizeBytes
	}
	rep.Finish(err)
	e.deps.Metrics.ObserveBackup(strategy, outcome, rep.Duration(), size)
	e.writeReport(rep)

	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (e *Executor) run(ctx context.Context, req Request, rep *report.Report) (*Artifact, error) {
	if req.Strategy == "" {
		req.Strategy = StrategyLogical
	}
	if req.Compression == "" {
		req.Compression = compression.KindGzip
	}
	if req.Parallelism < 1 {
		req.Parallelism = 1
	}

	codec, err := e.deps.Codecs.Get(req.Compression)
	if err != nil {
		return nil, err
	}

	a := &Artifact{
		ID:          uuid.New().String(),
		Strategy:    req.Strategy,
		CreatedAt:   e.now().UTC(),
		Scope:       req.Scope,
		Compression: req.Compression,
	}

	produce, err := e.selectProducer(ctx, req, a)
	if err != nil {
		return nil, err
	}
	rep.Strategy = string(a.Strategy)
	if a.Downgraded {
		rep.SetField("downgraded_from", string(a.RequestedStrategy))
	}

	pending, err := e.begin(a)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			pending.Abort()
		}
	}()

	startTime := time.Now()
	if a.UncompressedBytes, err = e.stream(ctx, pending.File, codec, produce, a); err != nil {
		return nil, err
	}
	if err := pending.Finish(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeInterruption, "backup interrupted", err)
	}

	res, err := e.verifier.Verify(pending.Path(), a.Compression, false)
	if err != nil {
		return nil, err
	}
	a.SizeBytes = res.SizeBytes
	a.Checksum = res.Checksum

	if err := pending.Commit(a); err != nil {
		return nil, err
	}
	committed = true

	e.deps.Logger.LogArtifact(string(a.Strategy), a.StoragePath, a.SizeBytes, time.Since(startTime))
	rep.SetField("checksum", a.Checksum)
	rep.SetField("compression_ratio", fmt.Sprintf("%.3f", compression.Ratio(a.UncompressedBytes, a.SizeBytes)))
	if a.Binlog != nil {
		rep.SetField("binlog_file", a.Binlog.File)
		rep.SetField("binlog_position", fmt.Sprintf("%d", a.Binlog.Position))
	}

	e.upload(ctx, a, rep)
	return a, nil
}

// begin opens the in-flight file. Names have second resolution, so a run
// that collides with an artifact from the same second moves to the next one.
func (e *Executor) begin(a *Artifact) (*Pending, error) {
	for attempt := 0; ; attempt++ {
		pending, err := e.store.Begin(a.Strategy, a.Scope, a.Compression, a.CreatedAt)
		if err == nil || attempt == maxNameCollisions || !stderrors.Is(err, ErrArtifactExists) {
			return pending, err
		}
		a.CreatedAt = a.CreatedAt.Add(time.Second)
	}
}

// selectProducer resolves the strategy, downgrading physical to logical
// when no hot-copy tool is installed.
func (e *Executor) selectProducer(ctx context.Context, req Request, a *Artifact) (producer, error) {
	switch req.Strategy {
	case StrategyLogical:
		a.Tool = "mysqldump"
		return e.dumpLogical, nil

	case StrategyPhysical:
		var copier toolchain.HotCopier
		var err error = errors.NewToolUnavailableError("xtrabackup", nil)
		if e.deps.ResolveHotCopier != nil {
			copier, err = e.deps.ResolveHotCopier()
		}
		if err != nil {
			if !errors.IsType(err, errors.ErrorTypeToolUnavailable) {
				return nil, err
			}
			e.deps.Logger.WithField("strategy", "physical").Warnf("No hot-copy tool available (%v), downgrading to a logical backup", err)
			a.RequestedStrategy = StrategyPhysical
			a.Strategy = StrategyLogical
			a.Downgraded = true
			a.Tool = "mysqldump"
			return e.dumpLogical, nil
		}
		if !a.Scope.All() {
			e.deps.Logger.Warnf("Physical backups copy the whole instance; scope %s is recorded but not applied", a.Scope.Database)
		}
		a.Tool = copier.Name()
		return e.physicalProducer(copier, req.Parallelism), nil

	case StrategyBinlog:
		if e.deps.OpenDB == nil {
			return nil, errors.NewValidationError("binlog backups need a database connection", nil)
		}
		if e.deps.BinlogDir == "" {
			return nil, errors.NewValidationError("backup.binlog_dir is required for binlog backups", nil)
		}
		a.Tool = "binlog-copy"
		return e.binlogProducer(req.Parallelism), nil
	}

	return nil, errors.NewValidationError(fmt.Sprintf("unknown backup strategy %q", req.Strategy), nil)
}

// stream runs produce through the codec into out
func (e *Executor) stream(ctx context.Context, out io.Writer, codec compression.Codec, produce producer, a *Artifact) (int64, error) {
	zw, err := codec.NewWriter(out)
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to start %s stream", codec.Kind()), err)
	}

	n, err := produce(ctx, zw, a)
	closeErr := zw.Close()
	if err != nil {
		if ctx.Err() != nil {
			return n, errors.NewAppError(errors.ErrorTypeInterruption, "backup interrupted", ctx.Err())
		}
		return n, err
	}
	if closeErr != nil {
		return n, errors.NewStorageError(fmt.Sprintf("failed to finish %s stream", codec.Kind()), closeErr)
	}
	return n, nil
}

// upload copies the committed artifact and its sidecar offsite. The local
// artifact is already durable, so a failure is recorded and logged only.
func (e *Executor) upload(ctx context.Context, a *Artifact, rep *report.Report) {
	if e.deps.Uploader == nil {
		return
	}

	name := filepath.Base(a.StoragePath)
	key := storage.ObjectKey(e.deps.UploadPrefix, name)
	for _, p := range []struct{ local, key string }{
		{a.StoragePath, key},
		{a.StoragePath + MetaSuffix, key + MetaSuffix},
	} {
		if err := e.deps.Uploader.Upload(ctx, p.local, p.key); err != nil {
			e.deps.Logger.WithFields(map[string]interface{}{
				"provider": e.deps.Uploader.Name(),
				"key":      p.key,
				"error":    err.Error(),
			}).Warn("Offsite upload failed; artifact kept locally")
			rep.SetField("upload_error", err.Error())
			return
		}
	}
	rep.SetField("uploaded_to", e.deps.Uploader.Name()+":"+key)
}

func (e *Executor) writeReport(rep *report.Report) {
	if e.deps.Reports == nil {
		return
	}
	if _, err := e.deps.Reports.Write(rep); err != nil {
		e.deps.Logger.Warnf("Failed to write backup report: %v", err)
	}
}
