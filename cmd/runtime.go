package cmd

import (
	"context"
	"database/sql"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mysql-backup-coordinator/internal/backup"
	"mysql-backup-coordinator/internal/compression"
	"mysql-backup-coordinator/internal/config"
	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/display"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
	"mysql-backup-coordinator/internal/metrics"
	"mysql-backup-coordinator/internal/pitr"
	"mysql-backup-coordinator/internal/report"
	"mysql-backup-coordinator/internal/restore"
	"mysql-backup-coordinator/internal/storage"
	"mysql-backup-coordinator/internal/toolchain"
)

// bindFlags binds configuration keys to flags of fs
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		cobra.CheckErr(v.BindPFlag(key, fs.Lookup(name)))
	}
}

// loadConfig resolves and validates the configuration of this invocation
func loadConfig() (*config.Config, error) {
	if err := config.ReadFile(v, cfgFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtime holds the collaborators shared by every command
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Collector
	reports *report.Writer
	db      *database.Service
	runner  *toolchain.Runner
	codecs  *compression.Registry
	console *display.Console
	closers []io.Closer
}

// setup loads the configuration and builds the shared collaborators.
// needDB additionally requires a valid connection section.
func setup(cmd *cobra.Command, needDB bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if needDB {
		if err := cfg.ValidateDatabase(); err != nil {
			return nil, err
		}
	}

	logCfg, err := cfg.LoggerConfig()
	if err != nil {
		return nil, err
	}
	logCfg.Output = cmd.ErrOrStderr()
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, errors.NewValidationError("failed to initialize logger", err)
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(),
		reports: report.NewWriter(cfg.Backup.Root),
		db:      database.NewServiceWithOptions(logger, cfg.Database.Timeout, errors.DefaultRetryConfig()),
		runner:  toolchain.NewRunner(cfg.Tools, logger),
		codecs:  compression.NewRegistry(),
		console: display.NewConsole(cmd.OutOrStdout(), cmd.InOrStdin(), display.ThemeByName(theme), noColor),
	}
	ctx := logging.CreateContextWithRequestID(cmd.Context(), uuid.New().String())
	cmd.SetContext(ctx)
	entry := logger.WithContext(ctx).WithField("command", cmd.CommandPath())
	if path := v.ConfigFileUsed(); path != "" {
		entry = entry.WithField("config", path)
	}
	entry.Debug("Command started")
	return rt, nil
}

// exportMetrics writes the metrics textfile when one is configured
func (rt *runtime) exportMetrics() {
	if err := rt.metrics.WriteTextfile(rt.cfg.Metrics.TextfilePath); err != nil {
		rt.logger.WithField("error", err.Error()).Warn("Failed to write metrics textfile")
	}
}

// close exports metrics and releases resources
func (rt *runtime) close() {
	rt.exportMetrics()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i].Close()
	}
	rt.logger.Close()
}

func (rt *runtime) connect(ctx context.Context) (*sql.DB, error) {
	return rt.db.Connect(ctx, rt.cfg.Database)
}

// connections returns a manager for role-named connections. They are
// closed together with the runtime.
func (rt *runtime) connections() *database.ConnectionManager {
	cm := database.NewConnectionManager(rt.db)
	switch rt.cfg.Format {
	case "", "text", "table":
		cm.SetNotifier(consoleNotifier{rt.console})
	}
	rt.closers = append(rt.closers, cm)
	return cm
}

// consoleNotifier prints connection progress as console status lines
type consoleNotifier struct {
	console *display.Console
}

func (n consoleNotifier) Info(msg string)    { n.console.Info("%s", msg) }
func (n consoleNotifier) Success(msg string) { n.console.Success("%s", msg) }
func (n consoleNotifier) Error(msg string)   { n.console.Error("%s", msg) }

// executor wires a backup executor to the configured store, tools and
// offsite uploader
func (rt *runtime) executor(ctx context.Context) (*backup.Executor, error) {
	store, err := backup.NewStore(rt.cfg.Backup.Root)
	if err != nil {
		return nil, err
	}

	uploader, err := storage.NewUploader(ctx, rt.cfg.Storage)
	if err != nil {
		return nil, err
	}
	if c, ok := uploader.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}

	return backup.NewExecutor(store, backup.Deps{
		Conn:   rt.cfg.Database,
		Dumper: rt.runner,
		ResolveHotCopier: func() (toolchain.HotCopier, error) {
			return toolchain.ResolveHotCopier(rt.runner, rt.runner.Locator())
		},
		OpenDB:       rt.connect,
		BinlogDir:    rt.cfg.Backup.BinlogDir,
		Codecs:       rt.codecs,
		Reports:      rt.reports,
		Metrics:      rt.metrics,
		Uploader:     uploader,
		UploadPrefix: rt.cfg.Storage.Prefix,
		Logger:       rt.logger,
	})
}

// orchestrator wires a restore orchestrator. The executor takes the
// pre-restore safety backup.
func (rt *runtime) orchestrator(ctx context.Context) (*restore.Orchestrator, error) {
	safety, err := rt.executor(ctx)
	if err != nil {
		return nil, err
	}

	rc := rt.cfg.Restore
	return restore.NewOrchestrator(restore.Options{
		Conn:         rt.cfg.Database,
		Datadir:      rc.Datadir,
		Owner:        rc.Owner,
		ReadyTimeout: rc.ReadyTimeout,
		PollInterval: rc.PollInterval,
	}, restore.Deps{
		Target:     rt.db,
		Locator:    rt.runner.Locator(),
		Paths:      rt.runner.Paths(),
		Loader:     rt.runner,
		Controller: toolchain.NewShellController(rt.runner, rc.StopCommand, rc.StartCommand),
		Chowner:    rt.runner,
		Replayer:   pitr.NewReplayer(rt.runner, rt.runner, rt.cfg.Database, rt.codecs, rt.logger, os.TempDir()),
		Safety:     safety,
		Codecs:     rt.codecs,
		Reports:    rt.reports,
		Metrics:    rt.metrics,
		Logger:     rt.logger,
	})
}

// sweep applies the retention policy to the backup root
func (rt *runtime) sweep(ctx context.Context, days int, dryRun bool) (*backup.SweepResult, error) {
	sweeper := backup.NewSweeper(rt.logger, rt.metrics, rt.reports)
	return sweeper.Sweep(ctx, rt.cfg.Backup.Root, backup.RetentionPolicy{MaxAgeDays: days, DryRun: dryRun})
}

// finish completes rep, stores it and prints it. A degraded result is
// reported as a warning and does not fail the command.
func (rt *runtime) finish(rep *report.Report, err error) error {
	rep.Finish(err)
	if path, werr := rt.reports.Write(rep); werr != nil {
		rt.logger.WithField("error", werr.Error()).Warn("Failed to write report")
	} else {
		rt.logger.WithField("report", path).Debug("Report written")
	}

	if rerr := report.Render(rt.console.Out(), rep, rt.cfg.Format); rerr != nil {
		return rerr
	}
	if err != nil && !errors.IsFatal(err) {
		rt.console.Warn("%v", err)
		return nil
	}
	return err
}
