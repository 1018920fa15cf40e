package replication

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
	"mysql-backup-coordinator/internal/metrics"
	"mysql-backup-coordinator/internal/poll"
)

// SourceOptions names the accounts ConfigureSource creates
type SourceOptions struct {
	Replication Principal
	Monitor     Principal
}

// SourceInfo is what ConfigureSource reports back to the operator. The
// position is informational; replicas auto-position through GTIDs.
type SourceInfo struct {
	Version         string                   `json:"version"`
	Position        *database.BinlogPosition `json:"position,omitempty"`
	ReplicationUser string                   `json:"replication_user"`
	MonitorUser     string                   `json:"monitor_user"`
}

// Bootstrapper configures sources and replicas and watches convergence
type Bootstrapper struct {
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewBootstrapper creates a bootstrapper. m may be nil.
func NewBootstrapper(logger *logging.Logger, m *metrics.Collector) *Bootstrapper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Bootstrapper{logger: logger, metrics: m}
}

func (b *Bootstrapper) exec(ctx context.Context, db *sql.DB, stmt string) error {
	started := time.Now()
	_, err := db.ExecContext(ctx, stmt)
	b.logger.LogSQLExecution(stmt, time.Since(started), err)
	if err != nil {
		return errors.WrapError(err, "replication statement failed: "+logging.SanitizeSQL(stmt))
	}
	return nil
}

func (b *Bootstrapper) dialect(ctx context.Context, db *sql.DB) (dialect, string, error) {
	if db == nil {
		return dialect{}, "", errors.NewValidationError("database connection is nil", nil)
	}
	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return dialect{}, "", errors.WrapError(err, "failed to read server version")
	}
	return dialectFor(version), version, nil
}

func account(p Principal) string {
	return database.QuoteString(p.User) + "@" + database.QuoteString(p.host())
}

// ConfigureSource prepares a GTID-enabled server to be replicated from. It
// creates a replication account limited to REPLICATION SLAVE and a monitor
// account limited to REPLICATION CLIENT and PROCESS.
func (b *Bootstrapper) ConfigureSource(ctx context.Context, db *sql.DB, opts SourceOptions) (*SourceInfo, error) {
	if err := opts.Replication.Validate("replication"); err != nil {
		return nil, err
	}
	if err := opts.Monitor.Validate("monitor"); err != nil {
		return nil, err
	}

	_, version, err := b.dialect(ctx, db)
	if err != nil {
		return nil, err
	}
	if err := b.checkGTID(ctx, db); err != nil {
		return nil, err
	}

	accounts := []struct {
		principal Principal
		grant     string
	}{
		{opts.Replication, "REPLICATION SLAVE"},
		{opts.Monitor, "REPLICATION CLIENT, PROCESS"},
	}
	for _, a := range accounts {
		acct := account(a.principal)
		pw := database.QuoteString(a.principal.Password)
		stmts := []string{
			fmt.Sprintf("CREATE USER IF NOT EXISTS %s IDENTIFIED BY %s", acct, pw),
			fmt.Sprintf("ALTER USER %s IDENTIFIED BY %s", acct, pw),
			fmt.Sprintf("GRANT %s ON *.* TO %s", a.grant, acct),
		}
		for _, stmt := range stmts {
			if err := b.exec(ctx, db, stmt); err != nil {
				return nil, err
			}
		}
	}
	if err := b.exec(ctx, db, "FLUSH PRIVILEGES"); err != nil {
		return nil, err
	}

	pos, err := database.ReadBinlogPosition(ctx, db)
	if err != nil {
		return nil, err
	}

	info := &SourceInfo{
		Version:         version,
		Position:        pos,
		ReplicationUser: opts.Replication.User,
		MonitorUser:     opts.Monitor.User,
	}
	fields := map[string]interface{}{"replication_user": info.ReplicationUser, "monitor_user": info.MonitorUser}
	if pos != nil {
		fields["binlog_file"] = pos.File
		fields["binlog_position"] = pos.Position
	}
	b.logger.WithFields(fields).Info("Source configured for replication")
	return info, nil
}

func (b *Bootstrapper) checkGTID(ctx context.Context, db *sql.DB) error {
	var mode, enforce string
	err := db.QueryRowContext(ctx, "SELECT @@GLOBAL.gtid_mode, @@GLOBAL.enforce_gtid_consistency").Scan(&mode, &enforce)
	if err != nil {
		return errors.WrapError(err, "failed to read GTID settings")
	}
	if !strings.EqualFold(mode, "ON") || !(strings.EqualFold(enforce, "ON") || enforce == "1") {
		return errors.NewValidationError(
			fmt.Sprintf("GTID replication requires gtid_mode=ON and enforce_gtid_consistency=ON (got %s, %s)", mode, enforce), nil).
			WithUserMessage("Enable gtid_mode and enforce_gtid_consistency on the source before configuring replication")
	}
	return nil
}

// ConfigureReplica discards any previous replication state and points the
// replica at source with GTID auto-positioning. The returned topology is
// starting; WaitForConvergence moves it on.
func (b *Bootstrapper) ConfigureReplica(ctx context.Context, db *sql.DB, source Endpoint, principal Principal) (*Topology, error) {
	if source.Host == "" {
		return nil, errors.NewValidationError("source host is required", nil)
	}
	if source.Port == 0 {
		source.Port = 3306
	}
	if source.Port < 0 || source.Port > 65535 {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid source port %d", source.Port), nil)
	}
	if err := principal.Validate("replication"); err != nil {
		return nil, err
	}

	d, _, err := b.dialect(ctx, db)
	if err != nil {
		return nil, err
	}

	k := d.keyPrefix
	change := fmt.Sprintf("%s %sHOST=%s, %sPORT=%d, %sUSER=%s, %sPASSWORD=%s, %sAUTO_POSITION=1",
		d.change,
		k, database.QuoteString(source.Host),
		k, source.Port,
		k, database.QuoteString(principal.User),
		k, database.QuoteString(principal.Password),
		k)

	for _, stmt := range []string{d.stop, d.reset, change, d.start} {
		if err := b.exec(ctx, db, stmt); err != nil {
			return nil, err
		}
	}

	topo := NewTopology(source, principal)
	if err := topo.Transition(StateStarting); err != nil {
		return nil, err
	}
	b.logger.WithFields(map[string]interface{}{
		"source": source.String(),
		"user":   principal.User,
	}).Info("Replica configured, replication starting")
	return topo, nil
}

// WaitForConvergence polls the replica every interval until both threads
// run. On timeout the topology is left degraded and a non-fatal
// ReplicationDegraded error is returned.
func (b *Bootstrapper) WaitForConvergence(ctx context.Context, db *sql.DB, topo *Topology, interval, timeout time.Duration) error {
	if topo == nil || topo.State() == StateUnconfigured {
		return errors.NewValidationError("replication is not configured", nil)
	}
	d, _, err := b.dialect(ctx, db)
	if err != nil {
		return err
	}

	var last *ReplicaStatus
	err = poll.Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		st, err := b.status(ctx, db, d)
		if err != nil {
			return false, err
		}
		last = st
		if err := topo.Observe(st); err != nil {
			return false, err
		}
		b.record(topo, st)
		if st.Running() {
			return true, nil
		}
		return false, errors.NewReplicationDegradedError(st.IORunning(), st.SQLRunning())
	})
	if err == nil {
		b.logger.WithField("source", topo.Source.String()).Info("Replication converged")
		return nil
	}
	if !stderrors.Is(err, poll.ErrTimeout) {
		return err
	}

	if last == nil {
		if terr := topo.Transition(StateDegraded); terr != nil {
			return terr
		}
		return errors.NewReplicationDegradedError(false, false).WithContext("timeout", timeout.String())
	}
	degraded := errors.NewReplicationDegradedError(last.IORunning(), last.SQLRunning()).
		WithContext("timeout", timeout.String())
	if msg := last.LastError(); msg != "" {
		degraded = degraded.WithContext("last_error", msg)
	}
	b.logger.WithFields(map[string]interface{}{
		"io_running":  last.IORunning(),
		"sql_running": last.SQLRunning(),
		"last_error":  last.LastError(),
	}).Warn("Replication did not converge before the timeout")
	return degraded
}

// Monitor keeps observing the replica every interval until ctx is done,
// calling onChange whenever the topology state changes.
func (b *Bootstrapper) Monitor(ctx context.Context, db *sql.DB, topo *Topology, interval time.Duration, onChange func(State, *ReplicaStatus)) error {
	if topo == nil || topo.State() == StateUnconfigured {
		return errors.NewValidationError("replication is not configured", nil)
	}
	if interval <= 0 {
		return errors.NewValidationError("monitor interval must be positive", nil)
	}
	d, _, err := b.dialect(ctx, db)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := b.status(ctx, db, d)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil && !errors.IsRecoverableError(err):
			return err
		case err == nil:
			before := topo.State()
			if err := topo.Observe(st); err != nil {
				return err
			}
			b.record(topo, st)
			if after := topo.State(); after != before && onChange != nil {
				onChange(after, st)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Reset stops replication, discards its configuration and returns topo,
// when given, to unconfigured.
func (b *Bootstrapper) Reset(ctx context.Context, db *sql.DB, topo *Topology) error {
	d, _, err := b.dialect(ctx, db)
	if err != nil {
		return err
	}
	for _, stmt := range []string{d.stop, d.reset} {
		if err := b.exec(ctx, db, stmt); err != nil {
			return err
		}
	}
	if topo != nil {
		topo.reset()
	}
	b.metrics.SetReplication(false, false, nil)
	b.logger.Info("Replication reset")
	return nil
}
