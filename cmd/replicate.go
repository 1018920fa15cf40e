package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/display"
	"mysql-backup-coordinator/internal/replication"
	"mysql-backup-coordinator/internal/report"
)

// replicate flag variables
var (
	replicaSourceHost      string
	replicaSourcePort      int
	replicaWait            bool
	replicaSkipSourceCheck bool
	statusWatch            bool
)

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Bootstrap and inspect GTID replication",
	Long: `Configure GTID auto-positioned replication between two servers.

Run "replicate source" against the source to create the replication and
monitor accounts, then "replicate replica" against the replica to point it
at the source. Passwords are read from flags or the environment, e.g.
` + "MYSQL_BACKUP_REPLICATION_PASSWORD and MYSQL_BACKUP_REPLICATION_MONITOR_PASSWORD.",
}

var replicateSourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Prepare the connected server as a replication source",
	Args:  cobra.NoArgs,
	RunE:  runReplicateSource,
}

var replicateReplicaCmd = &cobra.Command{
	Use:   "replica",
	Short: "Point the connected server at a source",
	Long: `Stop and reset any existing replication on the connected server, point it
at --source-host with GTID auto-positioning and start it.

Before changing anything the command logs in to the source with the
replication account, unless --skip-source-check is given.

With --wait the command polls until both replication threads run. If they do
not within replication.timeout the link is reported as degraded; this is a
warning, not a failure.`,
	Args: cobra.NoArgs,
	RunE: runReplicateReplica,
}

var replicateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the replica status of the connected server",
	Args:  cobra.NoArgs,
	RunE:  runReplicateStatus,
}

var replicateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Stop replication and forget the source",
	Args:  cobra.NoArgs,
	RunE:  runReplicateReset,
}

func init() {
	rootCmd.AddCommand(replicateCmd)
	replicateCmd.AddCommand(replicateSourceCmd, replicateReplicaCmd, replicateStatusCmd, replicateResetCmd)

	pf := replicateCmd.PersistentFlags()
	pf.String("repl-user", "", "replication account user")
	pf.String("repl-password", "", "replication account password")
	pf.String("monitor-user", "", "monitoring account user")
	pf.String("monitor-password", "", "monitoring account password")
	bindFlags(pf, map[string]string{
		"replication.user":             "repl-user",
		"replication.password":         "repl-password",
		"replication.monitor_user":     "monitor-user",
		"replication.monitor_password": "monitor-password",
	})

	replicateReplicaCmd.Flags().StringVar(&replicaSourceHost, "source-host", "", "source host the replica connects to")
	replicateReplicaCmd.Flags().IntVar(&replicaSourcePort, "source-port", 3306, "source port")
	replicateReplicaCmd.Flags().BoolVar(&replicaWait, "wait", false, "wait until both replication threads run")
	replicateReplicaCmd.Flags().BoolVar(&replicaSkipSourceCheck, "skip-source-check", false, "do not log in to the source with the replication account first")
	cobra.CheckErr(replicateReplicaCmd.MarkFlagRequired("source-host"))

	replicateStatusCmd.Flags().BoolVar(&statusWatch, "watch", false, "keep polling and report every state change until interrupted")
}

// principals builds the accounts from the replication section
func principals(rt *runtime) (repl, monitor replication.Principal) {
	rc := rt.cfg.Replication
	repl = replication.Principal{User: rc.User, Password: rc.Password, Host: rc.AccountHost}
	monitor = replication.Principal{User: rc.MonitorUser, Password: rc.MonitorPassword, Host: rc.AccountHost}
	return repl, monitor
}

// sourceConnection is the replica's view of the source: the source
// endpoint reached with the replication account
func sourceConnection(base database.ConnectionConfig, source replication.Endpoint, repl replication.Principal) database.ConnectionConfig {
	cfg := base
	cfg.Host = source.Host
	cfg.Port = source.Port
	cfg.Socket = ""
	cfg.Username = repl.User
	cfg.Password = repl.Password
	return cfg
}

func runReplicateSource(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	rep := report.New(report.OperationReplicate)
	rep.SetField("role", string(replication.RoleSource))
	rep.SetField("server", rt.cfg.Database.Address())

	db, err := rt.connections().Connect(ctx, database.RoleSource, rt.cfg.Database)
	if err != nil {
		return rt.finish(rep, err)
	}

	repl, monitor := principals(rt)
	info, err := replication.NewBootstrapper(rt.logger, rt.metrics).ConfigureSource(ctx, db, replication.SourceOptions{
		Replication: repl,
		Monitor:     monitor,
	})
	if err == nil {
		rep.SetField("version", info.Version)
		rep.SetField("replication_user", info.ReplicationUser)
		rep.SetField("monitor_user", info.MonitorUser)
		if info.Position != nil {
			rep.SetField("binlog_position", fmt.Sprintf("%s:%d", info.Position.File, info.Position.Position))
			if info.Position.ExecutedGtidSet != "" {
				rep.SetField("executed_gtid_set", info.Position.ExecutedGtidSet)
			}
		}
	}
	return rt.finish(rep, err)
}

func runReplicateReplica(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	source := replication.Endpoint{Host: replicaSourceHost, Port: replicaSourcePort}
	rep := report.New(report.OperationReplicate)
	rep.SetField("role", string(replication.RoleReplica))
	rep.SetField("server", rt.cfg.Database.Address())
	rep.SetField("source", source.String())

	cm := rt.connections()
	db, err := cm.Connect(ctx, database.RoleReplica, rt.cfg.Database)
	if err != nil {
		return rt.finish(rep, err)
	}

	repl, _ := principals(rt)
	if !replicaSkipSourceCheck {
		// same account and endpoint the replica IO thread will use
		if _, err := cm.Connect(ctx, database.RoleSource, sourceConnection(rt.cfg.Database, source, repl)); err != nil {
			return rt.finish(rep, err)
		}
		rep.SetField("source_check", "ok")
	}
	rt.logger.WithField("connections", cm.Roles()).Debug("Connections established")

	b := replication.NewBootstrapper(rt.logger, rt.metrics)
	topo, err := b.ConfigureReplica(ctx, db, source, repl)
	if err == nil && replicaWait {
		err = b.WaitForConvergence(ctx, db, topo, rt.cfg.Replication.PollInterval, rt.cfg.Replication.Timeout)
	}
	if topo != nil {
		rep.SetField("state", string(topo.State()))
		if lag := topo.Lag(); lag != nil {
			rep.SetField("lag_seconds", fmt.Sprintf("%d", *lag))
		}
		if msg := topo.LastError(); msg != "" {
			rep.SetField("last_error", msg)
		}
	}
	return rt.finish(rep, err)
}

func runReplicateStatus(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	db, err := rt.connections().Connect(ctx, database.RoleReplica, rt.cfg.Database)
	if err != nil {
		return err
	}

	b := replication.NewBootstrapper(rt.logger, rt.metrics)
	topo, st, err := b.Discover(ctx, db)
	if err != nil {
		return err
	}
	if err := display.RenderReplicaStatus(rt.console.Out(), rt.console.Colors(), st, rt.cfg.Format); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}

	rt.console.Info("Watching replication every %s, press Ctrl-C to stop", rt.cfg.Replication.PollInterval)
	return b.Monitor(ctx, db, topo, rt.cfg.Replication.PollInterval, func(state replication.State, st *replication.ReplicaStatus) {
		switch state {
		case replication.StateRunning:
			rt.console.Success("Replication running")
		default:
			rt.console.Warn("Replication %s: io=%s sql=%s %s", state, st.IOState, st.SQLState, st.LastError())
		}
	})
}

func runReplicateReset(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	rep := report.New(report.OperationReplicate)
	rep.SetField("role", string(replication.RoleReplica))
	rep.SetField("server", rt.cfg.Database.Address())
	rep.SetField("action", "reset")

	db, err := rt.connections().Connect(ctx, database.RoleReplica, rt.cfg.Database)
	if err != nil {
		return rt.finish(rep, err)
	}

	b := replication.NewBootstrapper(rt.logger, rt.metrics)
	topo, _, err := b.Discover(ctx, db)
	if err == nil {
		err = b.Reset(ctx, db, topo)
	}
	if err == nil {
		rep.SetField("state", string(topo.State()))
	}
	return rt.finish(rep, err)
}
