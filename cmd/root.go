package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mysql-backup-coordinator/internal/config"
	"mysql-backup-coordinator/internal/errors"
)

var cfgFile string

// v holds file, environment and flag values for the whole invocation
var v = config.NewViper()

// Global flag variables
var (
	noColor bool
	theme   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mysql-backup-coordinator",
	Short: "Back up, restore and replicate MySQL servers",
	Long: `MySQL Backup Coordinator takes logical, physical and binary log backups,
restores them with a pre-restore safety backup and optional point-in-time
recovery, enforces retention and bootstraps GTID replication.

Every run writes a text and JSON report next to its artifact (or under
<backup root>/reports) and appends a line to reports/history.jsonl.

Examples:
  # Logical backup of one database, zstd compressed
  mysql-backup-coordinator backup --scope mydb --compression zstd

  # Restore to a point in time from a binlog artifact
  mysql-backup-coordinator restore /var/backups/mysql/binlog_all_20240301_020000.tar.gz \
      --point-in-time "2024-03-01 10:15:00"

  # Configure a replica and wait for both threads to run
  mysql-backup-coordinator replicate replica --source-host db1 --wait`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context; any error exits with status 1.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := errors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	shutdown.Start()

	err := rootCmd.ExecuteContext(ctx)
	shutdown.Stop()
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errors.FormatUserError(err); !strings.Contains(err.Error(), hint) {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/"+config.DefaultFileName+".yaml)")

	// Connection flags
	rootCmd.PersistentFlags().String("host", "", "MySQL host")
	rootCmd.PersistentFlags().Int("port", 0, "MySQL port")
	rootCmd.PersistentFlags().String("user", "", "MySQL user")
	rootCmd.PersistentFlags().String("password", "", "MySQL password (prefer "+config.EnvPrefix+"_DATABASE_PASSWORD)")
	rootCmd.PersistentFlags().String("socket", "", "MySQL unix socket")

	// Output flags
	rootCmd.PersistentFlags().String("log-level", "", "log level (quiet, normal, verbose, debug)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this rotating file")
	rootCmd.PersistentFlags().String("format", "", "output format (text, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "dark", "color theme (dark, light)")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"database.host":     "host",
		"database.port":     "port",
		"database.username": "user",
		"database.password": "password",
		"database.socket":   "socket",
		"logging.level":     "log-level",
		"logging.format":    "log-format",
		"logging.file":      "log-file",
		"format":            "format",
	})

	rootCmd.SetUsageTemplate(getUsageTemplate())
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// getUsageTemplate returns the usage template with configuration notes
func getUsageTemplate() string {
	return `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}

Configuration:
  Generate a sample file with: mysql-backup-coordinator config
  Every key can be set through the environment with the prefix ` + config.EnvPrefix + `_,
  for example ` + config.EnvPrefix + `_DATABASE_PASSWORD or ` + config.EnvPrefix + `_BACKUP_ROOT.
`
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mysql-backup-coordinator version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print a sample configuration file",
		Long: `Print a sample configuration file with every key and its default.

Passwords are never part of the sample; pass them through the environment.

Examples:
  mysql-backup-coordinator config > ~/.mysql-backup-coordinator.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.SampleYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
