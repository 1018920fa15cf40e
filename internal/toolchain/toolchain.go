// Package toolchain wraps the external MySQL binaries the coordinator drives:
// the dump client, the command line client, the hot-copy tool and the binlog
// decoder, plus the commands that stop and start the server.
package toolchain

import (
	"context"
	"io"
	"time"

	"mysql-backup-coordinator/internal/database"
)

// Paths holds the binary names or absolute paths of the external tools
type Paths struct {
	Mysqldump   string `mapstructure:"mysqldump" yaml:"mysqldump"`
	Mysql       string `mapstructure:"mysql" yaml:"mysql"`
	Xtrabackup  string `mapstructure:"xtrabackup" yaml:"xtrabackup"`
	Mariabackup string `mapstructure:"mariabackup" yaml:"mariabackup"`
	Mysqlbinlog string `mapstructure:"mysqlbinlog" yaml:"mysqlbinlog"`
	Chown       string `mapstructure:"chown" yaml:"chown"`
}

// DefaultPaths returns the tool names resolved through PATH
func DefaultPaths() Paths {
	return Paths{
		Mysqldump:   "mysqldump",
		Mysql:       "mysql",
		Xtrabackup:  "xtrabackup",
		Mariabackup: "mariabackup",
		Mysqlbinlog: "mysqlbinlog",
		Chown:       "chown",
	}
}

// SetDefaults fills in empty entries
func (p *Paths) SetDefaults() {
	d := DefaultPaths()
	if p.Mysqldump == "" {
		p.Mysqldump = d.Mysqldump
	}
	if p.Mysql == "" {
		p.Mysql = d.Mysql
	}
	if p.Xtrabackup == "" {
		p.Xtrabackup = d.Xtrabackup
	}
	if p.Mariabackup == "" {
		p.Mariabackup = d.Mariabackup
	}
	if p.Mysqlbinlog == "" {
		p.Mysqlbinlog = d.Mysqlbinlog
	}
	if p.Chown == "" {
		p.Chown = d.Chown
	}
}

// DumpOptions selects what a logical dump covers. An empty Database means
// every database on the server.
type DumpOptions struct {
	Conn     database.ConnectionConfig
	Database string
}

// Dumper writes a consistent logical dump to w
type Dumper interface {
	Dump(ctx context.Context, opts DumpOptions, w io.Writer) error
}

// LoadOptions selects the default schema statements are applied to
type LoadOptions struct {
	Conn     database.ConnectionConfig
	Database string
}

// Loader applies an SQL stream to the server
type Loader interface {
	Load(ctx context.Context, opts LoadOptions, r io.Reader) error
}

// HotCopier takes and prepares a file-level copy of a running server. Backup
// returns only once every copy worker has finished.
type HotCopier interface {
	Name() string
	Backup(ctx context.Context, conn database.ConnectionConfig, targetDir string, parallelism int) error
	Prepare(ctx context.Context, targetDir string) error
}

// BinlogDecoder turns a binary log file into SQL
type BinlogDecoder interface {
	// Decode writes the events of path that occurred strictly before
	// stopBefore. A zero stopBefore decodes the whole file.
	Decode(ctx context.Context, path string, stopBefore time.Time, w io.Writer) error
	// FirstEventTime returns the timestamp of the first event in path. ok is
	// false when the file holds no events.
	FirstEventTime(ctx context.Context, path string) (t time.Time, ok bool, err error)
}

// ServerController stops and starts the local MySQL server
type ServerController interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
}

// Chowner changes ownership of a directory tree
type Chowner interface {
	Chown(ctx context.Context, dir, owner string) error
}

// Locator resolves a binary name to an executable path
type Locator interface {
	LookPath(name string) (string, error)
}
