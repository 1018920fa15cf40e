// Package toolchaintest provides in-memory stand-ins for the external tools
// so backup, restore and replay paths can be exercised without a server.
package toolchaintest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/toolchain"
)

// Server is a fake MySQL instance that speaks a tiny line protocol:
//
//	DATABASE <name>         select (and create) a database
//	TABLE <name>            drop and recreate a table in the current database
//	ROW <table> <value>     append a row
//
// Dump emits that protocol and Load applies it, so a dump loaded back into
// the server reproduces its state.
type Server struct {
	mu        sync.Mutex
	databases map[string]map[string][]string

	// DumpEmpty makes Dump succeed without writing anything.
	DumpEmpty bool
	// DumpErr and LoadErr are returned by Dump and Load when set.
	DumpErr error
	LoadErr error

	Dumps []toolchain.DumpOptions
	Loads []toolchain.LoadOptions
}

// NewServer returns an empty fake server
func NewServer() *Server {
	return &Server{databases: make(map[string]map[string][]string)}
}

// Insert appends rows to db.table, creating both as needed
func (s *Server) Insert(db, table string, rows ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(db, table)
	s.databases[db][table] = append(s.databases[db][table], rows...)
}

// CreateDatabase creates db without tables if it does not exist
func (s *Server) CreateDatabase(db string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.databases[db] == nil {
		s.databases[db] = make(map[string][]string)
	}
}

// DropDatabase removes db
func (s *Server) DropDatabase(db string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.databases, db)
}

// HasDatabase reports whether db exists
func (s *Server) HasDatabase(db string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.databases[db]
	return ok
}

// Snapshot returns row counts per database and table
func (s *Server) Snapshot() map[string]map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]int, len(s.databases))
	for db, tables := range s.databases {
		out[db] = make(map[string]int, len(tables))
		for t, rows := range tables {
			out[db][t] = len(rows)
		}
	}
	return out
}

func (s *Server) table(db, table string) {
	if s.databases[db] == nil {
		s.databases[db] = make(map[string][]string)
	}
	if _, ok := s.databases[db][table]; !ok {
		s.databases[db][table] = nil
	}
}

// Dump implements toolchain.Dumper
func (s *Server) Dump(ctx context.Context, opts toolchain.DumpOptions, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Dumps = append(s.Dumps, opts)
	if s.DumpErr != nil {
		return s.DumpErr
	}
	if s.DumpEmpty {
		return nil
	}

	var names []string
	if opts.Database != "" {
		if _, ok := s.databases[opts.Database]; !ok {
			return fmt.Errorf("mysqldump: Got error: 1049: Unknown database '%s'", opts.Database)
		}
		names = []string{opts.Database}
	} else {
		for db := range s.databases {
			names = append(names, db)
		}
		sort.Strings(names)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "-- fake dump")
	for _, db := range names {
		fmt.Fprintf(bw, "DATABASE %s\n", db)
		tables := make([]string, 0, len(s.databases[db]))
		for t := range s.databases[db] {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			fmt.Fprintf(bw, "TABLE %s\n", t)
			for _, row := range s.databases[db][t] {
				fmt.Fprintf(bw, "ROW %s %s\n", t, row)
			}
		}
	}
	return bw.Flush()
}

// Load implements toolchain.Loader
func (s *Server) Load(ctx context.Context, opts toolchain.LoadOptions, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Loads = append(s.Loads, opts)
	if s.LoadErr != nil {
		return s.LoadErr
	}

	current := opts.Database
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.SplitN(strings.TrimSpace(sc.Text()), " ", 3)
		switch fields[0] {
		case "DATABASE":
			current = fields[1]
			if s.databases[current] == nil {
				s.databases[current] = make(map[string][]string)
			}
		case "TABLE":
			if current == "" {
				return fmt.Errorf("ERROR 1046 (3D000): No database selected")
			}
			s.table(current, fields[1])
			s.databases[current][fields[1]] = nil
		case "ROW":
			if current == "" {
				return fmt.Errorf("ERROR 1046 (3D000): No database selected")
			}
			s.table(current, fields[1])
			value := ""
			if len(fields) == 3 {
				value = fields[2]
			}
			s.databases[current][fields[1]] = append(s.databases[current][fields[1]], value)
		}
	}
	return sc.Err()
}

// BinlogEvent is one entry of a fake binary log
type BinlogEvent struct {
	At        time.Time
	Statement string
}

// WriteBinlog writes events to path in the format BinlogDecoder reads
func WriteBinlog(path string, events []BinlogEvent) error {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "%s|%s\n", e.At.UTC().Format(time.RFC3339Nano), e.Statement)
	}
	return os.WriteFile(path, []byte(b.String()), 0o640)
}

// BinlogDecoder decodes files written by WriteBinlog, honouring the same
// exclusive second-resolution stop bound as mysqlbinlog.
type BinlogDecoder struct {
	mu      sync.Mutex
	Decoded []string
	Err     error
}

func (d *BinlogDecoder) Decode(ctx context.Context, path string, stopBefore time.Time, w io.Writer) error {
	d.mu.Lock()
	d.Decoded = append(d.Decoded, filepath.Base(path))
	d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}

	events, err := readBinlog(path)
	if err != nil {
		return err
	}
	for _, e := range events {
		if !stopBefore.IsZero() && !e.At.Truncate(time.Second).Before(stopBefore) {
			break
		}
		if _, err := fmt.Fprintln(w, e.Statement); err != nil {
			return err
		}
	}
	return nil
}

func (d *BinlogDecoder) FirstEventTime(ctx context.Context, path string) (time.Time, bool, error) {
	events, err := readBinlog(path)
	if err != nil || len(events) == 0 {
		return time.Time{}, false, err
	}
	return events[0].At, true, nil
}

func readBinlog(path string) ([]BinlogEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []BinlogEvent
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		ts, stmt, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		events = append(events, BinlogEvent{At: at, Statement: stmt})
	}
	return events, nil
}

// HotCopier writes Files into the target directory on Backup and marks it
// prepared on Prepare.
type HotCopier struct {
	mu         sync.Mutex
	Files      map[string]string
	BackupErr  error
	PrepareErr error
	Calls      []string
	Workers    int
}

func (h *HotCopier) Name() string { return "xtrabackup" }

func (h *HotCopier) Backup(ctx context.Context, conn database.ConnectionConfig, targetDir string, parallelism int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, "backup")
	h.Workers = parallelism
	if h.BackupErr != nil {
		return h.BackupErr
	}
	for name, content := range h.Files {
		p := filepath.Join(targetDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o640); err != nil {
			return err
		}
	}
	return nil
}

func (h *HotCopier) Prepare(ctx context.Context, targetDir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, "prepare")
	if h.PrepareErr != nil {
		return h.PrepareErr
	}
	return os.WriteFile(filepath.Join(targetDir, "xtrabackup_checkpoints"), []byte("backup_type = full-prepared\n"), 0o640)
}

// Controller records stop and start requests
type Controller struct {
	mu       sync.Mutex
	Calls    []string
	StopErr  error
	StartErr error
	OnStart  func()
}

func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, "stop")
	return c.StopErr
}

func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.Calls = append(c.Calls, "start")
	err, hook := c.StartErr, c.OnStart
	c.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return err
}

// Chowner records ownership changes
type Chowner struct {
	Calls []string
	Err   error
}

func (c *Chowner) Chown(ctx context.Context, dir, owner string) error {
	c.Calls = append(c.Calls, owner+":"+dir)
	return c.Err
}

// Locator reports only the listed tools as installed
type Locator map[string]bool

// NewLocator returns a locator that finds the given tool names
func NewLocator(tools ...string) Locator {
	l := make(Locator, len(tools))
	for _, t := range tools {
		l[t] = true
	}
	return l
}

func (l Locator) LookPath(name string) (string, error) {
	if l[name] {
		return "/usr/bin/" + name, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}
