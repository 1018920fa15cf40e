package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mysql-backup-coordinator/internal/database"
	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
)

// ExecLocator resolves binaries through PATH
type ExecLocator struct{}

func (ExecLocator) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Runner invokes the external tools as child processes
type Runner struct {
	paths   Paths
	locator Locator
	logger  *logging.Logger
}

// NewRunner creates a runner for the given tool paths
func NewRunner(paths Paths, logger *logging.Logger) *Runner {
	paths.SetDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Runner{paths: paths, locator: ExecLocator{}, logger: logger}
}

// WithLocator replaces the locator used to resolve tools
func (r *Runner) WithLocator(l Locator) *Runner {
	r.locator = l
	return r
}

// Paths returns the configured tool paths
func (r *Runner) Paths() Paths {
	return r.paths
}

// Locator returns the locator used to resolve tools
func (r *Runner) Locator() Locator {
	return r.locator
}

type invocation struct {
	tool   string
	args   []string
	env    []string
	stdin  io.Reader
	stdout io.Writer
}

func (r *Runner) run(ctx context.Context, inv invocation) error {
	path, err := r.locator.LookPath(inv.tool)
	if err != nil {
		return errors.NewToolUnavailableError(inv.tool, err)
	}

	cmd := exec.CommandContext(ctx, path, inv.args...)
	cmd.Env = append(os.Environ(), inv.env...)
	cmd.Stdin = inv.stdin
	cmd.Stdout = inv.stdout
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	start := time.Now()
	err = cmd.Run()
	r.logger.LogToolInvocation(inv.tool, inv.args, time.Since(start), err)

	if err != nil {
		if ctx.Err() != nil {
			return errors.NewAppError(errors.ErrorTypeInterruption, fmt.Sprintf("%s canceled", inv.tool), ctx.Err())
		}
		msg := fmt.Sprintf("%s failed", inv.tool)
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			msg = fmt.Sprintf("%s failed: %s", inv.tool, tail)
		}
		return errors.WrapError(err, msg)
	}
	return nil
}

// connArgs returns the connection flags shared by the mysql client tools.
// The password travels in MYSQL_PWD rather than on the command line.
func connArgs(c database.ConnectionConfig) []string {
	var args []string
	if c.Socket != "" {
		args = append(args, "--socket="+c.Socket)
	} else {
		args = append(args, "--host="+c.Host, "--port="+strconv.Itoa(c.Port))
	}
	if c.Username != "" {
		args = append(args, "--user="+c.Username)
	}
	return args
}

func passwordEnv(c database.ConnectionConfig) []string {
	if c.Password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + c.Password}
}

// DumpArgs returns the mysqldump arguments for a consistent, non-locking dump
func DumpArgs(opts DumpOptions) []string {
	args := []string{
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
	}
	args = append(args, connArgs(opts.Conn)...)
	if opts.Database != "" {
		args = append(args, "--databases", opts.Database)
	} else {
		args = append(args, "--all-databases")
	}
	return args
}

// Dump runs mysqldump into w
func (r *Runner) Dump(ctx context.Context, opts DumpOptions, w io.Writer) error {
	return r.run(ctx, invocation{
		tool:   r.paths.Mysqldump,
		args:   DumpArgs(opts),
		env:    passwordEnv(opts.Conn),
		stdout: w,
	})
}

// Load pipes rd into the mysql client
func (r *Runner) Load(ctx context.Context, opts LoadOptions, rd io.Reader) error {
	args := connArgs(opts.Conn)
	if opts.Database != "" {
		args = append(args, opts.Database)
	}
	return r.run(ctx, invocation{
		tool:   r.paths.Mysql,
		args:   args,
		env:    passwordEnv(opts.Conn),
		stdin:  rd,
		stdout: io.Discard,
	})
}

// StopDatetimeLayout is the format mysqlbinlog expects for --stop-datetime
const StopDatetimeLayout = "2006-01-02 15:04:05"

// Decode runs mysqlbinlog on path, stopping before stopBefore when set
func (r *Runner) Decode(ctx context.Context, path string, stopBefore time.Time, w io.Writer) error {
	var args []string
	if !stopBefore.IsZero() {
		args = append(args, "--stop-datetime="+stopBefore.In(time.Local).Format(StopDatetimeLayout))
	}
	args = append(args, path)
	return r.run(ctx, invocation{tool: r.paths.Mysqlbinlog, args: args, stdout: w})
}

// FirstEventTime decodes path until the first event header and returns its time
func (r *Runner) FirstEventTime(ctx context.Context, path string) (time.Time, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := r.run(ctx, invocation{tool: r.paths.Mysqlbinlog, args: []string{path}, stdout: pw})
		pw.CloseWithError(err)
		done <- err
	}()

	ts, ok := ParseFirstEventTime(pr)
	cancel()
	pr.Close()
	err := <-done

	if ok {
		return ts, true, nil
	}
	if err != nil && errors.GetErrorType(err) != errors.ErrorTypeInterruption {
		return time.Time{}, false, err
	}
	return time.Time{}, false, nil
}

var eventHeaderPattern = regexp.MustCompile(`^#(\d{2})(\d{2})(\d{2})\s+(\d{1,2}):(\d{2}):(\d{2})\s+server id`)

// ParseFirstEventTime scans mysqlbinlog output for the first event header,
// for example "#240115 9:30:00 server id 1 end_log_pos 126", in local time.
func ParseFirstEventTime(r io.Reader) (time.Time, bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		m := eventHeaderPattern.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		n := make([]int, 6)
		for i := range n {
			n[i], _ = strconv.Atoi(m[i+1])
		}
		return time.Date(2000+n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], 0, time.Local), true
	}
	return time.Time{}, false
}

// Chown runs chown -R owner dir
func (r *Runner) Chown(ctx context.Context, dir, owner string) error {
	if owner == "" {
		return nil
	}
	return r.run(ctx, invocation{tool: r.paths.Chown, args: []string{"-R", owner, dir}, stdout: io.Discard})
}

// Shell runs command through sh -c
func (r *Runner) Shell(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return errors.NewValidationError("empty command", nil)
	}
	return r.run(ctx, invocation{tool: "sh", args: []string{"-c", command}, stdout: io.Discard})
}

// ShellController stops and starts the server with configured shell commands
type ShellController struct {
	runner       *Runner
	stopCommand  string
	startCommand string
}

// NewShellController creates a controller, defaulting to systemctl
func NewShellController(runner *Runner, stopCommand, startCommand string) *ShellController {
	if stopCommand == "" {
		stopCommand = "systemctl stop mysql"
	}
	if startCommand == "" {
		startCommand = "systemctl start mysql"
	}
	return &ShellController{runner: runner, stopCommand: stopCommand, startCommand: startCommand}
}

func (c *ShellController) Stop(ctx context.Context) error {
	return c.runner.Shell(ctx, c.stopCommand)
}

func (c *ShellController) Start(ctx context.Context) error {
	return c.runner.Shell(ctx, c.startCommand)
}

// XtrabackupCopier drives xtrabackup or its MariaDB fork
type XtrabackupCopier struct {
	runner *Runner
	binary string
}

// ResolveHotCopier returns the first available hot-copy tool, trying
// xtrabackup then mariabackup.
func ResolveHotCopier(runner *Runner, locator Locator) (HotCopier, error) {
	var lastErr error
	for _, bin := range []string{runner.paths.Xtrabackup, runner.paths.Mariabackup} {
		if bin == "" {
			continue
		}
		if _, err := locator.LookPath(bin); err != nil {
			lastErr = err
			continue
		}
		return &XtrabackupCopier{runner: runner, binary: bin}, nil
	}
	return nil, errors.NewToolUnavailableError("xtrabackup", lastErr)
}

func (x *XtrabackupCopier) Name() string { return x.binary }

// Backup runs the copy phase with --parallel workers. The password is passed
// through MYSQL_PWD like the client tools.
func (x *XtrabackupCopier) Backup(ctx context.Context, conn database.ConnectionConfig, targetDir string, parallelism int) error {
	if parallelism < 1 {
		parallelism = 1
	}
	args := []string{"--backup", "--target-dir=" + targetDir, "--parallel=" + strconv.Itoa(parallelism)}
	args = append(args, connArgs(conn)...)
	return x.runner.run(ctx, invocation{tool: x.binary, args: args, env: passwordEnv(conn), stdout: io.Discard})
}

// Prepare applies the redo log so the copy can be started on its own
func (x *XtrabackupCopier) Prepare(ctx context.Context, targetDir string) error {
	return x.runner.run(ctx, invocation{
		tool:   x.binary,
		args:   []string{"--prepare", "--target-dir=" + targetDir},
		stdout: io.Discard,
	})
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
