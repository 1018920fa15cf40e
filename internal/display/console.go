package display

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"mysql-backup-coordinator/internal/errors"
)

const defaultWidth = 80

// Console writes user-facing output and asks for confirmation
type Console struct {
	out         io.Writer
	in          io.Reader
	colors      *ColorSystem
	interactive bool
	width       int
}

// NewConsole creates a console on out reading answers from in. It is
// interactive only when both are terminals.
func NewConsole(out io.Writer, in io.Reader, theme Theme, noColor bool) *Console {
	c := &Console{
		out:    out,
		in:     in,
		colors: NewColorSystem(out, theme, noColor),
		width:  defaultWidth,
	}

	outFile, outOK := out.(*os.File)
	inFile, inOK := in.(*os.File)
	c.interactive = outOK && inOK && IsTerminal(outFile) && IsTerminal(inFile)
	if outOK && IsTerminal(outFile) {
		if w, _, err := term.GetSize(int(outFile.Fd())); err == nil && w > 0 {
			c.width = w
		}
	}
	return c
}

// SetInteractive overrides terminal detection
func (c *Console) SetInteractive(v bool) {
	c.interactive = v
}

// Interactive reports whether the console can prompt
func (c *Console) Interactive() bool {
	return c.interactive
}

// Width returns the terminal width, 80 when unknown
func (c *Console) Width() int {
	return c.width
}

// Colors returns the console color system
func (c *Console) Colors() *ColorSystem {
	return c.colors
}

// Out returns the console writer
func (c *Console) Out() io.Writer {
	return c.out
}

func (c *Console) line(col Color, icon, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(c.out, c.colors.Sprint(col, icon+" "+msg))
}

func (c *Console) Success(format string, args ...interface{}) {
	c.line(ColorSuccess, "✓", format, args...)
}

func (c *Console) Warn(format string, args ...interface{}) {
	c.line(ColorWarning, "!", format, args...)
}

func (c *Console) Error(format string, args ...interface{}) {
	c.line(ColorError, "✗", format, args...)
}

func (c *Console) Info(format string, args ...interface{}) {
	c.line(ColorInfo, "•", format, args...)
}

// Rule prints a horizontal line across the terminal
func (c *Console) Rule() {
	fmt.Fprintln(c.out, c.colors.Sprint(ColorMuted, strings.Repeat("─", min(c.width, 100))))
}

// Confirm asks a yes/no question that defaults to no. Consoles that are
// not interactive proceed without asking. SIGINT, SIGTERM or ctx
// cancellation abort the prompt with an interruption error.
func (c *Console) Confirm(ctx context.Context, title string, details []string) (bool, error) {
	if !c.interactive {
		return true, nil
	}

	fmt.Fprintln(c.out, c.colors.Sprint(ColorWarning, "! "+title))
	for _, d := range details {
		fmt.Fprintln(c.out, "  "+d)
	}
	fmt.Fprint(c.out, c.colors.Sprint(ColorHeader, "Proceed? [y/N]: "))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	answers := make(chan string, 1)
	readErr := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(c.in).ReadString('\n')
		if err != nil && line == "" {
			readErr <- err
			return
		}
		answers <- line
	}()

	select {
	case <-sigs:
		fmt.Fprintln(c.out)
		return false, errors.NewAppError(errors.ErrorTypeInterruption, "confirmation interrupted", nil)
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, errors.NewAppError(errors.ErrorTypeInterruption, "confirmation interrupted", ctx.Err())
	case err := <-readErr:
		if err == io.EOF {
			return false, nil
		}
		return false, errors.NewAppError(errors.ErrorTypeExecution, "failed to read confirmation", err)
	case answer := <-answers:
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
