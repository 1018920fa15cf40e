// Package display renders coordinator output for terminals: colored status
// lines, artifact tables and the confirmation gate for destructive restores.
package display

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a semantic color
type Color int

const (
	ColorNone Color = iota
	ColorSuccess
	ColorWarning
	ColorError
	ColorInfo
	ColorMuted
	ColorHeader
)

// Theme maps semantic colors to terminal attributes
type Theme map[Color][]color.Attribute

// DarkTheme is the default palette
func DarkTheme() Theme {
	return Theme{
		ColorSuccess: {color.FgHiGreen},
		ColorWarning: {color.FgHiYellow},
		ColorError:   {color.FgHiRed, color.Bold},
		ColorInfo:    {color.FgCyan},
		ColorMuted:   {color.FgWhite},
		ColorHeader:  {color.FgHiBlue, color.Bold},
	}
}

// LightTheme suits light terminal backgrounds
func LightTheme() Theme {
	return Theme{
		ColorSuccess: {color.FgGreen},
		ColorWarning: {color.FgYellow},
		ColorError:   {color.FgRed, color.Bold},
		ColorInfo:    {color.FgBlue},
		ColorMuted:   {color.FgMagenta},
		ColorHeader:  {color.FgBlue, color.Bold},
	}
}

// ThemeByName returns the named theme, dark for anything unknown
func ThemeByName(name string) Theme {
	if name == "light" {
		return LightTheme()
	}
	return DarkTheme()
}

// ColorSystem applies a theme when the output supports color
type ColorSystem struct {
	enabled bool
	theme   Theme
}

// NewColorSystem detects color support on out. noColor forces plain text.
func NewColorSystem(out io.Writer, theme Theme, noColor bool) *ColorSystem {
	return &ColorSystem{enabled: !noColor && SupportsColor(out), theme: theme}
}

// SupportsColor reports whether out is a color-capable terminal. NO_COLOR
// and TERM=dumb disable color.
func SupportsColor(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok || !IsTerminal(f) {
		return false
	}
	if termenv.EnvNoColor() || os.Getenv("TERM") == "dumb" {
		return false
	}
	return termenv.NewOutput(f).ColorProfile() != termenv.Ascii
}

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Enabled reports whether colors are applied
func (cs *ColorSystem) Enabled() bool {
	return cs.enabled
}

// Sprint colors text
func (cs *ColorSystem) Sprint(c Color, text string) string {
	attrs, ok := cs.theme[c]
	if !cs.enabled || !ok {
		return text
	}
	col := color.New(attrs...)
	col.EnableColor()
	return col.Sprint(text)
}
