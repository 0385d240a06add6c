// Package ui prints styled status lines for the CLI.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// Printer writes progress to out and diagnostics to errw.
type Printer struct {
	out     io.Writer
	errw    io.Writer
	verbose bool
}

// New returns a Printer. Verbose enables Verbosef output.
func New(out, errw io.Writer, verbose bool) *Printer {
	return &Printer{out: out, errw: errw, verbose: verbose}
}

// Discard returns a Printer that swallows all output, for tests.
func Discard() *Printer {
	return New(io.Discard, io.Discard, false)
}

// Headerf prints a bold section heading.
func (p *Printer) Headerf(format string, args ...any) {
	fmt.Fprintln(p.out, headerStyle.Render(fmt.Sprintf(format, args...)))
}

// Infof prints a plain status line.
func (p *Printer) Infof(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Successf prints a line for a completed action.
func (p *Printer) Successf(format string, args ...any) {
	fmt.Fprintln(p.out, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Warnf prints a warning to stderr. Warnings never abort the run.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintln(p.errw, warnStyle.Render("warning: "+fmt.Sprintf(format, args...)))
}

// Errorf prints an error line to stderr.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintln(p.errw, errorStyle.Render("error: "+fmt.Sprintf(format, args...)))
}

// Verbosef prints a dim diagnostic line when verbose output is on.
func (p *Printer) Verbosef(format string, args ...any) {
	if !p.verbose {
		return
	}
	fmt.Fprintln(p.errw, dimStyle.Render(fmt.Sprintf(format, args...)))
}
