// Package execx runs external commands and reports their outcome.
// It carries no policy: callers decide what a non-zero exit means.
package execx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Result holds the outcome of one command invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Combined returns stdout followed by stderr. Some tools (jj git push among
// them) report created branches on stderr, so scrapers want both streams.
func (r Result) Combined() string { return r.Stdout + r.Stderr }

// Runner executes a single external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Local runs commands on the local machine via os/exec.
type Local struct {
	// Dir is the working directory for commands; empty means inherit.
	Dir string
	// Trace, when set, receives the full command line before each run.
	Trace func(cmdline string)
}

// Run executes name with args and returns its exit code and output.
// A non-zero exit is not an error; err is non-nil only when the command
// could not be started or the context was cancelled mid-run.
func (l *Local) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if l.Trace != nil {
		l.Trace(name + " " + strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
