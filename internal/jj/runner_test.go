package jj

import (
	"context"
	"strings"

	"github.com/njaremko/almighty-push/internal/execx"
)

// stub maps a command-line substring to canned output. The first matching
// stub wins.
type stub struct {
	match  string
	stdout string
	exit   int
	stderr string
}

type fakeRunner struct {
	stubs []stub
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (execx.Result, error) {
	line := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, line)
	for _, s := range f.stubs {
		if strings.Contains(line, s.match) {
			return execx.Result{ExitCode: s.exit, Stdout: s.stdout, Stderr: s.stderr}, nil
		}
	}
	return execx.Result{ExitCode: 1, Stderr: "no stub for: " + line}, nil
}
