// Command reconpilot runs and inspects automated reconnaissance scans.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/gh0stshe11/reconpilot/internal/app/recon"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

var build = "develop"

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitBadRequest = 2
	exitCorrupted  = 3
)

func main() {
	_, _ = maxprocs.Set()
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// streams are the process's standard streams, injected for tests.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	cmd := newRootCmd(streams{in: in, out: out, err: errOut})
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	err := cmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, recon.ErrScanAborted) {
		fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrSessionCorruption):
		return exitCorrupted
	case errors.Is(err, domain.ErrScopeViolation),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, errUsage):
		return exitBadRequest
	default:
		return exitFailure
	}
}
