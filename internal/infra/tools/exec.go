package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

// killGrace bounds how long a cancelled process may keep its pipes open.
const killGrace = 5 * time.Second

const stderrTail = 512

// RunResult is the captured outcome of one process.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner starts path with args and waits for it. It returns whatever output
// was captured even when the process fails.
type Runner func(ctx context.Context, path string, args []string) (RunResult, error)

// ExecRunner runs the binary directly, without a shell. The process is killed
// when ctx is done.
func ExecRunner(ctx context.Context, path string, args []string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	return res, err
}

// validateTarget refuses values a tool could read as a flag.
func validateTarget(target string) error {
	switch {
	case strings.TrimSpace(target) == "":
		return fmt.Errorf("%w: empty target", domain.ErrInvalidRequest)
	case strings.HasPrefix(target, "-"):
		return fmt.Errorf("%w: target %q starts with '-'", domain.ErrInvalidRequest, target)
	case strings.ContainsAny(target, "\x00\n\r"):
		return fmt.Errorf("%w: target contains control characters", domain.ErrInvalidRequest)
	}
	return nil
}

// execAdapter runs a command line tool and parses its stdout.
type execAdapter struct {
	info   domain.ToolInfo
	argv   argvFunc
	extra  []string
	parse  parseFunc
	runner Runner
	path   func(name string) (string, bool)

	logger *logger.Logger
	tracer trace.Tracer
}

var _ domain.ToolAdapter = (*execAdapter)(nil)

// args builds the argument list with configured extras appended last.
func (a *execAdapter) args(target string, params map[string]string) []string {
	return append(a.argv(target, params), a.extra...)
}

func (a *execAdapter) Execute(ctx context.Context, target string, params map[string]string) (domain.Discovery, error) {
	name := a.info.Name
	if err := validateTarget(target); err != nil {
		return domain.Discovery{}, domain.NewAdapterError(name, target, err)
	}
	path, ok := a.path(name)
	if !ok {
		return domain.Discovery{}, domain.NewAdapterError(name, target,
			fmt.Errorf("%w: binary %q not on PATH", domain.ErrToolUnavailable, a.info.Binary))
	}

	ctx, span := a.tracer.Start(ctx, "tool_adapter.execute",
		trace.WithAttributes(
			attribute.String("tool", name),
			attribute.String("target", target),
		))
	defer span.End()

	args := a.args(target, params)
	start := time.Now()
	res, runErr := a.runner(ctx, path, args)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		span.SetStatus(codes.Error, "cancelled")
		return domain.Discovery{}, domain.NewAdapterError(name, target, cause)
	}

	disc, err := a.parse(target, res.Stdout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable output")
		return domain.Discovery{}, domain.NewAdapterError(name, target, fmt.Errorf("parsing output: %w", err))
	}

	if runErr != nil {
		if disc.IsEmpty() {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, "tool failed")
			ae := domain.NewAdapterError(name, target, withStderr(runErr, res.Stderr))
			ae.ExitCode = res.ExitCode
			return domain.Discovery{}, ae
		}
		a.logger.Warn(ctx, "tool exited with an error but produced output",
			"target", target,
			"exit_code", res.ExitCode,
			"error", runErr,
		)
	}

	span.SetAttributes(
		attribute.Int("assets", len(disc.Assets)),
		attribute.Int("findings", len(disc.Findings)),
	)
	a.logger.Debug(ctx, "tool finished",
		"target", target,
		"duration", elapsed,
		"assets", len(disc.Assets),
		"findings", len(disc.Findings),
	)
	return disc, nil
}

func withStderr(err error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return err
	}
	if len(msg) > stderrTail {
		msg = "..." + msg[len(msg)-stderrTail:]
	}
	return fmt.Errorf("%w: %s", err, msg)
}
