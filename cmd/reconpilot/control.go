package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/gh0stshe11/reconpilot/internal/app/recon"
)

// scanControl is the subset of the scheduler the operator console drives.
type scanControl interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Skip(ctx context.Context, taskID uuid.UUID) error
	Retry(ctx context.Context, taskID uuid.UUID) error
	Abort(ctx context.Context) error
	Decide(ctx context.Context, requestID uuid.UUID, approve bool) error
	Status(ctx context.Context) (recon.Status, error)
}

var _ scanControl = (*recon.Scheduler)(nil)

type verb string

const (
	verbPause   verb = "pause"
	verbResume  verb = "resume"
	verbSkip    verb = "skip"
	verbRetry   verb = "retry"
	verbAbort   verb = "abort"
	verbStatus  verb = "status"
	verbApprove verb = "approve"
	verbReject  verb = "reject"
	verbHelp    verb = "help"
)

const consoleHelp = `commands:
  status                 show progress
  pause | resume         hold or release dispatch
  skip <task-id>         skip a task (cancels it when running)
  retry <task-id>        requeue a failed or skipped task
  approve <request-id>   approve a pending confirmation
  reject <request-id>    reject a pending confirmation
  abort                  stop the scan`

type command struct {
	verb verb
	id   uuid.UUID
}

// parseCommand reads one console line. Blank lines yield a zero command.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	v := verb(strings.ToLower(fields[0]))
	switch v {
	case verbPause, verbResume, verbAbort, verbStatus, verbHelp:
		if len(fields) != 1 {
			return command{}, fmt.Errorf("%s takes no arguments", v)
		}
		return command{verb: v}, nil
	case verbSkip, verbRetry, verbApprove, verbReject:
		if len(fields) != 2 {
			return command{}, fmt.Errorf("%s needs exactly one id", v)
		}
		id, err := uuid.Parse(fields[1])
		if err != nil {
			return command{}, fmt.Errorf("invalid id %q: %w", fields[1], err)
		}
		return command{verb: v, id: id}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q (try help)", fields[0])
	}
}

// console reads operator commands and applies them to a running scan.
type console struct {
	ctl scanControl
	out io.Writer
}

// run processes lines until in is exhausted or ctx ends.
func (c *console) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.handle(ctx, line); err != nil {
				printError(c.out, err)
			}
		}
	}
}

func (c *console) handle(ctx context.Context, line string) error {
	cmd, err := parseCommand(line)
	if err != nil {
		return err
	}

	switch cmd.verb {
	case "":
		return nil
	case verbHelp:
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case verbStatus:
		st, err := c.ctl.Status(ctx)
		if err != nil {
			return err
		}
		renderStatus(c.out, st)
		return nil
	case verbPause:
		err = c.ctl.Pause(ctx)
	case verbResume:
		err = c.ctl.Resume(ctx)
	case verbSkip:
		err = c.ctl.Skip(ctx, cmd.id)
	case verbRetry:
		err = c.ctl.Retry(ctx, cmd.id)
	case verbAbort:
		err = c.ctl.Abort(ctx)
	case verbApprove:
		err = c.ctl.Decide(ctx, cmd.id, true)
	case verbReject:
		err = c.ctl.Decide(ctx, cmd.id, false)
	}
	if err != nil {
		return err
	}
	printOK(c.out, string(cmd.verb))
	return nil
}
