package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

func parseSessionID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid session id %q", domain.ErrInvalidRequest, s)
	}
	return id, nil
}

func newSessionsCmd(root *rootOptions, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, inspect and resume stored scan sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(root, s),
		newSessionsShowCmd(root, s),
		newSessionsResumeCmd(root, s),
	)
	return cmd
}

func newSessionsListCmd(root *rootOptions, s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, root, s, nil)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			sessions, err := a.orch.ListSessions(ctx)
			if err != nil {
				return err
			}
			renderSessions(s.out, sessions)
			return nil
		},
	}
}

func newSessionsShowCmd(root *rootOptions, s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the progress and results of a stored session",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, root, s, nil)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			restored, err := a.orch.LoadSession(ctx, id)
			if err != nil {
				return err
			}
			renderStatus(s.out, restored.Status())
			return nil
		},
	}
}

func newSessionsResumeCmd(root *rootOptions, s streams) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continue an interrupted or paused session",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, root, s, nil)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			sched, err := a.orch.ResumeSession(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprint(s.out, pterm.Info.Sprintfln("resuming session %s", id))
			return runScan(ctx, a, sched, s, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "do not print progress events")
	cmd.Flags().BoolVar(&opts.noConsole, "no-console", false, "do not read operator commands from stdin")
	return cmd
}
