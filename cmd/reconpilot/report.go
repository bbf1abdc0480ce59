package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/gh0stshe11/reconpilot/internal/app/recon"
)

func newReportCmd(root *rootOptions, s streams) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Write a JSON report of a session's assets and findings",
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
			report := recon.BuildReport(restored, time.Now().UTC())

			var w io.Writer = s.out
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating report file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := report.WriteJSON(w); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
			if w != s.out {
				fmt.Fprint(s.err, pterm.Success.Sprintfln("report written to %s (%d assets, %d findings)",
					output, len(report.Assets), len(report.Findings)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "report file (default stdout)")
	return cmd
}
