package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newToolsCmd(root *rootOptions, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every known tool with its settings and availability",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				a, err := newApp(ctx, cmd, root, s, nil)
				if err != nil {
					return err
				}
				defer a.close(context.WithoutCancel(ctx))

				renderTools(s.out, a.catalog.All())
				return nil
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Report enabled tools whose binaries are missing from PATH",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				a, err := newApp(ctx, cmd, root, s, nil)
				if err != nil {
					return err
				}
				defer a.close(context.WithoutCancel(ctx))

				a.catalog.Refresh()
				var missing []string
				for _, t := range a.catalog.All() {
					if !t.Enabled {
						continue
					}
					if path, ok := a.catalog.Path(t.Name); ok {
						fmt.Fprint(s.out, pterm.Success.Sprintfln("%-12s %s", t.Name, path))
						continue
					}
					missing = append(missing, t.Name)
					fmt.Fprint(s.out, pterm.Warning.Sprintfln("%-12s %s not found", t.Name, t.Binary))
				}
				if len(missing) > 0 {
					return fmt.Errorf("missing tools: %s", strings.Join(missing, ", "))
				}
				return nil
			},
		},
	)
	return cmd
}
