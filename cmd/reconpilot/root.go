package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gh0stshe11/reconpilot/internal/config"
)

var errUsage = errors.New("usage error")

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	logLevel   string
	storage    string
	storageDir string
}

// apply copies explicitly set persistent flags onto the loader.
func (o *rootOptions) apply(cmd *cobra.Command, l *config.ViperLoader) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		l.Set("log.level", o.logLevel)
	}
	if flags.Changed("storage") {
		l.Set("storage.driver", o.storage)
	}
	if flags.Changed("storage-dir") {
		l.Set("storage.dir", o.storageDir)
	}
}

func newRootCmd(s streams) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "reconpilot",
		Short: "Automated reconnaissance orchestrator",
		Long: `reconpilot chains recon tools against a target: each tool's discoveries
are fed through a rule catalog that schedules the next tools, bounded by the
configured scope, until nothing new is found.

Examples:
  reconpilot scan example.com
  reconpilot scan example.com --mode interactive --exclude vpn.example.com
  reconpilot sessions list
  reconpilot report <session-id> --output report.json`,
		Version:       build,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (YAML); RECONPILOT_* env vars override it")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.storage, "storage", "file", "session store (memory, file, postgres)")
	pf.StringVar(&opts.storageDir, "storage-dir", "", "directory for the file session store")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	root.AddCommand(
		newScanCmd(opts, s),
		newSessionsCmd(opts, s),
		newReportCmd(opts, s),
		newToolsCmd(opts, s),
	)
	return root
}

// exactArgs is cobra.ExactArgs with errors classified as usage errors.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		return nil
	}
}
