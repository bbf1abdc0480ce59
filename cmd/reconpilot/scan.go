package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/gh0stshe11/reconpilot/internal/app/recon"
	"github.com/gh0stshe11/reconpilot/internal/config"
	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/eventbus/kafka"
)

type scanOptions struct {
	mode        string
	include     []string
	exclude     []string
	maxParallel int
	stealth     bool
	passiveOnly bool
	timeout     time.Duration
	quiet       bool
	noConsole   bool
}

// apply pushes explicitly set scan flags onto the loader.
func (o *scanOptions) apply(cmd *cobra.Command) func(*config.ViperLoader) {
	return func(l *config.ViperLoader) {
		flags := cmd.Flags()
		if flags.Changed("include") {
			l.Set("scope.include", o.include)
		}
		if flags.Changed("exclude") {
			l.Set("scope.exclude", o.exclude)
		}
		if flags.Changed("max-parallel") {
			l.Set("general.max_parallel", o.maxParallel)
		}
		if flags.Changed("stealth") {
			l.Set("general.stealth_mode", o.stealth)
		}
		if flags.Changed("passive-only") {
			l.Set("general.passive_only", o.passiveOnly)
		}
		if flags.Changed("timeout") {
			l.Set("general.task_timeout", o.timeout)
		}
	}
}

func newScanCmd(root *rootOptions, s streams) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan <target>",
		Short: "Start a reconnaissance scan against a domain or address",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := domain.ParseMode(opts.mode)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, root, s, opts.apply(cmd))
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			sched, err := a.orch.StartScan(ctx, recon.ScanRequest{Target: args[0], Mode: mode})
			if err != nil {
				return err
			}
			fmt.Fprint(s.out, pterm.Info.Sprintfln("session %s started for %s (%s)", sched.SessionID(), args[0], mode))
			return runScan(ctx, a, sched, s, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.mode, "mode", string(domain.ModeAuto), "scan mode (auto, interactive, passive)")
	f.StringSliceVar(&opts.include, "include", nil, "in-scope host patterns (exact, *.wildcard, CIDR, re:regex)")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "out-of-scope host patterns; exclusions win over inclusions")
	f.IntVar(&opts.maxParallel, "max-parallel", 3, "maximum tools running at once")
	f.BoolVar(&opts.stealth, "stealth", false, "run one tool at a time with a delay between dispatches")
	f.BoolVar(&opts.passiveOnly, "passive-only", false, "only run tools that do not touch the target")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "default per-tool timeout")
	f.BoolVar(&opts.quiet, "quiet", false, "do not print progress events")
	f.BoolVar(&opts.noConsole, "no-console", false, "do not read operator commands from stdin")
	return cmd
}

// runScan drives sched to completion while rendering progress, forwarding
// events to Kafka when enabled and accepting operator commands on stdin.
func runScan(ctx context.Context, a *app, sched *recon.Scheduler, s streams, opts *scanOptions) error {
	// Subscriptions outlive the signal context so the tail of the scan is
	// still rendered and forwarded after an interrupt.
	subCtx, cancelSubs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSubs()

	var wg sync.WaitGroup
	if !opts.quiet {
		sub, err := a.bus.Subscribe(subCtx, events.AllTopics)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for evt := range sub.Events() {
				renderEvent(s.out, evt)
			}
		}()
	}

	if a.cfg.Kafka.Enabled {
		fwd, err := a.newForwarder(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := fwd.Close(); err != nil {
				a.log.Warn(ctx, "closing kafka producer", "error", err)
			}
		}()
		sub, err := a.bus.Subscribe(subCtx, events.AllTopics)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Drains until the subscription is closed.
			_ = fwd.Run(context.WithoutCancel(ctx), sub)
		}()
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !opts.noConsole {
		consoleCtx, cancelConsole := context.WithCancel(runCtx)
		defer cancelConsole()
		c := &console{ctl: sched, out: s.out}
		go c.run(consoleCtx, s.in)
		go func() {
			<-sched.Done()
			cancelConsole()
		}()
	}

	runErr := sched.Run(runCtx)
	cancelSubs()
	wg.Wait()

	restored, err := a.orch.LoadSession(context.WithoutCancel(ctx), sched.SessionID())
	if err != nil {
		return errors.Join(runErr, err)
	}
	st := restored.Status()
	renderStatus(s.out, st)

	switch {
	case errors.Is(runErr, recon.ErrScanInterrupted):
		fmt.Fprint(s.out, pterm.Warning.Sprintfln("scan interrupted; continue with: reconpilot sessions resume %s", st.SessionID))
		return runErr
	case runErr != nil:
		return runErr
	case st.SessionStatus == domain.SessionStatusAborted:
		fmt.Fprint(s.out, pterm.Warning.Sprintln("scan aborted"))
		return recon.ErrScanAborted
	}
	return nil
}

func (a *app) newForwarder(ctx context.Context) (*kafka.Forwarder, error) {
	kcfg := &kafka.Config{
		Brokers:        a.cfg.Kafka.Brokers,
		Topic:          a.cfg.Kafka.Topic,
		ClientID:       a.cfg.Kafka.ClientID,
		ConnectTimeout: a.cfg.Kafka.ConnectTimeout,
	}
	producer, err := kafka.ConnectWithRetry(ctx, kcfg, kafka.NewProducer, a.log)
	if err != nil {
		return nil, fmt.Errorf("connecting to kafka: %w", err)
	}
	metrics, err := kafka.NewForwarderMetrics(a.providers.Meter)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("creating forwarder metrics: %w", err)
	}
	return kafka.NewForwarder(producer, kcfg.Topic, a.log, a.tracer, metrics), nil
}
