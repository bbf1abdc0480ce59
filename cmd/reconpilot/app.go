package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gh0stshe11/reconpilot/internal/app/recon"
	"github.com/gh0stshe11/reconpilot/internal/config"
	"github.com/gh0stshe11/reconpilot/internal/db"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/eventbus/memory"
	filestore "github.com/gh0stshe11/reconpilot/internal/infra/storage/session/file"
	memstore "github.com/gh0stshe11/reconpilot/internal/infra/storage/session/memory"
	pgstore "github.com/gh0stshe11/reconpilot/internal/infra/storage/session/postgres"
	"github.com/gh0stshe11/reconpilot/internal/infra/tools"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
	"github.com/gh0stshe11/reconpilot/pkg/common/otel"
)

const serviceName = "reconpilot"

// app holds the process-wide dependencies a command needs.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	providers otel.Providers
	tracer    trace.Tracer

	catalog *tools.Catalog
	store   domain.SessionStore
	bus     *memory.Bus
	orch    *recon.Orchestrator

	closers []func(ctx context.Context)
}

// newApp loads configuration and wires the orchestrator. extra lets a
// command push its own flag overrides into the loader.
func newApp(ctx context.Context, cmd *cobra.Command, opts *rootOptions, s streams, extra func(*config.ViperLoader)) (*app, error) {
	loader := config.NewViperLoader(opts.configFile)
	opts.apply(cmd, loader)
	if extra != nil {
		extra(loader)
	}
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.log = a.newLogger(s.err)
	if used := loader.ConfigFileUsed(); used != "" {
		a.log.Debug(ctx, "config loaded", "file", used)
	}

	a.providers = otel.NoopProviders()
	if cfg.Telemetry.Enabled {
		providers, shutdown, err := otel.InitTelemetry(a.log, otel.Config{
			ServiceName:      serviceName,
			ExporterEndpoint: cfg.Telemetry.Endpoint,
			Probability:      cfg.Telemetry.SamplingRatio,
			InsecureExporter: cfg.Telemetry.Insecure,
			ResourceAttributes: map[string]string{
				"build": build,
			},
		})
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("initializing telemetry: %w", err)
		}
		a.providers = providers
		a.closers = append(a.closers, shutdown)
	}
	a.tracer = a.providers.Tracer.Tracer(serviceName)

	rules, err := recon.LoadRules(cfg.RulesFile)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	a.catalog = tools.NewCatalog(
		tools.WithOverrides(cfg.ToolOverrides()),
		tools.WithWeights(recon.ToolWeights(rules)),
		tools.WithLogger(a.log),
		tools.WithTracer(a.tracer),
	)

	if a.store, err = a.openStore(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	metrics, err := recon.NewSchedulerMetrics(a.providers.Meter)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("creating scheduler metrics: %w", err)
	}

	a.bus = memory.NewBus(cfg.General.EventBuffer, a.log)
	a.closers = append(a.closers, func(context.Context) { _ = a.bus.Close() })

	a.orch = recon.NewOrchestrator(
		cfg.ScanConfig(),
		a.catalog,
		recon.NewRuleEngine(rules, a.catalog),
		a.store,
		a.bus,
		a.log,
		a.tracer,
		metrics,
	)
	return a, nil
}

func (a *app) newLogger(stderr io.Writer) *logger.Logger {
	var w io.Writer = stderr
	if path := a.cfg.Log.File; path != "" {
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    a.cfg.Log.MaxSizeMB,
			MaxBackups: a.cfg.Log.MaxBackups,
			Compress:   true,
		}
		w = rotating
		a.closers = append(a.closers, func(context.Context) { _ = rotating.Close() })
	}

	hostname, _ := os.Hostname()
	events := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			if a.cfg.Log.File == "" {
				return
			}
			attrs, err := json.Marshal(r.Attributes)
			if err != nil {
				return
			}
			fmt.Fprintf(stderr, "error: %s %s\n", r.Message, attrs)
		},
	}
	metadata := map[string]string{"hostname": hostname, "build": build}
	return logger.NewWithMetadata(w, a.cfg.LogLevel(), serviceName, otel.GetTraceID, events, metadata)
}

func (a *app) openStore(ctx context.Context) (domain.SessionStore, error) {
	switch a.cfg.Storage.Driver {
	case config.StorageDriverMemory:
		return memstore.NewStore(), nil
	case config.StorageDriverFile:
		store, err := filestore.NewStore(a.cfg.Storage.Dir, a.tracer)
		if err != nil {
			return nil, fmt.Errorf("opening session directory: %w", err)
		}
		return store, nil
	case config.StorageDriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(a.cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing postgres dsn: %w", domain.ErrInvalidRequest, err)
		}
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := db.Migrate(connectCtx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrating session schema: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) { pool.Close() })
		a.log.Info(ctx, "connected to postgres session store")
		return pgstore.NewSessionStore(pool, a.tracer), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", domain.ErrInvalidRequest, a.cfg.Storage.Driver)
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
