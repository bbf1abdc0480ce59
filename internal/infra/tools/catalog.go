package tools

import (
	"context"
	"os/exec"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

// Override adjusts a built-in tool from configuration.
type Override struct {
	// Enabled disables the tool when set to false.
	Enabled *bool
	// Timeout replaces the default per-invocation deadline when positive.
	Timeout time.Duration
	// Args are appended after the built-in arguments.
	Args []string
}

// LookPathFunc resolves a binary name on PATH.
type LookPathFunc func(file string) (string, error)

// Catalog is the built-in tool catalog. Availability is probed once at
// construction and again on Refresh.
type Catalog struct {
	mu       sync.RWMutex
	infos    map[string]domain.ToolInfo
	adapters map[string]domain.ToolAdapter
	paths    map[string]string

	lookPath LookPathFunc
	logger   *logger.Logger
}

var _ domain.ToolCatalog = (*Catalog)(nil)

// Option configures a Catalog.
type Option func(*catalogConfig)

type catalogConfig struct {
	overrides map[string]Override
	weights   map[string]float64
	lookPath  LookPathFunc
	runner    Runner
	logger    *logger.Logger
	tracer    trace.Tracer
}

// WithOverrides applies per-tool configuration.
func WithOverrides(o map[string]Override) Option {
	return func(c *catalogConfig) { c.overrides = o }
}

// WithWeights replaces the static weights used by the prioritizer.
func WithWeights(w map[string]float64) Option {
	return func(c *catalogConfig) { c.weights = w }
}

// WithLookPath overrides the PATH probe.
func WithLookPath(fn LookPathFunc) Option {
	return func(c *catalogConfig) { c.lookPath = fn }
}

// WithRunner overrides how processes are started.
func WithRunner(r Runner) Option {
	return func(c *catalogConfig) { c.runner = r }
}

// WithLogger sets the adapters' logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *catalogConfig) { c.logger = l }
}

// WithTracer sets the adapters' tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *catalogConfig) { c.tracer = t }
}

// NewCatalog builds the catalog of all 15 built-in tools.
func NewCatalog(opts ...Option) *Catalog {
	cfg := catalogConfig{
		lookPath: exec.LookPath,
		runner:   ExecRunner,
		logger:   logger.Noop(),
		tracer:   noop.NewTracerProvider().Tracer("tools"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Catalog{
		infos:    make(map[string]domain.ToolInfo),
		adapters: make(map[string]domain.ToolAdapter),
		paths:    make(map[string]string),
		lookPath: cfg.lookPath,
		logger:   cfg.logger.With("component", "tool_catalog"),
	}

	for name, def := range builtins() {
		info, extra := c.configure(def.info, cfg)
		c.infos[name] = info
		c.adapters[name] = &execAdapter{
			info:   info,
			argv:   def.argv,
			extra:  extra,
			parse:  def.parse,
			runner: cfg.runner,
			path:   c.Path,
			logger: cfg.logger.With("component", "tool_adapter", "tool", name),
			tracer: cfg.tracer,
		}
	}

	info, extra := c.configure(nmapInfo(), cfg)
	c.infos[info.Name] = info
	c.adapters[info.Name] = &nmapAdapter{
		info:   info,
		extra:  extra,
		path:   c.Path,
		logger: cfg.logger.With("component", "tool_adapter", "tool", info.Name),
		tracer: cfg.tracer,
	}

	c.Refresh()
	return c
}

func (c *Catalog) configure(info domain.ToolInfo, cfg catalogConfig) (domain.ToolInfo, []string) {
	info.Enabled = true
	if w, ok := cfg.weights[info.Name]; ok && w > 0 {
		info.Weight = w
	}
	o, ok := cfg.overrides[info.Name]
	if !ok {
		return info, nil
	}
	if o.Enabled != nil {
		info.Enabled = *o.Enabled
	}
	if o.Timeout > 0 {
		info.Timeout = o.Timeout
	}
	return info, slices.Clone(o.Args)
}

// Refresh probes PATH for every tool binary and updates availability.
func (c *Catalog) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, info := range c.infos {
		path, err := c.lookPath(info.Binary)
		info.Available = err == nil
		if info.Available {
			c.paths[name] = path
		} else {
			delete(c.paths, name)
			c.logger.Debug(context.Background(), "tool binary not found", "tool", name, "binary", info.Binary)
		}
		c.infos[name] = info
	}
}

// Lookup returns the description of a tool.
func (c *Catalog) Lookup(name string) (domain.ToolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.infos[strings.ToLower(name)]
	return info, ok
}

// Adapter returns the adapter that runs a tool.
func (c *Catalog) Adapter(name string) (domain.ToolAdapter, bool) {
	a, ok := c.adapters[strings.ToLower(name)]
	return a, ok
}

// All returns every tool ordered by category, then name.
func (c *Catalog) All() []domain.ToolInfo {
	c.mu.RLock()
	out := make([]domain.ToolInfo, 0, len(c.infos))
	for _, info := range c.infos {
		out = append(out, info)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Path returns the resolved binary path of an available tool.
func (c *Catalog) Path(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.paths[name]
	return p, ok
}
