package recon

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/eventbus/memory"
	sessionmem "github.com/gh0stshe11/reconpilot/internal/infra/storage/session/memory"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
	"github.com/gh0stshe11/reconpilot/pkg/common/otel"
)

const waitTimeout = 5 * time.Second

// stubCatalog is an in-memory tool catalog. Only registered tools exist, so
// tests control which rules can fire.
type stubCatalog struct {
	infos    map[string]domain.ToolInfo
	adapters map[string]domain.ToolAdapter
}

var _ domain.ToolCatalog = (*stubCatalog)(nil)

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		infos:    make(map[string]domain.ToolInfo),
		adapters: make(map[string]domain.ToolAdapter),
	}
}

func (c *stubCatalog) add(name string, weight float64, passive bool, a domain.ToolAdapter) *stubCatalog {
	c.infos[name] = domain.ToolInfo{
		Name:      name,
		Binary:    name,
		Passive:   passive,
		Weight:    weight,
		Enabled:   true,
		Available: true,
	}
	if a != nil {
		c.adapters[name] = a
	}
	return c
}

func (c *stubCatalog) missing(name string) *stubCatalog {
	c.infos[name] = domain.ToolInfo{Name: name, Binary: name, Weight: 5, Enabled: true}
	return c
}

func (c *stubCatalog) withTimeout(name string, d time.Duration) *stubCatalog {
	info := c.infos[name]
	info.Timeout = d
	c.infos[name] = info
	return c
}

func (c *stubCatalog) Lookup(name string) (domain.ToolInfo, bool) {
	info, ok := c.infos[name]
	return info, ok
}

func (c *stubCatalog) Adapter(name string) (domain.ToolAdapter, bool) {
	a, ok := c.adapters[name]
	return a, ok
}

// adapterFunc adapts a function to domain.ToolAdapter.
type adapterFunc func(ctx context.Context, target string, params map[string]string) (domain.Discovery, error)

func (f adapterFunc) Execute(ctx context.Context, target string, params map[string]string) (domain.Discovery, error) {
	return f(ctx, target, params)
}

// concurrency tracks how many adapters run at once across tools.
type concurrency struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (c *concurrency) enter() {
	n := c.current.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (c *concurrency) leave() { c.current.Add(-1) }

// scriptedTool returns canned discoveries per target. When gated, each call
// blocks until release is called or its context ends.
type scriptedTool struct {
	mu      sync.Mutex
	results map[string]domain.Discovery
	errs    map[string]error
	calls   []string
	starts  []time.Time
	causes  []error

	gate    chan struct{}
	started chan string
	tracker *concurrency
}

func newScriptedTool() *scriptedTool {
	return &scriptedTool{
		results: make(map[string]domain.Discovery),
		errs:    make(map[string]error),
		started: make(chan string, 64),
	}
}

func (s *scriptedTool) on(target string, d domain.Discovery) *scriptedTool {
	s.results[domain.NormalizeIdentifier(target)] = d
	return s
}

func (s *scriptedTool) failOn(target string, err error) *scriptedTool {
	s.errs[domain.NormalizeIdentifier(target)] = err
	return s
}

func (s *scriptedTool) gated() *scriptedTool {
	s.gate = make(chan struct{})
	return s
}

func (s *scriptedTool) tracked(c *concurrency) *scriptedTool {
	s.tracker = c
	return s
}

func (s *scriptedTool) release() { close(s.gate) }

func (s *scriptedTool) Execute(ctx context.Context, target string, _ map[string]string) (domain.Discovery, error) {
	if s.tracker != nil {
		s.tracker.enter()
		defer s.tracker.leave()
	}

	key := domain.NormalizeIdentifier(target)
	s.mu.Lock()
	s.calls = append(s.calls, key)
	s.starts = append(s.starts, time.Now())
	disc, err := s.results[key], s.errs[key]
	gate := s.gate
	s.mu.Unlock()
	select {
	case s.started <- key:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			cause := context.Cause(ctx)
			s.mu.Lock()
			s.causes = append(s.causes, cause)
			s.mu.Unlock()
			return domain.Discovery{}, cause
		}
	}
	return disc, err
}

func (s *scriptedTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedTool) cancelCauses() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.causes...)
}

func (s *scriptedTool) startTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.starts...)
}

func (s *scriptedTool) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case target := <-s.started:
		return target
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for tool to start")
		return ""
	}
}

func assets(ids ...string) domain.Discovery {
	var d domain.Discovery
	for _, id := range ids {
		d.Assets = append(d.Assets, domain.AssetObservation{Identifier: id})
	}
	return d
}

func testScanConfig() domain.ScanConfig {
	cfg := domain.DefaultScanConfig()
	cfg.MaxParallel = 3
	cfg.TaskTimeout = 5 * time.Second
	cfg.ConfirmTimeout = 0
	cfg.RetryBackoff = 10 * time.Millisecond
	return cfg
}

type harness struct {
	catalog *stubCatalog
	store   *sessionmem.Store
	bus     *memory.Bus
	orch    *Orchestrator
}

// logOnlyStore drops snapshots so loading a session folds its whole log.
type logOnlyStore struct {
	*sessionmem.Store
}

func (logOnlyStore) SaveSnapshot(context.Context, uuid.UUID, *domain.Snapshot) error { return nil }

func newHarness(t *testing.T, cfg domain.ScanConfig, catalog *stubCatalog) *harness {
	t.Helper()
	return newHarnessOn(t, cfg, catalog, false)
}

// newLogOnlyHarness is newHarness over a store that never keeps snapshots.
func newLogOnlyHarness(t *testing.T, cfg domain.ScanConfig, catalog *stubCatalog) *harness {
	t.Helper()
	return newHarnessOn(t, cfg, catalog, true)
}

func newHarnessOn(t *testing.T, cfg domain.ScanConfig, catalog *stubCatalog, logOnly bool) *harness {
	t.Helper()

	providers := otel.NoopProviders()
	metrics, err := NewSchedulerMetrics(providers.Meter)
	require.NoError(t, err)

	store := sessionmem.NewStore()
	var backend domain.SessionStore = store
	if logOnly {
		backend = logOnlyStore{store}
	}
	bus := memory.NewBus(4096, logger.Noop())
	t.Cleanup(func() { _ = bus.Close() })

	orch := NewOrchestrator(
		cfg,
		catalog,
		NewRuleEngine(DefaultRules(), catalog),
		backend,
		bus,
		logger.Noop(),
		providers.Tracer.Tracer("test"),
		metrics,
	)
	return &harness{catalog: catalog, store: store, bus: bus, orch: orch}
}

func (h *harness) subscribe(t *testing.T, topics ...events.EventType) events.Subscription {
	t.Helper()
	sub, err := h.bus.Subscribe(context.Background(), topics...)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return sub
}

func (h *harness) start(t *testing.T, target string, mode domain.Mode) *Scheduler {
	t.Helper()
	s, err := h.orch.StartScan(context.Background(), ScanRequest{Target: target, Mode: mode})
	require.NoError(t, err)
	return s
}

func (h *harness) startWith(t *testing.T, req ScanRequest) *Scheduler {
	t.Helper()
	s, err := h.orch.StartScan(context.Background(), req)
	require.NoError(t, err)
	return s
}

// run drives s in the background and returns a channel yielding Run's result.
func run(ctx context.Context, s *Scheduler) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return errCh
}

func awaitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("scan did not finish in time")
		return nil
	}
}

// waitFor consumes events until match returns true.
func waitFor(t *testing.T, sub events.Subscription, match func(events.Event) bool) events.Event {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case evt, ok := <-sub.Events():
			require.True(t, ok, "subscription closed while waiting")
			if match(evt) {
				return evt
			}
		case <-timer.C:
			t.Fatal("timed out waiting for event")
			return events.Event{}
		}
	}
}

func taskReached(tool string, status domain.TaskStatus) func(events.Event) bool {
	return func(evt events.Event) bool {
		c, ok := evt.Payload.(domain.TaskStateChange)
		return ok && evt.Type == events.TaskStateChanged && c.Tool == tool && c.To == status
	}
}

func (h *harness) load(t *testing.T, id uuid.UUID) *RestoredSession {
	t.Helper()
	s, err := h.orch.LoadSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

// drain returns every event already queued on sub.
func drain(sub events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func tasksByTool(tasks []*domain.Task) map[string][]*domain.Task {
	out := make(map[string][]*domain.Task)
	for _, t := range tasks {
		out[t.Tool()] = append(out[t.Tool()], t)
	}
	return out
}
