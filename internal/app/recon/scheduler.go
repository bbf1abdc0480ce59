package recon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/pkg/common"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

// Scheduler drives a single scan session. One coordinating goroutine, started
// by Run, owns the task graph, the ready queue and the registry. Executors run
// tool adapters in their own goroutines and report back over one channel, so
// discoveries are ingested one at a time in completion order. Every other
// exported method is a command marshalled onto the coordinating goroutine.
type Scheduler struct {
	cfg      domain.ScanConfig
	session  *domain.Session
	scope    *domain.ScopeFilter
	tools    domain.ToolCatalog
	rules    *RuleEngine
	prio     *Prioritizer
	registry *Registry
	graph    *taskGraph
	queue    *readyQueue
	bus      events.EventBus
	journal  *journal
	limiter  *common.RateLimiter
	tp       domain.TimeProvider

	// bootstrap seeds a fresh session or reconciles a restored one.
	bootstrap func(ctx context.Context) error

	seq             int64
	sinceSnapshot   int
	scopeViolations int

	executions    map[uuid.UUID]*execution
	inflight      int
	saturated     bool
	retries       map[uuid.UUID]*time.Timer
	confirmations map[uuid.UUID]*confirmation
	pendingKeys   map[domain.TaskKey]uuid.UUID
	held          map[domain.TaskKey][]domain.TaskSpec
	heldKeys      map[domain.TaskKey]struct{}
	wakeTimer     *time.Timer
	wakeArmed     bool

	results   chan executionResult
	timeouts  chan executionRef
	retryDue  chan uuid.UUID
	decisions chan decision
	commands  chan command
	wake      chan struct{}
	done      chan struct{}

	runCtx  context.Context
	wg      sync.WaitGroup
	started atomic.Bool

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics SchedulerMetrics
}

// execution tracks one in-flight adapter invocation.
type execution struct {
	executionRef
	tool    string
	timeout time.Duration
	cancel  context.CancelCauseFunc
	timer   *time.Timer
}

// executionRef identifies one attempt of a task. Results and timeouts that
// name an attempt other than the current one are stale.
type executionRef struct {
	taskID  uuid.UUID
	attempt int
}

type executionResult struct {
	executionRef
	discovery domain.Discovery
	err       error
	elapsed   time.Duration
}

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

type schedulerParams struct {
	cfg      domain.ScanConfig
	session  *domain.Session
	scope    *domain.ScopeFilter
	tools    domain.ToolCatalog
	rules    *RuleEngine
	weights  Weights
	registry *Registry
	tasks    []*domain.Task
	lastSeq  int64
	scopeHit int
	store    domain.SessionStore
	bus      events.EventBus
	tp       domain.TimeProvider
	logger   *logger.Logger
	tracer   trace.Tracer
	metrics  SchedulerMetrics
}

func newScheduler(p schedulerParams) *Scheduler {
	registry := p.registry
	if registry == nil {
		registry = NewRegistry()
	}
	log := p.logger.With(
		"component", "scheduler",
		"session_id", p.session.ID().String(),
	)

	s := &Scheduler{
		cfg:             p.cfg,
		session:         p.session,
		scope:           p.scope,
		tools:           p.tools,
		rules:           p.rules,
		prio:            NewPrioritizer(p.weights, p.tools, registry),
		registry:        registry,
		graph:           newTaskGraph(),
		queue:           newReadyQueue(),
		bus:             p.bus,
		journal:         newJournal(p.store, p.session.ID(), p.logger),
		tp:              p.tp,
		seq:             p.lastSeq,
		scopeViolations: p.scopeHit,
		executions:      make(map[uuid.UUID]*execution),
		retries:         make(map[uuid.UUID]*time.Timer),
		confirmations:   make(map[uuid.UUID]*confirmation),
		pendingKeys:     make(map[domain.TaskKey]uuid.UUID),
		held:            make(map[domain.TaskKey][]domain.TaskSpec),
		heldKeys:        make(map[domain.TaskKey]struct{}),
		results:         make(chan executionResult, p.cfg.Parallelism()),
		timeouts:        make(chan executionRef),
		retryDue:        make(chan uuid.UUID),
		decisions:       make(chan decision),
		commands:        make(chan command),
		wake:            make(chan struct{}, 1),
		done:            make(chan struct{}),
		logger:          log,
		tracer:          p.tracer,
		metrics:         p.metrics,
	}
	if p.cfg.StealthMode {
		s.limiter = common.NewIntervalLimiter(p.cfg.StealthDelay)
	}
	for _, t := range p.tasks {
		s.graph.add(t)
	}
	return s
}

// SessionID returns the id of the session driven by this scheduler.
func (s *Scheduler) SessionID() uuid.UUID { return s.session.ID() }

// Done is closed once Run has returned.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Run executes the scan until it reaches a fixpoint, is aborted, or ctx ends.
// It returns nil for completed and aborted scans, ErrScanInterrupted when ctx
// ended first, and any error the journal hit while persisting.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrScanStarted
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.run",
		trace.WithAttributes(
			attribute.String("session_id", s.session.ID().String()),
			attribute.String("target", s.session.Target()),
			attribute.String("mode", string(s.session.Mode())),
		))
	defer span.End()

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	s.runCtx = runCtx

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error { return s.journal.run(gctx) })

	s.logger.Info(ctx, "scan started",
		"target", s.session.Target(),
		"mode", s.session.Mode(),
		"max_parallel", s.cfg.Parallelism(),
		"stealth", s.cfg.StealthMode,
	)

	loopErr := s.loop(ctx)

	cancelRun(ErrScanInterrupted)
	s.wg.Wait()
	s.stopTimers()
	close(s.done)

	s.journal.close()
	journalErr := g.Wait()

	err := errors.Join(loopErr, journalErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan did not complete")
		return err
	}

	span.SetStatus(codes.Ok, "scan finished")
	s.logger.Info(ctx, "scan finished",
		"status", s.session.Status(),
		"tasks", s.graph.len(),
		"assets", s.registry.Len(),
		"findings", len(s.registry.Findings()),
		"scope_violations", s.scopeViolations,
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}

	for {
		s.dispatch(ctx)
		s.maybeSnapshot()

		if s.session.Status().IsTerminal() {
			return nil
		}
		if s.settled() {
			return s.complete(ctx)
		}

		select {
		case <-ctx.Done():
			s.interrupt(ctx)
			return fmt.Errorf("%w: %w", ErrScanInterrupted, context.Cause(ctx))
		case res := <-s.results:
			s.handleResult(ctx, res)
		case ref := <-s.timeouts:
			s.handleTimeout(ctx, ref)
		case id := <-s.retryDue:
			s.handleRetryDue(ctx, id)
		case d := <-s.decisions:
			if err := s.resolve(ctx, d); err != nil {
				s.logger.Debug(ctx, "confirmation already resolved", "request_id", d.requestID)
			}
		case cmd := <-s.commands:
			cmd.reply <- cmd.fn(ctx)
		case <-s.wake:
			s.wakeArmed = false
		}
	}
}

// settled reports the fixpoint: nothing queued, running, awaiting a retry, or
// awaiting an operator decision.
func (s *Scheduler) settled() bool {
	return s.session.Status() == domain.SessionStatusRunning &&
		s.inflight == 0 &&
		len(s.retries) == 0 &&
		len(s.confirmations) == 0 &&
		!s.graph.hasActive()
}

func (s *Scheduler) complete(ctx context.Context) error {
	from := s.session.Status()
	if err := s.session.Transition(domain.SessionStatusCompleted, s.tp.Now()); err != nil {
		return err
	}
	s.emitSession(ctx, from)
	s.takeSnapshot()
	return nil
}

// interrupt leaves the session resumable: running tasks keep their Running
// status in the snapshot and are requeued on resume.
func (s *Scheduler) interrupt(ctx context.Context) {
	s.logger.Warn(ctx, "scan interrupted, session left resumable",
		"running", len(s.executions),
		"ready", s.queue.Len(),
	)
	s.takeSnapshot()
}

func (s *Scheduler) stopTimers() {
	for _, e := range s.executions {
		e.timer.Stop()
	}
	for _, t := range s.retries {
		t.Stop()
	}
	for _, c := range s.confirmations {
		c.stop()
	}
	if s.wakeTimer != nil {
		s.wakeTimer.Stop()
	}
}

// dispatch starts Ready tasks in priority order while the session runs and
// slots are free. A Ready task waiting on a full pool is not an error; it is
// reported through the backpressure metric.
func (s *Scheduler) dispatch(ctx context.Context) {
	if s.session.Status() != domain.SessionStatusRunning {
		return
	}

	for s.queue.Len() > 0 {
		if s.inflight >= s.cfg.Parallelism() {
			if !s.saturated {
				s.saturated = true
				s.metrics.IncBackpressure(ctx)
				s.logger.Debug(ctx, "all execution slots busy", "ready", s.queue.Len())
			}
			return
		}
		if s.limiter != nil {
			if wait := s.limiter.Reserve(); wait > 0 {
				s.armWake(wait)
				return
			}
		}
		s.start(ctx, s.queue.pop())
	}
}

func (s *Scheduler) armWake(d time.Duration) {
	if s.wakeArmed {
		return
	}
	s.wakeArmed = true
	s.wakeTimer = time.AfterFunc(d, func() {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	})
}

func (s *Scheduler) start(ctx context.Context, task *domain.Task) {
	logger := s.logger.With(
		"task_id", task.ID().String(),
		"tool", task.Tool(),
		"target", task.Target(),
	)

	info, known := s.tools.Lookup(task.Tool())
	adapter, hasAdapter := s.tools.Adapter(task.Tool())
	if !known || !hasAdapter || !info.Available {
		from := task.Status()
		if err := task.Start(); err != nil {
			logger.Error(ctx, "failed to start task", "error", err)
			return
		}
		msg := fmt.Sprintf("%s: %s", domain.ErrToolUnavailable, task.Tool())
		if err := task.Fail(domain.FailureReasonToolUnavailable, msg); err != nil {
			logger.Error(ctx, "failed to fail task", "error", err)
			return
		}
		s.emitTaskChange(ctx, task, from)
		s.metrics.IncTasksFailed(ctx, task.Tool(), string(domain.FailureReasonToolUnavailable))
		logger.Warn(ctx, "tool unavailable, task failed")
		s.afterFailure(ctx, task)
		return
	}

	from := task.Status()
	if err := task.Start(); err != nil {
		logger.Error(ctx, "failed to start task", "error", err)
		return
	}
	s.emitTaskChange(ctx, task, from)

	timeout := s.cfg.TaskTimeout
	if info.Timeout > 0 {
		timeout = info.Timeout
	}

	ref := executionRef{taskID: task.ID(), attempt: task.Attempts()}
	execCtx, cancel := context.WithCancelCause(s.runCtx)
	s.executions[task.ID()] = &execution{
		executionRef: ref,
		tool:         task.Tool(),
		timeout:      timeout,
		cancel:       cancel,
		timer: time.AfterFunc(timeout, func() {
			select {
			case s.timeouts <- ref:
			case <-s.done:
			}
		}),
	}
	s.inflight++
	s.metrics.AddInFlight(ctx, 1)
	s.metrics.IncTasksDispatched(ctx, task.Tool())
	logger.Info(ctx, "task dispatched",
		"attempt", task.Attempts(),
		"priority", task.Priority(),
		"timeout", timeout,
	)

	s.wg.Add(1)
	go s.execute(execCtx, adapter, ref, task.Tool(), task.Target(), task.Params())
}

// execute runs on its own goroutine and always reports exactly one result.
func (s *Scheduler) execute(
	ctx context.Context,
	adapter domain.ToolAdapter,
	ref executionRef,
	tool, target string,
	params map[string]string,
) {
	ctx, span := s.tracer.Start(ctx, "scheduler.execute_task",
		trace.WithAttributes(
			attribute.String("task_id", ref.taskID.String()),
			attribute.Int("attempt", ref.attempt),
			attribute.String("tool", tool),
			attribute.String("target", target),
		))

	res := executionResult{executionRef: ref}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.err = domain.NewAdapterError(tool, target, fmt.Errorf("adapter panic: %v", r))
		}
		res.elapsed = time.Since(started)
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, "tool execution failed")
		}
		span.End()
		s.results <- res
		s.wg.Done()
	}()

	res.discovery, res.err = adapter.Execute(ctx, target, params)
}

func (s *Scheduler) handleResult(ctx context.Context, res executionResult) {
	s.inflight--
	s.saturated = false
	s.metrics.AddInFlight(ctx, -1)
	if e, ok := s.executions[res.taskID]; ok && e.attempt == res.attempt {
		e.timer.Stop()
		delete(s.executions, res.taskID)
	}

	task, ok := s.graph.get(res.taskID)
	if !ok || task.Status() != domain.TaskStatusRunning || task.Attempts() != res.attempt {
		s.metrics.IncLateResults(ctx)
		s.logger.Debug(ctx, "discarding result of settled task",
			"task_id", res.taskID.String(),
			"attempt", res.attempt,
		)
		return
	}
	s.metrics.ObserveTaskDuration(ctx, task.Tool(), res.elapsed)

	if res.err != nil {
		reason := domain.FailureReasonAdapterError
		switch {
		case errors.Is(res.err, domain.ErrTimedOut), errors.Is(res.err, context.DeadlineExceeded):
			reason = domain.FailureReasonTimedOut
		case errors.Is(res.err, domain.ErrToolUnavailable):
			reason = domain.FailureReasonToolUnavailable
		}
		s.fail(ctx, task, reason, res.err.Error())
		return
	}

	if err := task.Succeed(); err != nil {
		s.logger.Error(ctx, "failed to complete task", "task_id", task.ID().String(), "error", err)
		return
	}
	s.emitTaskChange(ctx, task, domain.TaskStatusRunning)
	s.metrics.IncTasksSucceeded(ctx, task.Tool())
	s.logger.Info(ctx, "task succeeded",
		"task_id", task.ID().String(),
		"tool", task.Tool(),
		"target", task.Target(),
		"assets", len(res.discovery.Assets),
		"findings", len(res.discovery.Findings),
		"elapsed", res.elapsed,
	)

	s.ingest(ctx, task, res.discovery)
	s.settleDependents(ctx, task)
}

// handleTimeout fails the task as soon as its deadline passes and cancels the
// adapter. The executor slot is released when the adapter returns.
func (s *Scheduler) handleTimeout(ctx context.Context, ref executionRef) {
	e, ok := s.executions[ref.taskID]
	if !ok || e.attempt != ref.attempt {
		return
	}
	delete(s.executions, ref.taskID)
	e.cancel(domain.ErrTimedOut)

	task, ok := s.graph.get(ref.taskID)
	if !ok || task.Status() != domain.TaskStatusRunning {
		return
	}
	s.fail(ctx, task, domain.FailureReasonTimedOut,
		fmt.Sprintf("%s: no result within %s", domain.ErrTimedOut, e.timeout))
}

func (s *Scheduler) fail(ctx context.Context, task *domain.Task, reason domain.FailureReason, msg string) {
	from := task.Status()
	if err := task.Fail(reason, msg); err != nil {
		s.logger.Error(ctx, "failed to mark task failed", "task_id", task.ID().String(), "error", err)
		return
	}
	s.emitTaskChange(ctx, task, from)
	s.metrics.IncTasksFailed(ctx, task.Tool(), string(reason))
	s.logger.Warn(ctx, "task failed",
		"task_id", task.ID().String(),
		"tool", task.Tool(),
		"target", task.Target(),
		"reason", reason,
		"error", msg,
	)
	s.afterFailure(ctx, task)
}

func (s *Scheduler) afterFailure(ctx context.Context, task *domain.Task) {
	if s.retryable(task) {
		s.scheduleRetry(ctx, task)
		return
	}
	s.settleDependents(ctx, task)
}

func (s *Scheduler) retryable(task *domain.Task) bool {
	return task.Status() == domain.TaskStatusFailed &&
		task.FailureReason() != domain.FailureReasonToolUnavailable &&
		task.Attempts() < s.cfg.MaxAttempts
}

func (s *Scheduler) scheduleRetry(ctx context.Context, task *domain.Task) {
	id := task.ID()
	delay := retryDelay(s.cfg.RetryBackoff, task.Attempts())
	s.retries[id] = time.AfterFunc(delay, func() {
		select {
		case s.retryDue <- id:
		case <-s.done:
		}
	})
	s.logger.Info(ctx, "task retry scheduled",
		"task_id", id.String(),
		"attempts", task.Attempts(),
		"delay", delay,
	)
}

func (s *Scheduler) handleRetryDue(ctx context.Context, id uuid.UUID) {
	if _, ok := s.retries[id]; !ok {
		return
	}
	delete(s.retries, id)

	task, ok := s.graph.get(id)
	if !ok || task.Status() != domain.TaskStatusFailed {
		return
	}
	if err := s.retry(ctx, task, s.cfg.MaxAttempts); err != nil {
		s.logger.Warn(ctx, "automatic retry refused", "task_id", id.String(), "error", err)
		s.settleDependents(ctx, task)
	}
}

func (s *Scheduler) retry(ctx context.Context, task *domain.Task, maxAttempts int) error {
	from := task.Status()
	if err := task.Retry(maxAttempts); err != nil {
		return err
	}
	s.emitTaskChange(ctx, task, from)
	s.evaluate(ctx, task)
	return nil
}

func (s *Scheduler) awaitingRetry(id uuid.UUID) bool {
	_, ok := s.retries[id]
	return ok
}

// evaluate moves a Pending task to Ready once every prerequisite succeeded,
// or skips it once any prerequisite can no longer succeed.
func (s *Scheduler) evaluate(ctx context.Context, task *domain.Task) {
	if task.Status() != domain.TaskStatusPending {
		return
	}

	ready, blocked := s.graph.readiness(task, s.awaitingRetry)
	switch {
	case blocked:
		if err := task.Skip(domain.FailureReasonPrerequisiteUnmet); err != nil {
			s.logger.Error(ctx, "failed to skip task", "task_id", task.ID().String(), "error", err)
			return
		}
		s.emitTaskChange(ctx, task, domain.TaskStatusPending)
		s.metrics.IncTasksSkipped(ctx, task.Tool())
		s.logger.Info(ctx, "task skipped, prerequisite did not succeed",
			"task_id", task.ID().String(),
			"tool", task.Tool(),
			"target", task.Target(),
		)
		s.settleDependents(ctx, task)
	case ready:
		task.SetPriority(s.prio.ScoreTask(task))
		if err := task.MarkReady(); err != nil {
			s.logger.Error(ctx, "failed to mark task ready", "task_id", task.ID().String(), "error", err)
			return
		}
		s.emitTaskChange(ctx, task, domain.TaskStatusPending)
		s.queue.push(task)
	}
}

// settleDependents re-evaluates every Pending task waiting on task.
func (s *Scheduler) settleDependents(ctx context.Context, task *domain.Task) {
	for _, d := range s.graph.dependentsOf(task.ID()) {
		s.evaluate(ctx, d)
	}
}

// rescoreAll recomputes the priority of every Pending and Ready task. The
// recency term depends on the registry clock, which moves on every asset
// change, so all waiting tasks are rescored together. Moved scores are
// journaled so a replayed session carries the same order.
func (s *Scheduler) rescoreAll(ctx context.Context) {
	var moved []domain.TaskPriority
	for _, t := range s.graph.all() {
		switch t.Status() {
		case domain.TaskStatusPending, domain.TaskStatusReady:
		default:
			continue
		}
		p := s.prio.ScoreTask(t)
		if p == t.Priority() {
			continue
		}
		t.SetPriority(p)
		s.queue.fix(t.ID())
		moved = append(moved, domain.TaskPriority{TaskID: t.ID(), Priority: p})
	}
	if len(moved) > 0 {
		s.emit(ctx, events.TaskRescored, domain.TaskRescore{Priorities: moved})
	}
}

// do runs fn on the coordinating goroutine and waits for its result.
func (s *Scheduler) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrScanFinished
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryDelay returns the exponential backoff before the given attempt is
// retried. Jitter is disabled so retries are reproducible.
func retryDelay(initial time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
