package recon

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

// ScanRequest describes a new scan.
type ScanRequest struct {
	Target string
	Mode   domain.Mode
	// Scope overrides the configured scope when set.
	Scope *domain.ScopeConfig
}

// Orchestrator creates and restores scans. It holds the process-wide
// dependencies shared by every session.
type Orchestrator struct {
	cfg     domain.ScanConfig
	tools   domain.ToolCatalog
	rules   *RuleEngine
	store   domain.SessionStore
	bus     events.EventBus
	weights Weights
	tp      domain.TimeProvider

	base    *logger.Logger
	logger  *logger.Logger
	tracer  trace.Tracer
	metrics SchedulerMetrics
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTimeProvider overrides the clock used for timestamps.
func WithTimeProvider(tp domain.TimeProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.tp = tp }
}

// WithWeights overrides the prioritizer coefficients.
func WithWeights(w Weights) OrchestratorOption {
	return func(o *Orchestrator) { o.weights = w }
}

// NewOrchestrator wires the dependencies every scan shares.
func NewOrchestrator(
	cfg domain.ScanConfig,
	tools domain.ToolCatalog,
	rules *RuleEngine,
	store domain.SessionStore,
	bus events.EventBus,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics SchedulerMetrics,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		tools:   tools,
		rules:   rules,
		store:   store,
		bus:     bus,
		weights: DefaultWeights(),
		tp:      domain.RealTimeProvider(),
		base:    logger,
		logger:  logger.With("component", "orchestrator"),
		tracer:  tracer,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartScan validates the request, persists a new session and returns its
// scheduler. The caller drives it with Run.
func (o *Orchestrator) StartScan(ctx context.Context, req ScanRequest) (*Scheduler, error) {
	target := strings.TrimSpace(req.Target)
	ctx, span := o.tracer.Start(ctx, "orchestrator.start_scan",
		trace.WithAttributes(
			attribute.String("target", target),
			attribute.String("mode", string(req.Mode)),
		))
	defer span.End()

	if target == "" {
		err := fmt.Errorf("%w: empty target", domain.ErrInvalidRequest)
		span.SetStatus(codes.Error, "empty target")
		return nil, err
	}
	if err := o.cfg.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid configuration")
		span.RecordError(err)
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = domain.ModeAuto
	}
	mode = o.cfg.EffectiveMode(mode)

	scopeCfg := o.cfg.Scope
	if req.Scope != nil {
		scopeCfg = *req.Scope
	}
	filter, err := domain.NewScopeFilter(target, scopeCfg)
	if err != nil {
		span.SetStatus(codes.Error, "invalid scope")
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	if err := filter.Check(target); err != nil {
		span.SetStatus(codes.Error, "target out of scope")
		return nil, err
	}

	session := domain.NewSession(target, scopeCfg, mode, o.tp.Now())
	if err := o.store.CreateSession(ctx, session); err != nil {
		span.SetStatus(codes.Error, "failed to create session")
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s := newScheduler(o.params(session, filter))
	s.bootstrap = s.seed

	span.SetAttributes(attribute.String("session_id", session.ID().String()))
	o.logger.Info(ctx, "session created",
		"session_id", session.ID().String(),
		"target", target,
		"mode", mode,
	)
	return s, nil
}

// ResumeSession restores an interrupted session. Completed and aborted
// sessions return domain.ErrSessionClosed.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID uuid.UUID) (*Scheduler, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.resume_session",
		trace.WithAttributes(attribute.String("session_id", sessionID.String())))
	defer span.End()

	restored, err := o.LoadSession(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "failed to restore session")
		span.RecordError(err)
		return nil, err
	}
	if st := restored.Session.Status(); st.IsTerminal() {
		return nil, fmt.Errorf("%w: session %s is %s", domain.ErrSessionClosed, sessionID, st)
	}

	session := restored.Session
	filter, err := domain.NewScopeFilter(session.Target(), session.Scope())
	if err != nil {
		return nil, &domain.CorruptionError{SessionID: sessionID, Reason: fmt.Sprintf("stored scope: %v", err)}
	}

	p := o.params(session, filter)
	p.registry = restored.Registry
	p.tasks = restored.Tasks
	p.lastSeq = restored.LastSeq
	p.scopeHit = restored.ScopeViolations
	s := newScheduler(p)
	s.bootstrap = s.reconcile

	o.logger.Info(ctx, "session restored",
		"session_id", sessionID.String(),
		"tasks", len(restored.Tasks),
		"assets", restored.Registry.Len(),
		"last_seq", restored.LastSeq,
	)
	return s, nil
}

// LoadSession restores a session without scheduling it.
func (o *Orchestrator) LoadSession(ctx context.Context, sessionID uuid.UUID) (*RestoredSession, error) {
	log, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Replay(log)
}

// ListSessions returns every stored session, newest first.
func (o *Orchestrator) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	return o.store.List(ctx)
}

func (o *Orchestrator) params(session *domain.Session, filter *domain.ScopeFilter) schedulerParams {
	return schedulerParams{
		cfg:     o.cfg,
		session: session,
		scope:   filter,
		tools:   o.tools,
		rules:   o.rules,
		weights: o.weights,
		store:   o.store,
		bus:     o.bus,
		tp:      o.tp,
		logger:  o.base,
		tracer:  o.tracer,
		metrics: o.metrics,
	}
}
