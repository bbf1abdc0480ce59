package recon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// seedRule names the rule recorded on the root task of a session.
const seedRule = "seed"

// seedTool picks the tool that opens a scan for the given target shape.
func seedTool(kind domain.AssetKind, mode domain.Mode) string {
	if mode == domain.ModePassive {
		if kind == domain.AssetKindIP {
			return "whois"
		}
		return "subfinder"
	}
	switch kind {
	case domain.AssetKindURL:
		return "httpx"
	case domain.AssetKindIP:
		return "nmap"
	default:
		return "subfinder"
	}
}

// seed creates the root task and registers the target as the first asset so
// the rule catalog fires for it.
func (s *Scheduler) seed(ctx context.Context) error {
	s.emitSession(ctx, "")

	target := s.session.Target()
	kind := domain.InferAssetKind(target)
	if kind == domain.AssetKindSubdomain {
		kind = domain.AssetKindDomain
	}

	spec := domain.TaskSpec{
		Tool:   seedTool(kind, s.session.Mode()),
		Target: target,
		Rule:   seedRule,
		Reason: "Initial reconnaissance of the scan target",
	}
	if _, err := s.admit(ctx, spec); err != nil {
		return fmt.Errorf("failed to seed scan: %w", err)
	}

	s.ingest(ctx, nil, domain.Discovery{
		Assets: []domain.AssetObservation{{Identifier: target, Kind: kind}},
	})
	return nil
}

// ingest merges a discovery into the registry and admits the follow-up tasks
// the rule engine derives from it. task is nil for the seed discovery.
func (s *Scheduler) ingest(ctx context.Context, task *domain.Task, disc domain.Discovery) {
	var (
		provenance uuid.UUID
		depth      int
		tool       = seedRule
		target     = s.session.Target()
	)
	if task != nil {
		provenance, depth, tool, target = task.ID(), task.Depth()+1, task.Tool(), task.Target()
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.ingest",
		trace.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("target", target),
			attribute.Int("assets", len(disc.Assets)),
			attribute.Int("findings", len(disc.Findings)),
			attribute.Int("hints", len(disc.Hints)),
		))
	defer span.End()

	now := s.tp.Now()
	changed := false
	for _, obs := range disc.Assets {
		res := s.registry.Upsert(obs, provenance, now)
		if !res.Changed {
			continue
		}
		changed = true
		s.emit(ctx, events.DiscoveryAssetUpsert, res.Asset.ToRecord())
	}

	for _, obs := range disc.Findings {
		f, added := s.registry.AddFinding(obs, tool, provenance, now)
		if !added {
			continue
		}
		s.emit(ctx, events.DiscoveryFindingAdded, f.ToRecord())
		s.logger.Info(ctx, "finding recorded",
			"asset", f.Asset(),
			"severity", f.Severity(),
			"title", f.Title(),
			"tool", tool,
		)
	}

	if changed {
		s.rescoreAll(ctx)
	}

	derivation := s.rules.Derive(DerivationInput{
		Discovery: disc,
		Depth:     depth,
		Mode:      s.session.Mode(),
		Scope:     s.scope,
		Assets:    s.registry,
		Known:     s.known,
	})

	for _, v := range derivation.Violations {
		s.recordViolation(ctx, events.ScopeViolation{
			Target:  v.Target,
			Pattern: v.Pattern,
			Rule:    strings.Join(v.Rules, ","),
		})
	}

	derived := 0
	for _, spec := range derivation.Specs {
		if s.route(ctx, spec) {
			derived++
		}
	}

	span.SetAttributes(
		attribute.Int("derived", derived),
		attribute.Int("violations", len(derivation.Violations)),
	)
	s.emit(ctx, events.DiscoveryIngested, domain.DiscoveryIngestion{
		TaskID:     provenance,
		Tool:       tool,
		Target:     target,
		Assets:     len(disc.Assets),
		Findings:   len(disc.Findings),
		Hints:      len(disc.Hints),
		Derived:    derived,
		Violations: len(derivation.Violations),
	})
}

// route admits a derived spec or holds it for operator confirmation. A spec
// whose prerequisite is still undecided waits for it.
func (s *Scheduler) route(ctx context.Context, spec domain.TaskSpec) bool {
	if spec.NeedsConfirmation {
		s.requestConfirmation(ctx, spec)
		return true
	}
	if _, _, err := s.place(ctx, spec); err != nil {
		s.logger.Debug(ctx, "derived task not admitted",
			"tool", spec.Tool,
			"target", spec.Target,
			"error", err,
		)
		return false
	}
	return true
}

// known reports whether a task with key exists, awaits confirmation, or waits
// on an undecided prerequisite.
func (s *Scheduler) known(key domain.TaskKey) bool {
	if s.graph.known(key) {
		return true
	}
	if _, pending := s.pendingKeys[key]; pending {
		return true
	}
	_, held := s.heldKeys[key]
	return held
}

// admit scope-checks a spec and adds it to the graph. A spec whose key already
// exists returns the existing task.
func (s *Scheduler) admit(ctx context.Context, spec domain.TaskSpec) (*domain.Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if _, ok := s.tools.Lookup(spec.Tool); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolUnavailable, spec.Tool)
	}
	if existing, ok := s.graph.lookup(spec.Key()); ok {
		return existing, nil
	}

	if err := s.scope.Check(spec.Target); err != nil {
		v := events.ScopeViolation{Tool: spec.Tool, Target: spec.Target, Rule: spec.Rule}
		var sv *domain.ScopeViolationError
		if errors.As(err, &sv) {
			v.Pattern = sv.Pattern
		}
		s.recordViolation(ctx, v)
		return nil, err
	}

	var prereqs []uuid.UUID
	for _, key := range spec.After {
		if p, ok := s.graph.lookup(key); ok {
			prereqs = append(prereqs, p.ID())
		}
	}

	task := domain.NewTask(s.session.ID(), spec, prereqs, int64(s.graph.len()+1),
		domain.WithTimeProvider(s.tp))
	task.SetPriority(s.prio.ScoreTask(task))
	s.graph.add(task)

	s.emit(ctx, events.TaskCreated, task.ToRecord())
	s.metrics.IncTasksCreated(ctx, task.Tool())
	s.logger.Debug(ctx, "task created",
		"task_id", task.ID().String(),
		"tool", task.Tool(),
		"target", task.Target(),
		"depth", task.Depth(),
		"rule", task.Rule(),
		"prerequisites", len(prereqs),
	)

	s.evaluate(ctx, task)
	return task, nil
}

func (s *Scheduler) recordViolation(ctx context.Context, v events.ScopeViolation) {
	s.scopeViolations++
	s.metrics.IncScopeViolations(ctx)
	s.emit(ctx, events.TaskScopeViolation, v)
	s.logger.Warn(ctx, "target outside scope",
		"target", v.Target,
		"pattern", v.Pattern,
		"rule", v.Rule,
	)
}

// reconcile prepares a restored session for dispatch. Tasks caught Running by
// the interruption go back to Pending without consuming an attempt, pending
// automatic retries are rearmed, and the rule catalog is re-run over the
// registry to recover follow-ups lost with the previous process.
func (s *Scheduler) reconcile(ctx context.Context) error {
	if from := s.session.Status(); from != domain.SessionStatusRunning {
		if err := s.session.Transition(domain.SessionStatusRunning, s.tp.Now()); err != nil {
			return err
		}
		s.emitSession(ctx, from)
	}

	requeued := 0
	for _, t := range s.graph.all() {
		if t.Status() != domain.TaskStatusRunning {
			continue
		}
		if err := t.Requeue(); err != nil {
			return fmt.Errorf("failed to requeue task %s: %w", t.ID(), err)
		}
		s.emitTaskChange(ctx, t, domain.TaskStatusRunning)
		requeued++
	}

	for _, t := range s.graph.all() {
		if s.retryable(t) {
			s.scheduleRetry(ctx, t)
		}
	}

	s.rescoreAll(ctx)
	for _, t := range s.graph.all() {
		switch t.Status() {
		case domain.TaskStatusPending:
			s.evaluate(ctx, t)
		case domain.TaskStatusReady:
			s.queue.push(t)
		}
	}

	rederived := s.rederive(ctx)

	s.logger.Info(ctx, "session resumed",
		"tasks", s.graph.len(),
		"requeued", requeued,
		"ready", s.queue.Len(),
		"rederived", rederived,
		"assets", s.registry.Len(),
	)
	return nil
}

// rederive runs the rule catalog over every registered asset. Scope
// rejections were already recorded the first time and are not counted again.
func (s *Scheduler) rederive(ctx context.Context) int {
	n := 0
	for _, a := range s.registry.Assets() {
		depth := 0
		if p, ok := s.graph.get(a.Provenance()); ok {
			depth = p.Depth() + 1
		}
		d := s.rules.Derive(DerivationInput{
			Discovery: domain.Discovery{
				Assets: []domain.AssetObservation{{Identifier: a.Identifier(), Kind: a.Kind()}},
			},
			Depth:  depth,
			Mode:   s.session.Mode(),
			Scope:  s.scope,
			Assets: s.registry,
			Known:  s.known,
		})
		for _, spec := range d.Specs {
			if s.route(ctx, spec) {
				n++
			}
		}
	}
	return n
}
