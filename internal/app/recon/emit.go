package recon

import (
	"context"

	"github.com/google/uuid"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// persisted maps the bus events that are also written to the session log.
var persisted = map[events.EventType]domain.RecordType{
	events.TaskCreated:           domain.RecordTaskCreated,
	events.TaskStateChanged:      domain.RecordTaskStateChanged,
	events.TaskRescored:          domain.RecordTaskRescored,
	events.DiscoveryIngested:     domain.RecordDiscoveryIngested,
	events.DiscoveryAssetUpsert:  domain.RecordAssetUpserted,
	events.DiscoveryFindingAdded: domain.RecordFindingAdded,
	events.SessionStateChanged:   domain.RecordSessionStateChanged,
	events.TaskScopeViolation:    domain.RecordScopeViolation,
}

// emit stamps the next sequence number on an event, hands the persisted kinds
// to the journal and publishes it. The journal sees records in the same order
// the bus does.
func (s *Scheduler) emit(ctx context.Context, typ events.EventType, payload any) {
	s.seq++
	now := s.tp.Now()

	if rt, ok := persisted[typ]; ok {
		rec, err := domain.NewLogRecord(s.seq, now, rt, payload)
		if err != nil {
			s.logger.Error(ctx, "failed to encode log record", "type", typ, "error", err)
		} else {
			s.journal.append(rec)
			s.sinceSnapshot++
		}
	}

	evt := events.Event{
		ID:        uuid.New(),
		Seq:       s.seq,
		SessionID: s.session.ID(),
		Type:      typ,
		Timestamp: now,
		Payload:   payload,
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Debug(ctx, "event not published", "type", typ, "seq", s.seq, "error", err)
	}
}

func (s *Scheduler) emitTaskChange(ctx context.Context, task *domain.Task, from domain.TaskStatus) {
	s.emit(ctx, events.TaskStateChanged, domain.NewTaskStateChange(task, from))
}

// emitSession publishes the session's current state and persists the header.
func (s *Scheduler) emitSession(ctx context.Context, from domain.SessionStatus) {
	rec := s.session.ToRecord()
	s.emit(ctx, events.SessionStateChanged, domain.SessionStateChange{From: from, Session: rec})
	s.journal.updateSession(domain.SessionFromRecord(rec))
	s.logger.Info(ctx, "session state changed", "from", from, "to", s.session.Status())
}

func (s *Scheduler) maybeSnapshot() {
	if s.cfg.SnapshotEvery > 0 && s.sinceSnapshot >= s.cfg.SnapshotEvery {
		s.takeSnapshot()
	}
}

func (s *Scheduler) takeSnapshot() {
	s.journal.snapshot(s.buildSnapshot())
	s.sinceSnapshot = 0
}

// buildSnapshot captures the full state folded through the current sequence.
func (s *Scheduler) buildSnapshot() *domain.Snapshot {
	snap := &domain.Snapshot{
		LastSeq:         s.seq,
		TakenAt:         s.tp.Now(),
		Session:         s.session.ToRecord(),
		Revision:        s.registry.Revision(),
		ScopeViolations: s.scopeViolations,
	}
	for _, t := range s.graph.all() {
		snap.Tasks = append(snap.Tasks, t.ToRecord())
	}
	for _, a := range s.registry.Assets() {
		snap.Assets = append(snap.Assets, a.ToRecord())
	}
	for _, f := range s.registry.Findings() {
		snap.Findings = append(snap.Findings, f.ToRecord())
	}
	return snap
}
