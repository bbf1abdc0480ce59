package recon

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// RestoredSession is a session rebuilt from its snapshot and log.
type RestoredSession struct {
	Session         *domain.Session
	Tasks           []*domain.Task
	Registry        *Registry
	LastSeq         int64
	ScopeViolations int
}

// Status summarizes the restored session.
func (r *RestoredSession) Status() Status {
	return buildStatus(r.Session, r.Tasks, r.Registry, r.ScopeViolations)
}

// Replay rebuilds a session: the latest snapshot first, then every record
// with a higher sequence number in order. Replay never re-runs rules or
// rescoring; every record carries the state it produced.
func Replay(log *domain.SessionLog) (*RestoredSession, error) {
	if log == nil || log.Session == nil {
		return nil, &domain.CorruptionError{Reason: "missing session header"}
	}

	r := &replayer{
		sessionID: log.Session.ID(),
		session:   log.Session,
		registry:  NewRegistry(),
		tasks:     make(map[uuid.UUID]*domain.Task),
	}
	if log.Snapshot != nil {
		if err := r.applySnapshot(log.Snapshot); err != nil {
			return nil, err
		}
	}

	for _, rec := range log.Records {
		if rec.Seq <= r.lastSeq {
			if log.Snapshot != nil && rec.Seq <= log.Snapshot.LastSeq && r.applied == 0 {
				continue
			}
			return nil, r.corrupt(rec.Seq, fmt.Sprintf("sequence %d does not follow %d", rec.Seq, r.lastSeq))
		}
		if err := r.apply(rec); err != nil {
			return nil, err
		}
		r.lastSeq = rec.Seq
		r.applied++
	}

	tasks := make([]*domain.Task, 0, len(r.order))
	for _, id := range r.order {
		tasks = append(tasks, r.tasks[id])
	}
	return &RestoredSession{
		Session:         r.session,
		Tasks:           tasks,
		Registry:        r.registry,
		LastSeq:         r.lastSeq,
		ScopeViolations: r.violations,
	}, nil
}

type replayer struct {
	sessionID  uuid.UUID
	session    *domain.Session
	registry   *Registry
	tasks      map[uuid.UUID]*domain.Task
	order      []uuid.UUID
	lastSeq    int64
	applied    int
	violations int
}

func (r *replayer) corrupt(seq int64, reason string) error {
	return &domain.CorruptionError{SessionID: r.sessionID, Seq: seq, Reason: reason}
}

func (r *replayer) applySnapshot(snap *domain.Snapshot) error {
	if snap.Session.ID != r.sessionID {
		return r.corrupt(snap.LastSeq, "snapshot belongs to another session")
	}
	r.session = domain.SessionFromRecord(snap.Session)
	for _, tr := range snap.Tasks {
		if err := r.addTask(tr, snap.LastSeq); err != nil {
			return err
		}
	}
	for _, ar := range snap.Assets {
		r.registry.restoreAsset(domain.AssetFromRecord(ar))
	}
	for _, fr := range snap.Findings {
		r.registry.restoreFinding(domain.FindingFromRecord(fr))
	}
	r.registry.revision = max(r.registry.revision, snap.Revision)
	r.lastSeq = snap.LastSeq
	r.violations = snap.ScopeViolations
	return nil
}

func (r *replayer) addTask(tr domain.TaskRecord, seq int64) error {
	if _, dup := r.tasks[tr.ID]; dup {
		return r.corrupt(seq, fmt.Sprintf("task %s created twice", tr.ID))
	}
	if tr.SessionID != r.sessionID {
		return r.corrupt(seq, fmt.Sprintf("task %s belongs to session %s", tr.ID, tr.SessionID))
	}
	if _, err := domain.ParseTaskStatus(string(tr.Status)); err != nil {
		return r.corrupt(seq, err.Error())
	}
	r.tasks[tr.ID] = domain.TaskFromRecord(tr)
	r.order = append(r.order, tr.ID)
	return nil
}

func (r *replayer) apply(rec domain.LogRecord) error {
	decode := func(v any) error {
		if err := json.Unmarshal(rec.Payload, v); err != nil {
			return r.corrupt(rec.Seq, fmt.Sprintf("undecodable %s payload: %v", rec.Type, err))
		}
		return nil
	}

	switch rec.Type {
	case domain.RecordTaskCreated:
		var tr domain.TaskRecord
		if err := decode(&tr); err != nil {
			return err
		}
		return r.addTask(tr, rec.Seq)

	case domain.RecordTaskStateChanged:
		var c domain.TaskStateChange
		if err := decode(&c); err != nil {
			return err
		}
		t, ok := r.tasks[c.TaskID]
		if !ok {
			return r.corrupt(rec.Seq, fmt.Sprintf("state change for unknown task %s", c.TaskID))
		}
		if _, err := domain.ParseTaskStatus(string(c.To)); err != nil {
			return r.corrupt(rec.Seq, err.Error())
		}
		if err := t.ApplyStateChange(c); err != nil {
			return r.corrupt(rec.Seq, err.Error())
		}

	case domain.RecordTaskRescored:
		var rs domain.TaskRescore
		if err := decode(&rs); err != nil {
			return err
		}
		for _, p := range rs.Priorities {
			t, ok := r.tasks[p.TaskID]
			if !ok {
				return r.corrupt(rec.Seq, fmt.Sprintf("rescore for unknown task %s", p.TaskID))
			}
			t.SetPriority(p.Priority)
		}

	case domain.RecordAssetUpserted:
		var ar domain.AssetRecord
		if err := decode(&ar); err != nil {
			return err
		}
		r.registry.restoreAsset(domain.AssetFromRecord(ar))

	case domain.RecordFindingAdded:
		var fr domain.FindingRecord
		if err := decode(&fr); err != nil {
			return err
		}
		r.registry.restoreFinding(domain.FindingFromRecord(fr))

	case domain.RecordDiscoveryIngested:
		var d domain.DiscoveryIngestion
		if err := decode(&d); err != nil {
			return err
		}

	case domain.RecordScopeViolation:
		var v events.ScopeViolation
		if err := decode(&v); err != nil {
			return err
		}
		r.violations++

	case domain.RecordSessionStateChanged:
		var c domain.SessionStateChange
		if err := decode(&c); err != nil {
			return err
		}
		if c.Session.ID != r.sessionID {
			return r.corrupt(rec.Seq, "session record belongs to another session")
		}
		r.session = domain.SessionFromRecord(c.Session)

	default:
		return r.corrupt(rec.Seq, fmt.Sprintf("unknown record type %q", rec.Type))
	}
	return nil
}
