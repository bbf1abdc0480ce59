package recon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordType enumerates persisted log record types.
type RecordType string

const (
	RecordTaskCreated         RecordType = "TaskCreated"
	RecordTaskStateChanged    RecordType = "TaskStateChanged"
	RecordDiscoveryIngested   RecordType = "DiscoveryIngested"
	RecordAssetUpserted       RecordType = "AssetUpserted"
	RecordFindingAdded        RecordType = "FindingAdded"
	RecordSessionStateChanged RecordType = "SessionStateChanged"
	RecordScopeViolation      RecordType = "ScopeViolation"
	RecordTaskRescored        RecordType = "TaskRescored"
)

// LogRecord is one entry of the append-only session log.
type LogRecord struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Type      RecordType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// NewLogRecord marshals payload into a record.
func NewLogRecord(seq int64, ts time.Time, typ RecordType, payload any) (LogRecord, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return LogRecord{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return LogRecord{Seq: seq, Timestamp: ts, Type: typ, Payload: raw}, nil
}

// TaskRecord is the serialized form of a Task.
type TaskRecord struct {
	ID            uuid.UUID         `json:"id"`
	SessionID     uuid.UUID         `json:"session_id"`
	Tool          string            `json:"tool"`
	Target        string            `json:"target"`
	Params        map[string]string `json:"params,omitempty"`
	Prerequisites []uuid.UUID       `json:"prerequisites,omitempty"`
	Depth         int               `json:"depth"`
	Rule          string            `json:"rule,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Status        TaskStatus        `json:"status"`
	Priority      float64           `json:"priority"`
	Attempts      int               `json:"attempts"`
	FailureReason FailureReason     `json:"failure_reason,omitempty"`
	Error         string            `json:"error,omitempty"`
	Seq           int64             `json:"seq"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     time.Time         `json:"started_at,omitempty"`
	CompletedAt   time.Time         `json:"completed_at,omitempty"`
}

// ToRecord serializes the task.
func (t *Task) ToRecord() TaskRecord {
	return TaskRecord{
		ID:            t.id,
		SessionID:     t.sessionID,
		Tool:          t.tool,
		Target:        t.target,
		Params:        cloneParams(t.params),
		Prerequisites: t.Prerequisites(),
		Depth:         t.depth,
		Rule:          t.rule,
		Reason:        t.reason,
		Status:        t.status,
		Priority:      t.priority,
		Attempts:      t.attempts,
		FailureReason: t.failureReason,
		Error:         t.errorMessage,
		Seq:           t.seq,
		CreatedAt:     t.timeline.CreatedAt(),
		StartedAt:     t.timeline.StartedAt(),
		CompletedAt:   t.timeline.CompletedAt(),
	}
}

// TaskFromRecord rebuilds a Task.
func TaskFromRecord(r TaskRecord) *Task {
	return ReconstructTask(
		r.ID, r.SessionID, r.Tool, r.Target, r.Params, r.Prerequisites, r.Depth, r.Rule, r.Reason,
		r.Status, r.Priority, r.Attempts, r.FailureReason, r.Error, r.Seq,
		ReconstructTimeline(r.CreatedAt, r.StartedAt, r.CompletedAt),
	)
}

// TaskStateChange is the payload of RecordTaskStateChanged. It carries the
// full mutable state so replay never recomputes anything.
type TaskStateChange struct {
	TaskID        uuid.UUID     `json:"task_id"`
	Tool          string        `json:"tool"`
	Target        string        `json:"target"`
	From          TaskStatus    `json:"from"`
	To            TaskStatus    `json:"to"`
	Priority      float64       `json:"priority"`
	Attempts      int           `json:"attempts"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	CompletedAt   time.Time     `json:"completed_at,omitempty"`
}

// NewTaskStateChange captures a transition of t from the given status.
func NewTaskStateChange(t *Task, from TaskStatus) TaskStateChange {
	return TaskStateChange{
		TaskID:        t.id,
		Tool:          t.tool,
		Target:        t.target,
		From:          from,
		To:            t.status,
		Priority:      t.priority,
		Attempts:      t.attempts,
		FailureReason: t.failureReason,
		Error:         t.errorMessage,
		StartedAt:     t.timeline.StartedAt(),
		CompletedAt:   t.timeline.CompletedAt(),
	}
}

// ApplyStateChange overwrites the task's mutable state with a logged change.
func (t *Task) ApplyStateChange(c TaskStateChange) error {
	if c.TaskID != t.id {
		return fmt.Errorf("state change for task %s applied to %s", c.TaskID, t.id)
	}
	if c.From != t.status {
		return fmt.Errorf("task %s is %s, logged change expects %s", t.id, t.status, c.From)
	}
	t.status = c.To
	t.priority = c.Priority
	t.attempts = c.Attempts
	t.failureReason = c.FailureReason
	t.errorMessage = c.Error
	t.timeline.startedAt = c.StartedAt
	t.timeline.completedAt = c.CompletedAt
	return nil
}

// AssetRecord is the serialized form of an Asset.
type AssetRecord struct {
	Identifier   string            `json:"identifier"`
	Kind         AssetKind         `json:"kind"`
	Ports        []PortInfo        `json:"ports,omitempty"`
	Technologies []string          `json:"technologies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RiskWeight   float64           `json:"risk_weight"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	Provenance   uuid.UUID         `json:"provenance"`
	Revision     int64             `json:"revision"`
}

// ToRecord serializes the asset.
func (a *Asset) ToRecord() AssetRecord {
	return AssetRecord{
		Identifier:   a.identifier,
		Kind:         a.kind,
		Ports:        a.Ports(),
		Technologies: a.Technologies(),
		Metadata:     a.Metadata(),
		RiskWeight:   a.riskWeight,
		FirstSeen:    a.firstSeen,
		LastSeen:     a.lastSeen,
		Provenance:   a.provenance,
		Revision:     a.revision,
	}
}

// AssetFromRecord rebuilds an Asset.
func AssetFromRecord(r AssetRecord) *Asset {
	return ReconstructAsset(r.Identifier, r.Kind, r.Ports, r.Technologies, r.Metadata,
		r.RiskWeight, r.FirstSeen, r.LastSeen, r.Provenance, r.Revision)
}

// FindingRecord is the serialized form of a Finding.
type FindingRecord struct {
	ID          uuid.UUID `json:"id"`
	Asset       string    `json:"asset"`
	Tool        string    `json:"tool"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Evidence    string    `json:"evidence,omitempty"`
	Provenance  uuid.UUID `json:"provenance"`
	Timestamp   time.Time `json:"timestamp"`
}

// ToRecord serializes the finding.
func (f *Finding) ToRecord() FindingRecord {
	return FindingRecord{
		ID:          f.id,
		Asset:       f.asset,
		Tool:        f.tool,
		Severity:    f.severity,
		Title:       f.title,
		Description: f.description,
		Evidence:    f.evidence,
		Provenance:  f.provenance,
		Timestamp:   f.timestamp,
	}
}

// FindingFromRecord rebuilds a Finding.
func FindingFromRecord(r FindingRecord) *Finding {
	return ReconstructFinding(r.ID, r.Asset, r.Tool, r.Severity, r.Title, r.Description, r.Evidence, r.Provenance, r.Timestamp)
}

// SessionRecord is the serialized form of a Session.
type SessionRecord struct {
	ID        uuid.UUID     `json:"id"`
	Target    string        `json:"target"`
	Scope     ScopeConfig   `json:"scope"`
	Mode      Mode          `json:"mode"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ToRecord serializes the session.
func (s *Session) ToRecord() SessionRecord {
	return SessionRecord{
		ID:        s.id,
		Target:    s.target,
		Scope:     s.scope,
		Mode:      s.mode,
		Status:    s.status,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// SessionFromRecord rebuilds a Session.
func SessionFromRecord(r SessionRecord) *Session {
	return ReconstructSession(r.ID, r.Target, r.Scope, r.Mode, r.Status, r.CreatedAt, r.UpdatedAt)
}

// SessionStateChange is the payload of RecordSessionStateChanged. From is
// empty for the record that opens a session.
type SessionStateChange struct {
	From    SessionStatus `json:"from,omitempty"`
	Session SessionRecord `json:"session"`
}

// TaskRescore is the payload of RecordTaskRescored. It lists the waiting tasks
// whose priority moved in one rescoring pass.
type TaskRescore struct {
	Priorities []TaskPriority `json:"priorities"`
}

// TaskPriority is the score assigned to one task.
type TaskPriority struct {
	TaskID   uuid.UUID `json:"task_id"`
	Priority float64   `json:"priority"`
}

// DiscoveryIngestion is the payload of RecordDiscoveryIngested.
type DiscoveryIngestion struct {
	TaskID     uuid.UUID `json:"task_id"`
	Tool       string    `json:"tool"`
	Target     string    `json:"target"`
	Assets     int       `json:"assets"`
	Findings   int       `json:"findings"`
	Hints      int       `json:"hints"`
	Derived    int       `json:"derived"`
	Violations int       `json:"violations"`
}

// Snapshot is a compacted point-in-time image of a session. LastSeq is the
// sequence number of the last record folded into it.
type Snapshot struct {
	LastSeq         int64           `json:"last_seq"`
	TakenAt         time.Time       `json:"taken_at"`
	Session         SessionRecord   `json:"session"`
	Tasks           []TaskRecord    `json:"tasks"`
	Assets          []AssetRecord   `json:"assets"`
	Findings        []FindingRecord `json:"findings"`
	Revision        int64           `json:"revision"`
	ScopeViolations int             `json:"scope_violations"`
}
