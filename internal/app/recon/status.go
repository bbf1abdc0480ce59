package recon

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// TaskSummary is the reporting view of one task.
type TaskSummary struct {
	ID          uuid.UUID            `json:"id"`
	Tool        string               `json:"tool"`
	Target      string               `json:"target"`
	Status      domain.TaskStatus    `json:"status"`
	Reason      domain.FailureReason `json:"reason,omitempty"`
	Error       string               `json:"error,omitempty"`
	Attempts    int                  `json:"attempts"`
	Priority    float64              `json:"priority"`
	Depth       int                  `json:"depth"`
	Rule        string               `json:"rule,omitempty"`
	StartedAt   time.Time            `json:"started_at,omitempty"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
}

func summarize(t *domain.Task) TaskSummary {
	return TaskSummary{
		ID:          t.ID(),
		Tool:        t.Tool(),
		Target:      t.Target(),
		Status:      t.Status(),
		Reason:      t.FailureReason(),
		Error:       t.ErrorMessage(),
		Attempts:    t.Attempts(),
		Priority:    t.Priority(),
		Depth:       t.Depth(),
		Rule:        t.Rule(),
		StartedAt:   t.StartedAt(),
		CompletedAt: t.CompletedAt(),
	}
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID     uuid.UUID                 `json:"session_id"`
	Target        string                    `json:"target"`
	Mode          domain.Mode               `json:"mode"`
	SessionStatus domain.SessionStatus      `json:"status"`
	Tasks         map[domain.TaskStatus]int `json:"tasks"`
	TotalTasks    int                       `json:"total_tasks"`

	// Ready counts tasks waiting for a free execution slot.
	Ready    int `json:"ready"`
	InFlight int `json:"in_flight"`

	Assets             int                     `json:"assets"`
	Findings           int                     `json:"findings"`
	FindingsBySeverity map[domain.Severity]int `json:"findings_by_severity"`
	RiskScore          int                     `json:"risk_score"`
	ScopeViolations    int                     `json:"scope_violations"`

	// DroppedEvents is filled in by the subscriber that rendered the status.
	DroppedEvents uint64 `json:"dropped_events,omitempty"`

	Running              []TaskSummary                `json:"running,omitempty"`
	Failed               []TaskSummary                `json:"failed,omitempty"`
	Skipped              []TaskSummary                `json:"skipped,omitempty"`
	PendingConfirmations []events.ConfirmationRequest `json:"pending_confirmations,omitempty"`
}

// Critical returns the number of critical findings.
func (s Status) Critical() int { return s.FindingsBySeverity[domain.SeverityCritical] }

// High returns the number of high severity findings.
func (s Status) High() int { return s.FindingsBySeverity[domain.SeverityHigh] }

func buildStatus(session *domain.Session, tasks []*domain.Task, registry *Registry, violations int) Status {
	st := Status{
		SessionID:          session.ID(),
		Target:             session.Target(),
		Mode:               session.Mode(),
		SessionStatus:      session.Status(),
		Tasks:              make(map[domain.TaskStatus]int),
		TotalTasks:         len(tasks),
		Assets:             registry.Len(),
		FindingsBySeverity: make(map[domain.Severity]int),
		ScopeViolations:    violations,
	}

	for _, t := range tasks {
		st.Tasks[t.Status()]++
		switch t.Status() {
		case domain.TaskStatusRunning:
			st.Running = append(st.Running, summarize(t))
		case domain.TaskStatusFailed:
			st.Failed = append(st.Failed, summarize(t))
		case domain.TaskStatusSkipped:
			st.Skipped = append(st.Skipped, summarize(t))
		case domain.TaskStatusReady:
			st.Ready++
		}
	}

	findings := registry.Findings()
	st.Findings = len(findings)
	for _, f := range findings {
		st.FindingsBySeverity[f.Severity()]++
		st.RiskScore += f.Severity().Score()
	}
	return st
}

func sortRequests(reqs []events.ConfirmationRequest) {
	slices.SortFunc(reqs, func(a, b events.ConfirmationRequest) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RequestID.String(), b.RequestID.String())
	})
}
