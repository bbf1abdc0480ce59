// Package events defines the lifecycle events a scan emits and the bus
// contract used to deliver them to subscribers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carried on the bus. Seq increases monotonically per
// session and orders events the same way the persisted log does.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Seq       int64     `json:"seq"`
	SessionID uuid.UUID `json:"session_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ScopeViolation is the payload of TaskScopeViolation.
type ScopeViolation struct {
	Tool    string `json:"tool,omitempty"`
	Target  string `json:"target"`
	Pattern string `json:"pattern,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

// ConfirmationRequest is the payload of TaskConfirmationRequired. The
// operator answers it through the scan's Decide command.
type ConfirmationRequest struct {
	RequestID uuid.UUID `json:"request_id"`
	Tool      string    `json:"tool"`
	Target    string    `json:"target"`
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConfirmationDecision is the payload of TaskConfirmationDecided.
type ConfirmationDecision struct {
	RequestID uuid.UUID `json:"request_id"`
	Approved  bool      `json:"approved"`
	TimedOut  bool      `json:"timed_out"`
	TaskID    uuid.UUID `json:"task_id,omitempty"`
}
