package recon

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode controls which derived tasks are admitted.
type Mode string

const (
	// ModeAuto admits every rule output that passes the scope filter.
	ModeAuto Mode = "auto"
	// ModeInteractive holds each derived task until an operator decides.
	ModeInteractive Mode = "interactive"
	// ModePassive admits only rules tagged passive.
	ModePassive Mode = "passive"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeInteractive, ModePassive:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
	}
}

// SessionStatus represents the lifecycle of a scan session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusAborted   SessionStatus = "ABORTED"
)

// IsTerminal reports whether the session can no longer make progress.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAborted
}

func (s SessionStatus) isValidTransition(target SessionStatus) bool {
	switch s {
	case SessionStatusRunning:
		return target == SessionStatusPaused || target == SessionStatusCompleted || target == SessionStatusAborted
	case SessionStatusPaused:
		return target == SessionStatusRunning || target == SessionStatusAborted
	default:
		return false
	}
}

// Session is one scan of one target. It owns a task graph and a registry
// for its lifetime.
type Session struct {
	id        uuid.UUID
	target    string
	scope     ScopeConfig
	mode      Mode
	status    SessionStatus
	createdAt time.Time
	updatedAt time.Time
}

// NewSession creates a Running session.
func NewSession(target string, scope ScopeConfig, mode Mode, now time.Time) *Session {
	return &Session{
		id:        uuid.New(),
		target:    NormalizeIdentifier(target),
		scope:     scope,
		mode:      mode,
		status:    SessionStatusRunning,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstructSession creates a Session from persisted data.
func ReconstructSession(
	id uuid.UUID,
	target string,
	scope ScopeConfig,
	mode Mode,
	status SessionStatus,
	createdAt, updatedAt time.Time,
) *Session {
	return &Session{
		id:        id,
		target:    target,
		scope:     scope,
		mode:      mode,
		status:    status,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

func (s *Session) ID() uuid.UUID         { return s.id }
func (s *Session) Target() string        { return s.target }
func (s *Session) Scope() ScopeConfig    { return s.scope }
func (s *Session) Mode() Mode            { return s.mode }
func (s *Session) Status() SessionStatus { return s.status }
func (s *Session) CreatedAt() time.Time  { return s.createdAt }
func (s *Session) UpdatedAt() time.Time  { return s.updatedAt }

// Transition moves the session to a new status.
func (s *Session) Transition(target SessionStatus, now time.Time) error {
	if !s.status.isValidTransition(target) {
		return fmt.Errorf("invalid session status transition from %s to %s", s.status, target)
	}
	s.status = target
	s.updatedAt = now
	return nil
}
