package recon

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrScopeViolation marks a task spec rejected by the scope filter. It is
	// counted and logged but never fatal to the scan.
	ErrScopeViolation = errors.New("target out of scope")

	// ErrTimedOut marks an adapter invocation that exceeded its deadline.
	ErrTimedOut = errors.New("task deadline exceeded")

	// ErrSessionCorruption marks a log or snapshot that cannot be replayed.
	ErrSessionCorruption = errors.New("session corrupted")

	// ErrSessionNotFound is returned when no session exists for an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when resuming a Completed or Aborted session.
	ErrSessionClosed = errors.New("session already finished")

	// ErrTaskNotFound is returned for commands naming an unknown task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrToolUnavailable is returned when no adapter is registered or the binary is missing.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrInvalidRequest marks malformed commands or configuration.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRetryLimit is returned when a task already used its attempt budget.
	ErrRetryLimit = errors.New("retry limit reached")
)

// ScopeViolationError describes which target was refused and why.
type ScopeViolationError struct {
	Target  string
	Pattern string
}

func (e *ScopeViolationError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("%s: %s matches exclude pattern %q", ErrScopeViolation, e.Target, e.Pattern)
	}
	return fmt.Sprintf("%s: %s matches no include pattern", ErrScopeViolation, e.Target)
}

func (e *ScopeViolationError) Is(target error) bool { return target == ErrScopeViolation }

// AdapterError reports a failed tool invocation.
type AdapterError struct {
	Tool     string
	Target   string
	ExitCode int
	Err      error
}

func (e *AdapterError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s against %s exited with code %d: %v", e.Tool, e.Target, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s against %s: %v", e.Tool, e.Target, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NewAdapterError wraps err with the tool and target that produced it.
func NewAdapterError(tool, target string, err error) *AdapterError {
	return &AdapterError{Tool: tool, Target: target, Err: err}
}

// CorruptionError pinpoints the unreadable part of a persisted session.
type CorruptionError struct {
	SessionID uuid.UUID
	Seq       int64
	Reason    string
}

func (e *CorruptionError) Error() string {
	if e.Seq > 0 {
		return fmt.Sprintf("%s: session %s at seq %d: %s", ErrSessionCorruption, e.SessionID, e.Seq, e.Reason)
	}
	return fmt.Sprintf("%s: session %s: %s", ErrSessionCorruption, e.SessionID, e.Reason)
}

func (e *CorruptionError) Is(target error) bool { return target == ErrSessionCorruption }
