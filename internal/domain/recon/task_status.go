package recon

import "fmt"

// TaskStatus represents the execution state of a single tool invocation.
type TaskStatus string

const (
	// TaskStatusPending indicates the task exists but at least one prerequisite has not succeeded.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusReady indicates all prerequisites succeeded and the task waits for a free slot.
	TaskStatusReady TaskStatus = "READY"

	// TaskStatusRunning indicates an adapter is executing the task.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded indicates the adapter returned a discovery.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed indicates the adapter errored or the task exceeded its deadline.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusSkipped indicates the task was skipped by the operator or because a
	// prerequisite can no longer succeed.
	TaskStatusSkipped TaskStatus = "SKIPPED"

	// TaskStatusCancelled indicates the scan was aborted before the task settled.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string { return string(s) }

// ParseTaskStatus converts a string to a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(s); st {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning, TaskStatusSucceeded,
		TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown task status %q", s)
	}
}

// IsTerminal reports whether no further transition is expected. Failed is
// terminal unless an explicit retry moves it back to Pending.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the task still counts against scan completion.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusReady || s == TaskStatusRunning
}

// validateTransition checks if a status transition is valid and returns an error if not.
func (s TaskStatus) validateTransition(target TaskStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid task status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the forward-only lifecycle. Failed -> Pending is
// the single backward edge and is only reachable through Task.Retry.
func (s TaskStatus) isValidTransition(target TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return target == TaskStatusReady || target == TaskStatusSkipped || target == TaskStatusCancelled
	case TaskStatusReady:
		return target == TaskStatusRunning || target == TaskStatusSkipped || target == TaskStatusCancelled
	case TaskStatusRunning:
		return target == TaskStatusSucceeded || target == TaskStatusFailed ||
			target == TaskStatusSkipped || target == TaskStatusCancelled
	case TaskStatusFailed:
		return target == TaskStatusPending
	case TaskStatusSucceeded, TaskStatusSkipped, TaskStatusCancelled:
		return false
	default:
		return false
	}
}

// FailureReason qualifies why a task ended in Failed, Skipped or Cancelled.
type FailureReason string

const (
	FailureReasonNone            FailureReason = ""
	FailureReasonAdapterError    FailureReason = "ADAPTER_ERROR"
	FailureReasonTimedOut        FailureReason = "TIMED_OUT"
	FailureReasonToolUnavailable FailureReason = "TOOL_UNAVAILABLE"
	FailureReasonInterrupted     FailureReason = "INTERRUPTED"

	// FailureReasonUserSkipped marks an operator issued skip.
	FailureReasonUserSkipped FailureReason = "USER_SKIPPED"

	// FailureReasonPrerequisiteUnmet marks a task skipped because a prerequisite
	// failed, was skipped or was cancelled.
	FailureReasonPrerequisiteUnmet FailureReason = "PREREQUISITE_UNMET"

	FailureReasonAborted FailureReason = "ABORTED"
)
