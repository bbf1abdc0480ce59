package recon

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskKey identifies equivalent work: the same tool against the same target
// with the same parameters. The scheduler never admits two tasks sharing a key.
type TaskKey string

// NewTaskKey builds the canonical key for a tool invocation. Parameters are
// sorted so map iteration order never leaks into the key.
func NewTaskKey(tool, target string, params map[string]string) TaskKey {
	var b strings.Builder
	b.WriteString(strings.ToLower(tool))
	b.WriteByte('|')
	b.WriteString(NormalizeIdentifier(target))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return TaskKey(b.String())
}

// TaskSpec describes a tool invocation before it becomes a Task.
type TaskSpec struct {
	Tool   string
	Target string
	Params map[string]string

	// After lists keys of tasks that must succeed first. Keys that do not
	// resolve to a known task at admission are ignored.
	After []TaskKey

	Depth  int
	Rule   string
	Reason string

	// NeedsConfirmation holds the task behind the interactive gate.
	NeedsConfirmation bool
}

// Key returns the idempotence key of s.
func (s TaskSpec) Key() TaskKey { return NewTaskKey(s.Tool, s.Target, s.Params) }

// Validate checks that s names a tool and a target.
func (s TaskSpec) Validate() error {
	if strings.TrimSpace(s.Tool) == "" {
		return fmt.Errorf("%w: task spec has no tool", ErrInvalidRequest)
	}
	if strings.TrimSpace(s.Target) == "" {
		return fmt.Errorf("%w: task spec has no target", ErrInvalidRequest)
	}
	return nil
}

// Task tracks the lifecycle of a single tool invocation within a session.
// Tasks are never deleted; every change is a validated status transition.
type Task struct {
	id        uuid.UUID
	sessionID uuid.UUID

	tool          string
	target        string
	params        map[string]string
	prerequisites []uuid.UUID
	depth         int
	rule          string
	reason        string

	status        TaskStatus
	priority      float64
	attempts      int
	failureReason FailureReason
	errorMessage  string
	seq           int64

	timeline *Timeline
}

// TaskOption defines functional options for configuring a new Task.
type TaskOption func(*Task)

// WithTimeProvider sets a custom time provider for the task.
func WithTimeProvider(tp TimeProvider) TaskOption {
	return func(t *Task) { t.timeline = NewTimeline(tp) }
}

// NewTask creates a Pending task from a spec. seq is the creation sequence used
// to break priority ties in FIFO order.
func NewTask(sessionID uuid.UUID, spec TaskSpec, prerequisites []uuid.UUID, seq int64, opts ...TaskOption) *Task {
	t := &Task{
		id:            uuid.New(),
		sessionID:     sessionID,
		tool:          spec.Tool,
		target:        NormalizeIdentifier(spec.Target),
		params:        cloneParams(spec.Params),
		prerequisites: append([]uuid.UUID(nil), prerequisites...),
		depth:         spec.Depth,
		rule:          spec.Rule,
		reason:        spec.Reason,
		status:        TaskStatusPending,
		seq:           seq,
		timeline:      NewTimeline(realTimeProvider{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ReconstructTask creates a Task instance from persisted data without enforcing
// creation-time invariants. This should only be used by repositories and replay.
func ReconstructTask(
	id uuid.UUID,
	sessionID uuid.UUID,
	tool string,
	target string,
	params map[string]string,
	prerequisites []uuid.UUID,
	depth int,
	rule string,
	reason string,
	status TaskStatus,
	priority float64,
	attempts int,
	failureReason FailureReason,
	errorMessage string,
	seq int64,
	timeline *Timeline,
) *Task {
	return &Task{
		id:            id,
		sessionID:     sessionID,
		tool:          tool,
		target:        target,
		params:        cloneParams(params),
		prerequisites: append([]uuid.UUID(nil), prerequisites...),
		depth:         depth,
		rule:          rule,
		reason:        reason,
		status:        status,
		priority:      priority,
		attempts:      attempts,
		failureReason: failureReason,
		errorMessage:  errorMessage,
		seq:           seq,
		timeline:      timeline,
	}
}

func (t *Task) ID() uuid.UUID                { return t.id }
func (t *Task) SessionID() uuid.UUID         { return t.sessionID }
func (t *Task) Tool() string                 { return t.tool }
func (t *Task) Target() string               { return t.target }
func (t *Task) Params() map[string]string    { return cloneParams(t.params) }
func (t *Task) Prerequisites() []uuid.UUID   { return append([]uuid.UUID(nil), t.prerequisites...) }
func (t *Task) Depth() int                   { return t.depth }
func (t *Task) Rule() string                 { return t.rule }
func (t *Task) Reason() string               { return t.reason }
func (t *Task) Status() TaskStatus           { return t.status }
func (t *Task) Priority() float64            { return t.priority }
func (t *Task) Attempts() int                { return t.attempts }
func (t *Task) FailureReason() FailureReason { return t.failureReason }
func (t *Task) ErrorMessage() string         { return t.errorMessage }
func (t *Task) Seq() int64                   { return t.seq }
func (t *Task) CreatedAt() time.Time         { return t.timeline.CreatedAt() }
func (t *Task) StartedAt() time.Time         { return t.timeline.StartedAt() }
func (t *Task) CompletedAt() time.Time       { return t.timeline.CompletedAt() }

// Key returns the idempotence key of the task.
func (t *Task) Key() TaskKey { return NewTaskKey(t.tool, t.target, t.params) }

// SetPriority records the latest score assigned by the prioritizer.
func (t *Task) SetPriority(p float64) { t.priority = p }

func (t *Task) transition(target TaskStatus) error {
	if err := t.status.validateTransition(target); err != nil {
		return TaskInvalidStateError{taskID: t.id, status: t.status, target: target, reason: err.Error()}
	}
	if target.IsTerminal() {
		t.timeline.MarkCompleted()
	}
	t.status = target
	return nil
}

// MarkReady moves a Pending task into the dispatch queue.
func (t *Task) MarkReady() error { return t.transition(TaskStatusReady) }

// Start marks the beginning of an execution attempt.
func (t *Task) Start() error {
	if err := t.transition(TaskStatusRunning); err != nil {
		return err
	}
	t.attempts++
	t.failureReason = FailureReasonNone
	t.errorMessage = ""
	t.timeline.MarkStarted()
	return nil
}

// Succeed marks the task as completed successfully.
func (t *Task) Succeed() error { return t.transition(TaskStatusSucceeded) }

// Fail marks the task as failed with the given reason.
func (t *Task) Fail(reason FailureReason, msg string) error {
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	t.failureReason = reason
	t.errorMessage = msg
	return nil
}

// Skip marks the task as skipped.
func (t *Task) Skip(reason FailureReason) error {
	if err := t.transition(TaskStatusSkipped); err != nil {
		return err
	}
	t.failureReason = reason
	return nil
}

// Cancel marks a non-terminal task as cancelled.
func (t *Task) Cancel() error {
	if err := t.transition(TaskStatusCancelled); err != nil {
		return err
	}
	t.failureReason = FailureReasonAborted
	return nil
}

// Retry moves a Failed task back to Pending. maxAttempts bounds the total
// number of executions; a task that already ran maxAttempts times stays Failed.
func (t *Task) Retry(maxAttempts int) error {
	if t.status != TaskStatusFailed {
		return TaskInvalidStateError{
			taskID: t.id,
			status: t.status,
			target: TaskStatusPending,
			reason: "only failed tasks can be retried",
		}
	}
	if maxAttempts > 0 && t.attempts >= maxAttempts {
		return fmt.Errorf("%w: task %s ran %d of %d attempts", ErrRetryLimit, t.id, t.attempts, maxAttempts)
	}
	return t.requeue()
}

// Requeue moves a task interrupted mid-execution back to Pending without
// consuming the retry budget.
func (t *Task) Requeue() error {
	if t.status == TaskStatusRunning {
		if err := t.Fail(FailureReasonInterrupted, "interrupted before completion"); err != nil {
			return err
		}
		t.attempts--
	}
	return t.requeue()
}

func (t *Task) requeue() error {
	if err := t.transition(TaskStatusPending); err != nil {
		return err
	}
	t.timeline.completedAt = time.Time{}
	return nil
}

// TaskInvalidStateError is returned when an operation is not allowed from the
// task's current status.
type TaskInvalidStateError struct {
	taskID uuid.UUID
	status TaskStatus
	target TaskStatus
	reason string
}

// Error returns a string representation of the error.
func (e TaskInvalidStateError) Error() string {
	return fmt.Sprintf("task %s cannot move from %s to %s: %s", e.taskID, e.status, e.target, e.reason)
}

// Status returns the status the task was in when the operation was refused.
func (e TaskInvalidStateError) Status() TaskStatus { return e.status }

func cloneParams(p map[string]string) map[string]string {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
