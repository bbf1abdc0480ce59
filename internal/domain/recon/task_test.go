package recon

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTimeProvider struct{ current time.Time }

func (m *mockTimeProvider) Now() time.Time { return m.current }

func newTestTask(t *testing.T, tp TimeProvider) *Task {
	t.Helper()
	return NewTask(uuid.New(), TaskSpec{Tool: "httpx", Target: "App.Example.com."}, nil, 1, WithTimeProvider(tp))
}

func TestNewTask_NormalizesTarget(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, &mockTimeProvider{current: time.Unix(100, 0)})
	assert.Equal(t, "app.example.com", task.Target())
	assert.Equal(t, TaskStatusPending, task.Status())
	assert.Equal(t, time.Unix(100, 0), task.CreatedAt())
	assert.Equal(t, NewTaskKey("httpx", "app.example.com", nil), task.Key())
}

func TestNewTaskKey_IgnoresParamOrder(t *testing.T) {
	t.Parallel()

	a := NewTaskKey("nmap", "1.2.3.4", map[string]string{"ports": "top", "mode": "sv"})
	b := NewTaskKey("NMAP", "1.2.3.4", map[string]string{"mode": "sv", "ports": "top"})
	c := NewTaskKey("nmap", "1.2.3.4", map[string]string{"mode": "sv"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestTask_Lifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setupTask func(*Task)
		operation func(*Task) error
		wantErr   bool
		verify    func(*testing.T, *Task)
	}{
		{
			name:      "pending to ready",
			operation: func(task *Task) error { return task.MarkReady() },
			verify: func(t *testing.T, task *Task) {
				assert.Equal(t, TaskStatusReady, task.Status())
			},
		},
		{
			name:      "pending cannot start",
			operation: func(task *Task) error { return task.Start() },
			wantErr:   true,
		},
		{
			name:      "ready to running counts an attempt",
			setupTask: func(task *Task) { require.NoError(t, task.MarkReady()) },
			operation: func(task *Task) error { return task.Start() },
			verify: func(t *testing.T, task *Task) {
				assert.Equal(t, TaskStatusRunning, task.Status())
				assert.Equal(t, 1, task.Attempts())
				assert.False(t, task.StartedAt().IsZero())
			},
		},
		{
			name: "running to failed records reason",
			setupTask: func(task *Task) {
				require.NoError(t, task.MarkReady())
				require.NoError(t, task.Start())
			},
			operation: func(task *Task) error { return task.Fail(FailureReasonTimedOut, "deadline") },
			verify: func(t *testing.T, task *Task) {
				assert.Equal(t, TaskStatusFailed, task.Status())
				assert.Equal(t, FailureReasonTimedOut, task.FailureReason())
				assert.Equal(t, "deadline", task.ErrorMessage())
				assert.False(t, task.CompletedAt().IsZero())
			},
		},
		{
			name: "succeeded is final",
			setupTask: func(task *Task) {
				require.NoError(t, task.MarkReady())
				require.NoError(t, task.Start())
				require.NoError(t, task.Succeed())
			},
			operation: func(task *Task) error { return task.Skip(FailureReasonUserSkipped) },
			wantErr:   true,
		},
		{
			name: "running can be skipped",
			setupTask: func(task *Task) {
				require.NoError(t, task.MarkReady())
				require.NoError(t, task.Start())
			},
			operation: func(task *Task) error { return task.Skip(FailureReasonUserSkipped) },
			verify: func(t *testing.T, task *Task) {
				assert.Equal(t, TaskStatusSkipped, task.Status())
			},
		},
		{
			name:      "pending can be cancelled",
			operation: func(task *Task) error { return task.Cancel() },
			verify: func(t *testing.T, task *Task) {
				assert.Equal(t, TaskStatusCancelled, task.Status())
				assert.Equal(t, FailureReasonAborted, task.FailureReason())
			},
		},
		{
			name: "failed retries back to pending",
			setupTask: func(task *Task) {
				require.NoError(t, task.MarkReady())
				require.NoError(t, task.Start())
				require.NoError(t, task.Fail(FailureReasonAdapterError, "exit 1"))
			},
			operation: func(task *Task) error { return task.Retry(3) },
			verify: func(t *testing.T, task *Task) {
				assert.Equal(t, TaskStatusPending, task.Status())
				assert.True(t, task.CompletedAt().IsZero())
			},
		},
		{
			name: "retry honors attempt budget",
			setupTask: func(task *Task) {
				require.NoError(t, task.MarkReady())
				require.NoError(t, task.Start())
				require.NoError(t, task.Fail(FailureReasonAdapterError, "exit 1"))
			},
			operation: func(task *Task) error { return task.Retry(1) },
			wantErr:   true,
		},
		{
			name:      "only failed tasks retry",
			operation: func(task *Task) error { return task.Retry(3) },
			wantErr:   true,
		},
		{
			name: "requeue running task keeps attempt budget",
			setupTask: func(task *Task) {
				require.NoError(t, task.MarkReady())
				require.NoError(t, task.Start())
			},
			operation: func(task *Task) error { return task.Requeue() },
			verify: func(t *testing.T, task *Task) {
				assert.Equal(t, TaskStatusPending, task.Status())
				assert.Equal(t, 0, task.Attempts())
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			task := newTestTask(t, &mockTimeProvider{current: time.Unix(100, 0)})
			if tt.setupTask != nil {
				tt.setupTask(task)
			}

			err := tt.operation(task)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.verify != nil {
				tt.verify(t, task)
			}
		})
	}
}

func TestTask_InvalidTransitionError(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, &mockTimeProvider{current: time.Unix(0, 0)})
	err := task.Succeed()

	var stateErr TaskInvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, TaskStatusPending, stateErr.Status())
}

func TestTask_RecordRoundTripAppliesStateChange(t *testing.T) {
	t.Parallel()

	task := newTestTask(t, &mockTimeProvider{current: time.Unix(50, 0)})
	restored := TaskFromRecord(task.ToRecord())

	require.NoError(t, task.MarkReady())
	change := NewTaskStateChange(task, TaskStatusPending)
	require.NoError(t, restored.ApplyStateChange(change))
	assert.Equal(t, task.ToRecord(), restored.ToRecord())

	assert.Error(t, restored.ApplyStateChange(change), "stale from-status must be refused")
}
