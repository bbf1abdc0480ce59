package recon

import (
	"fmt"
	"time"
)

// ScanConfig is the immutable configuration consumed by the orchestration core.
type ScanConfig struct {
	MaxParallel  int
	StealthMode  bool
	StealthDelay time.Duration
	PassiveOnly  bool
	Scope        ScopeConfig

	// TaskTimeout is the default per-task deadline; ToolInfo.Timeout overrides it.
	TaskTimeout time.Duration

	// MaxAttempts bounds automatic executions of a single task. Failed tasks
	// are retried after RetryBackoff while attempts remain; 1 disables retries.
	MaxAttempts  int
	RetryBackoff time.Duration

	// SnapshotEvery is the number of log records between compacted snapshots.
	SnapshotEvery int

	ConfirmTimeout time.Duration
	ConfirmDefault bool

	// EventBuffer sizes each bus subscriber queue.
	EventBuffer int
}

// DefaultScanConfig returns the defaults used when nothing is configured.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxParallel:    3,
		StealthDelay:   2 * time.Second,
		Scope:          ScopeConfig{InScopeOnly: true},
		TaskTimeout:    5 * time.Minute,
		MaxAttempts:    1,
		RetryBackoff:   5 * time.Second,
		SnapshotEvery:  200,
		ConfirmTimeout: 60 * time.Second,
		EventBuffer:    1024,
	}
}

// Parallelism returns the effective worker pool size.
func (c ScanConfig) Parallelism() int {
	if c.StealthMode {
		return 1
	}
	return max(c.MaxParallel, 1)
}

// EffectiveMode applies PassiveOnly on top of the requested mode.
func (c ScanConfig) EffectiveMode(requested Mode) Mode {
	if c.PassiveOnly {
		return ModePassive
	}
	return requested
}

// Validate rejects configurations the scheduler cannot honor.
func (c ScanConfig) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("%w: max_parallel must be at least 1, got %d", ErrInvalidRequest, c.MaxParallel)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("%w: task timeout must be positive", ErrInvalidRequest)
	}
	if c.StealthMode && c.StealthDelay < 0 {
		return fmt.Errorf("%w: stealth delay cannot be negative", ErrInvalidRequest)
	}
	return nil
}
