package recon

import "time"

// TimeProvider abstracts time operations for testing.
type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// RealTimeProvider returns the wall clock TimeProvider.
func RealTimeProvider() TimeProvider { return realTimeProvider{} }

// Timeline tracks when a task was created, started and settled.
type Timeline struct {
	createdAt    time.Time
	startedAt    time.Time
	completedAt  time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline stamped with the provider's current time.
func NewTimeline(tp TimeProvider) *Timeline {
	return &Timeline{createdAt: tp.Now(), timeProvider: tp}
}

// ReconstructTimeline creates a Timeline instance from persisted timestamp data.
func ReconstructTimeline(createdAt, startedAt, completedAt time.Time) *Timeline {
	return &Timeline{
		createdAt:    createdAt,
		startedAt:    startedAt,
		completedAt:  completedAt,
		timeProvider: realTimeProvider{},
	}
}

func (t *Timeline) CreatedAt() time.Time   { return t.createdAt }
func (t *Timeline) StartedAt() time.Time   { return t.startedAt }
func (t *Timeline) CompletedAt() time.Time { return t.completedAt }

// MarkStarted records the start of an execution attempt and clears any
// completion time left by a previous attempt.
func (t *Timeline) MarkStarted() {
	t.startedAt = t.timeProvider.Now()
	t.completedAt = time.Time{}
}

// MarkCompleted records the completion time.
func (t *Timeline) MarkCompleted() { t.completedAt = t.timeProvider.Now() }

// Now returns the current time of the underlying provider.
func (t *Timeline) Now() time.Time { return t.timeProvider.Now() }
