package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalLimiter_ReserveSpacesEvents(t *testing.T) {
	t.Parallel()

	rl := NewIntervalLimiter(time.Hour)
	assert.Zero(t, rl.Reserve(), "first event passes immediately")

	delay := rl.Reserve()
	assert.Greater(t, delay, 59*time.Minute)

	// A refused reservation must not push the next slot further out.
	assert.InDelta(t, delay.Seconds(), rl.Reserve().Seconds(), 1)
}

func TestIntervalLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	rl := NewIntervalLimiter(0)
	for range 10 {
		assert.Zero(t, rl.Reserve())
	}
}
