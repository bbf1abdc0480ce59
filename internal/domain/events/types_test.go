package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventType_Matches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern EventType
		evt     EventType
		want    bool
	}{
		{AllTopics, SessionStateChanged, true},
		{TaskCreated, TaskCreated, true},
		{TaskCreated, TaskStateChanged, false},
		{"task.*", TaskScopeViolation, true},
		{"task.*", DiscoveryIngested, false},
		{"discovery.*", DiscoveryFindingAdded, true},
		{"disc.*", DiscoveryFindingAdded, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.pattern.Matches(tt.evt), "%s vs %s", tt.pattern, tt.evt)
	}
}
