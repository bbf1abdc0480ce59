package events

import "strings"

// EventType names a topic. Topics are dot separated and grouped by their
// first segment: task.*, discovery.* and session.*.
type EventType string

const (
	TaskCreated              EventType = "task.created"
	TaskStateChanged         EventType = "task.state_changed"
	TaskRescored             EventType = "task.rescored"
	TaskScopeViolation       EventType = "task.scope_violation"
	TaskConfirmationRequired EventType = "task.confirmation_requested"
	TaskConfirmationDecided  EventType = "task.confirmation_decided"

	DiscoveryIngested     EventType = "discovery.ingested"
	DiscoveryAssetUpsert  EventType = "discovery.asset_upserted"
	DiscoveryFindingAdded EventType = "discovery.finding_added"

	SessionStateChanged EventType = "session.state_changed"
)

// AllTopics subscribes to every event.
const AllTopics EventType = "*"

// String returns the string representation of the EventType.
func (t EventType) String() string { return string(t) }

// Matches reports whether an event of type evt satisfies the subscription
// pattern t. Patterns are an exact type, a "prefix.*" wildcard or "*".
func (t EventType) Matches(evt EventType) bool {
	if t == AllTopics || t == evt {
		return true
	}
	if prefix, ok := strings.CutSuffix(string(t), ".*"); ok {
		return strings.HasPrefix(string(evt), prefix+".")
	}
	return false
}
