// Package events provides event subjects and utilities for the sinain-core
// event system. The fan-out socket subscribes to these subjects and forwards
// them to connected overlay clients.
package events

// Event subjects for the feed buffer
const (
	FeedItemPushed = "feed.item.pushed"
)

// Event subjects for sense ingress
const (
	SenseEventReceived = "sense.event.received"
)

// Event subjects for connection and capture status
const (
	StatusChanged = "status.changed"
)

// Event subjects for external spawn-task lifecycle
const (
	SpawnTaskUpdated = "spawn_task.updated"
)

// Event subjects for profiling snapshots
const (
	ProfilingUpdated = "profiling.updated"
)

// Event subjects for the tick engine
const (
	TickCompleted = "tick.completed"
)
