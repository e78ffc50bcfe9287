package core

import "time"

// EventType is the dotted event name used across the bus (spec.md §6).
type EventType string

// Event is the envelope every Nexus component publishes on the EventBus.
type Event struct {
	ID            string
	Type          EventType
	Timestamp     time.Time
	Payload       interface{}
	Source        string
	CorrelationID string
}
