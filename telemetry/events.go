// Package telemetry provides swarm health tracking and experiment output.
package telemetry

import "github.com/pthm-cable/ratswarm/components"

// EventType identifies telemetry events.
type EventType uint8

const (
	EventSpawn EventType = iota
	EventDespawn
	EventJoin
	EventRelease
	EventDeploy
	EventDistract
	EventLaunch
	EventLand
	EventMarkerCreated
	EventMarkerResolved
)

var eventNames = [...]string{
	EventSpawn:          "spawn",
	EventDespawn:        "despawn",
	EventJoin:           "join",
	EventRelease:        "release",
	EventDeploy:         "deploy",
	EventDistract:       "distract",
	EventLaunch:         "launch",
	EventLand:           "land",
	EventMarkerCreated:  "marker_created",
	EventMarkerResolved: "marker_resolved",
}

// String returns the event name.
func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// MarshalCSV implements gocsv's TypeMarshaller.
func (t EventType) MarshalCSV() (string, error) {
	return t.String(), nil
}

// Event represents a single telemetry event.
type Event struct {
	Tick  int32     `csv:"tick"`
	Type  EventType `csv:"type"`
	RatID uint32    `csv:"rat"`

	// Optional fields depending on event type
	From   string `csv:"from"`   // behavior before a transition
	To     string `csv:"to"`     // behavior after a transition
	Tokens int    `csv:"tokens"` // tokens owed on a new marker
}

// classifyTransition maps a behavior change to an event type.
// Returns false for changes that are not tracked.
func classifyTransition(from, to components.Behavior) (EventType, bool) {
	switch {
	case to == components.BehaviorProjectile:
		return EventLaunch, true
	case from == components.BehaviorProjectile:
		return EventLand, true
	case to == components.BehaviorTrailFollower:
		return EventJoin, true
	case to == components.BehaviorDeployed:
		return EventDeploy, true
	case to == components.BehaviorDistracted:
		return EventDistract, true
	case from == components.BehaviorTrailFollower || from == components.BehaviorDeployed:
		return EventRelease, true
	}
	return 0, false
}

// NewTransitionEvent creates a behavior change event.
func NewTransitionEvent(tick int32, ratID uint32, from, to components.Behavior) (Event, bool) {
	t, ok := classifyTransition(from, to)
	if !ok {
		return Event{}, false
	}
	return Event{Tick: tick, Type: t, RatID: ratID, From: from.String(), To: to.String()}, true
}

// NewMarkerCreatedEvent creates a jump marker event.
func NewMarkerCreatedEvent(tick int32, tokens int) Event {
	return Event{Tick: tick, Type: EventMarkerCreated, Tokens: tokens}
}

// NewMarkerResolvedEvent creates a marker resolution event.
func NewMarkerResolvedEvent(tick int32) Event {
	return Event{Tick: tick, Type: EventMarkerResolved}
}

// NewSpawnEvent creates a spawn event.
func NewSpawnEvent(tick int32, ratID uint32) Event {
	return Event{Tick: tick, Type: EventSpawn, RatID: ratID}
}

// NewDespawnEvent creates a despawn event.
func NewDespawnEvent(tick int32, ratID uint32) Event {
	return Event{Tick: tick, Type: EventDespawn, RatID: ratID}
}
