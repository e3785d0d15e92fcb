package telemetry

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/ratswarm/components"
)

// Collector accumulates events within time windows and produces WindowStats.
// Its notification methods match the simulation's observer interface.
type Collector struct {
	windowDurationSec   float64
	windowDurationTicks int32
	dt                  float64

	// Current window tracking
	windowStartTick int32
	tick            int32

	// Event counters for current window
	spawns          int
	despawns        int
	joins           int
	releases        int
	launches        int
	landings        int
	markersCreated  int
	markersResolved int
	peakFollowers   int

	// Optional event log, drained by the caller
	recordEvents bool
	events       []Event
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowDurationSec, dt float64) *Collector {
	ticksPerWindow := int32(windowDurationSec / dt)
	if ticksPerWindow < 1 {
		ticksPerWindow = 1
	}

	return &Collector{
		windowDurationSec:   windowDurationSec,
		windowDurationTicks: ticksPerWindow,
		dt:                  dt,
	}
}

// RecordEvents turns the per-event log on or off.
func (c *Collector) RecordEvents(on bool) {
	c.recordEvents = on
}

// BeginTick stamps subsequent events with the given tick.
func (c *Collector) BeginTick(tick int32) {
	c.tick = tick
}

// FollowerCountChanged records the follower count after a change.
func (c *Collector) FollowerCountChanged(count int) {
	if count > c.peakFollowers {
		c.peakFollowers = count
	}
}

// BehaviorChanged records a rat's behavior transition.
func (c *Collector) BehaviorChanged(e ecs.Entity, from, to components.Behavior) {
	ev, ok := NewTransitionEvent(c.tick, uint32(e.ID()), from, to)
	if !ok {
		return
	}
	switch ev.Type {
	case EventJoin:
		c.joins++
	case EventRelease:
		c.releases++
	case EventLaunch:
		c.launches++
	case EventLand:
		c.landings++
	}
	c.log(ev)
}

// JumpMarkerCreated records a new jump marker.
func (c *Collector) JumpMarkerCreated(tokens int) {
	c.markersCreated++
	c.log(NewMarkerCreatedEvent(c.tick, tokens))
}

// JumpMarkerResolved records a marker whose last token was paid.
func (c *Collector) JumpMarkerResolved() {
	c.markersResolved++
	c.log(NewMarkerResolvedEvent(c.tick))
}

// RatSpawned records a spawn.
func (c *Collector) RatSpawned(e ecs.Entity) {
	c.spawns++
	c.log(NewSpawnEvent(c.tick, uint32(e.ID())))
}

// RatDespawned records a despawn.
func (c *Collector) RatDespawned(e ecs.Entity) {
	c.despawns++
	c.log(NewDespawnEvent(c.tick, uint32(e.ID())))
}

func (c *Collector) log(ev Event) {
	if c.recordEvents {
		c.events = append(c.events, ev)
	}
}

// DrainEvents returns the logged events and clears the log.
func (c *Collector) DrainEvents() []Event {
	out := c.events
	c.events = nil
	return out
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int32) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// Sample is the swarm state measured by the simulation at window end.
type Sample struct {
	Free, Followers, Deployed, Distracted, Projectiles, Disabled int

	TrailLength   float64
	TrailTarget   float64
	TrailPoints   int
	ActiveMarkers int
	LeaderSpeed   float64

	Crush          []float64 // per grounded rat
	PileHeights    []float64 // per grounded rat
	TrailDistances []float64 // per follower
	Stragglers     int       // followers in the tail band
}

// Flush produces a WindowStats and resets counters for the next window.
func (c *Collector) Flush(currentTick int32, s Sample) WindowStats {
	crush := ComputeDistribution(s.Crush)
	pile := ComputeDistribution(s.PileHeights)
	dist := ComputeDistribution(s.TrailDistances)

	var stragglerFrac float64
	if s.Followers > 0 {
		stragglerFrac = float64(s.Stragglers) / float64(s.Followers)
	}

	peak := c.peakFollowers
	if s.Followers > peak {
		peak = s.Followers
	}

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) * c.dt,

		Free:        s.Free,
		Followers:   s.Followers,
		Deployed:    s.Deployed,
		Distracted:  s.Distracted,
		Projectiles: s.Projectiles,
		Disabled:    s.Disabled,

		Spawns:          c.spawns,
		Despawns:        c.despawns,
		Joins:           c.joins,
		Releases:        c.releases,
		Launches:        c.launches,
		Landings:        c.landings,
		MarkersCreated:  c.markersCreated,
		MarkersResolved: c.markersResolved,
		PeakFollowers:   peak,

		TrailLength:   s.TrailLength,
		TrailTarget:   s.TrailTarget,
		TrailPoints:   s.TrailPoints,
		ActiveMarkers: s.ActiveMarkers,
		LeaderSpeed:   s.LeaderSpeed,

		CrushMean: crush.Mean,
		CrushP50:  crush.P50,
		CrushP90:  crush.P90,
		CrushMax:  crush.Max,
		PileMean:  pile.Mean,

		TrailDistMean: dist.Mean,
		TrailDistP50:  dist.P50,
		TrailDistP90:  dist.P90,

		StragglerFrac: stragglerFrac,
	}

	// Reset for next window
	c.windowStartTick = currentTick
	c.spawns = 0
	c.despawns = 0
	c.joins = 0
	c.releases = 0
	c.launches = 0
	c.landings = 0
	c.markersCreated = 0
	c.markersResolved = 0
	c.peakFollowers = s.Followers

	return stats
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int32 {
	return c.windowDurationTicks
}
