package systems

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/trail"
)

// LeaderState is the per-tick view of the leader the rules read.
type LeaderState struct {
	Position        r3.Vec
	Velocity        r2.Vec
	Speed           float64
	Backtracking    bool // Moving against the trail's forward direction
	InfluenceRadius float64
}

// Swarm is the simulation context seen by the systems. Lifecycle calls
// other than Despawn never make structural changes, so they are safe
// inside a query. Despawn is only called after a query has finished.
type Swarm interface {
	Trail() *trail.Trail
	LeaderState() LeaderState

	MakeFollower(e ecs.Entity)
	ReleaseTarget(e ecs.Entity)
	Launch(e ecs.Entity, force r3.Vec)
	Land(e ecs.Entity)
	Despawn(e ecs.Entity)
}
