// Package components defines ECS components for the simulation.
package components

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Behavior is the mutually exclusive flocking state of a rat.
type Behavior uint8

const (
	BehaviorFree Behavior = iota
	BehaviorTrailFollower
	BehaviorDeployed
	BehaviorDistracted // Reserved; carries no rules of its own
	BehaviorProjectile
)

// String returns the behavior name.
func (b Behavior) String() string {
	switch b {
	case BehaviorFree:
		return "free"
	case BehaviorTrailFollower:
		return "follower"
	case BehaviorDeployed:
		return "deployed"
	case BehaviorDistracted:
		return "distracted"
	case BehaviorProjectile:
		return "projectile"
	default:
		return "unknown"
	}
}

// Position is a Y-up world position. The flocking plane is (X, Z).
type Position struct {
	X, Y, Z float64
}

// Planar returns the position on the flocking plane.
func (p Position) Planar() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Z}
}

// Vec returns the position as a 3D vector.
func (p Position) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Velocity is a planar velocity on the (X, Z) plane.
type Velocity struct {
	X, Z float64
}

// Planar returns the velocity as a plane vector.
func (v Velocity) Planar() r2.Vec {
	return r2.Vec{X: v.X, Y: v.Z}
}

// Set stores a plane vector.
func (v *Velocity) Set(p r2.Vec) {
	v.X, v.Z = p.X, p.Y
}

// Rat holds per-agent flocking state.
type Rat struct {
	ID       uint32
	Behavior Behavior
	Disabled bool  // Set when no tuning profile exists; the rat is ignored by every system
	Profile  uint8 // Index into config rat profiles

	// Tunables copied from the profile at spawn
	MaxSpeed          float64
	OvertakeAllowance float64

	// LastTrailValue is the last known trail value, -1 when the rat has no memory of the trail.
	LastTrailValue float64

	AirVelocity  r3.Vec // Only meaningful while a projectile
	OffTrail     bool   // Launched from the trail; still counts toward its length until landing
	DeployTarget r2.Vec // Only meaningful while deployed
	Heading      float64 // Orient-guide angle in radians, from +X toward +Z
}

// IsFollower reports whether the rat is on the trail.
func (r *Rat) IsFollower() bool {
	return r.Behavior == BehaviorTrailFollower
}

// IsProjectile reports whether the rat is airborne.
func (r *Rat) IsProjectile() bool {
	return r.Behavior == BehaviorProjectile
}

// Planar drops the vertical axis of a Y-up vector.
func Planar(v r3.Vec) r2.Vec {
	return r2.Vec{X: v.X, Y: v.Z}
}

// Lift places a plane vector at height y.
func Lift(p r2.Vec, y float64) r3.Vec {
	return r3.Vec{X: p.X, Y: y, Z: p.Y}
}
