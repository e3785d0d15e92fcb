package systems

import (
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/config"
	"github.com/pthm-cable/ratswarm/env"
)

// bodyHeight is how far above the feet forward sweeps run.
const bodyHeight = 0.25

type pendingFall struct {
	e     ecs.Entity
	force r3.Vec
}

// PhysicsSystem integrates rat positions and keeps grounded rats on the floor.
type PhysicsSystem struct {
	filter ecs.Filter4[components.Position, components.Velocity, components.Rat, components.Occlusion]
	cfg    *config.Config
	env    env.Environment

	landed  []ecs.Entity
	falling []pendingFall
	lost    []ecs.Entity
}

// NewPhysicsSystem creates a new physics system. A nil environment
// uses a flat floor at the configured floor height.
func NewPhysicsSystem(w *ecs.World, cfg *config.Config, environment env.Environment) *PhysicsSystem {
	return &PhysicsSystem{
		filter: *ecs.NewFilter4[components.Position, components.Velocity, components.Rat, components.Occlusion](w),
		cfg:    cfg,
		env:    environment,
	}
}

// Update runs the physics system. Landings, falls and despawns are
// collected during the query and applied afterwards.
func (s *PhysicsSystem) Update(sw Swarm, dt float64) {
	s.landed = s.landed[:0]
	s.falling = s.falling[:0]
	s.lost = s.lost[:0]

	floor := s.cfg.World.FloorHeight
	killY := floor - s.cfg.Physics.KillDepth

	query := s.filter.Query()
	for query.Next() {
		pos, vel, rat, occ := query.Get()
		if rat.Disabled {
			continue
		}

		if rat.IsProjectile() {
			switch {
			case s.fly(pos, rat, dt):
				s.landed = append(s.landed, query.Entity())
			case pos.Y < killY:
				s.lost = append(s.lost, query.Entity())
			}
			continue
		}

		v := vel.Planar()
		pos.X += v.X * dt
		pos.Z += v.Y * dt
		s.turn(rat, v, dt)

		if !s.snapToGround(pos, occ.PileHeight) {
			s.falling = append(s.falling, pendingFall{e: query.Entity(), force: components.Lift(v, 0)})
		}
	}

	for _, e := range s.landed {
		sw.Land(e)
	}
	for _, f := range s.falling {
		sw.Launch(f.e, f.force)
	}
	for _, e := range s.lost {
		sw.Despawn(e)
	}
}

// fly moves an airborne rat along its air velocity and reports touchdown.
// The floor ray spans the whole vertical step so fast falls cannot pass
// through thin platforms.
func (s *PhysicsSystem) fly(pos *components.Position, rat *components.Rat, dt float64) bool {
	prevY := pos.Y
	air := rat.AirVelocity
	pos.X += air.X * dt
	pos.Y += air.Y * dt
	pos.Z += air.Z * dt

	if air.Y > 0 {
		return false
	}
	if s.env == nil {
		if pos.Y <= s.cfg.World.FloorHeight {
			pos.Y = s.cfg.World.FloorHeight
			return true
		}
		return false
	}

	probe := s.cfg.Physics.GroundProbe
	from := r3.Vec{X: pos.X, Y: prevY + probe, Z: pos.Z}
	hit, ok := s.env.RaycastDown(from, probe+prevY-pos.Y)
	if !ok || hit.Point.Y < pos.Y {
		return false
	}
	pos.Y = hit.Point.Y
	return true
}

// snapToGround rests a walking rat on the floor below it, raised by its
// pile height. Drops deeper than the fall height are left to gravity.
func (s *PhysicsSystem) snapToGround(pos *components.Position, pile float64) bool {
	if s.env == nil {
		pos.Y = s.cfg.World.FloorHeight + pile
		return true
	}
	probe := s.cfg.Physics.GroundProbe
	reach := probe + s.cfg.Crush.MaxPileHeight + s.cfg.Environment.FallHeight
	hit, ok := s.env.RaycastDown(r3.Vec{X: pos.X, Y: pos.Y + probe, Z: pos.Z}, reach)
	if !ok {
		return false
	}
	pos.Y = hit.Point.Y + pile
	return true
}

// turn eases the heading toward the direction of travel.
func (s *PhysicsSystem) turn(rat *components.Rat, v r2.Vec, dt float64) {
	if r2.Norm2(v) < 1e-4 {
		return
	}
	target := math.Atan2(v.Y, v.X)
	k := clamp01(s.cfg.Physics.TurnRate * dt)
	rat.Heading = normalizeAngle(rat.Heading + normalizeAngle(target-rat.Heading)*k)
}
