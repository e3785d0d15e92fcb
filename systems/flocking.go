package systems

import (
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/config"
	"github.com/pthm-cable/ratswarm/env"
	"github.com/pthm-cable/ratswarm/trail"
)

// FlockingSystem runs the per-rat rule stack. Rules only read the
// neighbor snapshots written by the spatial pass, so rats can be visited
// in any order.
type FlockingSystem struct {
	filter ecs.Filter5[components.Position, components.Velocity, components.Rat, components.Perception, components.Occlusion]
	cfg    *config.Config
	env    env.Environment
}

// NewFlockingSystem creates the flocking system. A nil environment
// disables obstacle and ledge avoidance.
func NewFlockingSystem(w *ecs.World, cfg *config.Config, environment env.Environment) *FlockingSystem {
	return &FlockingSystem{
		filter: *ecs.NewFilter5[components.Position, components.Velocity, components.Rat, components.Perception, components.Occlusion](w),
		cfg:    cfg,
		env:    environment,
	}
}

// Update applies the rule stack to every enabled rat.
func (s *FlockingSystem) Update(sw Swarm, dt float64) {
	adt := dt * s.cfg.Physics.TimeBalancer
	leader := sw.LeaderState()
	tr := sw.Trail()

	query := s.filter.Query()
	for query.Next() {
		e := query.Entity()
		pos, vel, rat, perc, occ := query.Get()
		if rat.Disabled {
			continue
		}

		if rat.IsProjectile() {
			s.ballistics(rat, dt)
			*occ = components.Occlusion{}
			continue
		}

		v := vel.Planar()
		v = r2.Add(v, r2.Scale(adt, s.cohesion(perc, rat.MaxSpeed)))
		v = r2.Add(v, r2.Scale(adt, s.conformity(perc, v, rat.MaxSpeed)))
		v = clampLength(v, rat.MaxSpeed)
		v = r2.Add(v, r2.Scale(adt, s.separation(perc)))

		p := pos.Planar()
		switch rat.Behavior {
		case components.BehaviorFree, components.BehaviorTrailFollower:
			hit := tr.ClosestPointOnTrail(p, rat.LastTrailValue, s.cfg.Trail.MaxBacktrack)
			if !s.acquire(sw, e, rat, hit, leader) {
				break
			}
			if s.assistedJump(sw, e, rat, tr, hit) {
				vel.Set(r2.Vec{})
				continue
			}
			v = s.followTrail(v, p, rat, perc, tr, hit, leader, adt)
		case components.BehaviorDeployed:
			v = r2.Add(v, r2.Scale(adt, s.steerTo(p, rat.DeployTarget, rat.MaxSpeed)))
		}

		feet := r3.Vec{X: pos.X, Y: pos.Y - occ.PileHeight, Z: pos.Z}
		v = s.avoidEnvironment(v, feet, adt)
		s.crush(perc, occ, dt)
		vel.Set(v)
	}
}

// ballistics applies gravity and drag to the air velocity.
func (s *FlockingSystem) ballistics(rat *components.Rat, dt float64) {
	air := rat.AirVelocity
	air.Y -= s.cfg.Physics.Gravity * dt
	drag := clamp01(1 - s.cfg.Physics.AirDrag*dt)
	air.X *= drag
	air.Z *= drag
	rat.AirVelocity = air
}

// cohesion steers toward the centroid of the neighbors.
func (s *FlockingSystem) cohesion(perc *components.Perception, maxSpeed float64) r2.Vec {
	if len(perc.Neighbors) == 0 {
		return r2.Vec{}
	}
	var sum r2.Vec
	for _, n := range perc.Neighbors {
		sum = r2.Add(sum, n.Offset)
	}
	centroid := r2.Scale(1/float64(len(perc.Neighbors)), sum)
	return clampLength(r2.Scale(s.cfg.Flocking.CohesionWeight, centroid), maxSpeed)
}

// conformity steers toward the neighbors' average velocity.
func (s *FlockingSystem) conformity(perc *components.Perception, v r2.Vec, maxSpeed float64) r2.Vec {
	if len(perc.Neighbors) == 0 {
		return r2.Vec{}
	}
	var sum r2.Vec
	for _, n := range perc.Neighbors {
		sum = r2.Add(sum, n.Velocity)
	}
	avg := r2.Scale(1/float64(len(perc.Neighbors)), sum)
	return clampLength(r2.Scale(s.cfg.Flocking.ConformityWeight, r2.Sub(avg, v)), maxSpeed)
}

// separation pushes away from every separator, harder the closer it is.
// Coincident rats have no direction to push along and are skipped.
func (s *FlockingSystem) separation(perc *components.Perception) r2.Vec {
	var push r2.Vec
	for _, n := range perc.Separators {
		away := unit(r2.Scale(-1, n.Offset))
		strength := 1 - n.Dist/s.cfg.Spatial.SeparationRadius
		push = r2.Add(push, r2.Scale(strength, away))
	}
	return r2.Scale(s.cfg.Flocking.SeparationWeight, push)
}

// acquire moves rats on and off the trail. It returns true when the rat
// is a follower after the check.
func (s *FlockingSystem) acquire(sw Swarm, e ecs.Entity, rat *components.Rat, hit trail.Hit, leader LeaderState) bool {
	within := hit.Distance <= leader.InfluenceRadius
	switch {
	case rat.IsFollower() && !within:
		sw.ReleaseTarget(e)
		return false
	case !within:
		return false
	case !rat.IsFollower():
		sw.MakeFollower(e)
	}
	rat.LastTrailValue = hit.Value
	return true
}

// assistedJump launches a follower that has reached a marker it still owes a jump on.
func (s *FlockingSystem) assistedJump(sw Swarm, e ecs.Entity, rat *components.Rat, tr *trail.Trail, hit trail.Hit) bool {
	if tr.MarkerCount() == 0 {
		return false
	}
	_, marker, ok := tr.MarkerAhead(hit.Value, s.cfg.Flocking.JumpTriggerDistance)
	if !ok {
		return false
	}
	sw.Launch(e, r3.Scale(s.cfg.Flocking.JumpAssistScale, marker.LeaderVelocity))
	return true
}

// followTrail applies targeting, following, leading, staying behind,
// straggler prevention and the overtake clamp.
func (s *FlockingSystem) followTrail(v, p r2.Vec, rat *components.Rat, perc *components.Perception, tr *trail.Trail, hit trail.Hit, leader LeaderState, adt float64) r2.Vec {
	f := &s.cfg.Flocking
	fwd := hit.Forward

	if hit.Distance > f.TargetRadius {
		v = r2.Add(v, r2.Scale(adt, s.steerTo(p, hit.Point, rat.MaxSpeed)))
	} else if !leader.Backtracking || hit.Value > f.BacktrackGateValue {
		if perc.Crush < f.TargetTrailCompression {
			v = r2.Add(v, r2.Scale(adt*f.FollowWeight, fwd))
		}
		v = r2.Add(v, r2.Scale(adt*f.LeadWeight*leader.Speed, fwd))
	}

	if hit.Value <= f.TrailBuffer {
		v = r2.Sub(v, r2.Scale(adt*f.StayBehindWeight, fwd))
	}
	if hit.Value >= 1-f.TrailBuffer && tr.TotalLength() >= f.MinStragglerTrailLength {
		v = r2.Add(v, r2.Scale(adt*f.StragglerWeight, fwd))
	}

	return clampLength(v, leader.Speed+rat.OvertakeAllowance)
}

// steerTo is the targeting pull toward a point.
func (s *FlockingSystem) steerTo(p, target r2.Vec, maxSpeed float64) r2.Vec {
	to := r2.Sub(target, p)
	if r2.Norm(to) <= s.cfg.Flocking.TargetRadius {
		return r2.Vec{}
	}
	return clampLength(r2.Scale(s.cfg.Flocking.TargetWeight, to), maxSpeed)
}

// avoidEnvironment pushes away from walls ahead, or failing that from ledges ahead.
func (s *FlockingSystem) avoidEnvironment(v r2.Vec, feet r3.Vec, adt float64) r2.Vec {
	if s.env == nil {
		return v
	}
	dir := unit(v)
	if dir == (r2.Vec{}) {
		return v
	}
	if push, ok := s.obstaclePush(feet, dir); ok {
		return r2.Add(v, r2.Scale(adt, push))
	}
	if push, ok := s.ledgePush(feet, dir); ok {
		return r2.Add(v, r2.Scale(adt, push))
	}
	return v
}

// obstaclePush sweeps ahead at body height for a near-vertical surface.
func (s *FlockingSystem) obstaclePush(feet r3.Vec, dir r2.Vec) (r2.Vec, bool) {
	ec := &s.cfg.Environment
	origin := r3.Vec{X: feet.X, Y: feet.Y + bodyHeight, Z: feet.Z}
	hit, ok := s.env.Sweep(origin, components.Lift(dir, 0), ec.ObstacleLookahead, env.LayerObstacle)
	if !ok || math.Abs(hit.Normal.Y) > ec.WallNormalLimit {
		return r2.Vec{}, false
	}
	away := unit(components.Planar(hit.Normal))
	if away == (r2.Vec{}) {
		away = r2.Scale(-1, dir)
	}
	proximity := clamp01(1 - hit.Distance/ec.ObstacleLookahead)
	return r2.Scale(ec.ObstacleWeight*proximity, away), true
}

// ledgePush looks for a drop ahead. When there is no floor within fall
// height, it searches back from below the feet for the edge that was
// crossed and pushes away from it.
func (s *FlockingSystem) ledgePush(feet r3.Vec, dir r2.Vec) (r2.Vec, bool) {
	ec := &s.cfg.Environment
	probe := s.cfg.Physics.GroundProbe
	p := components.Planar(feet)

	ahead := r2.Add(p, r2.Scale(ec.LedgeLookahead, dir))
	if _, ok := s.env.RaycastDown(components.Lift(ahead, feet.Y+probe), probe+ec.FallHeight); ok {
		return r2.Vec{}, false
	}

	below := components.Lift(ahead, feet.Y-ec.LedgeProbeDepth)
	edge, ok := s.env.Sweep(below, components.Lift(r2.Scale(-1, dir), 0), ec.LedgeLookahead, env.LayerFloor)
	if !ok {
		return r2.Vec{}, false
	}
	away := r2.Scale(-1, unit(components.Planar(edge.Normal)))
	if away == (r2.Vec{}) {
		away = r2.Scale(-1, dir)
	}
	dist := r2.Norm(r2.Sub(components.Planar(edge.Point), p))
	proximity := clamp01(1 - dist/ec.LedgeLookahead)
	return r2.Scale(ec.LedgeWeight*proximity, away), true
}

// crush turns neighbor crowding into occlusion and pile height.
func (s *FlockingSystem) crush(perc *components.Perception, occ *components.Occlusion, dt float64) {
	c := &s.cfg.Crush
	if perc.Crush <= c.Threshold {
		*occ = components.Occlusion{}
		return
	}
	intensity := clamp01((perc.Crush - c.Threshold) / (c.Max - c.Threshold))
	response := c.ResponseCurve.Eval(intensity)
	k := clamp01(c.ResponseRate * dt)

	occ.Intensity += (response - occ.Intensity) * k
	occ.PileHeight += (response*c.MaxPileHeight - occ.PileHeight) * k
	occ.Color = c.ColorLow.Lerp(c.ColorHigh, occ.Intensity)
}
