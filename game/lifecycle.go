package game

import (
	"fmt"
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/config"
)

// SpawnSwarm spawns n rats spread uniformly over the spawn disc around the leader.
func (g *Game) SpawnSwarm(n int) []ecs.Entity {
	center := components.Planar(g.leader.Position())
	radius := g.cfg.Rat.SpawnRadius

	out := make([]ecs.Entity, 0, n)
	for i := 0; i < n; i++ {
		r := radius * math.Sqrt(g.rng.Float64())
		theta := g.rng.Float64() * 2 * math.Pi
		at := r2.Add(center, r2.Vec{X: r * math.Cos(theta), Y: r * math.Sin(theta)})
		out = append(out, g.Spawn(at))
	}
	return out
}

// Spawn creates a free rat at the given planar position with a profile
// picked by spawn weight. Without rat profiles the rat is created disabled.
func (g *Game) Spawn(at r2.Vec) ecs.Entity {
	g.nextID++
	rat := components.Rat{
		ID:             g.nextID,
		Behavior:       components.BehaviorFree,
		LastTrailValue: -1,
		Heading:        normalizeAngle(g.rng.Float64() * 2 * math.Pi),
	}
	if idx, ok := g.pickProfile(); ok {
		p := g.cfg.Rat.Profiles[idx]
		rat.Profile = uint8(idx)
		rat.MaxSpeed = p.MaxSpeed
		rat.OvertakeAllowance = p.OvertakeAllowance
	} else {
		rat.Disabled = true
		g.logger.Error("rat disabled", "rat", rat.ID, "error", config.ErrNoProfiles)
	}

	pos := components.Position{X: at.X, Y: g.cfg.World.FloorHeight, Z: at.Y}
	vel := components.Velocity{}
	perc := components.Perception{}
	occ := components.Occlusion{}
	e := g.ratMapper.NewEntity(&pos, &vel, &rat, &perc, &occ)

	g.free.Add(e)
	g.notifySpawned(e)
	return e
}

// pickProfile draws a rat profile index proportionally to spawn weight.
// Profiles all weighted zero are drawn uniformly.
func (g *Game) pickProfile() (int, bool) {
	profiles := g.cfg.Rat.Profiles
	if len(profiles) == 0 {
		return 0, false
	}
	if g.profileWeight <= 0 {
		return g.rng.Intn(len(profiles)), true
	}
	r := g.rng.Float64() * g.profileWeight
	for i, p := range profiles {
		r -= math.Max(p.Weight, 0)
		if r < 0 {
			return i, true
		}
	}
	return len(profiles) - 1, true
}

// Despawn removes a rat from its collection and from the world.
// It makes a structural change and must not be called during a query.
func (g *Game) Despawn(e ecs.Entity) {
	rat := g.rat(e)
	if rat == nil {
		return
	}
	if g.followers.Contains(e) {
		g.leaveFollowers(e, rat)
	}
	g.free.Remove(e)
	g.deployed.Remove(e)
	g.landOffTrail(rat)
	g.notifyDespawned(e)
	g.world.RemoveEntity(e)
}

// ReleaseTarget returns a rat to the free set and forgets its trail
// position. Airborne rats are left alone.
func (g *Game) ReleaseTarget(e ecs.Entity) {
	rat := g.rat(e)
	if rat == nil || rat.IsProjectile() {
		return
	}
	from := rat.Behavior
	g.release(e, rat)
	rat.Behavior = components.BehaviorFree
	g.notifyBehavior(e, from, rat.Behavior)
}

// release moves e into the free set without touching its behavior.
func (g *Game) release(e ecs.Entity, rat *components.Rat) {
	if g.followers.Contains(e) {
		g.leaveFollowers(e, rat)
	}
	g.deployed.Remove(e)
	g.free.Add(e)
	rat.LastTrailValue = -1
}

// MakeFollower puts a grounded rat on the trail. Every jump marker
// between the leader and the rat's join point owes it one more jump.
func (g *Game) MakeFollower(e ecs.Entity) {
	rat := g.rat(e)
	if rat == nil || rat.IsFollower() || rat.IsProjectile() {
		return
	}
	g.join(e, rat)
}

func (g *Game) join(e ecs.Entity, rat *components.Rat) {
	from := rat.Behavior
	g.free.Remove(e)
	g.deployed.Remove(e)
	g.followers.Add(e)

	if g.trail.MarkerCount() > 0 {
		hit := g.trail.ClosestPointOnTrail(g.posMap.Get(e).Planar(), -1, 0)
		g.trail.AddTokensAhead(hit.Value)
	}

	rat.Behavior = components.BehaviorTrailFollower
	g.notifyFollowerCount()
	g.notifyBehavior(e, from, rat.Behavior)
}

// leaveFollowers removes e from the followers and pays one jump on every
// marker ahead of its last known trail position.
func (g *Game) leaveFollowers(e ecs.Entity, rat *components.Rat) {
	if !g.followers.Remove(e) {
		return
	}
	if g.trail.MarkerCount() > 0 {
		v := rat.LastTrailValue
		if v < 0 {
			v = g.trail.ClosestPointOnTrail(g.posMap.Get(e).Planar(), -1, 0).Value
		}
		g.trail.ExpendTokensAhead(v)
	}
	g.notifyFollowerCount()
}

// RemoveRatAsFollower takes a follower off the trail, paying its
// outstanding jumps, and frees it. Non-followers are left unchanged.
func (g *Game) RemoveRatAsFollower(e ecs.Entity) error {
	rat, err := g.lookup(e)
	if err != nil {
		return err
	}
	if !rat.IsFollower() {
		return nil
	}
	g.ReleaseTarget(e)
	return nil
}

// MakeDeployed sends a rat to hold position at target.
func (g *Game) MakeDeployed(e ecs.Entity, target r2.Vec) error {
	rat, err := g.lookup(e)
	if err != nil {
		return err
	}
	if rat.IsProjectile() {
		return fmt.Errorf("deploying rat %d: %w", rat.ID, ErrAirborne)
	}
	from := rat.Behavior
	if g.followers.Contains(e) {
		g.leaveFollowers(e, rat)
	}
	g.free.Remove(e)
	g.deployed.Add(e)
	rat.DeployTarget = target
	rat.LastTrailValue = -1
	rat.Behavior = components.BehaviorDeployed
	g.notifyBehavior(e, from, rat.Behavior)
	return nil
}

// Distract parks a grounded rat in the distracted state.
func (g *Game) Distract(e ecs.Entity) error {
	rat, err := g.lookup(e)
	if err != nil {
		return err
	}
	if rat.IsProjectile() {
		return fmt.Errorf("distracting rat %d: %w", rat.ID, ErrAirborne)
	}
	from := rat.Behavior
	g.release(e, rat)
	rat.Behavior = components.BehaviorDistracted
	g.notifyBehavior(e, from, rat.Behavior)
	return nil
}

// Launch throws a rat with force as its air velocity. A follower keeps
// its share of the trail length while it is in the air.
func (g *Game) Launch(e ecs.Entity, force r3.Vec) {
	rat := g.rat(e)
	if rat == nil || rat.IsProjectile() {
		return
	}
	from := rat.Behavior
	if rat.IsFollower() {
		rat.OffTrail = true
		g.offTrail++
	}
	g.release(e, rat)
	g.velMap.Get(e).Set(r2.Vec{})
	rat.AirVelocity = force
	rat.Behavior = components.BehaviorProjectile
	g.notifyBehavior(e, from, rat.Behavior)
}

// Land ends a rat's flight. It follows the trail if it comes down within
// the leader's influence radius and is free otherwise.
func (g *Game) Land(e ecs.Entity) {
	rat := g.rat(e)
	if rat == nil || !rat.IsProjectile() {
		return
	}
	g.velMap.Get(e).Set(components.Planar(rat.AirVelocity))
	rat.AirVelocity = r3.Vec{}
	rat.LastTrailValue = -1
	g.landOffTrail(rat)

	hit := g.trail.ClosestPointOnTrail(g.posMap.Get(e).Planar(), -1, 0)
	if hit.Distance <= g.cfg.Leader.InfluenceRadius {
		g.join(e, rat)
		return
	}
	rat.Behavior = components.BehaviorFree
	g.notifyBehavior(e, components.BehaviorProjectile, rat.Behavior)
}

// landOffTrail gives back the trail share held by a rat launched from the trail.
func (g *Game) landOffTrail(rat *components.Rat) {
	if rat.OffTrail {
		rat.OffTrail = false
		g.offTrail--
	}
}

// lookup returns the rat component of a live rat entity.
func (g *Game) lookup(e ecs.Entity) (*components.Rat, error) {
	if !g.world.Alive(e) || !g.ratMap.HasAll(e) {
		return nil, fmt.Errorf("entity %d: %w", e.ID(), ErrUnknownAgent)
	}
	return g.ratMap.Get(e), nil
}

// rat is lookup for the swarm callbacks, which have no error return.
func (g *Game) rat(e ecs.Entity) *components.Rat {
	rat, err := g.lookup(e)
	if err != nil {
		g.logger.Warn("lifecycle call ignored", "error", err)
		return nil
	}
	return rat
}
