package game

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/config"
	"github.com/pthm-cable/ratswarm/env"
)

// Leader body dimensions used for environment sweeps.
const (
	leaderBodyHeight = 0.5
	leaderRadius     = 0.4
)

// Input is one tick of leader control.
type Input struct {
	Move      r2.Vec // Desired planar direction; magnitude is the throttle, clamped to 1
	Jump      bool
	JumpForce r3.Vec
}

// Leader is the player-controlled body the swarm follows.
type Leader struct {
	cfg    *config.Config
	env    env.Environment
	logger *slog.Logger

	profile  config.LeaderProfile
	disabled bool

	start    r3.Vec
	pos      r3.Vec
	vel      r3.Vec
	airborne bool
}

// NewLeader places a leader at start. Without a leader profile the leader
// is disabled: it never moves and rejects jumps.
func NewLeader(cfg *config.Config, environment env.Environment, logger *slog.Logger, start r3.Vec) *Leader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Leader{
		cfg:    cfg,
		env:    environment,
		logger: logger,
		start:  start,
		pos:    start,
	}
	if len(cfg.Leader.Profiles) == 0 {
		l.disabled = true
		logger.Error("leader disabled", "error", config.ErrNoProfiles)
		return l
	}
	l.profile = cfg.Leader.Profiles[0]
	l.snapToGround()
	return l
}

// Position returns the leader position.
func (l *Leader) Position() r3.Vec { return l.pos }

// Velocity returns the full 3D velocity.
func (l *Leader) Velocity() r3.Vec { return l.vel }

// PlanarVelocity returns the velocity on the flocking plane.
func (l *Leader) PlanarVelocity() r2.Vec { return components.Planar(l.vel) }

// Speed returns the planar speed.
func (l *Leader) Speed() float64 { return r2.Norm(l.PlanarVelocity()) }

// Airborne reports whether the leader is jumping or falling.
func (l *Leader) Airborne() bool { return l.airborne }

// Disabled reports whether the leader has no profile to run with.
func (l *Leader) Disabled() bool { return l.disabled }

// Profile returns the active movement profile.
func (l *Leader) Profile() config.LeaderProfile { return l.profile }

// Update moves the leader by one tick.
func (l *Leader) Update(in Input, dt float64) {
	if l.disabled {
		return
	}
	if l.airborne {
		l.fly(dt)
		return
	}
	l.walk(in.Move, dt)
}

// Jump launches the leader with force as its new velocity.
func (l *Leader) Jump(force r3.Vec) error {
	if l.disabled {
		return ErrLeaderDisabled
	}
	if l.airborne {
		l.logger.Error("leader jump rejected", "error", ErrAirborne, "y", l.pos.Y)
		return ErrAirborne
	}
	l.vel = force
	l.airborne = true
	return nil
}

// ClearAhead reports whether nothing blocks dist along the planar direction dir.
func (l *Leader) ClearAhead(dir r2.Vec, dist float64) bool {
	if l.env == nil || dist <= 0 {
		return true
	}
	origin := r3.Add(l.pos, r3.Vec{Y: leaderBodyHeight})
	_, hit := l.env.Sweep(origin, components.Lift(dir, 0), dist, env.LayerObstacle)
	return !hit
}

func (l *Leader) walk(move r2.Vec, dt float64) {
	desired := r2.Scale(l.profile.MaxSpeed, clampLength(move, 1))
	cur := l.PlanarVelocity()

	rate := l.profile.Acceleration
	if r2.Norm(desired) < r2.Norm(cur) {
		rate = l.profile.Braking
	}
	cur = r2.Add(cur, clampLength(r2.Sub(desired, cur), rate*dt))
	cur = l.blockWalls(cur, dt)

	l.pos.X += cur.X * dt
	l.pos.Z += cur.Y * dt
	l.vel = components.Lift(cur, 0)

	if !l.snapToGround() {
		l.airborne = true
	}
}

// blockWalls removes the part of v that would carry the leader into a wall.
func (l *Leader) blockWalls(v r2.Vec, dt float64) r2.Vec {
	speed := r2.Norm(v)
	if l.env == nil || speed < 1e-9 {
		return v
	}
	origin := r3.Add(l.pos, r3.Vec{Y: leaderBodyHeight})
	hit, ok := l.env.Sweep(origin, components.Lift(v, 0), speed*dt+leaderRadius, env.LayerObstacle)
	if !ok || math.Abs(hit.Normal.Y) > l.cfg.Environment.WallNormalLimit {
		return v
	}
	n := unit(components.Planar(hit.Normal))
	if into := r2.Dot(v, n); into < 0 {
		v = r2.Sub(v, r2.Scale(into, n))
	}
	return v
}

func (l *Leader) fly(dt float64) {
	prevY := l.pos.Y
	l.vel.Y -= l.cfg.Physics.Gravity * dt
	l.pos = r3.Add(l.pos, r3.Scale(dt, l.vel))

	if l.vel.Y <= 0 && l.touchdown(prevY) {
		l.vel.Y = 0
		l.airborne = false
		return
	}
	if l.pos.Y < l.cfg.World.FloorHeight-l.cfg.Physics.KillDepth {
		l.logger.Warn("leader fell out of the world, respawning", "x", l.pos.X, "z", l.pos.Z)
		l.pos = l.start
		l.vel = r3.Vec{}
		l.airborne = false
		l.snapToGround()
	}
}

// touchdown looks for floor across the vertical step from prevY.
func (l *Leader) touchdown(prevY float64) bool {
	if l.env == nil {
		if l.pos.Y <= l.cfg.World.FloorHeight {
			l.pos.Y = l.cfg.World.FloorHeight
			return true
		}
		return false
	}
	probe := l.cfg.Physics.GroundProbe
	hit, ok := l.env.RaycastDown(r3.Vec{X: l.pos.X, Y: prevY + probe, Z: l.pos.Z}, probe+prevY-l.pos.Y)
	if !ok || hit.Point.Y < l.pos.Y {
		return false
	}
	l.pos.Y = hit.Point.Y
	return true
}

func (l *Leader) snapToGround() bool {
	if l.env == nil {
		l.pos.Y = l.cfg.World.FloorHeight
		return true
	}
	probe := l.cfg.Physics.GroundProbe
	hit, ok := l.env.RaycastDown(r3.Vec{X: l.pos.X, Y: l.pos.Y + probe, Z: l.pos.Z}, probe+l.cfg.Environment.FallHeight)
	if !ok {
		return false
	}
	l.pos.Y = hit.Point.Y
	return true
}
