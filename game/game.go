// Package game owns the simulation context: the ECS world, the leader,
// its trail and the swarm collections, and the fixed-step tick.
package game

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/config"
	"github.com/pthm-cable/ratswarm/env"
	"github.com/pthm-cable/ratswarm/systems"
	"github.com/pthm-cable/ratswarm/telemetry"
	"github.com/pthm-cable/ratswarm/trail"
)

var (
	// ErrAirborne is returned when an operation needs the body on the ground.
	ErrAirborne = errors.New("game: body is airborne")
	// ErrLeaderDisabled is returned by leader operations when no leader profile exists.
	ErrLeaderDisabled = errors.New("game: leader disabled")
	// ErrUnknownAgent is returned for entities that are not live rats.
	ErrUnknownAgent = errors.New("game: unknown agent")
)

// backtrackMinSpeed is the leader speed below which it is never considered backtracking.
const backtrackMinSpeed = 0.1

// Options configures a simulation run.
type Options struct {
	Seed           int64
	LogStats       bool
	LogWorld       bool    // Human-readable world dump at every stats window
	StatsWindowSec float64 // 0 uses the config value
	OutputDir      string  // Empty disables CSV output
	RecordEvents   bool    // Write per-event rows to events.csv

	// Environment answers obstruction and floor queries. Nil uses an open
	// arena sized from the world config.
	Environment env.Environment
	Logger      *slog.Logger

	// StatsCallback receives every flushed stats window.
	StatsCallback func(telemetry.WindowStats)
}

// Game holds the complete simulation state.
type Game struct {
	cfg    *config.Config
	world  *ecs.World
	rng    *rand.Rand
	logger *slog.Logger
	env    env.Environment

	// Entity mapper and filter over the rat archetype
	ratMapper *ecs.Map5[
		components.Position,
		components.Velocity,
		components.Rat,
		components.Perception,
		components.Occlusion,
	]
	ratFilter *ecs.Filter5[
		components.Position,
		components.Velocity,
		components.Rat,
		components.Perception,
		components.Occlusion,
	]

	// Individual component mappers for lookups
	posMap  *ecs.Map1[components.Position]
	velMap  *ecs.Map1[components.Velocity]
	ratMap  *ecs.Map1[components.Rat]
	percMap *ecs.Map1[components.Perception]
	occMap  *ecs.Map1[components.Occlusion]

	trail       *trail.Trail
	leader      *Leader
	leaderState systems.LeaderState

	// Membership collections; every rat is in exactly one
	free      *EntitySet
	followers *EntitySet
	deployed  *EntitySet

	observers []Observer

	// Systems
	spatial  *systems.SpatialIndex
	flocking *systems.FlockingSystem
	physics  *systems.PhysicsSystem

	// Telemetry
	collector     *telemetry.Collector
	perf          *telemetry.PerfCollector
	output        *telemetry.OutputManager
	logStats      bool
	logWorld      bool
	recordEvents  bool
	statsCallback func(telemetry.WindowStats)

	// State
	offTrail      int // Rats launched from the trail that have not landed
	tick          int32
	nextID        uint32
	profileWeight float64
}

// NewGame creates a simulation with the leader at its configured start and no rats.
func NewGame(cfg *config.Config, opts Options) (*Game, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	environment := opts.Environment
	if environment == nil {
		environment = env.Open(cfg.World.Width, cfg.World.Depth, cfg.World.FloorHeight)
	}

	world := ecs.NewWorld()
	g := &Game{
		cfg:    cfg,
		world:  world,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		logger: logger,
		env:    environment,
		ratMapper: ecs.NewMap5[
			components.Position,
			components.Velocity,
			components.Rat,
			components.Perception,
			components.Occlusion,
		](world),
		ratFilter: ecs.NewFilter5[
			components.Position,
			components.Velocity,
			components.Rat,
			components.Perception,
			components.Occlusion,
		](world),
		posMap:        ecs.NewMap1[components.Position](world),
		velMap:        ecs.NewMap1[components.Velocity](world),
		ratMap:        ecs.NewMap1[components.Rat](world),
		percMap:       ecs.NewMap1[components.Perception](world),
		occMap:        ecs.NewMap1[components.Occlusion](world),
		free:          NewEntitySet(),
		followers:     NewEntitySet(),
		deployed:      NewEntitySet(),
		logStats:      opts.LogStats,
		logWorld:      opts.LogWorld,
		recordEvents:  opts.RecordEvents,
		statsCallback: opts.StatsCallback,
	}
	for _, p := range cfg.Rat.Profiles {
		g.profileWeight += math.Max(p.Weight, 0)
	}

	start := r3.Vec{X: cfg.Leader.StartX, Y: cfg.World.FloorHeight, Z: cfg.Leader.StartZ}
	g.leader = NewLeader(cfg, environment, logger, start)

	g.trail = trail.New(cfg.Trail, logger)
	g.trail.OnMarkerCreated = g.notifyMarkerCreated
	g.trail.OnMarkerResolved = g.notifyMarkerResolved
	g.trail.Reset(components.Planar(g.leader.Position()))

	g.spatial = systems.NewSpatialIndex(world, cfg)
	g.flocking = systems.NewFlockingSystem(world, cfg, environment)
	g.physics = systems.NewPhysicsSystem(world, cfg, environment)

	statsWindow := cfg.Telemetry.StatsWindow
	if opts.StatsWindowSec > 0 {
		statsWindow = opts.StatsWindowSec
	}
	g.collector = telemetry.NewCollector(statsWindow, cfg.Physics.DT)
	g.collector.RecordEvents(opts.RecordEvents)
	g.perf = telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow)
	g.AddObserver(g.collector)

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("creating output manager: %w", err)
	}
	g.output = output
	if err := g.output.WriteConfig(cfg); err != nil {
		logger.Error("failed to write config snapshot", "error", err)
	}

	g.leaderState = g.computeLeaderState()
	return g, nil
}

// Step runs a single tick: leader, trail, proximity pass, flocking,
// integration, telemetry.
func (g *Game) Step(in Input) {
	dt := g.cfg.Physics.DT
	g.collector.BeginTick(g.tick)
	g.perf.StartTick()

	g.perf.StartPhase(telemetry.PhaseLeader)
	if in.Jump {
		if err := g.Jump(in.JumpForce); err != nil && !errors.Is(err, ErrLeaderDisabled) {
			g.logger.Debug("jump ignored", "tick", g.tick, "error", err)
		}
	}
	g.leader.Update(in, dt)

	g.perf.StartPhase(telemetry.PhaseTrail)
	g.updateTrail(dt)
	g.leaderState = g.computeLeaderState()

	g.perf.StartPhase(telemetry.PhaseSpatial)
	g.spatial.Update()

	g.perf.StartPhase(telemetry.PhaseFlocking)
	g.flocking.Update(g, dt)

	g.perf.StartPhase(telemetry.PhaseIntegrate)
	g.physics.Update(g, dt)

	g.perf.StartPhase(telemetry.PhaseTelemetry)
	g.tick++
	g.flushTelemetry()

	g.perf.EndTick(g.RatCount())
}

// updateTrail records the leader's position and fits the trail to the swarm.
func (g *Game) updateTrail(dt float64) {
	if !g.leader.Disabled() {
		g.trail.PushNewHead(components.Planar(g.leader.Position()), g.leader.Velocity())
	}
	g.trail.TrimToLength(g.trailCount(), g.leader.Speed())
	g.trail.Advance(dt)
}

// trailCount is the number of rats the trail is sized for: followers plus
// followers in the air, so the trail is still there when they land.
func (g *Game) trailCount() int {
	return g.followers.Len() + g.offTrail
}

func (g *Game) computeLeaderState() systems.LeaderState {
	v := g.leader.PlanarVelocity()
	speed := r2.Norm(v)
	_, forward := g.trail.PointAtValue(0)
	return systems.LeaderState{
		Position:        g.leader.Position(),
		Velocity:        v,
		Speed:           speed,
		Backtracking:    speed > backtrackMinSpeed && r2.Dot(v, forward) < 0,
		InfluenceRadius: g.cfg.Leader.InfluenceRadius,
	}
}

// Jump launches the leader. With followers present, a force that is not
// purely vertical and a clear path ahead, the trail head becomes a jump
// marker owed to every current follower.
func (g *Game) Jump(force r3.Vec) error {
	if err := g.leader.Jump(force); err != nil {
		return err
	}
	planar := components.Planar(force)
	if g.followers.Len() == 0 || r2.Norm(planar) < 1e-6 {
		return nil
	}
	if !g.leader.ClearAhead(planar, g.cfg.Leader.JumpClearance) {
		g.logger.Debug("jump path obstructed, no marker", "tick", g.tick)
		return nil
	}
	if err := g.trail.MakeJumpMarker(0, force, g.followers.Len()); err != nil {
		return fmt.Errorf("placing jump marker: %w", err)
	}
	return nil
}

// BeginTrailFade collapses the trail over duration seconds (config default when <= 0).
func (g *Game) BeginTrailFade(duration float64) error {
	return g.trail.BeginFade(duration)
}

// Trail returns the leader trail. Callers must treat it as read-only.
func (g *Game) Trail() *trail.Trail {
	return g.trail
}

// LeaderState returns the leader view computed this tick.
func (g *Game) LeaderState() systems.LeaderState {
	return g.leaderState
}

// Leader returns the leader.
func (g *Game) Leader() *Leader {
	return g.leader
}

// Tick returns the number of completed ticks.
func (g *Game) Tick() int32 {
	return g.tick
}

// Config returns the simulation config.
func (g *Game) Config() *config.Config {
	return g.cfg
}

// FollowerCount returns the number of trail followers.
func (g *Game) FollowerCount() int {
	return g.followers.Len()
}

// OffTrailCount returns the number of rats launched from the trail that
// have not landed yet.
func (g *Game) OffTrailCount() int {
	return g.offTrail
}

// RatCount returns the number of live rats.
func (g *Game) RatCount() int {
	return g.free.Len() + g.followers.Len() + g.deployed.Len()
}

// Followers returns the current followers.
func (g *Game) Followers() []ecs.Entity {
	return g.followers.Entities()
}

// RatState is a read-only copy of one rat for collaborators outside the tick.
type RatState struct {
	Position  r3.Vec
	Velocity  r2.Vec
	Heading   float64
	Behavior  components.Behavior
	Occlusion components.Occlusion
}

// Rat returns a copy of a rat's externally visible state.
func (g *Game) Rat(e ecs.Entity) (RatState, error) {
	rat, err := g.lookup(e)
	if err != nil {
		return RatState{}, err
	}
	return RatState{
		Position:  g.posMap.Get(e).Vec(),
		Velocity:  g.velMap.Get(e).Planar(),
		Heading:   rat.Heading,
		Behavior:  rat.Behavior,
		Occlusion: *g.occMap.Get(e),
	}, nil
}

// Close flushes and closes output files.
func (g *Game) Close() error {
	return g.output.Close()
}
