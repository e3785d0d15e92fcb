package game

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/config"
	"github.com/pthm-cable/ratswarm/env"
	"github.com/pthm-cable/ratswarm/telemetry"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestGame(t *testing.T, cfg *config.Config, opts Options) *Game {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger
	}
	if opts.Seed == 0 {
		opts.Seed = 1
	}
	g, err := NewGame(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func mustInvariants(t *testing.T, g *Game, step string) {
	t.Helper()
	if err := g.CheckInvariants(); err != nil {
		t.Fatalf("after %s: %v", step, err)
	}
}

func behaviorOf(t *testing.T, g *Game, e ecs.Entity) components.Behavior {
	t.Helper()
	s, err := g.Rat(e)
	if err != nil {
		t.Fatal(err)
	}
	return s.Behavior
}

// recorder counts observer notifications.
type recorder struct {
	followerCounts []int
	transitions    int
	created        []int
	resolved       int
	spawned        int
	despawned      int
}

func (r *recorder) FollowerCountChanged(n int) { r.followerCounts = append(r.followerCounts, n) }
func (r *recorder) BehaviorChanged(ecs.Entity, components.Behavior, components.Behavior) {
	r.transitions++
}
func (r *recorder) JumpMarkerCreated(tokens int) { r.created = append(r.created, tokens) }
func (r *recorder) JumpMarkerResolved()          { r.resolved++ }
func (r *recorder) RatSpawned(ecs.Entity)        { r.spawned++ }
func (r *recorder) RatDespawned(ecs.Entity)      { r.despawned++ }

func TestJumpMarkerTokenConservation(t *testing.T) {
	g := newTestGame(t, nil, Options{})
	rec := &recorder{}
	g.AddObserver(rec)

	spots := []r2.Vec{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {X: 0.5, Y: 0.5}}
	var rats []ecs.Entity
	for _, p := range spots {
		e := g.Spawn(p)
		g.MakeFollower(e)
		rats = append(rats, e)
	}
	mustInvariants(t, g, "joining")
	if g.FollowerCount() != 5 {
		t.Fatalf("followers = %d, want 5", g.FollowerCount())
	}

	if err := g.Jump(r3.Vec{X: 10, Y: 5}); err != nil {
		t.Fatal(err)
	}
	head, err := g.Trail().Point(0)
	if err != nil {
		t.Fatal(err)
	}
	if head.JumpTokens != 5 || g.Trail().MarkerCount() != 1 {
		t.Fatalf("head tokens = %d, markers = %d; want 5, 1", head.JumpTokens, g.Trail().MarkerCount())
	}
	if len(rec.created) != 1 || rec.created[0] != 5 {
		t.Errorf("marker created notifications = %v, want [5]", rec.created)
	}

	for i, e := range rats {
		if err := g.RemoveRatAsFollower(e); err != nil {
			t.Fatal(err)
		}
		mustInvariants(t, g, "removing follower")
		head, _ = g.Trail().Point(0)
		if want := 4 - i; head.JumpTokens != want {
			t.Fatalf("after %d removals tokens = %d, want %d", i+1, head.JumpTokens, want)
		}
	}
	if g.Trail().MarkerCount() != 0 {
		t.Errorf("markers = %d, want 0", g.Trail().MarkerCount())
	}
	if rec.resolved != 1 {
		t.Errorf("resolved notifications = %d, want 1", rec.resolved)
	}
	if got := rec.followerCounts[len(rec.followerCounts)-1]; got != 0 {
		t.Errorf("last follower count = %d, want 0", got)
	}
}

func TestJumpMarkerConditions(t *testing.T) {
	blocked := env.Open(400, 400, 0)
	blocked.AddWall(1, -5, 2, 5, 0, 3)

	tests := []struct {
		name      string
		env       env.Environment
		followers int
		force     r3.Vec
		marker    bool
	}{
		{"forward with followers", nil, 2, r3.Vec{X: 10, Y: 5}, true},
		{"no followers", nil, 0, r3.Vec{X: 10, Y: 5}, false},
		{"purely vertical", nil, 2, r3.Vec{Y: 8}, false},
		{"obstructed", blocked, 2, r3.Vec{X: 10, Y: 5}, false},
		{"obstructed behind", blocked, 2, r3.Vec{X: -10, Y: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGame(t, nil, Options{Environment: tt.env})
			for i := 0; i < tt.followers; i++ {
				g.MakeFollower(g.Spawn(r2.Vec{X: -1, Y: float64(i)}))
			}
			if err := g.Jump(tt.force); err != nil {
				t.Fatal(err)
			}
			if got := g.Trail().MarkerCount() == 1; got != tt.marker {
				t.Errorf("marker placed = %v, want %v", got, tt.marker)
			}
		})
	}
}

func TestJumpRejectedWhileAirborne(t *testing.T) {
	g := newTestGame(t, nil, Options{})
	if err := g.Jump(r3.Vec{X: 2, Y: 8}); err != nil {
		t.Fatal(err)
	}
	if !g.Leader().Airborne() {
		t.Fatal("leader not airborne after jump")
	}
	if err := g.Jump(r3.Vec{X: 2, Y: 8}); !errors.Is(err, ErrAirborne) {
		t.Fatalf("second jump error = %v, want ErrAirborne", err)
	}

	// 8 up under 30 gravity is back down in about half a second.
	for i := 0; i < 60; i++ {
		g.Step(Input{})
	}
	if g.Leader().Airborne() {
		t.Fatalf("leader still airborne at y=%v", g.Leader().Position().Y)
	}
	if err := g.Jump(r3.Vec{Y: 8}); err != nil {
		t.Errorf("jump after landing: %v", err)
	}
}

func TestMakeFollowerOwesOnlyMarkersAhead(t *testing.T) {
	g := newTestGame(t, nil, Options{})
	tr := g.Trail()
	tr.Reset(r2.Vec{X: -10})
	tr.PushNewHead(r2.Vec{X: -5}, r3.Vec{})
	tr.PushNewHead(r2.Vec{}, r3.Vec{})
	if err := tr.MakeJumpMarker(1, r3.Vec{X: 5, Y: 5}, 1); err != nil {
		t.Fatal(err)
	}

	ahead := g.Spawn(r2.Vec{X: -2, Y: 1})
	g.MakeFollower(ahead)
	if p, _ := tr.Point(1); p.JumpTokens != 1 {
		t.Errorf("join ahead of the marker: tokens = %d, want 1", p.JumpTokens)
	}

	behind := g.Spawn(r2.Vec{X: -8, Y: 1})
	g.MakeFollower(behind)
	if p, _ := tr.Point(1); p.JumpTokens != 2 {
		t.Errorf("join behind the marker: tokens = %d, want 2", p.JumpTokens)
	}
	mustInvariants(t, g, "joins")
}

func TestLifecycleKeepsMembership(t *testing.T) {
	g := newTestGame(t, nil, Options{})
	a := g.Spawn(r2.Vec{X: 1})
	b := g.Spawn(r2.Vec{X: 2})
	c := g.Spawn(r2.Vec{X: 3})
	mustInvariants(t, g, "spawn")

	steps := []struct {
		name string
		do   func() error
		e    ecs.Entity
		want components.Behavior
	}{
		{"follow", func() error { g.MakeFollower(a); return nil }, a, components.BehaviorTrailFollower},
		{"deploy follower", func() error { return g.MakeDeployed(a, r2.Vec{X: 5}) }, a, components.BehaviorDeployed},
		{"follow deployed", func() error { g.MakeFollower(a); return nil }, a, components.BehaviorTrailFollower},
		{"distract", func() error { return g.Distract(b) }, b, components.BehaviorDistracted},
		{"release distracted", func() error { g.ReleaseTarget(b); return nil }, b, components.BehaviorFree},
		{"launch follower", func() error { g.Launch(a, r3.Vec{X: 1, Y: 4}); return nil }, a, components.BehaviorProjectile},
		{"release airborne", func() error { g.ReleaseTarget(a); return nil }, a, components.BehaviorProjectile},
		{"land near trail", func() error { g.Land(a); return nil }, a, components.BehaviorTrailFollower},
		{"deploy free", func() error { return g.MakeDeployed(c, r2.Vec{X: -5}) }, c, components.BehaviorDeployed},
		{"release deployed", func() error { g.ReleaseTarget(c); return nil }, c, components.BehaviorFree},
	}
	for _, s := range steps {
		if err := s.do(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		mustInvariants(t, g, s.name)
		if got := behaviorOf(t, g, s.e); got != s.want {
			t.Errorf("%s: behavior = %v, want %v", s.name, got, s.want)
		}
	}

	g.Despawn(a)
	mustInvariants(t, g, "despawn")
	if g.RatCount() != 2 || g.FollowerCount() != 0 {
		t.Errorf("after despawn: rats = %d, followers = %d", g.RatCount(), g.FollowerCount())
	}
	if err := g.MakeDeployed(a, r2.Vec{}); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("deploying a despawned rat: err = %v, want ErrUnknownAgent", err)
	}
	if _, err := g.Rat(a); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("reading a despawned rat: err = %v, want ErrUnknownAgent", err)
	}
}

func TestAirborneRatsCannotBeDeployed(t *testing.T) {
	g := newTestGame(t, nil, Options{})
	e := g.Spawn(r2.Vec{X: 1})
	g.Launch(e, r3.Vec{Y: 5})
	if err := g.MakeDeployed(e, r2.Vec{}); !errors.Is(err, ErrAirborne) {
		t.Errorf("MakeDeployed err = %v, want ErrAirborne", err)
	}
	if err := g.Distract(e); !errors.Is(err, ErrAirborne) {
		t.Errorf("Distract err = %v, want ErrAirborne", err)
	}
	mustInvariants(t, g, "rejected transitions")
}

func TestLandJoinsWithinInfluence(t *testing.T) {
	tests := []struct {
		name string
		at   r2.Vec
		want components.Behavior
	}{
		{"inside radius", r2.Vec{X: 3, Y: 4}, components.BehaviorTrailFollower},
		{"outside radius", r2.Vec{X: 50}, components.BehaviorFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGame(t, nil, Options{})
			e := g.Spawn(tt.at)
			g.Launch(e, r3.Vec{X: 2, Y: 3, Z: -1})
			g.Land(e)

			s, err := g.Rat(e)
			if err != nil {
				t.Fatal(err)
			}
			if s.Behavior != tt.want {
				t.Errorf("behavior = %v, want %v", s.Behavior, tt.want)
			}
			if s.Velocity != (r2.Vec{X: 2, Y: -1}) {
				t.Errorf("velocity after landing = %v, want planar air velocity", s.Velocity)
			}
			if v := g.ratMap.Get(e).LastTrailValue; v != -1 {
				t.Errorf("last trail value = %v, want -1", v)
			}
			mustInvariants(t, g, "landing")
		})
	}
}

func TestTrailHeldForRatsInFlight(t *testing.T) {
	g := newTestGame(t, nil, Options{})

	// Straight trail running 20 units back from the leader at the origin.
	g.trail.Reset(r2.Vec{X: -20})
	for x := -19.0; x <= 0; x++ {
		g.trail.PushNewHead(r2.Vec{X: x}, r3.Vec{X: 1})
	}

	const n = 20
	var rats []ecs.Entity
	for i := 0; i < n; i++ {
		e := g.Spawn(r2.Vec{X: -1 - 0.5*float64(i)})
		g.MakeFollower(e)
		rats = append(rats, e)
	}
	stray := g.Spawn(r2.Vec{Y: 3})
	g.Launch(stray, r3.Vec{Y: 4})
	if g.OffTrailCount() != 0 {
		t.Fatalf("free rat launch holds a trail share")
	}

	// The whole swarm leaves the ground in the same tick.
	for _, e := range rats {
		g.Launch(e, r3.Vec{X: 4, Y: 6})
	}
	if g.FollowerCount() != 0 || g.OffTrailCount() != n {
		t.Fatalf("followers = %d, in flight = %d; want 0, %d", g.FollowerCount(), g.OffTrailCount(), n)
	}
	mustInvariants(t, g, "launching followers")

	g.updateTrail(g.cfg.Physics.DT)
	want := g.trail.TargetLength(n, g.leader.Speed())
	if got := g.trail.TotalLength(); math.Abs(got-want) > 1e-6 {
		t.Fatalf("trail length = %v, want %v sized for the rats in flight", got, want)
	}

	for _, e := range rats {
		g.Land(e)
	}
	if g.FollowerCount() != n || g.OffTrailCount() != 0 {
		t.Errorf("after landing followers = %d, in flight = %d; want %d, 0", g.FollowerCount(), g.OffTrailCount(), n)
	}
	mustInvariants(t, g, "landing")

	g.Launch(rats[0], r3.Vec{Y: 6})
	g.Despawn(rats[0])
	if g.OffTrailCount() != 0 {
		t.Errorf("in flight = %d after despawning an airborne follower, want 0", g.OffTrailCount())
	}
	mustInvariants(t, g, "despawn in flight")
}

func TestJumpingSwarmStaysOnTrail(t *testing.T) {
	const rats = 30
	g := newTestGame(t, nil, Options{})
	g.SpawnSwarm(rats)

	ap, err := NewAutopilot(ScriptFigure8, 20, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 60; i++ {
		ap.Run(g, 60)
		mustInvariants(t, g, "jumping second")
	}
	if kept := g.FollowerCount() + g.OffTrailCount(); kept < rats/2 {
		t.Errorf("%d of %d rats still on the trail after repeated jumps, trail length %v",
			kept, rats, g.trail.TotalLength())
	}
}

func TestMissingProfilesDisable(t *testing.T) {
	cfg := config.Default()
	cfg.Leader.Profiles = nil
	cfg.Rat.Profiles = nil
	g := newTestGame(t, cfg, Options{})

	if !g.Leader().Disabled() {
		t.Error("leader without profiles is not disabled")
	}
	if err := g.Jump(r3.Vec{X: 1, Y: 5}); !errors.Is(err, ErrLeaderDisabled) {
		t.Errorf("jump err = %v, want ErrLeaderDisabled", err)
	}

	e := g.Spawn(r2.Vec{X: 1})
	g.velMap.Get(e).Set(r2.Vec{X: 3})
	for i := 0; i < 30; i++ {
		g.Step(Input{Move: r2.Vec{X: 1}})
	}
	s, err := g.Rat(e)
	if err != nil {
		t.Fatal(err)
	}
	if s.Position.X != 1 {
		t.Errorf("disabled rat moved to x=%v", s.Position.X)
	}
	if g.Leader().Position().X != 0 {
		t.Errorf("disabled leader moved to x=%v", g.Leader().Position().X)
	}
	mustInvariants(t, g, "disabled run")
}

func TestLeaderBacktracking(t *testing.T) {
	tests := []struct {
		name string
		vel  r3.Vec
		want bool
	}{
		{"moving ahead", r3.Vec{X: 3}, false},
		{"moving back", r3.Vec{X: -3}, true},
		{"crawling back", r3.Vec{X: -0.05}, false},
		{"sideways", r3.Vec{Z: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGame(t, nil, Options{})
			g.Trail().Reset(r2.Vec{X: -10})
			g.Trail().PushNewHead(r2.Vec{}, r3.Vec{})
			g.leader.vel = tt.vel
			if got := g.computeLeaderState().Backtracking; got != tt.want {
				t.Errorf("backtracking = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStepMovesLeaderAndGrowsTrail(t *testing.T) {
	g := newTestGame(t, nil, Options{})
	g.SpawnSwarm(10)
	for i := 0; i < 120; i++ {
		g.Step(Input{Move: r2.Vec{X: 1}})
		mustInvariants(t, g, "step")
	}
	l := g.Leader()
	if l.Position().X < 5 {
		t.Errorf("leader x = %v after two seconds", l.Position().X)
	}
	if s := l.Speed(); s > l.Profile().MaxSpeed+1e-9 {
		t.Errorf("leader speed %v exceeds max %v", s, l.Profile().MaxSpeed)
	}
	if g.Trail().Len() < 2 || g.Trail().TotalLength() <= 0 {
		t.Errorf("trail has %d points, length %v", g.Trail().Len(), g.Trail().TotalLength())
	}
	if g.Tick() != 120 {
		t.Errorf("tick = %d, want 120", g.Tick())
	}
}

func TestLeaderStopsAtWall(t *testing.T) {
	arena := env.Open(400, 400, 0)
	arena.AddWall(5, -20, 6, 20, 0, 3)
	g := newTestGame(t, nil, Options{Environment: arena})

	for i := 0; i < 300; i++ {
		g.Step(Input{Move: r2.Vec{X: 1}})
	}
	if x := g.Leader().Position().X; x > 5 {
		t.Errorf("leader passed through the wall to x=%v", x)
	}
}

func TestAutopilotRunKeepsInvariants(t *testing.T) {
	windows := 0
	g := newTestGame(t, nil, Options{StatsCallback: func(telemetry.WindowStats) { windows++ }})
	g.SpawnSwarm(40)

	ap, err := NewAutopilot(ScriptFigure8, 20, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		ap.Run(g, 60)
		mustInvariants(t, g, "autopilot second")
	}
	if windows != 2 {
		t.Errorf("stats windows = %d, want 2", windows)
	}
}

func TestAutopilotScripts(t *testing.T) {
	if _, err := NewAutopilot("moonwalk", 10, 0); !errors.Is(err, ErrUnknownScript) {
		t.Errorf("unknown script err = %v", err)
	}
	for _, s := range Scripts {
		ap, err := NewAutopilot(s, 10, 0.5)
		if err != nil {
			t.Fatal(err)
		}
		jumped := false
		for i := 0; i < 60; i++ {
			in := ap.Next(false, 1.0/60)
			if n := r2.Norm(in.Move); n > 1+1e-9 {
				t.Errorf("%s: move magnitude %v", s, n)
			}
			jumped = jumped || in.Jump
		}
		if want := s != ScriptIdle; jumped != want {
			t.Errorf("%s: jumped = %v, want %v", s, jumped, want)
		}
	}
}

func TestOutputFiles(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGame(config.Default(), Options{
		Seed:           3,
		Logger:         quietLogger,
		OutputDir:      dir,
		RecordEvents:   true,
		StatsWindowSec: 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}
	g.SpawnSwarm(5)
	for i := 0; i < 12; i++ {
		g.Step(Input{Move: r2.Vec{Y: 1}})
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"config.yaml", "telemetry.csv", "perf.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "events.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "spawn") != 5 {
		t.Errorf("events.csv = %q, want 5 spawns", data)
	}
}

func TestLogWorldState(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriter(&buf)
	t.Cleanup(func() { SetLogWriter(nil) })

	g := newTestGame(t, nil, Options{LogWorld: true, StatsWindowSec: 0.1})
	g.SpawnSwarm(3)
	for i := 0; i < 10; i++ {
		g.Step(Input{})
	}
	if !strings.Contains(buf.String(), "=== Tick") || !strings.Contains(buf.String(), "Rats: free=") {
		t.Errorf("world dump = %q", buf.String())
	}
}

func TestEntitySet(t *testing.T) {
	w := ecs.NewWorld()
	m := ecs.NewMap1[components.Rat](w)
	a := m.NewEntity(&components.Rat{})
	b := m.NewEntity(&components.Rat{})
	c := m.NewEntity(&components.Rat{})

	s := NewEntitySet()
	for _, e := range []ecs.Entity{a, b, c} {
		if !s.Add(e) {
			t.Fatal("add of a new entity reported present")
		}
	}
	if s.Add(a) {
		t.Error("duplicate add reported absent")
	}
	if !s.Remove(a) || s.Remove(a) {
		t.Error("remove did not report membership correctly")
	}
	if s.Len() != 2 || s.Contains(a) || !s.Contains(b) || !s.Contains(c) {
		t.Errorf("set after remove: len %d, members %v", s.Len(), s.Entities())
	}
}
