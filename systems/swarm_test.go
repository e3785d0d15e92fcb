package systems

import (
	"testing"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/config"
	"github.com/pthm-cable/ratswarm/trail"
)

// testWorld is a bare ECS world with the rat archetype.
type testWorld struct {
	world  *ecs.World
	mapper *ecs.Map5[components.Position, components.Velocity, components.Rat, components.Perception, components.Occlusion]
	pos    *ecs.Map1[components.Position]
	vel    *ecs.Map1[components.Velocity]
	rats   *ecs.Map1[components.Rat]
	perc   *ecs.Map1[components.Perception]
	occ    *ecs.Map1[components.Occlusion]
	nextID uint32
}

func newTestWorld() *testWorld {
	w := ecs.NewWorld()
	return &testWorld{
		world:  w,
		mapper: ecs.NewMap5[components.Position, components.Velocity, components.Rat, components.Perception, components.Occlusion](w),
		pos:    ecs.NewMap1[components.Position](w),
		vel:    ecs.NewMap1[components.Velocity](w),
		rats:   ecs.NewMap1[components.Rat](w),
		perc:   ecs.NewMap1[components.Perception](w),
		occ:    ecs.NewMap1[components.Occlusion](w),
	}
}

func (tw *testWorld) spawn(x, z, vx, vz float64, b components.Behavior) ecs.Entity {
	tw.nextID++
	pos := components.Position{X: x, Z: z}
	vel := components.Velocity{X: vx, Z: vz}
	rat := components.Rat{
		ID:                tw.nextID,
		Behavior:          b,
		MaxSpeed:          9,
		OvertakeAllowance: 1.5,
		LastTrailValue:    -1,
	}
	return tw.mapper.NewEntity(&pos, &vel, &rat, &components.Perception{}, &components.Occlusion{})
}

// fakeSwarm records lifecycle calls and applies the minimal state changes.
type fakeSwarm struct {
	tw     *testWorld
	tr     *trail.Trail
	leader LeaderState

	followed  []ecs.Entity
	released  []ecs.Entity
	launched  []ecs.Entity
	forces    []r3.Vec
	landed    []ecs.Entity
	despawned []ecs.Entity
}

func newFakeSwarm(tw *testWorld, cfg *config.Config) *fakeSwarm {
	return &fakeSwarm{
		tw:     tw,
		tr:     trail.New(cfg.Trail, nil),
		leader: LeaderState{InfluenceRadius: cfg.Leader.InfluenceRadius, Speed: 4},
	}
}

func (f *fakeSwarm) Trail() *trail.Trail      { return f.tr }
func (f *fakeSwarm) LeaderState() LeaderState { return f.leader }

func (f *fakeSwarm) MakeFollower(e ecs.Entity) {
	f.followed = append(f.followed, e)
	f.tw.rats.Get(e).Behavior = components.BehaviorTrailFollower
}

func (f *fakeSwarm) ReleaseTarget(e ecs.Entity) {
	f.released = append(f.released, e)
	rat := f.tw.rats.Get(e)
	rat.Behavior = components.BehaviorFree
	rat.LastTrailValue = -1
}

func (f *fakeSwarm) Launch(e ecs.Entity, force r3.Vec) {
	f.launched = append(f.launched, e)
	f.forces = append(f.forces, force)
	rat := f.tw.rats.Get(e)
	rat.Behavior = components.BehaviorProjectile
	rat.LastTrailValue = -1
	rat.AirVelocity = force
	f.tw.vel.Get(e).Set(r2.Vec{})
}

func (f *fakeSwarm) Land(e ecs.Entity) {
	f.landed = append(f.landed, e)
	rat := f.tw.rats.Get(e)
	rat.Behavior = components.BehaviorFree
	rat.AirVelocity = r3.Vec{}
}

func (f *fakeSwarm) Despawn(e ecs.Entity) {
	f.despawned = append(f.despawned, e)
}

// straightTrail lays a trail from the head at (0, n-1) down to the tail at the origin.
func straightTrail(t *testing.T, tr *trail.Trail, n int) {
	t.Helper()
	tr.Reset(r2.Vec{})
	for i := 1; i < n; i++ {
		tr.PushNewHead(r2.Vec{X: 0, Y: float64(i)}, r3.Vec{Z: 1})
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("trail invalid: %v", err)
	}
}

func testConfig() *config.Config {
	return config.Default()
}
