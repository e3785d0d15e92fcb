package systems

import (
	"math"
	"math/rand"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/ratswarm/components"
)

type perceptionSummary struct {
	neighbors  int
	separators int
	crush      float64
}

func summarize(tw *testWorld, entities []ecs.Entity) map[ecs.Entity]perceptionSummary {
	out := make(map[ecs.Entity]perceptionSummary, len(entities))
	for _, e := range entities {
		p := tw.perc.Get(e)
		out[e] = perceptionSummary{len(p.Neighbors), len(p.Separators), p.Crush}
	}
	return out
}

func TestGridMatchesPairwise(t *testing.T) {
	cfg := testConfig()
	tw := newTestWorld()
	rng := rand.New(rand.NewSource(7))

	var entities []ecs.Entity
	for i := 0; i < 300; i++ {
		x := rng.Float64()*40 - 20
		z := rng.Float64()*40 - 20
		entities = append(entities, tw.spawn(x, z, rng.Float64(), rng.Float64(), components.BehaviorFree))
	}
	// A few rats outside the arena exercise the clamped edge cells.
	entities = append(entities, tw.spawn(300, 0, 0, 0, components.BehaviorFree))
	entities = append(entities, tw.spawn(301, 0.5, 0, 0, components.BehaviorFree))

	cfg.Spatial.Mode = ModePairwise
	NewSpatialIndex(tw.world, cfg).Update()
	want := summarize(tw, entities)

	cfg.Spatial.Mode = ModeGrid
	NewSpatialIndex(tw.world, cfg).Update()
	got := summarize(tw, entities)

	for _, e := range entities {
		g, w := got[e], want[e]
		if g.neighbors != w.neighbors || g.separators != w.separators {
			t.Fatalf("entity %v: grid %d/%d, pairwise %d/%d neighbors/separators",
				e, g.neighbors, g.separators, w.neighbors, w.separators)
		}
		if math.Abs(g.crush-w.crush) > 1e-9 {
			t.Errorf("entity %v: grid crush %v, pairwise %v", e, g.crush, w.crush)
		}
	}
	if got[entities[len(entities)-1]].neighbors != 1 {
		t.Error("rats outside the arena should still see each other")
	}
}

func TestSpatialSnapshotsNeighbor(t *testing.T) {
	for _, mode := range []string{ModePairwise, ModeGrid} {
		t.Run(mode, func(t *testing.T) {
			cfg := testConfig()
			cfg.Spatial.Mode = mode
			cfg.Spatial.NeighborRadius = 3
			cfg.Spatial.SeparationRadius = 1

			tw := newTestWorld()
			a := tw.spawn(0, 0, 0, 0, components.BehaviorFree)
			b := tw.spawn(2, 0, 1, -1, components.BehaviorFree)
			c := tw.spawn(0, 0.5, 0, 0, components.BehaviorFree)

			NewSpatialIndex(tw.world, cfg).Update()

			pa := tw.perc.Get(a)
			if len(pa.Neighbors) != 2 || len(pa.Separators) != 1 {
				t.Fatalf("a: %d neighbors, %d separators; want 2, 1", len(pa.Neighbors), len(pa.Separators))
			}
			if pa.Separators[0].E != c {
				t.Errorf("a separator = %v, want %v", pa.Separators[0].E, c)
			}
			wantCrush := (1 - 2.0/3) + (1 - 0.5/3)
			if math.Abs(pa.Crush-wantCrush) > 1e-12 {
				t.Errorf("a crush = %v, want %v", pa.Crush, wantCrush)
			}

			for _, n := range pa.Neighbors {
				if n.E != b {
					continue
				}
				if n.Offset != (r2.Vec{X: 2}) || n.Dist != 2 {
					t.Errorf("offset to b = %+v dist %v", n.Offset, n.Dist)
				}
				if n.Velocity != (r2.Vec{X: 1, Y: -1}) {
					t.Errorf("velocity of b = %+v", n.Velocity)
				}
			}

			pb := tw.perc.Get(b)
			for _, n := range pb.Neighbors {
				if n.E == a && n.Offset != (r2.Vec{X: -2}) {
					t.Errorf("offset from b to a = %+v, want (-2, 0)", n.Offset)
				}
			}
		})
	}
}

func TestProjectilesAreInvisible(t *testing.T) {
	cfg := testConfig()
	tw := newTestWorld()
	a := tw.spawn(0, 0, 0, 0, components.BehaviorFree)
	p := tw.spawn(0.5, 0, 0, 0, components.BehaviorProjectile)

	// Stale data from an earlier tick must be cleared.
	tw.perc.Get(p).Crush = 5

	NewSpatialIndex(tw.world, cfg).Update()

	if n := len(tw.perc.Get(a).Neighbors); n != 0 {
		t.Errorf("grounded rat sees %d neighbors, want 0", n)
	}
	pp := tw.perc.Get(p)
	if len(pp.Neighbors) != 0 || pp.Crush != 0 {
		t.Errorf("projectile perception = %+v, want empty", pp)
	}
}

func TestSpatialGridQueryCoversRadius(t *testing.T) {
	g := NewSpatialGrid(100, 100, 4)
	g.Insert(0, r2.Vec{X: 0, Y: 0})
	g.Insert(1, r2.Vec{X: 7.9, Y: 0})
	g.Insert(2, r2.Vec{X: 30, Y: 30})

	got := g.QueryRadiusInto(nil, r2.Vec{X: 3.9, Y: 0}, 4)
	seen := map[int]bool{}
	for _, i := range got {
		seen[i] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("query missed nearby entries: %v", got)
	}
	if seen[2] {
		t.Errorf("query returned a far entry: %v", got)
	}

	g.Clear()
	if got := g.QueryRadiusInto(nil, r2.Vec{}, 50); len(got) != 0 {
		t.Errorf("cleared grid returned %v", got)
	}
}
