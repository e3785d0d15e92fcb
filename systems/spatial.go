// Package systems contains ECS systems for the simulation.
package systems

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/config"
)

// Spatial pass modes.
const (
	ModeGrid     = "grid"
	ModePairwise = "pairwise"
)

// snapshot is a rat's pre-tick state as seen by the proximity pass.
type snapshot struct {
	e    ecs.Entity
	id   uint32
	pos  r2.Vec
	vel  r2.Vec
	perc *components.Perception
}

// SpatialIndex rebuilds every rat's neighbor and separator sets from
// positions taken before any rat moves this tick.
type SpatialIndex struct {
	filter ecs.Filter4[components.Position, components.Velocity, components.Rat, components.Perception]

	mode             string
	neighborRadius   float64
	separationRadius float64

	grid    *SpatialGrid
	entries []snapshot
}

// NewSpatialIndex creates the proximity pass for the given config.
func NewSpatialIndex(w *ecs.World, cfg *config.Config) *SpatialIndex {
	s := &SpatialIndex{
		filter:           *ecs.NewFilter4[components.Position, components.Velocity, components.Rat, components.Perception](w),
		mode:             cfg.Spatial.Mode,
		neighborRadius:   cfg.Spatial.NeighborRadius,
		separationRadius: cfg.Spatial.SeparationRadius,
		entries:          make([]snapshot, 0, 256),
	}
	if s.mode == ModeGrid {
		s.grid = NewSpatialGrid(cfg.World.Width, cfg.World.Depth, cfg.Spatial.CellSize)
	}
	return s
}

// Update runs the proximity pass. Projectile and disabled rats end up with
// empty sets and are invisible to everyone else.
func (s *SpatialIndex) Update() {
	s.entries = s.entries[:0]

	query := s.filter.Query()
	for query.Next() {
		pos, vel, rat, perc := query.Get()
		perc.Reset()
		if rat.Disabled || rat.IsProjectile() {
			continue
		}
		s.entries = append(s.entries, snapshot{
			e:    query.Entity(),
			id:   rat.ID,
			pos:  pos.Planar(),
			vel:  vel.Planar(),
			perc: perc,
		})
	}

	if s.grid != nil {
		s.gridPass()
	} else {
		s.pairwisePass()
	}
}

// pairwisePass visits every unordered pair once.
func (s *SpatialIndex) pairwisePass() {
	for i := 0; i < len(s.entries); i++ {
		a := &s.entries[i]
		for j := i + 1; j < len(s.entries); j++ {
			b := &s.entries[j]
			offset := r2.Sub(b.pos, a.pos)
			d := r2.Norm(offset)
			if d > s.neighborRadius {
				continue
			}
			s.record(a, b, offset, d)
			s.record(b, a, r2.Scale(-1, offset), d)
		}
	}
}

// gridPass buckets entries into cells and searches the cells around each rat.
func (s *SpatialIndex) gridPass() {
	s.grid.Clear()
	for i := range s.entries {
		s.grid.Insert(i, s.entries[i].pos)
	}

	var candidates []int
	for i := range s.entries {
		a := &s.entries[i]
		candidates = s.grid.QueryRadiusInto(candidates[:0], a.pos, s.neighborRadius)
		for _, j := range candidates {
			if j == i {
				continue
			}
			b := &s.entries[j]
			offset := r2.Sub(b.pos, a.pos)
			d := r2.Norm(offset)
			if d > s.neighborRadius {
				continue
			}
			s.record(a, b, offset, d)
		}
	}
}

// record adds other to self's sets.
func (s *SpatialIndex) record(self, other *snapshot, offset r2.Vec, d float64) {
	n := components.Neighbor{
		E:        other.e,
		ID:       other.id,
		Offset:   offset,
		Dist:     d,
		Velocity: other.vel,
	}
	self.perc.Neighbors = append(self.perc.Neighbors, n)
	self.perc.Crush += 1 - d/s.neighborRadius
	if d <= s.separationRadius {
		self.perc.Separators = append(self.perc.Separators, n)
	}
}

// SpatialGrid buckets entry indices into uniform cells over an arena
// centered on the origin. Positions outside the arena clamp to edge cells.
type SpatialGrid struct {
	cellSize float64
	cols     int
	rows     int
	minX     float64
	minZ     float64
	cells    [][]int // flat grid of entry lists
}

// NewSpatialGrid creates a spatial grid covering the given arena size.
func NewSpatialGrid(width, depth, cellSize float64) *SpatialGrid {
	if cellSize <= 0 {
		cellSize = 1
	}
	cols := int(width/cellSize) + 1
	rows := int(depth/cellSize) + 1

	cells := make([][]int, cols*rows)
	for i := range cells {
		cells[i] = make([]int, 0, 8) // pre-allocate small capacity
	}

	return &SpatialGrid{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		minX:     -width / 2,
		minZ:     -depth / 2,
		cells:    cells,
	}
}

// Clear removes all entries from the grid.
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// Insert adds an entry index at the given plane position.
func (g *SpatialGrid) Insert(idx int, p r2.Vec) {
	col, row := g.cell(p)
	c := row*g.cols + col
	g.cells[c] = append(g.cells[c], idx)
}

// QueryRadiusInto appends every entry in cells overlapping the radius to dst.
// Callers filter by exact distance. Reuse dst across calls to avoid allocations.
func (g *SpatialGrid) QueryRadiusInto(dst []int, p r2.Vec, radius float64) []int {
	col0, row0 := g.cell(r2.Vec{X: p.X - radius, Y: p.Y - radius})
	col1, row1 := g.cell(r2.Vec{X: p.X + radius, Y: p.Y + radius})
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			dst = append(dst, g.cells[row*g.cols+col]...)
		}
	}
	return dst
}

// cell returns the clamped column and row for a plane position.
func (g *SpatialGrid) cell(p r2.Vec) (int, int) {
	col := int((p.X - g.minX) / g.cellSize)
	row := int((p.Y - g.minZ) / g.cellSize)

	// Clamp to valid range
	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}
