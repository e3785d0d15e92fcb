package components

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/ratswarm/config"
)

// Neighbor is a snapshot of another rat taken before this tick's movement.
type Neighbor struct {
	E        ecs.Entity
	ID       uint32
	Offset   r2.Vec // Other position minus own position
	Dist     float64
	Velocity r2.Vec
}

// Perception holds the proximity pass output for one rat.
// Rebuilt every tick; nothing here outlives the tick.
type Perception struct {
	Neighbors  []Neighbor
	Separators []Neighbor
	Crush      float64 // Sum of (1 - d/neighborRadius) over neighbors
}

// Reset clears the sets while keeping their capacity.
func (p *Perception) Reset() {
	p.Neighbors = p.Neighbors[:0]
	p.Separators = p.Separators[:0]
	p.Crush = 0
}

// Occlusion is the crowding output consumed by rendering collaborators.
type Occlusion struct {
	Intensity  float64
	Color      config.Color
	PileHeight float64 // Added to the rat's resting height
}
