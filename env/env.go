// Package env defines the obstruction and floor queries the swarm consumes,
// and a box-based arena that answers them.
package env

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// LayerMask selects which surfaces a query can hit.
type LayerMask uint32

const (
	LayerFloor LayerMask = 1 << iota
	LayerObstacle

	LayerAll = LayerFloor | LayerObstacle
)

// Hit describes the nearest blocking surface along a query.
type Hit struct {
	Point    r3.Vec
	Normal   r3.Vec
	Distance float64
}

// Environment is implemented by whatever collision system the host owns.
// Vectors are Y-up.
type Environment interface {
	// Sweep casts from origin along dir (need not be normalized) up to maxDist.
	Sweep(origin, dir r3.Vec, maxDist float64, mask LayerMask) (Hit, bool)
	// RaycastDown finds the floor below point within maxDist.
	RaycastDown(point r3.Vec, maxDist float64) (Hit, bool)
}

// Box is an axis-aligned solid.
type Box struct {
	Min, Max r3.Vec
	Layer    LayerMask
}

// Arena is an Environment made of axis-aligned boxes.
type Arena struct {
	Boxes []Box
}

// Open returns an arena with a single floor slab of the given extent whose top is at floorY.
func Open(width, depth, floorY float64) *Arena {
	return &Arena{
		Boxes: []Box{{
			Min:   r3.Vec{X: -width / 2, Y: floorY - 1, Z: -depth / 2},
			Max:   r3.Vec{X: width / 2, Y: floorY, Z: depth / 2},
			Layer: LayerFloor,
		}},
	}
}

// AddWall adds an obstacle box spanning the XZ rectangle from (x0, z0) to (x1, z1).
func (a *Arena) AddWall(x0, z0, x1, z1, bottom, top float64) {
	a.Boxes = append(a.Boxes, Box{
		Min:   r3.Vec{X: math.Min(x0, x1), Y: bottom, Z: math.Min(z0, z1)},
		Max:   r3.Vec{X: math.Max(x0, x1), Y: top, Z: math.Max(z0, z1)},
		Layer: LayerObstacle,
	})
}

// AddPlatform adds a floor box whose top surface is at height top.
func (a *Arena) AddPlatform(x0, z0, x1, z1, bottom, top float64) {
	a.Boxes = append(a.Boxes, Box{
		Min:   r3.Vec{X: math.Min(x0, x1), Y: bottom, Z: math.Min(z0, z1)},
		Max:   r3.Vec{X: math.Max(x0, x1), Y: top, Z: math.Max(z0, z1)},
		Layer: LayerFloor,
	})
}

// Sweep implements Environment.
func (a *Arena) Sweep(origin, dir r3.Vec, maxDist float64, mask LayerMask) (Hit, bool) {
	n := r3.Norm(dir)
	if n < 1e-12 || maxDist <= 0 {
		return Hit{}, false
	}
	dir = r3.Scale(1/n, dir)

	best := Hit{Distance: math.Inf(1)}
	found := false
	for i := range a.Boxes {
		b := &a.Boxes[i]
		if b.Layer&mask == 0 {
			continue
		}
		t, normal, ok := rayBox(origin, dir, b)
		if !ok || t > maxDist || t >= best.Distance {
			continue
		}
		best = Hit{Point: r3.Add(origin, r3.Scale(t, dir)), Normal: normal, Distance: t}
		found = true
	}
	return best, found
}

// RaycastDown implements Environment.
func (a *Arena) RaycastDown(point r3.Vec, maxDist float64) (Hit, bool) {
	return a.Sweep(point, r3.Vec{Y: -1}, maxDist, LayerFloor)
}

// rayBox is the slab test. Rays starting inside a box do not hit it.
func rayBox(o, d r3.Vec, b *Box) (float64, r3.Vec, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	var normal r3.Vec

	axes := [3]struct{ o, d, lo, hi float64 }{
		{o.X, d.X, b.Min.X, b.Max.X},
		{o.Y, d.Y, b.Min.Y, b.Max.Y},
		{o.Z, d.Z, b.Min.Z, b.Max.Z},
	}
	for i, ax := range axes {
		if math.Abs(ax.d) < 1e-12 {
			if ax.o < ax.lo || ax.o > ax.hi {
				return 0, r3.Vec{}, false
			}
			continue
		}
		t1 := (ax.lo - ax.o) / ax.d
		t2 := (ax.hi - ax.o) / ax.d
		sign := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			sign = 1
		}
		if t1 > tmin {
			tmin = t1
			normal = axisNormal(i, sign)
		}
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, r3.Vec{}, false
		}
	}
	if tmin < 0 {
		return 0, r3.Vec{}, false
	}
	return tmin, normal, true
}

func axisNormal(axis int, sign float64) r3.Vec {
	switch axis {
	case 0:
		return r3.Vec{X: sign}
	case 1:
		return r3.Vec{Y: sign}
	default:
		return r3.Vec{Z: sign}
	}
}
