package trail

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Hit is the result of a nearest-point query.
type Hit struct {
	Point   r2.Vec // Closest point on the trail
	Forward r2.Vec // Unit direction toward the leader, zero on a degenerate trail

	Newer, Older           Point // Bracketing points, copied
	NewerIndex, OlderIndex int

	Value    float64 // Normalized trail position: 0 at the leader, 1 at the tail
	Distance float64 // Planar distance from the query origin
}

// ClosestPointOnTrail returns the nearest trail point to origin.
//
// When prevValue >= 0 the search is bounded to the part of the trail no
// further back than prevValue+maxBacktrack, so an agent's target cannot
// slide far down the trail between ticks. The bound clips the straddling
// segment locally; the trail itself is never modified.
//
// An empty trail yields an infinite distance; a single point yields that point.
func (t *Trail) ClosestPointOnTrail(origin r2.Vec, prevValue, maxBacktrack float64) Hit {
	n := len(t.points)
	switch n {
	case 0:
		return Hit{Point: origin, Distance: math.Inf(1)}
	case 1:
		p := t.points[0]
		return Hit{
			Point:    p.Pos,
			Newer:    p,
			Older:    p,
			Distance: r2.Norm(r2.Sub(origin, p.Pos)),
		}
	}

	limit := math.Inf(1)
	if prevValue >= 0 && maxBacktrack >= 0 {
		limit = (prevValue + maxBacktrack) * t.total
	}

	best := Hit{Distance: math.Inf(1)}
	acc := 0.0
	for i := 0; i < n-1; i++ {
		if acc > limit {
			break
		}
		newer, older := t.points[i], t.points[i+1]
		seg := newer.SegLength
		end := older.Pos
		if acc+seg > limit {
			seg = limit - acc
			end = r2.Add(newer.Pos, r2.Scale(seg, unit(r2.Sub(older.Pos, newer.Pos))))
		}

		q, frac := closestOnSegment(origin, newer.Pos, end)
		d := r2.Norm(r2.Sub(origin, q))
		if d < best.Distance {
			value := 0.0
			if t.total > 0 {
				value = clamp01((acc + frac*seg) / t.total)
			}
			best = Hit{
				Point:      q,
				Forward:    unit(r2.Sub(newer.Pos, older.Pos)),
				Newer:      newer,
				Older:      older,
				NewerIndex: i,
				OlderIndex: i + 1,
				Value:      value,
				Distance:   d,
			}
		}
		acc += newer.SegLength
	}
	return best
}

// PointAtValue returns the position and forward direction at trail value v.
// If the walk runs off the tail (cached length drift), the tail is returned
// and a warning is logged.
func (t *Trail) PointAtValue(v float64) (r2.Vec, r2.Vec) {
	n := len(t.points)
	switch n {
	case 0:
		return r2.Vec{}, r2.Vec{}
	case 1:
		return t.points[0].Pos, r2.Vec{}
	}

	target := clamp01(v) * t.total
	tol := t.tolerance()
	acc := 0.0
	for i := 0; i < n-1; i++ {
		newer, older := t.points[i], t.points[i+1]
		seg := newer.SegLength
		if target <= acc+seg+tol {
			frac := 0.0
			if seg > 0 {
				frac = clamp01((target - acc) / seg)
			}
			pos := r2.Add(newer.Pos, r2.Scale(frac, r2.Sub(older.Pos, newer.Pos)))
			return pos, unit(r2.Sub(newer.Pos, older.Pos))
		}
		acc += seg
	}

	t.logger.Warn("trail value walked past the tail",
		"value", v,
		"target", target,
		"walked", acc,
		"total", t.total,
	)
	tail := t.points[n-1]
	return tail.Pos, unit(r2.Sub(t.points[n-2].Pos, tail.Pos))
}

// DistanceBetweenValues converts a trail value difference to a distance.
func (t *Trail) DistanceBetweenValues(a, b float64) float64 {
	return t.total * math.Abs(a-b)
}

// ValueAtIndex returns the trail value of point i, clamped to the trail.
func (t *Trail) ValueAtIndex(i int) float64 {
	if t.total <= 0 || i <= 0 {
		return 0
	}
	if i >= len(t.points)-1 {
		return 1
	}
	acc := 0.0
	for j := 0; j < i; j++ {
		acc += t.points[j].SegLength
	}
	return clamp01(acc / t.total)
}

// closestOnSegment projects p onto segment ab, returning the point and its fraction along ab.
func closestOnSegment(p, a, b r2.Vec) (r2.Vec, float64) {
	ab := r2.Sub(b, a)
	l2 := r2.Norm2(ab)
	if l2 < 1e-18 {
		return a, 0
	}
	frac := clamp01(r2.Dot(r2.Sub(p, a), ab) / l2)
	return r2.Add(a, r2.Scale(frac, ab)), frac
}
