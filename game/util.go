package game

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// normalizeAngle wraps angle to [-pi, pi].
func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// clampLength limits v to maxLen, returning zero when maxLen is not positive.
func clampLength(v r2.Vec, maxLen float64) r2.Vec {
	if maxLen <= 0 {
		return r2.Vec{}
	}
	n := r2.Norm(v)
	if n <= maxLen {
		return v
	}
	return r2.Scale(maxLen/n, v)
}

// unit normalizes v, returning zero for a zero vector.
func unit(v r2.Vec) r2.Vec {
	n := r2.Norm(v)
	if n < 1e-12 {
		return r2.Vec{}
	}
	return r2.Scale(1/n, v)
}
