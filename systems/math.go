package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Clamp functions for common value ranges

// clamp01 clamps a value to the [0, 1] range.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Vector helpers

// clampLength scales v down so its length does not exceed maxLen.
func clampLength(v r2.Vec, maxLen float64) r2.Vec {
	if maxLen <= 0 {
		return r2.Vec{}
	}
	n2 := r2.Norm2(v)
	if n2 <= maxLen*maxLen {
		return v
	}
	return r2.Scale(maxLen/math.Sqrt(n2), v)
}

// unit returns v normalized, or the zero vector when v is degenerate.
// r2.Unit yields NaN for a zero vector.
func unit(v r2.Vec) r2.Vec {
	n := r2.Norm(v)
	if n < 1e-12 {
		return r2.Vec{}
	}
	return r2.Scale(1/n, v)
}

// normalizeAngle wraps an angle to [-Pi, Pi].
func normalizeAngle(angle float64) float64 {
	for angle > math.Pi {
		angle -= 2 * math.Pi
	}
	for angle < -math.Pi {
		angle += 2 * math.Pi
	}
	return angle
}
