package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartTick int32   `csv:"-"`
	WindowEndTick   int32   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Behavior counts at window end
	Free        int `csv:"free"`
	Followers   int `csv:"followers"`
	Deployed    int `csv:"deployed"`
	Distracted  int `csv:"distracted"`
	Projectiles int `csv:"projectiles"`
	Disabled    int `csv:"disabled"`

	// Events during window
	Spawns          int `csv:"spawns"`
	Despawns        int `csv:"despawns"`
	Joins           int `csv:"joins"`
	Releases        int `csv:"releases"`
	Launches        int `csv:"launches"`
	Landings        int `csv:"landings"`
	MarkersCreated  int `csv:"markers_created"`
	MarkersResolved int `csv:"markers_resolved"`
	PeakFollowers   int `csv:"peak_followers"`

	// Trail (sampled at window end)
	TrailLength   float64 `csv:"trail_length"`
	TrailTarget   float64 `csv:"trail_target"`
	TrailPoints   int     `csv:"trail_points"`
	ActiveMarkers int     `csv:"active_markers"`
	LeaderSpeed   float64 `csv:"leader_speed"`

	// Crowding distribution
	CrushMean float64 `csv:"crush_mean"`
	CrushP50  float64 `csv:"crush_p50"`
	CrushP90  float64 `csv:"crush_p90"`
	CrushMax  float64 `csv:"crush_max"`
	PileMean  float64 `csv:"pile_mean"`

	// Follower distance to their trail point
	TrailDistMean float64 `csv:"trail_dist_mean"`
	TrailDistP50  float64 `csv:"trail_dist_p50"`
	TrailDistP90  float64 `csv:"trail_dist_p90"`

	// Fraction of followers in the straggler band at the tail
	StragglerFrac float64 `csv:"straggler_frac"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Distribution summarizes a sample.
type Distribution struct {
	Mean, StdDev  float64
	P10, P50, P90 float64
	Max           float64
}

// ComputeDistribution calculates mean, spread and percentiles. The input is not modified.
func ComputeDistribution(values []float64) Distribution {
	n := len(values)
	if n == 0 {
		return Distribution{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	d := Distribution{
		Mean: stat.Mean(sorted, nil),
		P10:  Percentile(sorted, 0.10),
		P50:  Percentile(sorted, 0.50),
		P90:  Percentile(sorted, 0.90),
		Max:  floats.Max(sorted),
	}
	if n > 1 {
		_, d.StdDev = stat.PopMeanStdDev(sorted, nil)
	}
	return d
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", int(s.WindowStartTick)),
		slog.Int("window_end", int(s.WindowEndTick)),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("free", s.Free),
		slog.Int("followers", s.Followers),
		slog.Int("deployed", s.Deployed),
		slog.Int("distracted", s.Distracted),
		slog.Int("projectiles", s.Projectiles),
		slog.Int("disabled", s.Disabled),
		slog.Int("spawns", s.Spawns),
		slog.Int("despawns", s.Despawns),
		slog.Int("joins", s.Joins),
		slog.Int("releases", s.Releases),
		slog.Int("launches", s.Launches),
		slog.Int("landings", s.Landings),
		slog.Int("markers_created", s.MarkersCreated),
		slog.Int("markers_resolved", s.MarkersResolved),
		slog.Int("peak_followers", s.PeakFollowers),
		slog.Float64("trail_length", s.TrailLength),
		slog.Float64("trail_target", s.TrailTarget),
		slog.Int("trail_points", s.TrailPoints),
		slog.Int("active_markers", s.ActiveMarkers),
		slog.Float64("leader_speed", s.LeaderSpeed),
		slog.Float64("crush_mean", s.CrushMean),
		slog.Float64("crush_p50", s.CrushP50),
		slog.Float64("crush_p90", s.CrushP90),
		slog.Float64("crush_max", s.CrushMax),
		slog.Float64("pile_mean", s.PileMean),
		slog.Float64("trail_dist_mean", s.TrailDistMean),
		slog.Float64("trail_dist_p50", s.TrailDistP50),
		slog.Float64("trail_dist_p90", s.TrailDistP90),
		slog.Float64("straggler_frac", s.StragglerFrac),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTimeSec,
		"free", s.Free,
		"followers", s.Followers,
		"deployed", s.Deployed,
		"projectiles", s.Projectiles,
		"joins", s.Joins,
		"releases", s.Releases,
		"launches", s.Launches,
		"landings", s.Landings,
		"markers_created", s.MarkersCreated,
		"markers_resolved", s.MarkersResolved,
		"trail_length", s.TrailLength,
		"trail_points", s.TrailPoints,
		"active_markers", s.ActiveMarkers,
		"crush_p90", s.CrushP90,
		"trail_dist_mean", s.TrailDistMean,
		"straggler_frac", s.StragglerFrac,
	)
}
