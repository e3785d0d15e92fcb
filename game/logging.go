package game

import (
	"fmt"
	"io"
	"time"

	"github.com/pthm-cable/ratswarm/telemetry"
)

// logWriter is the destination for log output.
var logWriter io.Writer

// SetLogWriter sets the log output destination.
func SetLogWriter(w io.Writer) {
	logWriter = w
}

// Logf writes a formatted log message.
func Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if logWriter != nil {
		fmt.Fprintln(logWriter, msg)
	} else {
		fmt.Println(msg)
	}
}

// logWorldState logs a human-readable summary of the swarm and trail.
func (g *Game) logWorldState() {
	s := g.Sample()
	crush := telemetry.ComputeDistribution(s.Crush)
	dist := telemetry.ComputeDistribution(s.TrailDistances)
	pos := g.leader.Position()

	Logf("=== Tick %d ===", g.tick)
	Logf("Leader: (%.1f, %.1f, %.1f) speed=%.2f airborne=%v backtracking=%v",
		pos.X, pos.Y, pos.Z, g.leader.Speed(), g.leader.Airborne(), g.leaderState.Backtracking)
	Logf("Trail: %d points, length %.2f / target %.2f, markers %d, fading=%v",
		s.TrailPoints, s.TrailLength, s.TrailTarget, s.ActiveMarkers, g.trail.Fading())
	Logf("Rats: free=%d followers=%d deployed=%d distracted=%d airborne=%d disabled=%d",
		s.Free, s.Followers, s.Deployed, s.Distracted, s.Projectiles, s.Disabled)
	Logf("Crush: mean=%.2f p90=%.2f max=%.2f | Trail distance: mean=%.2f p90=%.2f | Stragglers: %d",
		crush.Mean, crush.P90, crush.Max, dist.Mean, dist.P90, s.Stragglers)

	perf := g.perf.Stats()
	Logf("Step time: %s avg, %s p95, %.0f ticks/s, %.0f ns/rat", perf.AvgTickDuration.Round(time.Microsecond), perf.P95TickDuration.Round(time.Microsecond), perf.TicksPerSecond, perf.NsPerRat)
	for _, phase := range telemetry.Phases {
		Logf("  %-10s %10s  %5.1f%%", phase, perf.PhaseAvg[phase].Round(time.Microsecond), perf.PhasePct[phase])
	}
	Logf("")
}
