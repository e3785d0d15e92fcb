package game

import (
	"github.com/pthm-cable/ratswarm/components"
	"github.com/pthm-cable/ratswarm/telemetry"
)

// flushTelemetry closes the stats window when it is due and fans the
// result out to the callback, the log and the CSV output.
func (g *Game) flushTelemetry() {
	if !g.collector.ShouldFlush(g.tick) {
		return
	}

	stats := g.collector.Flush(g.tick, g.Sample())
	perfStats := g.perf.Stats()

	// Call stats callback if provided
	if g.statsCallback != nil {
		g.statsCallback(stats)
	}

	// Log stats if enabled (console output)
	if g.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}
	if g.logWorld {
		g.logWorldState()
	}

	// Write to CSV if output manager is enabled
	if g.output != nil {
		if err := g.output.WriteTelemetry(stats); err != nil {
			g.logger.Error("failed to write telemetry", "error", err)
		}
		if err := g.output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			g.logger.Error("failed to write perf", "error", err)
		}
	}

	events := g.collector.DrainEvents()
	if g.recordEvents && g.output != nil {
		if err := g.output.WriteEvents(events); err != nil {
			g.logger.Error("failed to write events", "error", err)
		}
	}
}

// Sample measures the current swarm for telemetry.
func (g *Game) Sample() telemetry.Sample {
	s := telemetry.Sample{
		TrailLength:   g.trail.TotalLength(),
		TrailTarget:   g.trail.TargetLength(g.trailCount(), g.leader.Speed()),
		TrailPoints:   g.trail.Len(),
		ActiveMarkers: g.trail.MarkerCount(),
		LeaderSpeed:   g.leader.Speed(),
	}
	tailBand := 1 - g.cfg.Flocking.TrailBuffer

	query := g.ratFilter.Query()
	for query.Next() {
		pos, _, rat, perc, occ := query.Get()

		if rat.Disabled {
			s.Disabled++
			continue
		}

		switch rat.Behavior {
		case components.BehaviorFree:
			s.Free++
		case components.BehaviorTrailFollower:
			s.Followers++
		case components.BehaviorDeployed:
			s.Deployed++
		case components.BehaviorDistracted:
			s.Distracted++
		case components.BehaviorProjectile:
			s.Projectiles++
			continue
		}

		s.Crush = append(s.Crush, perc.Crush)
		s.PileHeights = append(s.PileHeights, occ.PileHeight)

		if rat.IsFollower() {
			hit := g.trail.ClosestPointOnTrail(pos.Planar(), rat.LastTrailValue, g.cfg.Trail.MaxBacktrack)
			s.TrailDistances = append(s.TrailDistances, hit.Distance)
			if rat.LastTrailValue >= tailBand {
				s.Stragglers++
			}
		}
	}
	return s
}
