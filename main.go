package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/pthm-cable/ratswarm/config"
	"github.com/pthm-cable/ratswarm/env"
	"github.com/pthm-cable/ratswarm/game"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	rats := flag.Int("rats", 60, "Number of rats to spawn around the leader")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = until interrupted)")
	script := flag.String("script", game.ScriptFigure8, "Autopilot script: idle, circle, figure8, zigzag")
	period := flag.Float64("period", 20, "Seconds per autopilot loop")
	jumpEvery := flag.Float64("jump-every", 6, "Seconds between autopilot jumps (0 = never)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	logWorld := flag.Bool("log-world", false, "Print a human-readable world dump every stats window")
	logEvents := flag.Bool("log-events", false, "Write per-event rows to events.csv")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// Set up seed
	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	pilot, err := game.NewAutopilot(*script, *period, *jumpEvery)
	if err != nil {
		slog.Error("invalid autopilot", "error", err)
		os.Exit(1)
	}

	g, err := game.NewGame(cfg, game.Options{
		Seed:           rngSeed,
		LogStats:       *logStats,
		LogWorld:       *logWorld,
		StatsWindowSec: *statsWindow,
		OutputDir:      *outputDir,
		RecordEvents:   *logEvents,
		Environment:    env.Open(cfg.World.Width, cfg.World.Depth, cfg.World.FloorHeight),
		Logger:         logger,
	})
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := g.Close(); err != nil {
			slog.Error("failed to close output", "error", err)
		}
	}()

	g.SpawnSwarm(*rats)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	slog.Info("starting headless simulation",
		"seed", rngSeed,
		"rats", *rats,
		"script", *script,
		"stats_window", *statsWindow,
		"max_ticks", *maxTicks,
	)

	dt := cfg.Physics.DT
	for ctx.Err() == nil {
		g.Step(pilot.Next(g.Leader().Airborne(), dt))

		if *maxTicks > 0 && int(g.Tick()) >= *maxTicks {
			slog.Info("max ticks reached", "tick", g.Tick())
			break
		}
	}

	if err := g.CheckInvariants(); err != nil {
		slog.Error("invariant violation at shutdown", "tick", g.Tick(), "error", err)
	}
}
