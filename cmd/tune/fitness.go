package main

import (
	"io"
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/ratswarm/config"
	"github.com/pthm-cable/ratswarm/game"
	"github.com/pthm-cable/ratswarm/telemetry"
)

// Fitness component weights.
const (
	weightTrailDist = 1.0
	weightStraggler = 2.0
	weightCrush     = 0.5
	weightLost      = 5.0

	fitnessWarmupWindows = 1 // skip the first window while the swarm gathers
)

// FitnessEvaluator runs headless simulations and computes fitness.
type FitnessEvaluator struct {
	params     *ParamVector
	maxTicks   int32
	seeds      []int64
	baseConfig *config.Config

	rats      int
	script    string
	period    float64
	jumpEvery float64

	statsWindow float64

	// Best run tracking
	mu          sync.Mutex
	bestFitness float64
	bestWindows []telemetry.WindowStats
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxTicks int32, seeds []int64, baseCfg *config.Config, rats int, script string) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		maxTicks:    maxTicks,
		seeds:       seeds,
		baseConfig:  baseCfg,
		rats:        rats,
		script:      script,
		period:      20,
		jumpEvery:   6,
		statsWindow: 5,
		bestFitness: math.Inf(1),
	}
}

// BestWindows returns the window stats of the best seed of the best evaluation.
func (fe *FitnessEvaluator) BestWindows() []telemetry.WindowStats {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestWindows
}

// runResult holds the results from a single simulation run.
type runResult struct {
	windowStats []telemetry.WindowStats // collected via StatsCallback each window
	final       telemetry.Sample
	err         error
}

// Evaluate computes fitness for a parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]*runResult, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runSimulation(x, s)
		}(i, seed)
	}
	wg.Wait()

	var total float64
	bestSeed := math.Inf(1)
	var bestSeedWindows []telemetry.WindowStats
	for i, r := range results {
		if r.err != nil {
			slog.Error("run failed", "seed", fe.seeds[i], "error", r.err)
			return math.Inf(1)
		}
		f := computeFitness(r.windowStats, r.final, fe.baseConfig.Crush.Threshold)
		total += f
		if f < bestSeed {
			bestSeed = f
			bestSeedWindows = r.windowStats
		}
	}
	avg := total / float64(len(results))

	fe.mu.Lock()
	if avg < fe.bestFitness {
		fe.bestFitness = avg
		fe.bestWindows = bestSeedWindows
	}
	fe.mu.Unlock()

	return avg
}

// runSimulation executes a single headless simulation run.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed int64) *runResult {
	cfg := fe.baseConfig.Clone()
	fe.params.ApplyToConfig(cfg, x)

	result := &runResult{}

	pilot, err := game.NewAutopilot(fe.script, fe.period, fe.jumpEvery)
	if err != nil {
		result.err = err
		return result
	}

	g, err := game.NewGame(cfg, game.Options{
		Seed:           seed,
		StatsWindowSec: fe.statsWindow,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		StatsCallback: func(stats telemetry.WindowStats) {
			result.windowStats = append(result.windowStats, stats)
		},
	})
	if err != nil {
		result.err = err
		return result
	}
	defer g.Close()

	g.SpawnSwarm(fe.rats)
	pilot.Run(g, int(fe.maxTicks))

	result.final = g.Sample()
	return result
}

// computeFitness scores a run (lower = better): mean follower distance to
// the trail, the straggler share, crowding above threshold and the share of
// rats that ended the run off the trail.
func computeFitness(windows []telemetry.WindowStats, final telemetry.Sample, crushThreshold float64) float64 {
	if len(windows) > fitnessWarmupWindows {
		windows = windows[fitnessWarmupWindows:]
	}

	dist := make([]float64, 0, len(windows))
	straggle := make([]float64, 0, len(windows))
	crush := make([]float64, 0, len(windows))
	for _, w := range windows {
		if w.Followers == 0 {
			continue
		}
		dist = append(dist, w.TrailDistMean)
		straggle = append(straggle, w.StragglerFrac)
		crush = append(crush, math.Max(w.CrushP90-crushThreshold, 0))
	}

	total := final.Free + final.Followers + final.Deployed + final.Distracted + final.Projectiles
	lost := 1.0
	if total > 0 {
		lost = 1 - float64(final.Followers)/float64(total)
	}
	if len(dist) == 0 {
		return weightLost * (1 + lost)
	}

	return weightTrailDist*stat.Mean(dist, nil) +
		weightStraggler*stat.Mean(straggle, nil) +
		weightCrush*stat.Mean(crush, nil) +
		weightLost*lost
}
