package game

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/ratswarm/components"
)

// Autopilot scripts.
const (
	ScriptIdle    = "idle"
	ScriptCircle  = "circle"
	ScriptFigure8 = "figure8"
	ScriptZigzag  = "zigzag"
)

// Scripts lists the available autopilot scripts.
var Scripts = []string{ScriptIdle, ScriptCircle, ScriptFigure8, ScriptZigzag}

// ErrUnknownScript is returned for an autopilot script that does not exist.
var ErrUnknownScript = errors.New("game: unknown autopilot script")

// Jump impulse used by the autopilot.
const (
	autoJumpForward = 6.0
	autoJumpUp      = 8.0
)

// Autopilot produces scripted leader input for headless runs.
type Autopilot struct {
	script    string
	period    float64 // Seconds per loop of the path
	jumpEvery float64 // Seconds between jumps, 0 disables jumping

	elapsed   float64
	sinceJump float64
}

// NewAutopilot creates an autopilot driving the named script.
func NewAutopilot(script string, period, jumpEvery float64) (*Autopilot, error) {
	known := false
	for _, s := range Scripts {
		known = known || s == script
	}
	if !known {
		return nil, fmt.Errorf("script %q: %w", script, ErrUnknownScript)
	}
	if period <= 0 {
		period = 20
	}
	return &Autopilot{script: script, period: period, jumpEvery: jumpEvery}, nil
}

// Next returns the input for the coming tick. Jumps are only requested
// while the leader is grounded.
func (a *Autopilot) Next(airborne bool, dt float64) Input {
	a.elapsed += dt
	phase := 2 * math.Pi * a.elapsed / a.period

	var move r2.Vec
	switch a.script {
	case ScriptCircle:
		move = r2.Vec{X: -math.Sin(phase), Y: math.Cos(phase)}
	case ScriptFigure8:
		move = r2.Vec{X: math.Cos(phase), Y: 2 * math.Cos(2*phase)}
	case ScriptZigzag:
		move = r2.Vec{X: sign(math.Sin(phase)), Y: sign(math.Sin(6 * phase))}
	}
	move = unit(move)

	in := Input{Move: move}
	if a.jumpEvery <= 0 || r2.Norm(move) == 0 {
		return in
	}
	a.sinceJump += dt
	if a.sinceJump >= a.jumpEvery && !airborne {
		a.sinceJump = 0
		in.Jump = true
		in.JumpForce = components.Lift(r2.Scale(autoJumpForward, move), autoJumpUp)
	}
	return in
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// Run steps g under the autopilot for n ticks.
func (a *Autopilot) Run(g *Game, n int) {
	dt := g.cfg.Physics.DT
	for i := 0; i < n; i++ {
		g.Step(a.Next(g.leader.Airborne(), dt))
	}
}
