// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrNoProfiles is reported when a leader or rat has no tuning profile to run with.
var ErrNoProfiles = errors.New("config: no behavior profiles")

// Config holds all simulation configuration parameters.
type Config struct {
	World       WorldConfig       `yaml:"world"`
	Physics     PhysicsConfig     `yaml:"physics"`
	Spatial     SpatialConfig     `yaml:"spatial"`
	Trail       TrailConfig       `yaml:"trail"`
	Leader      LeaderConfig      `yaml:"leader"`
	Rat         RatConfig         `yaml:"rat"`
	Flocking    FlockingConfig    `yaml:"flocking"`
	Crush       CrushConfig       `yaml:"crush"`
	Environment EnvironmentConfig `yaml:"environment"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// WorldConfig holds the extent of the default arena.
type WorldConfig struct {
	Width       float64 `yaml:"width"`        // Extent along X
	Depth       float64 `yaml:"depth"`        // Extent along Z
	FloorHeight float64 `yaml:"floor_height"` // Y of the arena floor
}

// PhysicsConfig holds integration parameters.
type PhysicsConfig struct {
	DT           float64 `yaml:"dt"`
	TimeBalancer float64 `yaml:"time_balancer"` // Rule deltas are scaled by dt * time_balancer
	Gravity      float64 `yaml:"gravity"`       // Downward acceleration for airborne bodies
	AirDrag      float64 `yaml:"air_drag"`      // Horizontal air velocity loss per second (fraction)
	GroundProbe  float64 `yaml:"ground_probe"`  // How far above the body the floor ray starts
	TurnRate     float64 `yaml:"turn_rate"`     // Heading follows velocity at this rate per second
	KillDepth    float64 `yaml:"kill_depth"`    // Airborne rats this far below the floor are despawned
}

// SpatialConfig holds neighbor search parameters.
type SpatialConfig struct {
	Mode             string  `yaml:"mode"` // "grid" or "pairwise"
	CellSize         float64 `yaml:"cell_size"`
	NeighborRadius   float64 `yaml:"neighbor_radius"`
	SeparationRadius float64 `yaml:"separation_radius"`
}

// TrailConfig holds leader trail bookkeeping parameters.
type TrailConfig struct {
	Density           float64 `yaml:"density"`             // Followers per unit of trail length
	Epsilon           float64 `yaml:"epsilon"`             // Added to the follower count so an empty swarm keeps a stub
	MinSegLength      float64 `yaml:"min_seg_length"`      // Segments shorter than this are fused
	MaxSegAngle       float64 `yaml:"max_seg_angle"`       // Degrees; sharper turns are removed as kinks
	SpeedCurve        Curve   `yaml:"speed_curve"`         // Leader speed -> length multiplier
	MarkerStallFactor float64 `yaml:"marker_stall_factor"` // Trimming waits on a tail marker until this far over target
	FadeDuration      float64 `yaml:"fade_duration"`       // Seconds for a full trail fade
	MaxBacktrack      float64 `yaml:"max_backtrack"`       // Trail value an agent's target may slip back per query
}

// KinkCosLimit is cos(180° - max_seg_angle). Corners whose cosine is
// larger than this are kinks.
func (c TrailConfig) KinkCosLimit() float64 {
	return math.Cos((180 - c.MaxSegAngle) * math.Pi / 180)
}

// LeaderProfile is a set of movement tunables for the leader.
type LeaderProfile struct {
	Name         string  `yaml:"name"`
	MaxSpeed     float64 `yaml:"max_speed"`
	Acceleration float64 `yaml:"acceleration"`
	Braking      float64 `yaml:"braking"`
}

// LeaderConfig holds leader parameters.
type LeaderConfig struct {
	Profiles        []LeaderProfile `yaml:"profiles"`
	InfluenceRadius float64         `yaml:"influence_radius"` // Max distance from the trail for following
	JumpClearance   float64         `yaml:"jump_clearance"`   // Sweep distance that must be clear for a jump marker
	StartX          float64         `yaml:"start_x"`
	StartZ          float64         `yaml:"start_z"`
}

// RatProfile is a set of movement tunables for one kind of rat.
type RatProfile struct {
	Name              string  `yaml:"name"`
	MaxSpeed          float64 `yaml:"max_speed"`
	OvertakeAllowance float64 `yaml:"overtake_allowance"` // Speed a follower may exceed the leader by
	Weight            float64 `yaml:"weight"`             // Relative spawn frequency
}

// RatConfig holds rat spawning parameters.
type RatConfig struct {
	Profiles    []RatProfile `yaml:"profiles"`
	SpawnRadius float64      `yaml:"spawn_radius"`
}

// FlockingConfig holds the rule weights of the flocking engine.
type FlockingConfig struct {
	CohesionWeight   float64 `yaml:"cohesion_weight"`
	ConformityWeight float64 `yaml:"conformity_weight"`
	SeparationWeight float64 `yaml:"separation_weight"`

	TargetRadius           float64 `yaml:"target_radius"` // Followers farther than this from their trail point steer to it
	TargetWeight           float64 `yaml:"target_weight"`
	FollowWeight           float64 `yaml:"follow_weight"`
	LeadWeight             float64 `yaml:"lead_weight"`              // Scaled by the leader's speed
	TargetTrailCompression float64 `yaml:"target_trail_compression"` // Follow only while crush is below this
	BacktrackGateValue     float64 `yaml:"backtrack_gate_value"`     // Trail value past which leading continues while the leader backtracks

	TrailBuffer             float64 `yaml:"trail_buffer"` // Fraction of the trail at each end treated as ahead/straggling
	StayBehindWeight        float64 `yaml:"stay_behind_weight"`
	StragglerWeight         float64 `yaml:"straggler_weight"`
	MinStragglerTrailLength float64 `yaml:"min_straggler_trail_length"`

	JumpTriggerDistance float64 `yaml:"jump_trigger_distance"` // Trail distance to a marker that triggers an assisted jump
	JumpAssistScale     float64 `yaml:"jump_assist_scale"`
}

// Color is a linear RGBA color.
type Color struct {
	R float64 `yaml:"r"`
	G float64 `yaml:"g"`
	B float64 `yaml:"b"`
	A float64 `yaml:"a"`
}

// Lerp interpolates between two colors.
func (c Color) Lerp(to Color, t float64) Color {
	return Color{
		R: c.R + (to.R-c.R)*t,
		G: c.G + (to.G-c.G)*t,
		B: c.B + (to.B-c.B)*t,
		A: c.A + (to.A-c.A)*t,
	}
}

// CrushConfig holds crowding response parameters.
type CrushConfig struct {
	Threshold     float64 `yaml:"threshold"`      // Crush below this has no effect
	Max           float64 `yaml:"max"`            // Crush at which intensity saturates
	ResponseCurve Curve   `yaml:"response_curve"` // Normalized intensity -> response
	ResponseRate  float64 `yaml:"response_rate"`  // Per-second approach rate toward the target response
	MaxPileHeight float64 `yaml:"max_pile_height"`
	ColorLow      Color   `yaml:"color_low"`
	ColorHigh     Color   `yaml:"color_high"`
}

// EnvironmentConfig holds obstacle and ledge avoidance parameters.
type EnvironmentConfig struct {
	ObstacleLookahead float64 `yaml:"obstacle_lookahead"`
	ObstacleWeight    float64 `yaml:"obstacle_weight"`
	WallNormalLimit   float64 `yaml:"wall_normal_limit"` // Max |normal.Y| for a surface to count as a wall
	LedgeLookahead    float64 `yaml:"ledge_lookahead"`
	LedgeWeight       float64 `yaml:"ledge_weight"`
	FallHeight        float64 `yaml:"fall_height"`       // A drop deeper than this is a ledge
	LedgeProbeDepth   float64 `yaml:"ledge_probe_depth"` // How far below the feet the backward edge search runs
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"`
	PerfCollectorWindow int     `yaml:"perf_collector_window"`
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns a fresh copy of the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	cfg.sortCurves()

	return cfg, nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Trail.SpeedCurve = append(Curve(nil), c.Trail.SpeedCurve...)
	out.Crush.ResponseCurve = append(Curve(nil), c.Crush.ResponseCurve...)
	out.Leader.Profiles = append([]LeaderProfile(nil), c.Leader.Profiles...)
	out.Rat.Profiles = append([]RatProfile(nil), c.Rat.Profiles...)
	return &out
}

// Validate reports structural problems that would make the simulation meaningless.
// Missing profiles are not reported here: they disable individual instances instead.
func (c *Config) Validate() error {
	var errs []error
	if c.Physics.DT <= 0 {
		errs = append(errs, fmt.Errorf("physics.dt must be positive, got %v", c.Physics.DT))
	}
	if c.Spatial.NeighborRadius <= 0 {
		errs = append(errs, fmt.Errorf("spatial.neighbor_radius must be positive, got %v", c.Spatial.NeighborRadius))
	}
	if c.Spatial.SeparationRadius <= 0 || c.Spatial.SeparationRadius > c.Spatial.NeighborRadius {
		errs = append(errs, fmt.Errorf("spatial.separation_radius must be in (0, neighbor_radius], got %v", c.Spatial.SeparationRadius))
	}
	if c.Spatial.Mode != "grid" && c.Spatial.Mode != "pairwise" {
		errs = append(errs, fmt.Errorf("spatial.mode must be grid or pairwise, got %q", c.Spatial.Mode))
	}
	if c.Trail.Density <= 0 {
		errs = append(errs, fmt.Errorf("trail.density must be positive, got %v", c.Trail.Density))
	}
	if c.Trail.MaxSegAngle < 0 || c.Trail.MaxSegAngle >= 180 {
		errs = append(errs, fmt.Errorf("trail.max_seg_angle must be in [0, 180), got %v", c.Trail.MaxSegAngle))
	}
	if c.Crush.Max <= c.Crush.Threshold {
		errs = append(errs, fmt.Errorf("crush.max must exceed crush.threshold"))
	}
	return errors.Join(errs...)
}

// sortCurves orders curve keys by X so Eval can search them.
func (c *Config) sortCurves() {
	c.Trail.SpeedCurve.sort()
	c.Crush.ResponseCurve.sort()
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// CurveKey is a single control point of a Curve.
type CurveKey struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Curve is a piecewise-linear response curve.
// Inputs outside the key range take the nearest end value.
type Curve []CurveKey

// Eval returns the curve value at x. An empty curve evaluates to 1.
func (c Curve) Eval(x float64) float64 {
	switch len(c) {
	case 0:
		return 1
	case 1:
		return c[0].Y
	}
	if x <= c[0].X {
		return c[0].Y
	}
	last := c[len(c)-1]
	if x >= last.X {
		return last.Y
	}
	for i := 1; i < len(c); i++ {
		a, b := c[i-1], c[i]
		if x > b.X {
			continue
		}
		span := b.X - a.X
		if span <= 0 {
			return b.Y
		}
		t := (x - a.X) / span
		return a.Y + (b.Y-a.Y)*t
	}
	return last.Y
}

func (c Curve) sort() {
	sort.SliceStable(c, func(i, j int) bool { return c[i].X < c[j].X })
}
