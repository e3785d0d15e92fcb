package main

import (
	"github.com/pthm-cable/ratswarm/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value

	field func(cfg *config.Config) *float64
}

// ParamVector holds the set of all tunable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of flocking parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Boid rules
			{Name: "cohesion_weight", Path: "flocking.cohesion_weight", Min: 0, Max: 3, Default: 0.6,
				field: func(c *config.Config) *float64 { return &c.Flocking.CohesionWeight }},
			{Name: "conformity_weight", Path: "flocking.conformity_weight", Min: 0, Max: 4, Default: 1.2,
				field: func(c *config.Config) *float64 { return &c.Flocking.ConformityWeight }},
			{Name: "separation_weight", Path: "flocking.separation_weight", Min: 5, Max: 60, Default: 25,
				field: func(c *config.Config) *float64 { return &c.Flocking.SeparationWeight }},
			// Trail rules
			{Name: "target_weight", Path: "flocking.target_weight", Min: 1, Max: 20, Default: 6,
				field: func(c *config.Config) *float64 { return &c.Flocking.TargetWeight }},
			{Name: "follow_weight", Path: "flocking.follow_weight", Min: 2, Max: 30, Default: 14,
				field: func(c *config.Config) *float64 { return &c.Flocking.FollowWeight }},
			{Name: "lead_weight", Path: "flocking.lead_weight", Min: 0, Max: 3, Default: 1,
				field: func(c *config.Config) *float64 { return &c.Flocking.LeadWeight }},
			{Name: "target_trail_compression", Path: "flocking.target_trail_compression", Min: 0.5, Max: 6, Default: 2.5,
				field: func(c *config.Config) *float64 { return &c.Flocking.TargetTrailCompression }},
			{Name: "stay_behind_weight", Path: "flocking.stay_behind_weight", Min: 2, Max: 30, Default: 12,
				field: func(c *config.Config) *float64 { return &c.Flocking.StayBehindWeight }},
			{Name: "straggler_weight", Path: "flocking.straggler_weight", Min: 2, Max: 30, Default: 10,
				field: func(c *config.Config) *float64 { return &c.Flocking.StragglerWeight }},
			// Trail
			{Name: "trail_density", Path: "trail.density", Min: 0.5, Max: 4, Default: 1.5,
				field: func(c *config.Config) *float64 { return &c.Trail.Density }},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig writes clamped parameter values into cfg.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	for i, v := range pv.Clamp(values) {
		*pv.Specs[i].field(cfg) = v
	}
}

// ExtractFromConfig reads the current parameter values from cfg.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	out := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		out[i] = *spec.field(cfg)
	}
	return out
}
