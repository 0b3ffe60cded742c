package config

import (
	"errors"
	"fmt"
	"strings"
)

// Range is a min/max pair used by several engine configuration fields.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// IsValid reports whether the range is ordered.
func (r Range) IsValid() bool { return r.Min <= r.Max }

// SimulationConfig is the simulation section of the engine configuration.
type SimulationConfig struct {
	MaxSteps  int     `json:"maxSteps" yaml:"max_steps"`
	WorldSize float64 `json:"worldSize" yaml:"world_size"`
}

// AgentsConfig is the agents section of the engine configuration.
type AgentsConfig struct {
	InitialPopulation   int   `json:"initialPopulation" yaml:"initial_population"`
	MovementSpeed       Range `json:"movementSpeed" yaml:"movement_speed"`
	EnergyRange         Range `json:"energyRange" yaml:"energy_range"`
	ReproductionEnabled bool  `json:"reproductionEnabled" yaml:"reproduction_enabled"`
}

// DiseaseConfig is the disease section of the engine configuration.
// Rate fields are probabilities in [0,1].
type DiseaseConfig struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	TransmissionRate float64 `json:"transmissionRate" yaml:"transmission_rate"`
	RecoveryRate     float64 `json:"recoveryRate" yaml:"recovery_rate"`
	MortalityRate    float64 `json:"mortalityRate" yaml:"mortality_rate"`
}

// EnvironmentConfig is the environment section of the engine configuration.
type EnvironmentConfig struct {
	ResourceRegeneration bool    `json:"resourceRegeneration" yaml:"resource_regeneration"`
	ResourceDensity      float64 `json:"resourceDensity" yaml:"resource_density"`
}

// RNGConfig is the random number generator section of the engine configuration.
type RNGConfig struct {
	Seed               int64 `json:"seed" yaml:"seed"`
	IndependentStreams bool  `json:"independentStreams" yaml:"independent_streams"`
}

// EngineConfig is the complete engine configuration sent in the init request.
// It is validated at the session boundary: the controller refuses to send a
// payload that fails Validate.
type EngineConfig struct {
	Simulation  SimulationConfig  `json:"simulation" yaml:"simulation"`
	Agents      AgentsConfig      `json:"agents" yaml:"agents"`
	Disease     DiseaseConfig     `json:"disease" yaml:"disease"`
	Environment EnvironmentConfig `json:"environment" yaml:"environment"`
	RNG         RNGConfig         `json:"rng" yaml:"rng"`
}

// DefaultEngineConfig returns an engine configuration with the stock scenario.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Simulation: SimulationConfig{
			MaxSteps:  10000,
			WorldSize: 100.0,
		},
		Agents: AgentsConfig{
			InitialPopulation:   100,
			MovementSpeed:       Range{Min: 0.5, Max: 2.0},
			EnergyRange:         Range{Min: 50.0, Max: 100.0},
			ReproductionEnabled: true,
		},
		Disease: DiseaseConfig{
			Enabled:          true,
			TransmissionRate: 0.3,
			RecoveryRate:     0.1,
			MortalityRate:    0.05,
		},
		Environment: EnvironmentConfig{
			ResourceRegeneration: true,
			ResourceDensity:      1.0,
		},
		RNG: RNGConfig{
			Seed:               42,
			IndependentStreams: true,
		},
	}
}

// ErrInvalidEngineConfig wraps all engine configuration validation failures.
var ErrInvalidEngineConfig = errors.New("invalid engine configuration")

// Validate checks the engine configuration invariants. All failures are
// collected so the caller sees the complete list, joined into one error
// wrapping ErrInvalidEngineConfig.
func (c EngineConfig) Validate() error {
	var problems []string

	if c.Simulation.MaxSteps <= 0 {
		problems = append(problems, fmt.Sprintf("maxSteps must be positive, got %d", c.Simulation.MaxSteps))
	}
	if c.Simulation.WorldSize <= 0 {
		problems = append(problems, fmt.Sprintf("worldSize must be positive, got %g", c.Simulation.WorldSize))
	}

	if c.Agents.InitialPopulation <= 0 {
		problems = append(problems, fmt.Sprintf("initialPopulation must be positive, got %d", c.Agents.InitialPopulation))
	}
	if !c.Agents.MovementSpeed.IsValid() {
		problems = append(problems, fmt.Sprintf("movementSpeed min %g exceeds max %g", c.Agents.MovementSpeed.Min, c.Agents.MovementSpeed.Max))
	}
	if !c.Agents.EnergyRange.IsValid() {
		problems = append(problems, fmt.Sprintf("energyRange min %g exceeds max %g", c.Agents.EnergyRange.Min, c.Agents.EnergyRange.Max))
	}

	if c.Disease.Enabled {
		for _, rate := range []struct {
			name  string
			value float64
		}{
			{"transmissionRate", c.Disease.TransmissionRate},
			{"recoveryRate", c.Disease.RecoveryRate},
			{"mortalityRate", c.Disease.MortalityRate},
		} {
			if rate.value < 0 || rate.value > 1 {
				problems = append(problems, fmt.Sprintf("%s must be in [0,1], got %g", rate.name, rate.value))
			}
		}
	}

	if c.Environment.ResourceDensity <= 0 {
		problems = append(problems, fmt.Sprintf("resourceDensity must be positive, got %g", c.Environment.ResourceDensity))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEngineConfig, strings.Join(problems, "; "))
	}
	return nil
}
