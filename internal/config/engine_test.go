package config

import (
	"errors"
	"strings"
	"testing"
)

func TestEngineConfig_DefaultsValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr string
	}{
		{
			name:    "zero max steps",
			mutate:  func(c *EngineConfig) { c.Simulation.MaxSteps = 0 },
			wantErr: "maxSteps",
		},
		{
			name:    "negative max steps",
			mutate:  func(c *EngineConfig) { c.Simulation.MaxSteps = -5 },
			wantErr: "maxSteps",
		},
		{
			name:    "zero population",
			mutate:  func(c *EngineConfig) { c.Agents.InitialPopulation = 0 },
			wantErr: "initialPopulation",
		},
		{
			name:    "transmission rate above one",
			mutate:  func(c *EngineConfig) { c.Disease.TransmissionRate = 1.5 },
			wantErr: "transmissionRate",
		},
		{
			name:    "negative recovery rate",
			mutate:  func(c *EngineConfig) { c.Disease.RecoveryRate = -0.1 },
			wantErr: "recoveryRate",
		},
		{
			name:    "mortality rate above one",
			mutate:  func(c *EngineConfig) { c.Disease.MortalityRate = 2 },
			wantErr: "mortalityRate",
		},
		{
			name:    "inverted movement speed range",
			mutate:  func(c *EngineConfig) { c.Agents.MovementSpeed = Range{Min: 3, Max: 1} },
			wantErr: "movementSpeed",
		},
		{
			name:    "inverted energy range",
			mutate:  func(c *EngineConfig) { c.Agents.EnergyRange = Range{Min: 100, Max: 50} },
			wantErr: "energyRange",
		},
		{
			name:    "zero world size",
			mutate:  func(c *EngineConfig) { c.Simulation.WorldSize = 0 },
			wantErr: "worldSize",
		},
		{
			name:    "zero resource density",
			mutate:  func(c *EngineConfig) { c.Environment.ResourceDensity = 0 },
			wantErr: "resourceDensity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !errors.Is(err, ErrInvalidEngineConfig) {
				t.Errorf("error does not wrap ErrInvalidEngineConfig: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEngineConfig_RatesIgnoredWhenDiseaseDisabled(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Disease.Enabled = false
	cfg.Disease.TransmissionRate = 5 // out of range, but disease is off

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil when disease disabled", err)
	}
}

func TestEngineConfig_CollectsAllProblems(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Simulation.MaxSteps = 0
	cfg.Agents.InitialPopulation = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"maxSteps", "initialPopulation"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
