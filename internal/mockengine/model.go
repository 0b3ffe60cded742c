package mockengine

import (
	"math/rand"

	"github.com/simdash/simdash/internal/config"
)

// model is a deterministic toy SIR population. It exists so the client
// can be exercised end to end without a real simulation backend; the
// dynamics only need to be plausible and reproducible for a given seed.
type model struct {
	cfg  config.EngineConfig
	rng  *rand.Rand
	tick int

	susceptible int
	infected    int
	recovered   int
	dead        int
}

func newModel(cfg config.EngineConfig) *model {
	pop := cfg.Agents.InitialPopulation
	infected := pop / 10
	if infected < 1 {
		infected = 1
	}
	return &model{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(cfg.RNG.Seed)),
		susceptible: pop - infected,
		infected:    infected,
	}
}

func (m *model) population() int {
	return m.susceptible + m.infected + m.recovered
}

// step advances the model n ticks and returns the new tick.
func (m *model) step(n int) int {
	for i := 0; i < n; i++ {
		m.tick++
		if !m.cfg.Disease.Enabled || m.infected == 0 {
			continue
		}

		pop := m.population()
		if pop == 0 {
			continue
		}

		contacts := float64(m.infected) * float64(m.susceptible) / float64(pop)
		infections := int(m.cfg.Disease.TransmissionRate * contacts)
		if infections > m.susceptible {
			infections = m.susceptible
		}
		recoveries := int(m.cfg.Disease.RecoveryRate * float64(m.infected))
		deaths := int(m.cfg.Disease.MortalityRate * float64(m.infected))
		if recoveries+deaths > m.infected {
			recoveries = m.infected
			deaths = 0
		}

		m.susceptible -= infections
		m.infected += infections - recoveries - deaths
		m.recovered += recoveries
		m.dead += deaths
	}
	return m.tick
}

// metrics returns the aggregate metrics document shared by step and
// snapshot responses.
func (m *model) metrics() map[string]any {
	return map[string]any{
		"population": m.population(),
		"sir": map[string]any{
			"susceptible": m.susceptible,
			"infected":    m.infected,
			"recovered":   m.recovered,
			"dead":        m.dead,
		},
		"energyMean": 50 + 50*m.rng.Float64(),
	}
}

// snapshot builds the step-indexed snapshot document. Kind "full" nests
// per-agent state and the environment grid on top of the metrics.
func (m *model) snapshot(kind string) map[string]any {
	doc := map[string]any{
		"tick":    m.tick,
		"metrics": m.metrics(),
	}
	if kind != "full" {
		return doc
	}

	agents := make([]map[string]any, 0, m.population())
	for i := 0; i < m.population(); i++ {
		state := "susceptible"
		switch {
		case i < m.infected:
			state = "infected"
		case i < m.infected+m.recovered:
			state = "recovered"
		}
		agents = append(agents, map[string]any{
			"id":    i,
			"state": state,
			"x":     m.rng.Float64() * m.cfg.Simulation.WorldSize,
			"y":     m.rng.Float64() * m.cfg.Simulation.WorldSize,
		})
	}

	const gridSize = 10
	grid := make([][]float64, gridSize)
	for i := range grid {
		grid[i] = make([]float64, gridSize)
		for j := range grid[i] {
			grid[i][j] = m.cfg.Environment.ResourceDensity * m.rng.Float64()
		}
	}

	doc["agents"] = agents
	doc["environment"] = map[string]any{"grid": grid}
	return doc
}
