// Package generator synthesizes machine sensor readings from per-machine
// baseline profiles. Each metric is drawn uniformly around its baseline
// center, rounded to two decimals and clamped into its valid range.
package generator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Guliveer/vitalis/monitor/internal/models"
)

// Valid metric ranges. Values outside baseline±spread saturate at these bounds.
const (
	MinTemperature = 30.0
	MaxTemperature = 95.0
	MinUsage       = 0.0
	MaxUsage       = 100.0
)

// Baselines resolves the baseline profile of a machine: a machine-specific
// profile when one is configured, the default profile otherwise.
type Baselines struct {
	Profiles map[string]models.BaselineProfile
	Default  models.BaselineProfile
}

// Resolve returns the profile for machineID and whether it was machine-specific.
func (b Baselines) Resolve(machineID string) (models.BaselineProfile, bool) {
	if p, ok := b.Profiles[machineID]; ok {
		return p, true
	}
	return b.Default, false
}

// Generator produces readings. It is safe for concurrent use: the scheduler
// and the API's on-demand fill path share one instance.
type Generator struct {
	baselines Baselines
	now       func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Generator drawing from a source seeded with seed.
func New(baselines Baselines, seed int64) *Generator {
	return &Generator{
		baselines: baselines,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Generate synthesizes one reading for machineID stamped with the current time.
func (g *Generator) Generate(machineID string) models.Reading {
	profile, _ := g.baselines.Resolve(machineID)

	g.mu.Lock()
	temp := g.draw(profile.Temperature)
	cpu := g.draw(profile.CPUUsage)
	mem := g.draw(profile.MemoryUsage)
	g.mu.Unlock()

	return models.NewReading(
		machineID,
		clamp(temp, MinTemperature, MaxTemperature),
		clamp(cpu, MinUsage, MaxUsage),
		clamp(mem, MinUsage, MaxUsage),
		g.now(),
	)
}

// draw returns center + uniform(-spread, +spread), rounded to 2 decimals.
// Must be called with g.mu held.
func (g *Generator) draw(b models.MetricBaseline) float64 {
	v := b.Center + (g.rng.Float64()*2-1)*b.Spread
	return round2(v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
