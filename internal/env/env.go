// Package env implements the vectoring environment: a Gymnasium-style
// step/reset contract over the sector simulator, with separation
// checking and reward shaping on every tick.
package env

import (
	"fmt"

	"github.com/airspacelab/vectorsim/internal/sim"
	"github.com/airspacelab/vectorsim/pkg/airspace"
)

// Action limits, per aircraft per step.
const (
	MaxHeadingDelta = 0.2 // radians per step
	MaxAltRateDelta = 1.0 // kft/min setpoint change per step

	// ActionSize is the fixed flattened action vector length:
	// (Δheading, Δaltitude-rate) per aircraft slot.
	ActionSize = MaxAircraft * 2

	DefaultHorizon = 400
)

// Config configures a vectoring environment.
type Config struct {
	Scenario    string
	StepSeconds float64
	Seed        int64
	Horizon     int
}

// StepInfo is the auxiliary data returned by Reset and Step.
type StepInfo struct {
	NumAlive   int       `json:"num_alive"`
	AliveMask  []float64 `json:"alive"`
	StepCount  int       `json:"step_count,omitempty"`
	MinSepNM   float64   `json:"min_sep_nm,omitempty"`
	LoSCount   int       `json:"los,omitempty"`
	Components Breakdown `json:"r_components,omitempty"`
}

// Env is the vectoring environment. It owns the aircraft population
// snapshot and must be driven from a single logical thread; callers
// must not share one instance across concurrent goroutines.
type Env struct {
	sector  *sim.Sector
	horizon int
	seed    int64

	lastStates []sim.Aircraft
	aliveMask  []float64
	stepCount  int
	resetDone  bool
}

// New creates a vectoring environment.
func New(cfg Config) (*Env, error) {
	if cfg.StepSeconds == 0 {
		cfg.StepSeconds = 5.0
	}
	if cfg.Horizon == 0 {
		cfg.Horizon = DefaultHorizon
	}

	sector, err := sim.NewSector(cfg.Scenario, cfg.StepSeconds, MaxAircraft, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("create sector: %w", err)
	}

	return &Env{
		sector:  sector,
		horizon: cfg.Horizon,
		seed:    cfg.Seed,
	}, nil
}

// Horizon returns the configured episode horizon in steps.
func (e *Env) Horizon() int { return e.horizon }

// Scenario returns the underlying scenario name.
func (e *Env) Scenario() string { return e.sector.Scenario() }

// StepSeconds returns the simulation tick length.
func (e *Env) StepSeconds() float64 { return e.sector.StepSeconds() }

// States returns the most recent aircraft snapshot.
func (e *Env) States() []sim.Aircraft { return e.lastStates }

// Reset reinitializes the episode from the seed and returns the
// encoded observation and info. Identical seeds produce identical
// initial aircraft positions.
func (e *Env) Reset(seed int64) ([]float64, StepInfo) {
	states := e.sector.Reset(seed)
	obs, alive := encodeObs(states, 0, e.horizon)

	e.seed = seed
	e.lastStates = states
	e.aliveMask = alive
	e.stepCount = 0
	e.resetDone = true

	return obs, StepInfo{
		NumAlive:  countAlive(alive),
		AliveMask: alive,
	}
}

// Step applies one flattened action vector, advances the simulator a
// tick, and scores the transition. Action layout is (Δheading,
// Δaltitude-rate) per aircraft slot; deltas are clamped independently
// and applied only to live aircraft.
func (e *Env) Step(action []float64) (obs []float64, reward float64, terminated, truncated bool, info StepInfo, err error) {
	if !e.resetDone {
		return nil, 0, false, false, StepInfo{}, fmt.Errorf("step before reset")
	}
	if len(action) != ActionSize {
		return nil, 0, false, false, StepInfo{}, fmt.Errorf("action length %d, want %d", len(action), ActionSize)
	}

	e.stepCount++

	var cmds []sim.Command
	for i, ac := range e.lastStates {
		if i >= MaxAircraft {
			break
		}
		if !ac.Alive {
			continue
		}
		cmds = append(cmds, sim.Command{
			ID:           ac.ID,
			DeltaHeading: clip(action[i*2], -MaxHeadingDelta, MaxHeadingDelta),
			DeltaVS:      clip(action[i*2+1], -MaxAltRateDelta, MaxAltRateDelta) * 1000.0, // kft/min → ft/min
		})
	}

	states := e.sector.Step(cmds)
	obs, alive := encodeObs(states, e.stepCount, e.horizon)

	minSepNM, losCount := airspace.MinSeparation(states)
	reward, components := ComputeReward(e.lastStates, states, minSepNM, losCount)

	e.lastStates = states
	e.aliveMask = alive

	numAlive := countAlive(alive)

	if components.Catastrophe < 0 {
		terminated = true
	}
	if numAlive == 0 {
		terminated = true
	}
	if e.stepCount >= e.horizon {
		truncated = true
	}

	info = StepInfo{
		NumAlive:   numAlive,
		AliveMask:  alive,
		StepCount:  e.stepCount,
		MinSepNM:   minSepNM,
		LoSCount:   losCount,
		Components: components,
	}

	return obs, reward, terminated, truncated, info, nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
