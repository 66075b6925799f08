package env

import (
	"math"

	"github.com/airspacelab/vectorsim/internal/sim"
)

// Observation layout.
const (
	MaxAircraft         = 16
	PerAircraftFeatures = 18
	GlobalFeatures      = 8

	// ObservationSize is the fixed encoded vector length.
	ObservationSize = MaxAircraft*PerAircraftFeatures + GlobalFeatures
)

// encodeObs flattens aircraft snapshots into the fixed observation
// vector and returns the per-slot alive mask.
//
// Per-aircraft features (18): x/100, y/100, v/600, sin(hdg), cos(hdg),
// (alt-15000)/15000, sin(brg-to-goal), cos(brg-to-goal), range/100,
// intent one-hot (5), spare (4). Global features (8): traffic density,
// wind placeholders (2), normalized episode time, spare (4).
func encodeObs(states []sim.Aircraft, stepCount, horizon int) (obs []float64, alive []float64) {
	obs = make([]float64, ObservationSize)
	alive = make([]float64, MaxAircraft)

	n := len(states)
	if n > MaxAircraft {
		n = MaxAircraft
	}

	for i := 0; i < n; i++ {
		ac := states[i]
		if ac.Alive {
			alive[i] = 1.0
		}

		base := i * PerAircraftFeatures
		brg := math.Atan2(ac.GoalY-ac.Y, ac.GoalX-ac.X)
		rng := math.Hypot(ac.GoalX-ac.X, ac.GoalY-ac.Y)

		obs[base+0] = ac.X / 100.0
		obs[base+1] = ac.Y / 100.0
		obs[base+2] = ac.SpeedKt / 600.0
		obs[base+3] = math.Sin(ac.HeadingRad)
		obs[base+4] = math.Cos(ac.HeadingRad)
		obs[base+5] = (ac.AltFt - 15000.0) / 15000.0
		obs[base+6] = math.Sin(brg)
		obs[base+7] = math.Cos(brg)
		obs[base+8] = rng / 100.0
		for k := 0; k < 5; k++ {
			obs[base+9+k] = ac.Intent[k]
		}
		// Slots 14-17 reserved.
	}

	global := MaxAircraft * PerAircraftFeatures
	obs[global+0] = sum(alive) / MaxAircraft
	// global+1, global+2: wind placeholders.
	if horizon > 0 {
		obs[global+3] = float64(stepCount) / float64(horizon)
	}
	// global+4..7 reserved.

	return obs, alive
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func countAlive(mask []float64) int {
	n := 0
	for _, v := range mask {
		if v > 0 {
			n++
		}
	}
	return n
}
