package env

import (
	"math"

	"github.com/airspacelab/vectorsim/internal/sim"
	"github.com/airspacelab/vectorsim/pkg/airspace"
)

// Reward shaping constants.
const (
	losPenalty         = -10.0
	nearMissPenalty    = -2.0
	progressWeight     = 0.05
	terminalBonus      = 5.0
	terminalRadiusNM   = 5.0
	catastrophePenalty = -10.0

	// RewardFloor and RewardCeiling clip the scalar reward each step.
	RewardFloor   = -20.0
	RewardCeiling = 5.0
)

// Breakdown carries the per-component reward contributions for one
// step, reported pre-clip for diagnostics. Sum may exceed the clipped
// scalar when saturation occurs.
type Breakdown struct {
	LoS         float64 `json:"los"`
	Near        float64 `json:"near"`
	Progress    float64 `json:"progress"`
	Smooth      float64 `json:"smooth"`
	Fuel        float64 `json:"fuel"`
	Terminal    float64 `json:"terminal"`
	Catastrophe float64 `json:"catastrophe"`
}

// Sum returns the raw, unclipped component total.
func (b Breakdown) Sum() float64 {
	return b.LoS + b.Near + b.Progress + b.Smooth + b.Fuel + b.Terminal + b.Catastrophe
}

// ComputeReward scores one environment step from the previous and
// current aircraft snapshots plus the separation result. Returns the
// clipped scalar reward and the raw component breakdown.
func ComputeReward(prev, cur []sim.Aircraft, minSepNM float64, losCount int) (float64, Breakdown) {
	var b Breakdown

	b.LoS = losPenalty * float64(losCount)

	if minSepNM < airspace.NearMissNM {
		b.Near = nearMissPenalty
	}

	n := len(prev)
	if len(cur) < n {
		n = len(cur)
	}
	for i := 0; i < n; i++ {
		ap, ac := prev[i], cur[i]

		if !ac.Alive {
			// Exit bonus only when the aircraft died this step near
			// its goal. Exits far from the goal earn nothing either way.
			if ap.Alive {
				finalRange := math.Hypot(ac.GoalX-ac.X, ac.GoalY-ac.Y)
				if finalRange < terminalRadiusNM {
					b.Terminal += terminalBonus
				}
			}
			continue
		}

		prevRange := math.Hypot(ac.GoalX-ap.X, ac.GoalY-ap.Y)
		curRange := math.Hypot(ac.GoalX-ac.X, ac.GoalY-ac.Y)
		b.Progress += progressWeight * (prevRange - curRange)
	}

	// Smoothness and fuel terms are reserved; kept at zero so reward
	// clipping and catastrophe behavior stay calibrated.
	b.Smooth = 0.0
	b.Fuel = 0.0

	if losCount >= 2 {
		b.Catastrophe = catastrophePenalty
	}

	total := b.Sum()
	if total < RewardFloor {
		total = RewardFloor
	} else if total > RewardCeiling {
		total = RewardCeiling
	}

	return total, b
}
