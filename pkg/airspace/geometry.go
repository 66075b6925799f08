// Package airspace provides separation geometry for a radar sector:
// pairwise separation minima, loss-of-separation counting, and
// bearing/range helpers.
package airspace

import "math"

// Separation minima and near-miss thresholds.
const (
	SeparationNM = 5.0    // lateral separation minimum, nautical miles
	NearMissNM   = 6.0    // near-miss lateral threshold
	SeparationFT = 1000.0 // vertical separation minimum, feet
	NearMissFT   = 1200.0 // near-miss vertical threshold

	// NoConflictSentinel is reported as the minimum separation when
	// fewer than two aircraft are live.
	NoConflictSentinel = 999.0
)

// MinSeparation computes the minimum lateral separation over all live
// aircraft pairs and counts pairs in loss of separation. A pair is LoS
// only when both the lateral and the vertical minimum are violated;
// vertical separation alone resolves lateral proximity. The minimum
// lateral distance is tracked across all live pairs regardless of
// vertical separation so vertically-safe near misses remain visible.
//
// O(n²) over live aircraft; fine at sector scale (≤16), and the
// bottleneck to replace with a spatial index for larger fleets.
func MinSeparation(states []Aircraft) (minSepNM float64, losCount int) {
	minSep := math.Inf(1)

	for i := 0; i < len(states); i++ {
		for j := i + 1; j < len(states); j++ {
			a, b := states[i], states[j]
			if !a.Alive || !b.Alive {
				continue
			}

			dNM := math.Hypot(a.X-b.X, a.Y-b.Y)
			dFT := math.Abs(a.AltFt - b.AltFt)

			if dNM < minSep {
				minSep = dNM
			}
			if dNM < SeparationNM && dFT < SeparationFT {
				losCount++
			}
		}
	}

	if math.IsInf(minSep, 1) {
		return NoConflictSentinel, losCount
	}
	return minSep, losCount
}

// SeparationViolated reports whether a pair of aircraft violates both
// separation minima simultaneously.
func SeparationViolated(a, b Aircraft) bool {
	dNM := math.Hypot(a.X-b.X, a.Y-b.Y)
	dFT := math.Abs(a.AltFt - b.AltFt)
	return dNM < SeparationNM && dFT < SeparationFT
}

// NearMiss reports whether a pair of aircraft is within the softer
// near-miss thresholds.
func NearMiss(a, b Aircraft) bool {
	dNM := math.Hypot(a.X-b.X, a.Y-b.Y)
	dFT := math.Abs(a.AltFt - b.AltFt)
	return dNM < NearMissNM && dFT < NearMissFT
}

// BearingRange returns the bearing (radians) and range (NM) from one
// point to another.
func BearingRange(fromX, fromY, toX, toY float64) (bearingRad, rangeNM float64) {
	dx := toX - fromX
	dy := toY - fromY
	return math.Atan2(dy, dx), math.Hypot(dx, dy)
}

// NormalizeAngle wraps an angle into [-π, π].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
