package airspace

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ac(id string, x, y, alt float64, alive bool) Aircraft {
	return Aircraft{ID: id, X: x, Y: y, AltFt: alt, Alive: alive}
}

func TestMinSeparation(t *testing.T) {
	t.Run("should report sentinel with fewer than two live aircraft", func(t *testing.T) {
		minSep, los := MinSeparation([]Aircraft{ac("A1", 0, 0, 10000, true)})

		assert.Equal(t, NoConflictSentinel, minSep)
		assert.Equal(t, 0, los)
	})

	t.Run("should ignore dead aircraft", func(t *testing.T) {
		states := []Aircraft{
			ac("A1", 0, 0, 10000, true),
			ac("A2", 1, 0, 10000, false),
		}
		minSep, los := MinSeparation(states)

		assert.Equal(t, NoConflictSentinel, minSep)
		assert.Equal(t, 0, los)
	})

	t.Run("should count LoS only when both minima are violated", func(t *testing.T) {
		// 3 NM apart laterally but 2000 ft apart vertically: not LoS.
		states := []Aircraft{
			ac("A1", 0, 0, 10000, true),
			ac("A2", 3, 0, 12000, true),
		}
		minSep, los := MinSeparation(states)

		assert.InDelta(t, 3.0, minSep, 1e-9)
		assert.Equal(t, 0, los)

		// Same lateral geometry at co-altitude: LoS.
		states[1].AltFt = 10000
		minSep, los = MinSeparation(states)

		assert.InDelta(t, 3.0, minSep, 1e-9)
		assert.Equal(t, 1, los)
	})

	t.Run("should track minimum across vertically separated pairs", func(t *testing.T) {
		states := []Aircraft{
			ac("A1", 0, 0, 10000, true),
			ac("A2", 2, 0, 15000, true),
			ac("A3", 10, 0, 10000, true),
		}
		minSep, los := MinSeparation(states)

		assert.InDelta(t, 2.0, minSep, 1e-9)
		assert.Equal(t, 0, los)
	})

	t.Run("should count every conflicting pair", func(t *testing.T) {
		states := []Aircraft{
			ac("A1", 0, 0, 10000, true),
			ac("A2", 1, 0, 10000, true),
			ac("A3", 0, 1, 10000, true),
		}
		_, los := MinSeparation(states)

		assert.Equal(t, 3, los)
	})

	t.Run("should be symmetric under aircraft order", func(t *testing.T) {
		a := []Aircraft{
			ac("A1", 0, 0, 10000, true),
			ac("A2", 4, 3, 10500, true),
			ac("A3", 8, 1, 9000, true),
		}
		b := []Aircraft{a[2], a[0], a[1]}

		minA, losA := MinSeparation(a)
		minB, losB := MinSeparation(b)

		assert.InDelta(t, minA, minB, 1e-12)
		assert.Equal(t, losA, losB)
	})
}

func TestPairPredicates(t *testing.T) {
	t.Run("should detect violation at boundary exclusively", func(t *testing.T) {
		a := ac("A1", 0, 0, 10000, true)
		b := ac("A2", SeparationNM, 0, 10000, true)

		// Exactly 5 NM is not a violation; strictly inside is.
		assert.False(t, SeparationViolated(a, b))
		b.X = SeparationNM - 0.001
		assert.True(t, SeparationViolated(a, b))
	})

	t.Run("should flag near miss inside softer thresholds", func(t *testing.T) {
		a := ac("A1", 0, 0, 10000, true)
		b := ac("A2", 5.5, 0, 10000, true)

		assert.True(t, NearMiss(a, b))
		assert.False(t, SeparationViolated(a, b))
	})
}

func TestBearingRange(t *testing.T) {
	t.Run("should compute bearing and range", func(t *testing.T) {
		bearing, rng := BearingRange(0, 0, 3, 4)

		assert.InDelta(t, math.Atan2(4, 3), bearing, 1e-12)
		assert.InDelta(t, 5.0, rng, 1e-12)
	})
}

func TestNormalizeAngle(t *testing.T) {
	t.Run("should wrap into [-pi, pi]", func(t *testing.T) {
		assert.InDelta(t, -math.Pi/2, NormalizeAngle(3*math.Pi/2), 1e-12)
		assert.InDelta(t, 0.0, NormalizeAngle(2*math.Pi), 1e-12)
		assert.InDelta(t, math.Pi/2, NormalizeAngle(-3*math.Pi/2), 1e-12)
	})
}
