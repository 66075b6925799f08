package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSector(t *testing.T) {
	t.Run("should reject unknown scenarios", func(t *testing.T) {
		_, err := NewSector("holding_stack", 5.0, 16, 1)
		assert.Error(t, err)
	})

	t.Run("should reject non-positive tick length", func(t *testing.T) {
		_, err := NewSector("crossing_4", 0, 16, 1)
		assert.Error(t, err)
	})
}

func TestReset(t *testing.T) {
	t.Run("should spawn identical positions for identical seeds", func(t *testing.T) {
		s1, err := NewSector("converging_8", 5.0, 16, 1)
		require.NoError(t, err)
		s2, err := NewSector("converging_8", 5.0, 16, 1)
		require.NoError(t, err)

		a := s1.Reset(42)
		b := s2.Reset(42)

		require.Equal(t, len(a), len(b))
		for i := range a {
			assert.Equal(t, a[i].ID, b[i].ID)
			assert.Equal(t, a[i].X, b[i].X)
			assert.Equal(t, a[i].Y, b[i].Y)
			assert.Equal(t, a[i].AltFt, b[i].AltFt)
			assert.Equal(t, a[i].SpeedKt, b[i].SpeedKt)
		}
	})

	t.Run("should cap population at max aircraft", func(t *testing.T) {
		s, err := NewSector("converging_8", 5.0, 4, 1)
		require.NoError(t, err)

		states := s.Reset(7)
		assert.Len(t, states, 4)
	})

	t.Run("should spawn all aircraft alive", func(t *testing.T) {
		s, err := NewSector("parallel_4", 5.0, 16, 1)
		require.NoError(t, err)

		for _, ac := range s.Reset(3) {
			assert.True(t, ac.Alive)
		}
	})
}

func TestStep(t *testing.T) {
	t.Run("should advance along heading at ground speed", func(t *testing.T) {
		s, err := NewSector("parallel_4", 5.0, 16, 1)
		require.NoError(t, err)

		before := s.Reset(1)
		after := s.Step(nil)

		expected := before[0].SpeedKt * (5.0 / 3600.0)
		assert.InDelta(t, before[0].X+expected, after[0].X, 1e-9)
		assert.InDelta(t, before[0].Y, after[0].Y, 1e-9)
	})

	t.Run("should apply heading commands", func(t *testing.T) {
		s, err := NewSector("parallel_4", 5.0, 16, 1)
		require.NoError(t, err)

		before := s.Reset(1)
		after := s.Step([]Command{{ID: before[0].ID, DeltaHeading: 0.1}})

		assert.InDelta(t, 0.1, after[0].HeadingRad, 1e-12)
	})

	t.Run("should integrate vertical speed setpoint", func(t *testing.T) {
		s, err := NewSector("parallel_4", 5.0, 16, 1)
		require.NoError(t, err)

		before := s.Reset(1)
		after := s.Step([]Command{{ID: before[0].ID, DeltaVS: 1200.0}})

		// 1200 ft/min over a 5 second tick.
		assert.InDelta(t, before[0].AltFt+1200.0*(5.0/60.0), after[0].AltFt, 1e-9)
	})

	t.Run("should clamp vertical speed", func(t *testing.T) {
		s, err := NewSector("parallel_4", 5.0, 16, 1)
		require.NoError(t, err)

		before := s.Reset(1)
		var after []Aircraft
		for i := 0; i < 5; i++ {
			after = s.Step([]Command{{ID: before[0].ID, DeltaVS: 2000.0}})
		}

		climbed := after[0].AltFt - before[0].AltFt
		maxPossible := maxVerticalSpeedFPM * (5.0 / 60.0) * 5
		assert.LessOrEqual(t, climbed, maxPossible+1e-9)
	})

	t.Run("should retire aircraft at exit fix", func(t *testing.T) {
		s, err := NewSector("crossing_4", 5.0, 16, 1)
		require.NoError(t, err)
		s.Reset(1)

		var retired bool
		for i := 0; i < 2000; i++ {
			states := s.Step(nil)
			for _, ac := range states {
				if !ac.Alive {
					retired = true
				}
			}
			if retired {
				break
			}
		}
		assert.True(t, retired, "uncommanded crossing traffic should eventually reach an exit fix")
	})

	t.Run("should not move dead aircraft", func(t *testing.T) {
		s, err := NewSector("crossing_4", 5.0, 16, 1)
		require.NoError(t, err)
		s.Reset(1)

		var dead Aircraft
		var found bool
		for i := 0; i < 2000 && !found; i++ {
			for _, ac := range s.Step(nil) {
				if !ac.Alive {
					dead = ac
					found = true
					break
				}
			}
		}
		require.True(t, found)

		after := s.Step(nil)
		for _, ac := range after {
			if ac.ID == dead.ID {
				assert.Equal(t, dead.X, ac.X)
				assert.Equal(t, dead.Y, ac.Y)
			}
		}
	})

	t.Run("should return immutable snapshots", func(t *testing.T) {
		s, err := NewSector("parallel_4", 5.0, 16, 1)
		require.NoError(t, err)

		first := s.Reset(1)
		firstX := first[0].X
		s.Step(nil)

		assert.Equal(t, firstX, first[0].X)
	})
}

func TestNormalizeAngle(t *testing.T) {
	t.Run("should wrap headings", func(t *testing.T) {
		assert.InDelta(t, -math.Pi+0.1, normalizeAngle(math.Pi+0.1), 1e-12)
	})
}
