package decision

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airspacelab/vectorsim/pkg/events"
)

func TestLogDecision(t *testing.T) {
	t.Run("should assign sequential ids", func(t *testing.T) {
		tr := NewTracker(nil, 10)

		id1 := tr.LogDecision(Record{ValueEstimate: 0.5})
		id2 := tr.LogDecision(Record{ValueEstimate: 0.6})

		assert.NotEqual(t, id1, id2)
		assert.Contains(t, id1, "decision_1_")
		assert.Contains(t, id2, "decision_2_")
	})

	t.Run("should evict oldest at capacity", func(t *testing.T) {
		tr := NewTracker(nil, 3)

		for i := 0; i < 5; i++ {
			tr.LogDecision(Record{StepNumber: i})
		}

		history := tr.History(0)
		require.Len(t, history, 3)
		assert.Equal(t, 4, history[0].StepNumber)
		assert.Equal(t, 2, history[2].StepNumber)
	})

	t.Run("should keep counting past evictions", func(t *testing.T) {
		tr := NewTracker(nil, 2)
		for i := 0; i < 7; i++ {
			tr.LogDecision(Record{})
		}

		s := tr.Statistics()
		assert.Equal(t, 7, s.TotalDecisions)
		assert.Equal(t, 2, s.BufferSize)
	})
}

func TestHistoryAndLookup(t *testing.T) {
	t.Run("should return most recent first", func(t *testing.T) {
		tr := NewTracker(nil, 10)
		tr.LogDecision(Record{StepNumber: 1})
		tr.LogDecision(Record{StepNumber: 2})

		history := tr.History(1)
		require.Len(t, history, 1)
		assert.Equal(t, 2, history[0].StepNumber)
	})

	t.Run("should find records by id", func(t *testing.T) {
		tr := NewTracker(nil, 10)
		id := tr.LogDecision(Record{StepNumber: 9})

		rec, ok := tr.ByID(id)
		require.True(t, ok)
		assert.Equal(t, 9, rec.StepNumber)

		_, ok = tr.ByID("decision_0_0")
		assert.False(t, ok)
	})

	t.Run("should filter by recency window", func(t *testing.T) {
		tr := NewTracker(nil, 10)
		tr.LogDecision(Record{Timestamp: time.Now().Add(-time.Hour)})
		tr.LogDecision(Record{})

		recent := tr.Recent(time.Minute)
		assert.Len(t, recent, 1)
	})
}

func TestStatistics(t *testing.T) {
	t.Run("should prefer action_confidence over max_probability", func(t *testing.T) {
		tr := NewTracker(nil, 10)
		tr.LogDecision(Record{Confidence: map[string]float64{
			"action_confidence": 0.8,
			"max_probability":   0.1,
		}})
		tr.LogDecision(Record{Confidence: map[string]float64{
			"max_probability": 0.6,
		}})

		s := tr.Statistics()
		require.NotNil(t, s.AvgConfidence)
		assert.InDelta(t, 0.7, *s.AvgConfidence, 1e-9)
		require.NotNil(t, s.ConfidenceStd)
	})

	t.Run("should omit confidence stats without scores", func(t *testing.T) {
		tr := NewTracker(nil, 10)
		tr.LogDecision(Record{})

		s := tr.Statistics()
		assert.Nil(t, s.AvgConfidence)
		require.NotNil(t, s.TimeRange)
	})

	t.Run("should report empty buffer", func(t *testing.T) {
		tr := NewTracker(nil, 10)

		s := tr.Statistics()
		assert.Equal(t, 0, s.TotalDecisions)
		assert.Nil(t, s.TimeRange)
	})
}

func TestPersistence(t *testing.T) {
	t.Run("should round-trip through a file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "decisions.json")

		tr := NewTracker(nil, 10)
		tr.LogDecision(Record{StepNumber: 1, ValueEstimate: 0.25})
		tr.LogDecision(Record{StepNumber: 2, ValueEstimate: 0.5})
		require.NoError(t, tr.SaveToFile(path))

		fresh := NewTracker(nil, 10)
		require.NoError(t, fresh.LoadFromFile(path))

		history := fresh.History(0)
		require.Len(t, history, 2)
		assert.Equal(t, 2, history[0].StepNumber)
		assert.Equal(t, 0.5, history[0].ValueEstimate)
	})

	t.Run("should truncate loads beyond capacity", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "decisions.json")

		tr := NewTracker(nil, 10)
		for i := 0; i < 8; i++ {
			tr.LogDecision(Record{StepNumber: i})
		}
		require.NoError(t, tr.SaveToFile(path))

		small := NewTracker(nil, 3)
		require.NoError(t, small.LoadFromFile(path))

		history := small.History(0)
		require.Len(t, history, 3)
		assert.Equal(t, 7, history[0].StepNumber)
		assert.Equal(t, 8, small.Statistics().TotalDecisions)
	})

	t.Run("should fail on a missing file", func(t *testing.T) {
		tr := NewTracker(nil, 10)
		assert.Error(t, tr.LoadFromFile(filepath.Join(t.TempDir(), "absent.json")))
	})
}

func TestBusIntegration(t *testing.T) {
	t.Run("should capture policy decision events", func(t *testing.T) {
		bus := events.NewBus(events.BusConfig{})
		defer bus.Shutdown()

		tr := NewTracker(bus, 10)
		defer tr.Shutdown()

		event, err := events.New(events.PolicyDecision, events.DecisionPayload{
			ValueEstimate: 1.5,
			EpisodeID:     "ep-1",
			Confidence:    map[string]float64{"action_confidence": 0.9},
		})
		require.NoError(t, err)
		bus.Publish(event)

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if len(tr.History(0)) == 1 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}

		history := tr.History(0)
		require.Len(t, history, 1)
		assert.Equal(t, "ep-1", history[0].EpisodeID)
		assert.Equal(t, 1.5, history[0].ValueEstimate)
	})

	t.Run("should detach idempotently on shutdown", func(t *testing.T) {
		bus := events.NewBus(events.BusConfig{})
		defer bus.Shutdown()

		tr := NewTracker(bus, 10)
		tr.Shutdown()
		tr.Shutdown()

		assert.Equal(t, 0, bus.SubscriberCount(events.PolicyDecision))
	})

	t.Run("should survive concurrent shutdowns", func(t *testing.T) {
		bus := events.NewBus(events.BusConfig{})
		defer bus.Shutdown()

		tr := NewTracker(bus, 10)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr.Shutdown()
			}()
		}
		wg.Wait()

		assert.Equal(t, 0, bus.SubscriberCount(events.PolicyDecision))
	})
}

func TestClear(t *testing.T) {
	t.Run("should reset buffer and counter", func(t *testing.T) {
		tr := NewTracker(nil, 10)
		tr.LogDecision(Record{})
		tr.Clear()

		s := tr.Statistics()
		assert.Equal(t, 0, s.TotalDecisions)
		assert.Empty(t, tr.History(0))
	})
}
