package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airspacelab/vectorsim/pkg/events"
)

type captureSink struct {
	mu    sync.Mutex
	snaps []Snapshot
	done  chan struct{}
}

func newCaptureSink(expected int) *captureSink {
	return &captureSink{done: make(chan struct{}, expected)}
}

func (s *captureSink) WriteSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func (s *captureSink) Close() {}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func TestTrack(t *testing.T) {
	t.Run("should record and report the latest values", func(t *testing.T) {
		m := New(nil, nil)
		m.Track(map[string]float64{"reward": 1.0})
		m.Track(map[string]float64{"reward": 2.5, "entropy": 0.9})

		current := m.Current()
		assert.Equal(t, 2.5, current["reward"])
		assert.Equal(t, 0.9, current["entropy"])
	})

	t.Run("should copy the caller map", func(t *testing.T) {
		m := New(nil, nil)
		metrics := map[string]float64{"reward": 1.0}
		m.Track(metrics)
		metrics["reward"] = 99.0

		assert.Equal(t, 1.0, m.Current()["reward"])
	})

	t.Run("should return empty current with no data", func(t *testing.T) {
		m := New(nil, nil)
		assert.Empty(t, m.Current())
	})

	t.Run("should forward snapshots to the sink", func(t *testing.T) {
		sink := newCaptureSink(2)
		m := New(nil, sink)
		m.Track(map[string]float64{"reward": 1.0})
		m.Track(map[string]float64{"reward": 2.0})

		for i := 0; i < 2; i++ {
			select {
			case <-sink.done:
			case <-time.After(time.Second):
				t.Fatal("sink write timed out")
			}
		}
		assert.Equal(t, 2, sink.count())
	})
}

func TestMetricHistory(t *testing.T) {
	t.Run("should filter by name and window", func(t *testing.T) {
		m := New(nil, nil)
		m.Track(map[string]float64{"reward": 1.0})
		m.Track(map[string]float64{"entropy": 0.5})
		m.Track(map[string]float64{"reward": 2.0})

		ts, vals := m.MetricHistory("reward", time.Time{}, time.Time{})
		require.Len(t, vals, 2)
		assert.Equal(t, []float64{1.0, 2.0}, vals)
		assert.Len(t, ts, 2)

		_, none := m.MetricHistory("reward", time.Now().Add(time.Hour), time.Time{})
		assert.Empty(t, none)
	})
}

func TestTrendAnalysis(t *testing.T) {
	t.Run("should detect an increasing trend", func(t *testing.T) {
		m := New(nil, nil)
		for i := 0; i < 20; i++ {
			m.Track(map[string]float64{"reward": float64(i)})
		}

		td := m.TrendAnalysis("reward", 7)

		assert.Equal(t, "increasing", td.TrendDirection)
		assert.InDelta(t, 9.5, td.Mean, 1e-9)
		assert.Equal(t, 0.0, td.Min)
		assert.Equal(t, 19.0, td.Max)
		assert.InDelta(t, 1.0, td.TrendStrength, 0.05)
	})

	t.Run("should call a flat metric stable", func(t *testing.T) {
		m := New(nil, nil)
		for i := 0; i < 10; i++ {
			m.Track(map[string]float64{"reward": 5.0})
		}

		assert.Equal(t, "stable", m.TrendAnalysis("reward", 7).TrendDirection)
	})

	t.Run("should mark an absent metric unknown", func(t *testing.T) {
		td := New(nil, nil).TrendAnalysis("missing", 7)
		assert.Equal(t, "unknown", td.TrendDirection)
		assert.Empty(t, td.Values)
	})
}

func TestCollectHealth(t *testing.T) {
	t.Run("should sample process stats", func(t *testing.T) {
		m := New(nil, nil)
		h := m.CollectHealth()

		assert.Greater(t, h.Goroutines, 0)
		assert.Greater(t, h.HeapAllocMB, 0.0)

		history := m.HealthHistory(1)
		require.Len(t, history, 1)
		assert.Equal(t, h.Goroutines, history[0].Goroutines)
	})

	t.Run("should run and stop the health loop", func(t *testing.T) {
		m := New(nil, nil)
		m.StartHealthLoop(context.Background(), 10*time.Millisecond)

		assert.Eventually(t, func() bool {
			return len(m.HealthHistory(1)) >= 2
		}, time.Second, 5*time.Millisecond)

		m.StopHealthLoop()
		m.StopHealthLoop() // idempotent
	})
}

func TestSummaryStatistics(t *testing.T) {
	t.Run("should compute per-metric statistics", func(t *testing.T) {
		m := New(nil, nil)
		for _, v := range []float64{1, 2, 3, 4} {
			m.Track(map[string]float64{"reward": v})
		}

		s := m.SummaryStatistics(1)
		require.Contains(t, s, "reward")

		r := s["reward"]
		assert.Equal(t, 4, r.Count)
		assert.InDelta(t, 2.5, r.Mean, 1e-9)
		assert.InDelta(t, 2.5, r.Median, 1e-9)
		assert.Equal(t, 1.0, r.Min)
		assert.Equal(t, 4.0, r.Max)
	})

	t.Run("should take the middle of an odd series", func(t *testing.T) {
		m := New(nil, nil)
		for _, v := range []float64{5, 1, 3} {
			m.Track(map[string]float64{"sep": v})
		}

		assert.Equal(t, 3.0, m.SummaryStatistics(1)["sep"].Median)
	})
}

func TestMetricNames(t *testing.T) {
	t.Run("should return sorted unique names", func(t *testing.T) {
		m := New(nil, nil)
		m.Track(map[string]float64{"zeta": 1, "alpha": 2})
		m.Track(map[string]float64{"alpha": 3})

		assert.Equal(t, []string{"alpha", "zeta"}, m.MetricNames())
	})
}

func TestExport(t *testing.T) {
	t.Run("should write snapshots to json", func(t *testing.T) {
		m := New(nil, nil)
		m.Track(map[string]float64{"reward": 1.0})
		m.Track(map[string]float64{"reward": 2.0})

		path := filepath.Join(t.TempDir(), "metrics.json")
		require.NoError(t, m.Export(path, time.Time{}, time.Time{}))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var payload struct {
			MetricCount int        `json:"metric_count"`
			Metrics     []Snapshot `json:"metrics"`
		}
		require.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, 2, payload.MetricCount)
		assert.Equal(t, 2.0, payload.Metrics[1].Metrics["reward"])
	})
}

func TestBusIntegration(t *testing.T) {
	newBus := func(t *testing.T) *events.Bus {
		t.Helper()
		bus := events.NewBus(events.BusConfig{})
		t.Cleanup(bus.Shutdown)
		return bus
	}

	t.Run("should track iteration events", func(t *testing.T) {
		bus := newBus(t)
		m := New(bus, nil)
		defer m.Shutdown()

		e, err := events.New(events.TrainingIteration, events.IterationPayload{
			Iteration:         7,
			EpisodeRewardMean: 3.5,
			EpisodeLenMean:    120,
			Metrics:           map[string]float64{"policy_entropy": 0.8},
		})
		require.NoError(t, err)
		bus.Publish(e)

		assert.Eventually(t, func() bool {
			return m.Current()["iteration"] == 7
		}, time.Second, 5*time.Millisecond)

		current := m.Current()
		assert.Equal(t, 3.5, current["episode_reward_mean"])
		assert.Equal(t, 0.8, current["policy_entropy"])
	})

	t.Run("should track step events with reward components", func(t *testing.T) {
		bus := newBus(t)
		m := New(bus, nil)
		defer m.Shutdown()

		e, err := events.New(events.EnvStep, events.StepPayload{
			Reward:     -2.0,
			Done:       true,
			NumAlive:   4,
			MinSepNM:   5.5,
			LoSCount:   0,
			Components: map[string]float64{"near": -2.0},
		})
		require.NoError(t, err)
		bus.Publish(e)

		assert.Eventually(t, func() bool {
			return m.Current()["step_reward"] == -2.0
		}, time.Second, 5*time.Millisecond)

		current := m.Current()
		assert.Equal(t, 1.0, current["step_done"])
		assert.Equal(t, 5.5, current["info_min_sep_nm"])
		assert.Equal(t, -2.0, current["reward_near"])
	})

	t.Run("should detach on shutdown", func(t *testing.T) {
		bus := newBus(t)
		m := New(bus, nil)

		m.Shutdown()
		m.Shutdown() // idempotent

		assert.Equal(t, 0, bus.SubscriberCount(""))
	})
}
