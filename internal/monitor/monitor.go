// Package monitor tracks training and environment metrics over time,
// with trend analysis and an optional InfluxDB sink.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airspacelab/vectorsim/pkg/events"
	"github.com/airspacelab/vectorsim/pkg/stats"
)

const (
	maxSnapshots = 10000
	maxHealth    = 1000
)

// Snapshot is a set of metric values at one instant.
type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Health is a process resource snapshot.
type Health struct {
	Timestamp      time.Time `json:"timestamp"`
	Goroutines     int       `json:"goroutines"`
	HeapAllocMB    float64   `json:"heap_alloc_mb"`
	HeapSysMB      float64   `json:"heap_sys_mb"`
	GCPauseTotalMS float64   `json:"gc_pause_total_ms"`
	NumGC          uint32    `json:"num_gc"`
}

// TrendData summarises one metric over a window.
type TrendData struct {
	MetricName string    `json:"metric_name"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`

	Values     []float64   `json:"values"`
	Timestamps []time.Time `json:"timestamps"`

	Mean           float64 `json:"mean"`
	Std            float64 `json:"std"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	TrendDirection string  `json:"trend_direction"`
	TrendStrength  float64 `json:"trend_strength"`
}

// MetricStats is the summary view of one metric.
type MetricStats struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	Count  int     `json:"count"`
}

// Sink receives metric snapshots for external storage.
type Sink interface {
	WriteSnapshot(ctx context.Context, snap Snapshot) error
	Close()
}

// Monitor keeps bounded metric and health history, feeding from
// training.iteration and env.step events.
type Monitor struct {
	bus  *events.Bus
	sink Sink

	mu        sync.RWMutex
	snapshots []Snapshot // oldest first, bounded
	health    []Health   // oldest first, bounded

	iterSubID uuid.UUID
	stepSubID uuid.UUID

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a monitor. Both bus and sink may be nil.
func New(bus *events.Bus, sink Sink) *Monitor {
	m := &Monitor{bus: bus, sink: sink}

	if bus != nil {
		m.iterSubID = bus.Subscribe(events.TrainingIteration, m.handleIterationEvent)
		m.stepSubID = bus.Subscribe(events.EnvStep, m.handleStepEvent)
	}

	return m
}

// StartHealthLoop samples process health on the given interval until
// StopHealthLoop or context cancellation.
func (m *Monitor) StartHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CollectHealth()
			}
		}
	}()
}

// StopHealthLoop halts the sampling loop. Idempotent.
func (m *Monitor) StopHealthLoop() {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
	})
}

// Track records a metric snapshot and forwards it to the sink.
func (m *Monitor) Track(metrics map[string]float64) {
	copied := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		copied[k] = v
	}
	snap := Snapshot{Timestamp: time.Now(), Metrics: copied}

	m.mu.Lock()
	m.snapshots = append(m.snapshots, snap)
	if len(m.snapshots) > maxSnapshots {
		m.snapshots = m.snapshots[len(m.snapshots)-maxSnapshots:]
	}
	m.mu.Unlock()

	if m.sink != nil {
		// Sink failures must not stall the training loop.
		go m.sink.WriteSnapshot(context.Background(), snap)
	}
}

// Current returns the most recent metric values.
func (m *Monitor) Current() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.snapshots) == 0 {
		return map[string]float64{}
	}
	latest := m.snapshots[len(m.snapshots)-1].Metrics
	out := make(map[string]float64, len(latest))
	for k, v := range latest {
		out[k] = v
	}
	return out
}

// MetricHistory returns (timestamp, value) pairs for one metric within
// the window. Zero times disable that bound.
func (m *Monitor) MetricHistory(name string, start, end time.Time) ([]time.Time, []float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ts []time.Time
	var vals []float64
	for _, snap := range m.snapshots {
		if !start.IsZero() && snap.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && snap.Timestamp.After(end) {
			continue
		}
		if v, ok := snap.Metrics[name]; ok {
			ts = append(ts, snap.Timestamp)
			vals = append(vals, v)
		}
	}
	return ts, vals
}

// TrendAnalysis fits a linear trend to a metric over the last N days.
func (m *Monitor) TrendAnalysis(name string, days int) TrendData {
	if days <= 0 {
		days = 7
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)

	ts, vals := m.MetricHistory(name, start, end)

	td := TrendData{
		MetricName:     name,
		StartTime:      start,
		EndTime:        end,
		Values:         vals,
		Timestamps:     ts,
		TrendDirection: "unknown",
	}
	if len(vals) == 0 {
		return td
	}

	td.Mean = stats.Mean(vals)
	td.Std = stats.Std(vals)
	td.Min, td.Max = vals[0], vals[0]
	for _, v := range vals {
		if v < td.Min {
			td.Min = v
		}
		if v > td.Max {
			td.Max = v
		}
	}

	if len(vals) > 1 {
		slope := stats.Linregress(vals).Slope

		valueRange := td.Max - td.Min
		if valueRange > 0 {
			td.TrendStrength = math.Min(math.Abs(slope*float64(len(vals)))/valueRange, 1.0)
		}

		switch {
		case math.Abs(slope) < td.Std*0.1:
			td.TrendDirection = "stable"
		case slope > 0:
			td.TrendDirection = "increasing"
		default:
			td.TrendDirection = "decreasing"
		}
	} else {
		td.TrendDirection = "stable"
	}

	return td
}

// CollectHealth samples process stats and appends to health history.
func (m *Monitor) CollectHealth() Health {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h := Health{
		Timestamp:      time.Now(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocMB:    float64(ms.HeapAlloc) / (1 << 20),
		HeapSysMB:      float64(ms.HeapSys) / (1 << 20),
		GCPauseTotalMS: float64(ms.PauseTotalNs) / 1e6,
		NumGC:          ms.NumGC,
	}

	m.mu.Lock()
	m.health = append(m.health, h)
	if len(m.health) > maxHealth {
		m.health = m.health[len(m.health)-maxHealth:]
	}
	m.mu.Unlock()

	return h
}

// HealthHistory returns health snapshots within the last N hours.
func (m *Monitor) HealthHistory(hours int) []Health {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Health
	for _, h := range m.health {
		if !h.Timestamp.Before(cutoff) {
			out = append(out, h)
		}
	}
	return out
}

// MetricNames returns all metric names seen so far, sorted.
func (m *Monitor) MetricNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, snap := range m.snapshots {
		for name := range snap.Metrics {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SummaryStatistics computes per-metric statistics over the last N
// hours.
func (m *Monitor) SummaryStatistics(hours int) map[string]MetricStats {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	byName := make(map[string][]float64)
	m.mu.RLock()
	for _, snap := range m.snapshots {
		if snap.Timestamp.Before(cutoff) {
			continue
		}
		for name, v := range snap.Metrics {
			byName[name] = append(byName[name], v)
		}
	}
	m.mu.RUnlock()

	summary := make(map[string]MetricStats, len(byName))
	for name, vals := range byName {
		sorted := make([]float64, len(vals))
		copy(sorted, vals)
		sort.Float64s(sorted)

		minV, maxV := sorted[0], sorted[len(sorted)-1]
		median := sorted[len(sorted)/2]
		if len(sorted)%2 == 0 {
			median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
		}

		summary[name] = MetricStats{
			Mean:   stats.Mean(vals),
			Std:    stats.Std(vals),
			Min:    minV,
			Max:    maxV,
			Median: median,
			Count:  len(vals),
		}
	}
	return summary
}

// Export writes snapshots within the window to a JSON file.
func (m *Monitor) Export(path string, start, end time.Time) error {
	m.mu.RLock()
	var filtered []Snapshot
	for _, snap := range m.snapshots {
		if !start.IsZero() && snap.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && snap.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, snap)
	}
	m.mu.RUnlock()

	payload := map[string]any{
		"export_time":  time.Now(),
		"metric_count": len(filtered),
		"metrics":      filtered,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// Shutdown stops the health loop, detaches from the bus, and closes
// the sink. Safe to call more than once, including concurrently.
func (m *Monitor) Shutdown() {
	m.StopHealthLoop()

	m.mu.Lock()
	iterSubID, stepSubID := m.iterSubID, m.stepSubID
	m.iterSubID, m.stepSubID = uuid.Nil, uuid.Nil
	m.mu.Unlock()

	if m.bus != nil {
		if iterSubID != uuid.Nil {
			m.bus.Unsubscribe(iterSubID)
		}
		if stepSubID != uuid.Nil {
			m.bus.Unsubscribe(stepSubID)
		}
	}

	if m.sink != nil {
		m.sink.Close()
	}
}

func (m *Monitor) handleIterationEvent(e events.Event) {
	payload, err := events.Decode[events.IterationPayload](e)
	if err != nil {
		return
	}

	metrics := map[string]float64{
		"iteration":           float64(payload.Iteration),
		"episode_reward_mean": payload.EpisodeRewardMean,
		"episode_len_mean":    payload.EpisodeLenMean,
	}
	for k, v := range payload.Metrics {
		metrics[k] = v
	}
	m.Track(metrics)
}

func (m *Monitor) handleStepEvent(e events.Event) {
	payload, err := events.Decode[events.StepPayload](e)
	if err != nil {
		return
	}

	done := 0.0
	if payload.Done {
		done = 1.0
	}
	metrics := map[string]float64{
		"step_reward":     payload.Reward,
		"step_done":       done,
		"info_num_alive":  float64(payload.NumAlive),
		"info_min_sep_nm": payload.MinSepNM,
		"info_los":        float64(payload.LoSCount),
	}
	for k, v := range payload.Components {
		metrics["reward_"+k] = v
	}
	m.Track(metrics)
}
