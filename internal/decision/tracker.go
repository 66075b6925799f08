// Package decision captures policy decisions from the event stream and
// keeps a bounded in-memory history for downstream analysis.
package decision

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airspacelab/vectorsim/pkg/events"
	"github.com/airspacelab/vectorsim/pkg/stats"
)

// Record is a single captured policy decision.
type Record struct {
	Timestamp     time.Time          `json:"timestamp"`
	DecisionID    string             `json:"decision_id"`
	Observation   []float64          `json:"observation,omitempty"`
	Action        []float64          `json:"action,omitempty"`
	PolicyLogits  []float64          `json:"policy_logits,omitempty"`
	ValueEstimate float64            `json:"value_estimate"`
	Confidence    map[string]float64 `json:"confidence_scores,omitempty"`
	EpisodeID     string             `json:"episode_id,omitempty"`
	StepNumber    int                `json:"step_number,omitempty"`
	Reward        *float64           `json:"reward,omitempty"`
}

// TimeRange describes the span covered by the buffered decisions.
type TimeRange struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Statistics summarises the tracked decisions.
type Statistics struct {
	TotalDecisions int        `json:"total_decisions"`
	BufferSize     int        `json:"buffer_size"`
	TimeRange      *TimeRange `json:"time_range,omitempty"`
	AvgConfidence  *float64   `json:"average_confidence,omitempty"`
	ConfidenceStd  *float64   `json:"confidence_std,omitempty"`
}

// Tracker keeps a rolling buffer of decision records and feeds itself
// from policy.decision events.
type Tracker struct {
	mu       sync.RWMutex
	records  []Record // oldest first
	capacity int
	count    int

	bus   *events.Bus
	subID uuid.UUID
}

const DefaultCapacity = 100

// NewTracker creates a tracker bound to the given bus. Pass a nil bus
// to track only explicitly logged decisions.
func NewTracker(bus *events.Bus, capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	t := &Tracker{
		records:  make([]Record, 0, capacity),
		capacity: capacity,
		bus:      bus,
	}

	if bus != nil {
		t.subID = bus.Subscribe(events.PolicyDecision, t.handleDecisionEvent)
	}

	return t
}

// LogDecision records a decision and returns its assigned id. The
// oldest record is evicted once the buffer is full.
func (t *Tracker) LogDecision(rec Record) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	rec.DecisionID = fmt.Sprintf("decision_%d_%d", t.count, time.Now().UnixMilli())
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	t.records = append(t.records, rec)
	if len(t.records) > t.capacity {
		t.records = t.records[len(t.records)-t.capacity:]
	}

	return rec.DecisionID
}

// History returns buffered records, most recent first. A limit of 0
// returns everything.
func (t *Tracker) History(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.records)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.records[i])
	}
	return out
}

// ByID looks up a buffered record by decision id.
func (t *Tracker) ByID(decisionID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.records {
		if t.records[i].DecisionID == decisionID {
			return t.records[i], true
		}
	}
	return Record{}, false
}

// Recent returns records made within the given window, most recent
// first.
func (t *Tracker) Recent(window time.Duration) []Record {
	cutoff := time.Now().Add(-window)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for i := len(t.records) - 1; i >= 0; i-- {
		if !t.records[i].Timestamp.Before(cutoff) {
			out = append(out, t.records[i])
		}
	}
	return out
}

// Statistics summarises the buffer. Confidence is read from the
// action_confidence score, falling back to max_probability.
func (t *Tracker) Statistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Statistics{
		TotalDecisions: t.count,
		BufferSize:     len(t.records),
	}
	if len(t.records) == 0 {
		return s
	}

	start := t.records[0].Timestamp
	end := t.records[0].Timestamp
	var confidences []float64

	for _, rec := range t.records {
		if rec.Timestamp.Before(start) {
			start = rec.Timestamp
		}
		if rec.Timestamp.After(end) {
			end = rec.Timestamp
		}
		if c, ok := rec.Confidence["action_confidence"]; ok {
			confidences = append(confidences, c)
		} else if c, ok := rec.Confidence["max_probability"]; ok {
			confidences = append(confidences, c)
		}
	}

	s.TimeRange = &TimeRange{Start: start, End: end, Duration: end.Sub(start)}

	if len(confidences) > 0 {
		mean := stats.Mean(confidences)
		std := stats.Std(confidences)
		s.AvgConfidence = &mean
		s.ConfidenceStd = &std
	}
	return s
}

// SaveToFile writes the buffered records to a JSON file.
func (t *Tracker) SaveToFile(path string) error {
	t.mu.RLock()
	records := make([]Record, len(t.records))
	copy(records, t.records)
	t.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal decisions: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write decisions: %w", err)
	}
	return nil
}

// LoadFromFile replaces the buffer with records from a JSON file,
// keeping only the most recent ones if the file holds more than the
// buffer capacity.
func (t *Tracker) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read decisions: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal decisions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.count = len(records)
	if len(records) > t.capacity {
		records = records[len(records)-t.capacity:]
	}
	t.records = records
	return nil
}

// Clear empties the buffer and resets the counter.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = t.records[:0]
	t.count = 0
}

// Shutdown detaches the tracker from the bus. Safe to call more than
// once, including concurrently.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	subID := t.subID
	t.subID = uuid.Nil
	t.mu.Unlock()

	if t.bus != nil && subID != uuid.Nil {
		t.bus.Unsubscribe(subID)
	}
}

func (t *Tracker) handleDecisionEvent(e events.Event) {
	payload, err := events.Decode[events.DecisionPayload](e)
	if err != nil {
		// Malformed payloads are dropped, not fatal.
		return
	}

	t.LogDecision(Record{
		Timestamp:     e.Timestamp,
		Observation:   payload.Observation,
		Action:        payload.Action,
		PolicyLogits:  payload.PolicyLogits,
		ValueEstimate: payload.ValueEstimate,
		Confidence:    payload.Confidence,
		EpisodeID:     payload.EpisodeID,
		StepNumber:    payload.StepNumber,
		Reward:        payload.Reward,
	})
}
