// Package events provides the in-process publish/subscribe hub that
// decouples the environment and training loop from all downstream
// analysis and visualization consumers, plus the typed event payloads
// that travel over it.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published on the bus.
const (
	EnvReset             = "env.reset"
	EnvStep              = "env.step"
	PolicyDecision       = "policy.decision"
	SafetyViolation      = "safety.violation"
	TrainingIteration    = "training.iteration"
	TrainingEpisodeStart = "training.episode_start"
	TrainingEpisodeEnd   = "training.episode_end"
	TrainingCommand      = "training.command"
	ScenarioCommand      = "scenario.command"
)

// Event is the envelope for everything published on the bus. Data is a
// JSON payload; consumers decode the payload type they expect and
// tolerate missing fields as zero values.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New creates an event of the given type, marshaling the payload.
func New(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// Decode unmarshals an event payload into the given type. Fields absent
// from the wire payload are left at their zero values; malformed
// payloads return an error the caller is expected to tolerate.
func Decode[T any](e Event) (T, error) {
	var payload T
	if len(e.Data) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(e.Data, &payload)
	return payload, err
}

// ResetPayload accompanies env.reset events.
type ResetPayload struct {
	Observation []float64      `json:"observation,omitempty"`
	Scenario    string         `json:"scenario,omitempty"`
	Seed        int64          `json:"seed,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// StepPayload accompanies env.step events.
type StepPayload struct {
	Observation []float64          `json:"observation,omitempty"`
	Action      []float64          `json:"action,omitempty"`
	Reward      float64            `json:"reward"`
	Done        bool               `json:"done"`
	NumAlive    int                `json:"num_alive"`
	StepCount   int                `json:"step_count"`
	MinSepNM    float64            `json:"min_sep_nm"`
	LoSCount    int                `json:"los"`
	Components  map[string]float64 `json:"r_components,omitempty"`
}

// DecisionPayload accompanies policy.decision events.
type DecisionPayload struct {
	Observation   []float64          `json:"observation,omitempty"`
	Action        []float64          `json:"action,omitempty"`
	PolicyLogits  []float64          `json:"policy_logits,omitempty"`
	ValueEstimate float64            `json:"value_estimate"`
	Confidence    map[string]float64 `json:"confidence_scores,omitempty"`
	EpisodeID     string             `json:"episode_id,omitempty"`
	StepNumber    int                `json:"step_number,omitempty"`
	Reward        *float64           `json:"reward,omitempty"`
}

// ViolationPayload accompanies safety.violation events. The schema is
// conventional, not enforced; consumers must survive missing fields.
type ViolationPayload struct {
	ViolationType      string   `json:"violation_type,omitempty"`
	Severity           string   `json:"severity,omitempty"`
	AircraftInvolved   []string `json:"aircraft_involved,omitempty"`
	SeparationDistance float64  `json:"separation_distance"`
	MinimumSeparation  float64  `json:"minimum_separation"`
	AltitudeSeparation float64  `json:"altitude_separation"`
	EpisodeID          string   `json:"episode_id,omitempty"`
	StepNumber         int      `json:"step_number,omitempty"`
}

// IterationPayload accompanies training.iteration events.
type IterationPayload struct {
	Iteration         int                `json:"iteration"`
	EpisodeRewardMean float64            `json:"episode_reward_mean"`
	EpisodeLenMean    float64            `json:"episode_len_mean"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
}

// EpisodePayload accompanies training.episode_start/end events.
type EpisodePayload struct {
	EpisodeID   string  `json:"episode_id,omitempty"`
	Episode     int     `json:"episode"`
	TotalReward float64 `json:"total_reward"`
	Length      int     `json:"length"`
}

// CommandPayload accompanies training.command and scenario.command
// events arriving from external operators.
type CommandPayload struct {
	Command string         `json:"command,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}
