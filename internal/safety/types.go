// Package safety consumes safety.violation events, performs root cause
// analysis against recent decision history, and computes sector safety
// metrics.
package safety

import "time"

// Violation types.
const (
	TypeLossOfSeparation  = "loss_of_separation"
	TypeNearMiss          = "near_miss"
	TypeAltitudeDeviation = "altitude_deviation"
	TypeSectorBoundary    = "sector_boundary_violation"
)

// Severity levels, ordered low to critical.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// severityScore maps a severity to its ordinal weight for trend math.
func severityScore(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Violation is the raw record of a detected safety violation. It is
// immutable once stored; derived analysis lives in Analysis and the two
// are joined at read time.
type Violation struct {
	ViolationID        string    `json:"violation_id"`
	Timestamp          time.Time `json:"timestamp"`
	ViolationType      string    `json:"violation_type"`
	Severity           string    `json:"severity"`
	AircraftInvolved   []string  `json:"aircraft_involved"`
	SeparationDistance float64   `json:"separation_distance"`
	MinimumSeparation  float64   `json:"minimum_separation"`
	AltitudeSeparation float64   `json:"altitude_separation"`
	TimeToViolation    float64   `json:"time_to_violation"`
	EpisodeID          string    `json:"episode_id,omitempty"`
	StepNumber         int       `json:"step_number,omitempty"`
}

// Analysis holds the derived root-cause view of a violation.
type Analysis struct {
	ViolationID            string         `json:"violation_id"`
	ContributingDecisions  []string       `json:"contributing_decisions"`
	RootCauses             []string       `json:"root_causes"`
	PreventabilityScore    float64        `json:"preventability_score"`
	ControllerResponseTime float64        `json:"controller_response_time"`
	EnvironmentalFactors   map[string]any `json:"environmental_factors"`
}

// ViolationReport joins a raw violation with its analysis for
// presentation.
type ViolationReport struct {
	Violation
	Analysis *Analysis `json:"analysis,omitempty"`
}

// Metrics summarises safety performance over a window.
type Metrics struct {
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	DurationHours float64   `json:"duration_hours"`

	TotalViolations      int            `json:"total_violations"`
	ViolationsByType     map[string]int `json:"violations_by_type"`
	ViolationsBySeverity map[string]int `json:"violations_by_severity"`

	MinimumSeparationAchieved float64 `json:"minimum_separation_achieved"`
	AverageSeparation         float64 `json:"average_separation"`
	SeparationViolations      int     `json:"separation_violations"`
	NearMisses                int     `json:"near_misses"`

	SafetyScore               float64 `json:"safety_score"`
	ViolationRatePerHour      float64 `json:"violation_rate_per_hour"`
	MeanTimeBetweenViolations float64 `json:"mean_time_between_violations"`

	ViolationTrend  string  `json:"violation_trend"`
	TrendConfidence float64 `json:"trend_confidence"`
}

// Pattern is one mined violation pattern.
type Pattern struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Clusters    int      `json:"clusters,omitempty"`
	Aircraft    []string `json:"aircraft,omitempty"`
	TrendSlope  float64  `json:"trend_slope,omitempty"`
}

// PatternReport groups mined patterns with plain-language insights.
type PatternReport struct {
	Patterns                []Pattern `json:"patterns"`
	Insights                []string  `json:"insights"`
	TotalViolationsAnalyzed int       `json:"total_violations_analyzed"`
}
