// Package reports assembles analysis reports from the safety and
// pattern analyzers, maintains the alert store, and persists reports
// to disk.
package reports

import (
	"time"

	"github.com/airspacelab/vectorsim/internal/patterns"
	"github.com/airspacelab/vectorsim/internal/safety"
)

// Report types.
const (
	TypeDailySummary        = "daily_summary"
	TypePerformanceAnalysis = "performance_analysis"
	TypeSafetyAssessment    = "safety_assessment"
)

// Alert levels.
const (
	LevelInfo      = "info"
	LevelWarning   = "warning"
	LevelCritical  = "critical"
	LevelEmergency = "emergency"
)

// Overall assessment bands, best to worst.
const (
	AssessmentExcellent  = "excellent"
	AssessmentGood       = "good"
	AssessmentConcerning = "concerning"
	AssessmentCritical   = "critical"
)

// Recommendation is one actionable suggestion with its rationale.
type Recommendation struct {
	RecommendationID     string             `json:"recommendation_id"`
	Title                string             `json:"title"`
	Description          string             `json:"description"`
	Priority             string             `json:"priority"`
	Category             string             `json:"category"`
	Rationale            string             `json:"rationale"`
	ExpectedImpact       string             `json:"expected_impact"`
	ImplementationEffort string             `json:"implementation_effort"`
	SupportingPatterns   []string           `json:"supporting_patterns,omitempty"`
	SupportingMetrics    map[string]float64 `json:"supporting_metrics,omitempty"`
}

// Alert flags a degradation or safety condition. Alerts are never
// removed; acknowledgement and resolution are one-way flags.
type Alert struct {
	AlertID     string    `json:"alert_id"`
	Timestamp   time.Time `json:"timestamp"`
	AlertLevel  string    `json:"alert_level"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`

	AffectedMetrics []string           `json:"affected_metrics"`
	ThresholdValues map[string]float64 `json:"threshold_values"`
	CurrentValues   map[string]float64 `json:"current_values"`

	Acknowledged bool `json:"acknowledged"`
	Resolved     bool `json:"resolved"`

	RelatedPatterns   []string `json:"related_patterns,omitempty"`
	RelatedViolations []string `json:"related_violations,omitempty"`
	ResolutionNotes   string   `json:"resolution_notes,omitempty"`
}

// AnalysisReport is a full report with findings, recommendations, and
// any alerts raised while assembling it.
type AnalysisReport struct {
	ReportID    string    `json:"report_id"`
	ReportType  string    `json:"report_type"`
	Timestamp   time.Time `json:"timestamp"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	ExecutiveSummary  string   `json:"executive_summary"`
	KeyFindings       []string `json:"key_findings"`
	OverallAssessment string   `json:"overall_assessment"`

	SafetyMetrics       *safety.Metrics            `json:"safety_metrics,omitempty"`
	PerformancePatterns []patterns.BehaviorPattern `json:"performance_patterns,omitempty"`
	DetectedAnomalies   []patterns.BehaviorPattern `json:"detected_anomalies,omitempty"`

	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Alerts          []Alert          `json:"alerts,omitempty"`

	RawMetrics map[string]any `json:"raw_metrics,omitempty"`
}
