// Package patterns detects recurring behaviors in controller
// performance: oscillations, statistically significant trends, point
// anomalies, and stable plateaus.
package patterns

import "time"

// Pattern types.
const (
	TypeOscillation = "oscillation"
	TypeConvergence = "convergence"
	TypeDivergence  = "divergence"
	TypePeriodic    = "periodic"
	TypeAnomaly     = "anomaly"
	TypeRegression  = "regression"
	TypeImprovement = "improvement"
	TypeStability   = "stability"
)

// Pattern severities, ordered benign to critical.
const (
	SeverityBenign     = "benign"
	SeverityNotable    = "notable"
	SeverityConcerning = "concerning"
	SeverityCritical   = "critical"
)

// BehaviorPattern is one detected pattern with its statistical
// backing.
type BehaviorPattern struct {
	PatternID   string    `json:"pattern_id"`
	Timestamp   time.Time `json:"timestamp"`
	PatternType string    `json:"pattern_type"`
	Severity    string    `json:"severity"`

	DurationSeconds float64 `json:"duration_seconds"`

	ConfidenceScore float64 `json:"confidence_score"`
	Significance    float64 `json:"statistical_significance"`
	EffectSize      float64 `json:"effect_size"`

	AffectedMetrics []string `json:"affected_metrics"`
	EpisodeStart    int      `json:"episode_start"`
	EpisodeEnd      int      `json:"episode_end"`
	DecisionCount   int      `json:"decision_count"`

	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`

	Frequency  float64 `json:"frequency,omitempty"`
	Amplitude  float64 `json:"amplitude,omitempty"`
	TrendSlope float64 `json:"trend_slope,omitempty"`
}

// PerformanceMetrics is one episode or iteration worth of performance
// data.
type PerformanceMetrics struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	EpisodeStart int       `json:"episode_start"`
	EpisodeEnd   int       `json:"episode_end"`

	MeanReward  float64 `json:"mean_reward"`
	RewardStd   float64 `json:"reward_std"`
	RewardTrend float64 `json:"reward_trend"`

	MeanConfidence      float64 `json:"mean_confidence"`
	ConfidenceStd       float64 `json:"confidence_std"`
	DecisionConsistency float64 `json:"decision_consistency"`

	SafetyViolations int     `json:"safety_violations"`
	MeanSeparation   float64 `json:"mean_separation"`

	ActionMagnitudeMean     float64 `json:"action_magnitude_mean"`
	ActionChangesPerEpisode float64 `json:"action_changes_per_episode"`

	ValueEstimateAccuracy float64 `json:"value_estimate_accuracy"`
	PolicyEntropy         float64 `json:"policy_entropy"`
}

// Trend summarises a least squares fit of one metric.
type Trend struct {
	Slope        float64 `json:"slope"`
	RSquared     float64 `json:"r_squared"`
	PValue       float64 `json:"p_value"`
	Direction    string  `json:"direction"`
	Significance string  `json:"significance"`
}

// RunComparison holds the result of comparing two training runs.
type RunComparison struct {
	RewardComparison      RewardComparison      `json:"reward_comparison"`
	SafetyComparison      SafetyComparison      `json:"safety_comparison"`
	ConsistencyComparison ConsistencyComparison `json:"consistency_comparison"`
	Overall               OverallAssessment     `json:"overall_assessment"`
}

type RewardComparison struct {
	Run1Mean    float64 `json:"run1_mean"`
	Run2Mean    float64 `json:"run2_mean"`
	Improvement float64 `json:"improvement"`
	TStatistic  float64 `json:"t_statistic"`
	PValue      float64 `json:"p_value"`
}

type SafetyComparison struct {
	Run1Violations      int     `json:"run1_violations"`
	Run2Violations      int     `json:"run2_violations"`
	ViolationReduction  int     `json:"violation_reduction"`
	ViolationRateChange float64 `json:"violation_rate_change"`
}

type ConsistencyComparison struct {
	Run1Consistency        float64 `json:"run1_consistency"`
	Run2Consistency        float64 `json:"run2_consistency"`
	ConsistencyImprovement float64 `json:"consistency_improvement"`
}

type OverallAssessment struct {
	Improvements     int     `json:"improvements"`
	TotalMetrics     int     `json:"total_metrics"`
	ImprovementRatio float64 `json:"improvement_ratio"`
	Recommendation   string  `json:"recommendation"`
}

// Summary aggregates all detected patterns.
type Summary struct {
	TotalPatterns      int               `json:"total_patterns"`
	PatternsByType     map[string]int    `json:"patterns_by_type"`
	PatternsBySeverity map[string]int    `json:"patterns_by_severity"`
	RecentPatterns     int               `json:"recent_patterns"`
	RecentDetails      []BehaviorPattern `json:"recent_pattern_details"`
}
