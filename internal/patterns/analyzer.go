package patterns

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airspacelab/vectorsim/pkg/events"
	"github.com/airspacelab/vectorsim/pkg/stats"
)

const (
	maxPatterns       = 500
	maxHistory        = 1000
	DefaultWindowSize = 100

	minSamplesForAnalysis = 10

	oscillationThreshold = 0.3  // relative amplitude
	anomalyThreshold     = 2.5  // z-score
	trendSignificance    = 0.05 // p-value

	assumedEpisodeSeconds = 30.0
)

// Analyzer detects behavioral patterns from the performance metrics
// stream fed by training.iteration events.
type Analyzer struct {
	bus        *events.Bus
	windowSize int

	mu           sync.RWMutex
	patterns     []BehaviorPattern // oldest first, bounded
	patternCount int
	history      []PerformanceMetrics // oldest first, bounded
	runs         map[string][]PerformanceMetrics

	iterSubID    uuid.UUID
	episodeSubID uuid.UUID
}

// NewAnalyzer creates an analyzer. A nil bus disables event-driven
// ingestion; metrics can still be recorded directly.
func NewAnalyzer(bus *events.Bus, windowSize int) *Analyzer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	a := &Analyzer{
		bus:        bus,
		windowSize: windowSize,
		runs:       make(map[string][]PerformanceMetrics),
	}

	if bus != nil {
		a.iterSubID = bus.Subscribe(events.TrainingIteration, a.handleIterationEvent)
		a.episodeSubID = bus.Subscribe(events.TrainingEpisodeEnd, func(events.Event) {})
	}

	return a
}

// RecordMetrics appends one episode of performance metrics.
func (a *Analyzer) RecordMetrics(m PerformanceMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, m)
	if len(a.history) > maxHistory {
		a.history = a.history[len(a.history)-maxHistory:]
	}
}

// RecordRunMetrics appends metrics under a named training run for
// later comparison.
func (a *Analyzer) RecordRunMetrics(runID string, m PerformanceMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs[runID] = append(a.runs[runID], m)
}

func (a *Analyzer) recentMetrics(episodes int) []PerformanceMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if episodes <= 0 {
		episodes = a.windowSize
	}
	n := len(a.history)
	if episodes > n {
		episodes = n
	}
	out := make([]PerformanceMetrics, episodes)
	copy(out, a.history[n-episodes:])
	return out
}

// AnalyzeRecentPerformance scans the recent metric window for
// oscillations, trends, and stability across the tracked metrics. At
// least 10 samples are required; fewer returns nothing.
func (a *Analyzer) AnalyzeRecentPerformance(episodes int) []BehaviorPattern {
	metrics := a.recentMetrics(episodes)
	if len(metrics) < minSamplesForAnalysis {
		return nil
	}

	var detected []BehaviorPattern

	extract := func(f func(PerformanceMetrics) float64) []float64 {
		vals := make([]float64, len(metrics))
		for i, m := range metrics {
			vals[i] = f(m)
		}
		return vals
	}

	rewards := extract(func(m PerformanceMetrics) float64 { return m.MeanReward })
	if p := a.detectOscillation(rewards, "reward"); p != nil {
		detected = append(detected, *p)
	}
	if p := a.detectTrend(rewards, "reward"); p != nil {
		detected = append(detected, *p)
	}
	if p := a.detectStability(rewards, "reward"); p != nil {
		detected = append(detected, *p)
	}

	confidence := extract(func(m PerformanceMetrics) float64 { return m.MeanConfidence })
	if p := a.detectTrend(confidence, "confidence"); p != nil {
		detected = append(detected, *p)
	}

	consistency := extract(func(m PerformanceMetrics) float64 { return m.DecisionConsistency })
	if p := a.detectTrend(consistency, "consistency"); p != nil {
		detected = append(detected, *p)
	}

	violations := extract(func(m PerformanceMetrics) float64 { return float64(m.SafetyViolations) })
	if anyPositive(violations) {
		if p := a.detectTrend(violations, "safety_violations"); p != nil {
			detected = append(detected, *p)
		}
	}

	separation := extract(func(m PerformanceMetrics) float64 { return m.MeanSeparation })
	if p := a.detectTrend(separation, "separation"); p != nil {
		detected = append(detected, *p)
	}

	entropy := extract(func(m PerformanceMetrics) float64 { return m.PolicyEntropy })
	if p := a.detectTrend(entropy, "policy_entropy"); p != nil {
		detected = append(detected, *p)
	}

	accuracy := extract(func(m PerformanceMetrics) float64 { return m.ValueEstimateAccuracy })
	if p := a.detectTrend(accuracy, "value_accuracy"); p != nil {
		detected = append(detected, *p)
	}

	a.mu.Lock()
	a.patterns = append(a.patterns, detected...)
	if len(a.patterns) > maxPatterns {
		a.patterns = a.patterns[len(a.patterns)-maxPatterns:]
	}
	a.mu.Unlock()

	return detected
}

// DetectAnomalies flags recent values of a metric that deviate more
// than 2.5 standard deviations from the pre-recent baseline.
func (a *Analyzer) DetectAnomalies(metricName string, lookbackEpisodes int) []BehaviorPattern {
	if lookbackEpisodes <= 0 {
		lookbackEpisodes = 50
	}
	metrics := a.recentMetrics(lookbackEpisodes)
	if len(metrics) < 20 {
		return nil
	}

	values := make([]float64, 0, len(metrics))
	for _, m := range metrics {
		v, ok := metricValue(m, metricName)
		if !ok {
			return nil
		}
		values = append(values, v)
	}

	baseline := values[:len(values)-10]
	baselineMean := stats.Mean(baseline)
	baselineStd := stats.Std(baseline)
	if baselineStd == 0 {
		return nil
	}

	recent := values[len(values)-10:]
	var anomalies []BehaviorPattern

	for i, v := range recent {
		z := math.Abs((v - baselineMean) / baselineStd)
		if z <= anomalyThreshold {
			continue
		}

		episode := len(metrics) - 10 + i
		a.mu.Lock()
		id := fmt.Sprintf("anomaly_%d_%d", a.patternCount, time.Now().UnixMilli())
		a.patternCount++
		a.mu.Unlock()

		anomalies = append(anomalies, BehaviorPattern{
			PatternID:       id,
			Timestamp:       time.Now(),
			PatternType:     TypeAnomaly,
			Severity:        classifyAnomalySeverity(z),
			DurationSeconds: 0.0,
			ConfidenceScore: math.Min(z/5.0, 1.0),
			Significance:    2 * stats.NormalSF(z),
			EffectSize:      z,
			AffectedMetrics: []string{metricName},
			EpisodeStart:    episode,
			EpisodeEnd:      episode,
			DecisionCount:   1,
			Description: fmt.Sprintf("Anomalous %s value: %.3f (z-score: %.2f)",
				metricName, v, z),
			Recommendations: []string{
				fmt.Sprintf("Investigate cause of anomalous %s value", metricName),
				"Check for environmental changes or training instabilities",
				"Consider adjusting learning rate or other hyperparameters",
			},
		})
	}

	return anomalies
}

// CompareTrainingRuns contrasts reward, safety, and consistency between
// two named runs.
func (a *Analyzer) CompareTrainingRuns(runID1, runID2 string) (RunComparison, error) {
	a.mu.RLock()
	run1, ok1 := a.runs[runID1]
	run2, ok2 := a.runs[runID2]
	a.mu.RUnlock()

	if !ok1 || !ok2 {
		return RunComparison{}, fmt.Errorf("one or both training runs not found")
	}
	if len(run1) == 0 || len(run2) == 0 {
		return RunComparison{}, fmt.Errorf("insufficient data for comparison")
	}

	rewards1 := make([]float64, len(run1))
	rewards2 := make([]float64, len(run2))
	consistency1 := make([]float64, len(run1))
	consistency2 := make([]float64, len(run2))
	violations1, violations2 := 0, 0

	for i, m := range run1 {
		rewards1[i] = m.MeanReward
		consistency1[i] = m.DecisionConsistency
		violations1 += m.SafetyViolations
	}
	for i, m := range run2 {
		rewards2[i] = m.MeanReward
		consistency2[i] = m.DecisionConsistency
		violations2 += m.SafetyViolations
	}

	ttest := stats.WelchTTest(rewards1, rewards2)

	meanV1 := float64(violations1) / float64(len(run1))
	meanV2 := float64(violations2) / float64(len(run2))

	cmp := RunComparison{
		RewardComparison: RewardComparison{
			Run1Mean:    stats.Mean(rewards1),
			Run2Mean:    stats.Mean(rewards2),
			Improvement: stats.Mean(rewards2) - stats.Mean(rewards1),
			TStatistic:  ttest.Statistic,
			PValue:      ttest.PValue,
		},
		SafetyComparison: SafetyComparison{
			Run1Violations:      violations1,
			Run2Violations:      violations2,
			ViolationReduction:  violations1 - violations2,
			ViolationRateChange: (meanV2 - meanV1) / math.Max(meanV1, 0.001),
		},
		ConsistencyComparison: ConsistencyComparison{
			Run1Consistency:        stats.Mean(consistency1),
			Run2Consistency:        stats.Mean(consistency2),
			ConsistencyImprovement: stats.Mean(consistency2) - stats.Mean(consistency1),
		},
	}

	improvements := 0
	if cmp.RewardComparison.Improvement > 0 {
		improvements++
	}
	if cmp.SafetyComparison.ViolationReduction > 0 {
		improvements++
	}
	if cmp.ConsistencyComparison.ConsistencyImprovement > 0 {
		improvements++
	}

	ratio := float64(improvements) / 3.0
	recommendation := "First run performed better - investigate what changed in second run"
	if ratio >= 0.67 {
		recommendation = "Second run shows significant improvement - adopt its configuration"
	} else if ratio >= 0.33 {
		recommendation = "Mixed results - analyze specific improvements and combine best practices"
	}

	cmp.Overall = OverallAssessment{
		Improvements:     improvements,
		TotalMetrics:     3,
		ImprovementRatio: ratio,
		Recommendation:   recommendation,
	}
	return cmp, nil
}

// PerformanceTrends returns least squares trends for reward, safety,
// and consistency over the recent window. Needs at least 10 samples.
func (a *Analyzer) PerformanceTrends(episodes int) (map[string]Trend, error) {
	metrics := a.recentMetrics(episodes)
	if len(metrics) < minSamplesForAnalysis {
		return nil, fmt.Errorf("insufficient data for trend analysis")
	}

	trends := make(map[string]Trend)

	rewards := make([]float64, len(metrics))
	violations := make([]float64, len(metrics))
	consistency := make([]float64, len(metrics))
	for i, m := range metrics {
		rewards[i] = m.MeanReward
		violations[i] = float64(m.SafetyViolations)
		consistency[i] = m.DecisionConsistency
	}

	rewardReg := stats.Linregress(rewards)
	trends["reward_trend"] = Trend{
		Slope:        rewardReg.Slope,
		RSquared:     rewardReg.R * rewardReg.R,
		PValue:       rewardReg.PValue,
		Direction:    direction(rewardReg.Slope > 0),
		Significance: significance(rewardReg.PValue),
	}

	if anyPositive(violations) {
		safetyReg := stats.Linregress(violations)
		// Fewer violations over time is the improving direction.
		trends["safety_trend"] = Trend{
			Slope:        safetyReg.Slope,
			RSquared:     safetyReg.R * safetyReg.R,
			PValue:       safetyReg.PValue,
			Direction:    direction(safetyReg.Slope < 0),
			Significance: significance(safetyReg.PValue),
		}
	}

	consistencyReg := stats.Linregress(consistency)
	trends["consistency_trend"] = Trend{
		Slope:        consistencyReg.Slope,
		RSquared:     consistencyReg.R * consistencyReg.R,
		PValue:       consistencyReg.PValue,
		Direction:    direction(consistencyReg.Slope > 0),
		Significance: significance(consistencyReg.PValue),
	}

	return trends, nil
}

// PatternSummary aggregates the stored patterns by type and severity.
func (a *Analyzer) PatternSummary() Summary {
	a.mu.RLock()
	patterns := make([]BehaviorPattern, len(a.patterns))
	copy(patterns, a.patterns)
	a.mu.RUnlock()

	s := Summary{
		TotalPatterns:      len(patterns),
		PatternsByType:     make(map[string]int),
		PatternsBySeverity: make(map[string]int),
		RecentDetails:      []BehaviorPattern{},
	}
	if len(patterns) == 0 {
		return s
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	var recent []BehaviorPattern
	for _, p := range patterns {
		s.PatternsByType[p.PatternType]++
		s.PatternsBySeverity[p.Severity]++
		if !p.Timestamp.Before(cutoff) {
			recent = append(recent, p)
		}
	}

	s.RecentPatterns = len(recent)
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	s.RecentDetails = recent
	return s
}

func (a *Analyzer) detectOscillation(values []float64, metricName string) *BehaviorPattern {
	if len(values) < 20 {
		return nil
	}

	detrended := stats.Detrend(values)
	height := stats.Std(detrended) * 0.5
	peaks := stats.Peaks(detrended, height)
	troughs := stats.Troughs(detrended, height)

	if len(peaks) < 3 || len(troughs) < 3 {
		return nil
	}

	var intervals []float64
	for i := 1; i < len(peaks); i++ {
		intervals = append(intervals, float64(peaks[i]-peaks[i-1]))
	}
	for i := 1; i < len(troughs); i++ {
		intervals = append(intervals, float64(troughs[i]-troughs[i-1]))
	}
	if len(intervals) == 0 {
		return nil
	}

	avgPeriod := stats.Mean(intervals)
	amplitude := stats.Std(detrended)

	var meanAbs float64
	for _, v := range values {
		meanAbs += math.Abs(v)
	}
	meanAbs /= float64(len(values))
	relativeAmplitude := amplitude / (meanAbs + 1e-6)

	if relativeAmplitude <= oscillationThreshold {
		return nil
	}

	frequency := 0.0
	if avgPeriod > 0 {
		frequency = 1.0 / avgPeriod
	}

	a.mu.Lock()
	id := fmt.Sprintf("oscillation_%d_%d", a.patternCount, time.Now().UnixMilli())
	a.patternCount++
	a.mu.Unlock()

	return &BehaviorPattern{
		PatternID:       id,
		Timestamp:       time.Now(),
		PatternType:     TypeOscillation,
		Severity:        classifyOscillationSeverity(relativeAmplitude),
		DurationSeconds: float64(len(values)) * assumedEpisodeSeconds,
		Frequency:       frequency,
		Amplitude:       amplitude,
		ConfidenceScore: math.Min(relativeAmplitude*2, 1.0),
		Significance:    0.05,
		EffectSize:      relativeAmplitude,
		AffectedMetrics: []string{metricName},
		EpisodeStart:    0,
		EpisodeEnd:      len(values),
		DecisionCount:   len(values),
		Description: fmt.Sprintf("Oscillatory behavior detected in %s (amplitude: %.3f, period: %.1f)",
			metricName, amplitude, avgPeriod),
		Recommendations: []string{
			"Consider adjusting learning rate to reduce oscillations",
			"Check for conflicting objectives in reward function",
			"Implement experience replay buffer smoothing",
		},
	}
}

func (a *Analyzer) detectTrend(values []float64, metricName string) *BehaviorPattern {
	if len(values) < minSamplesForAnalysis {
		return nil
	}

	reg := stats.Linregress(values)
	if reg.PValue > trendSignificance {
		return nil
	}

	performanceMetric := strings.Contains(metricName, "reward") ||
		strings.Contains(metricName, "consistency")

	var patternType, severity string
	switch {
	case math.Abs(reg.Slope) < reg.StdErr*2:
		patternType = TypeStability
		severity = SeverityBenign
	case reg.Slope > 0:
		if performanceMetric {
			patternType = TypeImprovement
		} else {
			patternType = TypeConvergence
		}
		severity = classifyTrendSeverity(math.Abs(reg.Slope), reg.StdErr)
	default:
		if performanceMetric {
			patternType = TypeRegression
		} else {
			patternType = TypeDivergence
		}
		severity = classifyTrendSeverity(math.Abs(reg.Slope), reg.StdErr)
	}

	effectSize := 0.0
	if reg.StdErr > 0 {
		effectSize = math.Abs(reg.Slope) / reg.StdErr
	}

	dir := "Declining"
	if reg.Slope > 0 {
		dir = "Improving"
	}

	a.mu.Lock()
	id := fmt.Sprintf("trend_%d_%d", a.patternCount, time.Now().UnixMilli())
	a.patternCount++
	a.mu.Unlock()

	return &BehaviorPattern{
		PatternID:       id,
		Timestamp:       time.Now(),
		PatternType:     patternType,
		Severity:        severity,
		DurationSeconds: float64(len(values)) * assumedEpisodeSeconds,
		TrendSlope:      reg.Slope,
		ConfidenceScore: math.Abs(reg.R),
		Significance:    reg.PValue,
		EffectSize:      effectSize,
		AffectedMetrics: []string{metricName},
		EpisodeStart:    0,
		EpisodeEnd:      len(values),
		DecisionCount:   len(values),
		Description: fmt.Sprintf("%s trend in %s (slope: %.4f, R²: %.3f)",
			dir, metricName, reg.Slope, reg.R*reg.R),
		Recommendations: trendRecommendations(metricName, patternType),
	}
}

func (a *Analyzer) detectStability(values []float64, metricName string) *BehaviorPattern {
	if len(values) < 20 {
		return nil
	}

	mean := stats.Mean(values)
	if mean == 0 {
		return nil
	}

	cv := stats.Std(values) / math.Abs(mean)
	if cv >= 0.1 {
		return nil
	}

	a.mu.Lock()
	id := fmt.Sprintf("stability_%d_%d", a.patternCount, time.Now().UnixMilli())
	a.patternCount++
	a.mu.Unlock()

	return &BehaviorPattern{
		PatternID:       id,
		Timestamp:       time.Now(),
		PatternType:     TypeStability,
		Severity:        SeverityBenign,
		DurationSeconds: float64(len(values)) * assumedEpisodeSeconds,
		ConfidenceScore: 1.0 - cv,
		Significance:    0.01,
		EffectSize:      cv,
		AffectedMetrics: []string{metricName},
		EpisodeStart:    0,
		EpisodeEnd:      len(values),
		DecisionCount:   len(values),
		Description:     fmt.Sprintf("Stable %s performance (CV: %.3f)", metricName, cv),
		Recommendations: []string{
			fmt.Sprintf("Stable %s indicates good convergence", metricName),
			"Consider increasing exploration to find better solutions",
			"Monitor for potential local optima",
		},
	}
}

func classifyAnomalySeverity(z float64) string {
	switch {
	case z > 4.0:
		return SeverityCritical
	case z > 3.0:
		return SeverityConcerning
	case z > 2.5:
		return SeverityNotable
	default:
		return SeverityBenign
	}
}

func classifyOscillationSeverity(relativeAmplitude float64) string {
	switch {
	case relativeAmplitude > 0.8:
		return SeverityCritical
	case relativeAmplitude > 0.5:
		return SeverityConcerning
	case relativeAmplitude > 0.3:
		return SeverityNotable
	default:
		return SeverityBenign
	}
}

func classifyTrendSeverity(slopeMagnitude, stdErr float64) string {
	effectSize := slopeMagnitude / math.Max(stdErr, 1e-6)
	switch {
	case effectSize > 5.0:
		return SeverityCritical
	case effectSize > 3.0:
		return SeverityConcerning
	case effectSize > 2.0:
		return SeverityNotable
	default:
		return SeverityBenign
	}
}

func trendRecommendations(metricName, patternType string) []string {
	switch patternType {
	case TypeImprovement:
		return []string{
			fmt.Sprintf("Positive trend in %s - continue current approach", metricName),
			"Monitor for potential plateauing",
			"Consider gradual hyperparameter adjustments to maintain progress",
		}
	case TypeRegression:
		return []string{
			fmt.Sprintf("Declining %s - investigate potential causes", metricName),
			"Check for overfitting or catastrophic forgetting",
			"Consider reducing learning rate or adding regularization",
		}
	case TypeConvergence:
		return []string{
			fmt.Sprintf("Converging %s - good learning progress", metricName),
			"Monitor for convergence to local optima",
			"Consider curriculum learning for continued improvement",
		}
	case TypeDivergence:
		return []string{
			fmt.Sprintf("Diverging %s - potential instability", metricName),
			"Reduce learning rate or adjust network architecture",
			"Check for gradient explosion or vanishing gradients",
		}
	}
	return nil
}

func metricValue(m PerformanceMetrics, name string) (float64, bool) {
	switch name {
	case "mean_reward":
		return m.MeanReward, true
	case "reward_std":
		return m.RewardStd, true
	case "mean_confidence":
		return m.MeanConfidence, true
	case "decision_consistency":
		return m.DecisionConsistency, true
	case "safety_violations":
		return float64(m.SafetyViolations), true
	case "mean_separation":
		return m.MeanSeparation, true
	case "action_magnitude_mean":
		return m.ActionMagnitudeMean, true
	case "value_estimate_accuracy":
		return m.ValueEstimateAccuracy, true
	case "policy_entropy":
		return m.PolicyEntropy, true
	}
	return 0, false
}

func anyPositive(values []float64) bool {
	for _, v := range values {
		if v > 0 {
			return true
		}
	}
	return false
}

func direction(improving bool) string {
	if improving {
		return "improving"
	}
	return "declining"
}

func significance(p float64) string {
	if p < trendSignificance {
		return "significant"
	}
	return "not_significant"
}

// Shutdown detaches the analyzer from the bus. Safe to call more than
// once, including concurrently.
func (a *Analyzer) Shutdown() {
	if a.bus == nil {
		return
	}

	a.mu.Lock()
	iterSubID, episodeSubID := a.iterSubID, a.episodeSubID
	a.iterSubID, a.episodeSubID = uuid.Nil, uuid.Nil
	a.mu.Unlock()

	if iterSubID != uuid.Nil {
		a.bus.Unsubscribe(iterSubID)
	}
	if episodeSubID != uuid.Nil {
		a.bus.Unsubscribe(episodeSubID)
	}
}

func (a *Analyzer) handleIterationEvent(e events.Event) {
	payload, err := events.Decode[events.IterationPayload](e)
	if err != nil {
		return
	}

	metric := func(name string, fallback float64) float64 {
		if v, ok := payload.Metrics[name]; ok {
			return v
		}
		return fallback
	}

	a.RecordMetrics(PerformanceMetrics{
		StartTime:           e.Timestamp.Add(-time.Duration(assumedEpisodeSeconds) * time.Second),
		EndTime:             e.Timestamp,
		EpisodeStart:        payload.Iteration,
		EpisodeEnd:          payload.Iteration,
		MeanReward:          payload.EpisodeRewardMean,
		RewardStd:           metric("episode_reward_std", 0.0),
		MeanConfidence:      metric("mean_confidence", 0.5),
		ConfidenceStd:       metric("confidence_std", 0.0),
		DecisionConsistency: metric("decision_consistency", 0.5),
		SafetyViolations:    int(metric("safety_violations", 0)),
		MeanSeparation:      metric("mean_separation", 10.0),
		ActionMagnitudeMean: metric("action_magnitude_mean", 0.0),
		ActionChangesPerEpisode: metric("action_changes_per_episode", 0.0),
		ValueEstimateAccuracy:   metric("value_estimate_accuracy", 0.5),
		PolicyEntropy:           metric("policy_entropy", 1.0),
	})

	// Periodic sweep keeps the pattern store warm during training.
	if payload.Iteration%10 == 0 {
		a.AnalyzeRecentPerformance(20)
	}
}
