package safety

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airspacelab/vectorsim/internal/decision"
	"github.com/airspacelab/vectorsim/pkg/events"
	"github.com/airspacelab/vectorsim/pkg/stats"
)

// Separation thresholds used by the analyzer.
const (
	MinimumSeparationNM  = 5.0
	NearMissThresholdNM  = 3.0
	CriticalSeparationNM = 1.0
	VerticalSeparationFT = 1000.0
)

const (
	maxViolations    = 1000
	lookbackSeconds  = 300.0
	DefaultWindowHrs = 24.0
)

// Analyzer watches safety.violation events, joins them with decision
// history for root cause analysis, and computes windowed metrics.
type Analyzer struct {
	tracker     *decision.Tracker
	bus         *events.Bus
	windowHours float64

	mu         sync.RWMutex
	violations []Violation          // oldest first, bounded
	analyses   map[string]*Analysis // keyed by violation id
	count      int

	subID uuid.UUID
}

// NewAnalyzer creates an analyzer bound to the bus and tracker. The
// tracker may be nil; root cause analysis then degrades to the
// insufficient-history conclusion.
func NewAnalyzer(tracker *decision.Tracker, bus *events.Bus, windowHours float64) *Analyzer {
	if windowHours <= 0 {
		windowHours = DefaultWindowHrs
	}

	a := &Analyzer{
		tracker:     tracker,
		bus:         bus,
		windowHours: windowHours,
		analyses:    make(map[string]*Analysis),
	}

	if bus != nil {
		a.subID = bus.Subscribe(events.SafetyViolation, a.handleViolationEvent)
	}

	return a
}

// RecordViolation stores a raw violation, runs analysis, and returns
// the assigned violation id. The raw record is never mutated after
// this point.
func (a *Analyzer) RecordViolation(v Violation) string {
	a.mu.Lock()
	v.ViolationID = fmt.Sprintf("violation_%d_%d", a.count, v.Timestamp.UnixMilli())
	a.count++
	if v.ViolationType == "" {
		v.ViolationType = TypeLossOfSeparation
	}
	if v.Severity == "" {
		v.Severity = SeverityMedium
	}
	if v.MinimumSeparation == 0 {
		v.MinimumSeparation = MinimumSeparationNM
	}

	a.violations = append(a.violations, v)
	if len(a.violations) > maxViolations {
		evicted := a.violations[0]
		delete(a.analyses, evicted.ViolationID)
		a.violations = a.violations[1:]
	}
	a.mu.Unlock()

	analysis := a.analyze(v)

	a.mu.Lock()
	a.analyses[v.ViolationID] = analysis
	a.mu.Unlock()

	return v.ViolationID
}

// analyze derives the root-cause view of a violation from decision
// history in the lookback window.
func (a *Analyzer) analyze(v Violation) *Analysis {
	decisions := a.relevantDecisions(v)

	ids := make([]string, len(decisions))
	for i, d := range decisions {
		ids[i] = d.DecisionID
	}

	return &Analysis{
		ViolationID:            v.ViolationID,
		ContributingDecisions:  ids,
		RootCauses:             identifyRootCauses(decisions),
		PreventabilityScore:    calculatePreventability(v, decisions),
		ControllerResponseTime: controllerResponseTime(decisions),
		EnvironmentalFactors:   environmentalFactors(v),
	}
}

// relevantDecisions returns decisions in the lookback window before the
// violation, oldest first.
func (a *Analyzer) relevantDecisions(v Violation) []decision.Record {
	if a.tracker == nil {
		return nil
	}

	lookbackStart := v.Timestamp.Add(-time.Duration(lookbackSeconds * float64(time.Second)))

	var relevant []decision.Record
	for _, d := range a.tracker.History(0) {
		if !d.Timestamp.Before(lookbackStart) && !d.Timestamp.After(v.Timestamp) {
			relevant = append(relevant, d)
		}
	}

	sort.Slice(relevant, func(i, j int) bool {
		return relevant[i].Timestamp.Before(relevant[j].Timestamp)
	})
	return relevant
}

func identifyRootCauses(decisions []decision.Record) []string {
	var causes []string

	if len(decisions) == 0 {
		return []string{"Insufficient decision history for analysis"}
	}

	recent := decisions
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	// Erratic control: high variability in consecutive action deltas.
	if len(recent) > 3 {
		var changes []float64
		for i := 1; i < len(recent); i++ {
			changes = append(changes, vectorDist(recent[i].Action, recent[i-1].Action))
		}
		if len(changes) > 0 {
			avg := stats.Mean(changes)
			std := stats.Std(changes)
			if std > avg*0.8 {
				causes = append(causes, "Erratic control behavior - high action variability")
			}
		}
	}

	// Majority of recent decisions made with low confidence.
	lowConfidence := 0
	for _, d := range recent {
		if c, ok := d.Confidence["action_confidence"]; ok && c < 0.5 {
			lowConfidence++
		}
	}
	if float64(lowConfidence) > float64(len(recent))*0.5 {
		causes = append(causes, "Multiple low-confidence decisions preceding violation")
	}

	// Repeated strong warnings before the violation.
	warnings := 0
	for _, d := range decisions {
		if d.Reward != nil && *d.Reward < -0.5 {
			warnings++
		}
	}
	if warnings > 2 {
		causes = append(causes, "Delayed response to safety warnings")
	}

	// High variance in value estimates suggests conflicting goals.
	if len(recent) > 1 {
		values := make([]float64, len(recent))
		for i, d := range recent {
			values[i] = d.ValueEstimate
		}
		if stats.Variance(values) > 1.0 {
			causes = append(causes, "Conflicting objective priorities")
		}
	}

	if len(causes) == 0 {
		causes = append(causes, "Complex multi-factor scenario requiring further analysis")
	}
	return causes
}

// calculatePreventability averages the factors that could be computed;
// factors without data do not dilute the score.
func calculatePreventability(v Violation, decisions []decision.Record) float64 {
	if len(decisions) == 0 {
		return 0.0
	}

	var factors []float64

	if v.TimeToViolation > 0 {
		factors = append(factors, math.Min(v.TimeToViolation/60.0, 1.0))
	}

	recent := decisions
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	var confidences []float64
	for _, d := range recent {
		if c, ok := d.Confidence["action_confidence"]; ok {
			confidences = append(confidences, c)
		}
	}
	if len(confidences) > 0 {
		factors = append(factors, stats.Mean(confidences))
	}

	if len(decisions) > 3 {
		norms := make([]float64, len(recent))
		for i, d := range recent {
			norms[i] = vectorNorm(d.Action)
		}
		consistency := 1.0 - math.Min(stats.Std(norms)/2.0, 1.0)
		factors = append(factors, consistency)
	}

	warnings, responses := 0, 0
	for _, d := range decisions {
		if d.Reward != nil && *d.Reward < -0.3 {
			warnings++
			if vectorNorm(d.Action) > 0.1 {
				responses++
			}
		}
	}
	if warnings > 0 {
		factors = append(factors, float64(responses)/float64(warnings))
	}

	if len(factors) == 0 {
		return 0.5
	}
	return stats.Mean(factors)
}

// controllerResponseTime measures seconds between the first strong
// warning and the first substantial control action after it.
func controllerResponseTime(decisions []decision.Record) float64 {
	var firstWarning *time.Time

	for _, d := range decisions {
		if d.Reward != nil && *d.Reward < -0.5 {
			if firstWarning == nil {
				ts := d.Timestamp
				firstWarning = &ts
			}
			if firstWarning != nil && vectorNorm(d.Action) > 0.2 {
				return d.Timestamp.Sub(*firstWarning).Seconds()
			}
		}
	}
	return 0.0
}

func environmentalFactors(v Violation) map[string]any {
	factors := map[string]any{
		"aircraft_count": len(v.AircraftInvolved),
	}

	if v.SeparationDistance > 0 {
		criticality := math.Max(0.0, 1.0-v.SeparationDistance/MinimumSeparationNM)
		factors["separation_criticality"] = criticality
	}

	if v.AltitudeSeparation < VerticalSeparationFT {
		factors["vertical_separation_insufficient"] = true
		factors["altitude_separation_ratio"] = v.AltitudeSeparation / VerticalSeparationFT
	}

	return factors
}

// CalculateMetrics computes safety metrics for the given window. Zero
// times default to the analysis window ending now.
func (a *Analyzer) CalculateMetrics(start, end time.Time) Metrics {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-time.Duration(a.windowHours * float64(time.Hour)))
	}
	durationHours := end.Sub(start).Hours()

	a.mu.RLock()
	var period []Violation
	for _, v := range a.violations {
		if !v.Timestamp.Before(start) && !v.Timestamp.After(end) {
			period = append(period, v)
		}
	}
	a.mu.RUnlock()

	byType := make(map[string]int)
	bySeverity := make(map[string]int)
	var sepDistances []float64
	sepViolations, nearMisses := 0, 0

	for _, v := range period {
		byType[v.ViolationType]++
		bySeverity[v.Severity]++
		if v.ViolationType == TypeLossOfSeparation {
			sepViolations++
			sepDistances = append(sepDistances, v.SeparationDistance)
			if v.SeparationDistance <= NearMissThresholdNM {
				nearMisses++
			}
		}
	}

	minSep, avgSep := math.Inf(1), math.Inf(1)
	if len(sepDistances) > 0 {
		minSep = sepDistances[0]
		for _, d := range sepDistances {
			if d < minSep {
				minSep = d
			}
		}
		avgSep = stats.Mean(sepDistances)
	}

	meanBetween := durationHours
	if len(period) > 1 {
		times := make([]time.Time, len(period))
		for i, v := range period {
			times[i] = v.Timestamp
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		var gaps []float64
		for i := 1; i < len(times); i++ {
			gaps = append(gaps, times[i].Sub(times[i-1]).Hours())
		}
		meanBetween = stats.Mean(gaps)
	}

	trend, confidence := a.safetyTrend(end)

	return Metrics{
		StartTime:                 start,
		EndTime:                   end,
		DurationHours:             durationHours,
		TotalViolations:           len(period),
		ViolationsByType:          byType,
		ViolationsBySeverity:      bySeverity,
		MinimumSeparationAchieved: minSep,
		AverageSeparation:         avgSep,
		SeparationViolations:      sepViolations,
		NearMisses:                nearMisses,
		SafetyScore:               safetyScore(period, durationHours),
		ViolationRatePerHour:      float64(len(period)) / math.Max(durationHours, 0.001),
		MeanTimeBetweenViolations: meanBetween,
		ViolationTrend:            trend,
		TrendConfidence:           confidence,
	}
}

// safetyScore is 100 minus severity penalties normalised per hour of
// window, floored at 0.
func safetyScore(violations []Violation, durationHours float64) float64 {
	if durationHours <= 0 {
		return 100.0
	}

	var penalty float64
	for _, v := range violations {
		switch v.Severity {
		case SeverityCritical:
			penalty += 20.0
		case SeverityHigh:
			penalty += 10.0
		case SeverityMedium:
			penalty += 5.0
		default:
			penalty += 2.0
		}
	}

	normalized := penalty / math.Max(durationHours, 1.0)
	return math.Max(0.0, 100.0-normalized)
}

// safetyTrend compares violation counts across the two halves of the
// analysis window ending at end.
func (a *Analyzer) safetyTrend(end time.Time) (string, float64) {
	half := time.Duration(a.windowHours * float64(time.Hour) / 2)
	recentStart := end.Add(-half)
	previousStart := recentStart.Add(-half)

	a.mu.RLock()
	recentCount, previousCount := 0, 0
	for _, v := range a.violations {
		switch {
		case !v.Timestamp.Before(recentStart) && !v.Timestamp.After(end):
			recentCount++
		case !v.Timestamp.Before(previousStart) && v.Timestamp.Before(recentStart):
			previousCount++
		}
	}
	a.mu.RUnlock()

	if previousCount == 0 {
		if recentCount == 0 {
			return "stable", 1.0
		}
		return "degrading", 0.8
	}

	ratio := float64(recentCount) / float64(previousCount)
	switch {
	case ratio < 0.8:
		return "improving", math.Min(0.9, 1.0-ratio+0.8)
	case ratio > 1.2:
		return "degrading", math.Min(0.9, ratio-1.2+0.7)
	default:
		return "stable", 0.9
	}
}

// History returns stored violations joined with their analyses, most
// recent first. A limit of 0 returns everything.
func (a *Analyzer) History(limit int) []ViolationReport {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.violations)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]ViolationReport, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		v := a.violations[i]
		out = append(out, ViolationReport{Violation: v, Analysis: a.analyses[v.ViolationID]})
	}
	return out
}

// ByAircraft returns violations involving the given aircraft.
func (a *Analyzer) ByAircraft(aircraftID string) []ViolationReport {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []ViolationReport
	for _, v := range a.violations {
		for _, id := range v.AircraftInvolved {
			if id == aircraftID {
				out = append(out, ViolationReport{Violation: v, Analysis: a.analyses[v.ViolationID]})
				break
			}
		}
	}
	return out
}

// ViolationPatterns mines temporal clustering, repeat-offender
// aircraft, and severity progression from the stored violations.
func (a *Analyzer) ViolationPatterns() PatternReport {
	a.mu.RLock()
	violations := make([]Violation, len(a.violations))
	copy(violations, a.violations)
	a.mu.RUnlock()

	report := PatternReport{
		Patterns:                []Pattern{},
		Insights:                []string{},
		TotalViolationsAnalyzed: len(violations),
	}
	if len(violations) == 0 {
		return report
	}

	// Temporal clustering: runs of violations closer than half the mean
	// gap.
	if len(violations) > 5 {
		times := make([]float64, len(violations))
		for i, v := range violations {
			times[i] = float64(v.Timestamp.UnixNano()) / 1e9
		}
		sort.Float64s(times)

		var gaps []float64
		for i := 1; i < len(times); i++ {
			gaps = append(gaps, times[i]-times[i-1])
		}
		avgGap := stats.Mean(gaps)

		clusters := 0
		currentLen := 1
		for _, gap := range gaps {
			if gap < avgGap*0.5 {
				currentLen++
			} else {
				if currentLen > 2 {
					clusters++
				}
				currentLen = 1
			}
		}
		if currentLen > 2 {
			clusters++
		}

		if clusters > 0 {
			report.Patterns = append(report.Patterns, Pattern{
				Type:        "temporal_clustering",
				Description: fmt.Sprintf("Found %d clusters of violations", clusters),
				Clusters:    clusters,
			})
			report.Insights = append(report.Insights,
				"Violations tend to occur in clusters, suggesting systemic issues")
		}
	}

	// Aircraft repeatedly involved relative to the worst offender.
	byAircraft := make(map[string]int)
	for _, v := range violations {
		for _, id := range v.AircraftInvolved {
			byAircraft[id]++
		}
	}
	if len(byAircraft) > 0 {
		maxCount := 0
		for _, c := range byAircraft {
			if c > maxCount {
				maxCount = c
			}
		}
		var highRisk []string
		for id, c := range byAircraft {
			if float64(c) > float64(maxCount)*0.7 {
				highRisk = append(highRisk, id)
			}
		}
		sort.Strings(highRisk)
		if len(highRisk) > 0 {
			report.Patterns = append(report.Patterns, Pattern{
				Type:        "high_risk_aircraft",
				Description: fmt.Sprintf("Aircraft with frequent violations: %v", highRisk),
				Aircraft:    highRisk,
			})
			report.Insights = append(report.Insights,
				"Some aircraft are involved in violations more frequently")
		}
	}

	// Severity progression over the last 20 violations.
	recent := violations
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	if len(recent) > 5 {
		scores := make([]float64, len(recent))
		for i, v := range recent {
			scores[i] = float64(severityScore(v.Severity))
		}
		slope := stats.Linregress(scores).Slope

		if slope > 0.1 {
			report.Patterns = append(report.Patterns, Pattern{
				Type:        "escalating_severity",
				Description: "Violation severity is increasing over time",
				TrendSlope:  slope,
			})
			report.Insights = append(report.Insights,
				"Recent violations are becoming more severe")
		} else if slope < -0.1 {
			report.Patterns = append(report.Patterns, Pattern{
				Type:        "improving_severity",
				Description: "Violation severity is decreasing over time",
				TrendSlope:  slope,
			})
			report.Insights = append(report.Insights,
				"Recent violations are becoming less severe")
		}
	}

	return report
}

// Shutdown detaches the analyzer from the bus. Safe to call more than
// once.
func (a *Analyzer) Shutdown() {
	a.mu.Lock()
	subID := a.subID
	a.subID = uuid.Nil
	a.mu.Unlock()

	if a.bus != nil && subID != uuid.Nil {
		a.bus.Unsubscribe(subID)
	}
}

func (a *Analyzer) handleViolationEvent(e events.Event) {
	payload, err := events.Decode[events.ViolationPayload](e)
	if err != nil {
		return
	}

	a.RecordViolation(Violation{
		Timestamp:          e.Timestamp,
		ViolationType:      payload.ViolationType,
		Severity:           payload.Severity,
		AircraftInvolved:   payload.AircraftInvolved,
		SeparationDistance: payload.SeparationDistance,
		MinimumSeparation:  payload.MinimumSeparation,
		AltitudeSeparation: payload.AltitudeSeparation,
		EpisodeID:          payload.EpisodeID,
		StepNumber:         payload.StepNumber,
	})
}

func vectorDist(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		d := av - bv
		sum += d * d
	}
	return math.Sqrt(sum)
}

func vectorNorm(a []float64) float64 {
	var sum float64
	for _, v := range a {
		sum += v * v
	}
	return math.Sqrt(sum)
}
