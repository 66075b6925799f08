package reports

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/airspacelab/vectorsim/internal/patterns"
	"github.com/airspacelab/vectorsim/internal/safety"
)

// Alert thresholds.
const (
	safetyScoreWarning    = 80.0
	safetyScoreCritical   = 60.0
	violationRateCritical = 1.0 // per hour
)

const maxKeyFindings = 5

// Generator builds analysis reports from the safety and pattern
// analyzers and maintains the alert store.
type Generator struct {
	safetyAnalyzer  *safety.Analyzer
	patternAnalyzer *patterns.Analyzer

	mu          sync.RWMutex
	reports     []AnalysisReport
	alerts      []Alert
	reportCount int
}

// NewGenerator creates a generator over the given analyzers. Either
// analyzer may be nil; reports then omit that section.
func NewGenerator(safetyAnalyzer *safety.Analyzer, patternAnalyzer *patterns.Analyzer) *Generator {
	return &Generator{
		safetyAnalyzer:  safetyAnalyzer,
		patternAnalyzer: patternAnalyzer,
	}
}

// GenerateDailySummary builds the daily summary report for the 24h
// window starting at the given date (zero time means yesterday).
func (g *Generator) GenerateDailySummary(date time.Time) AnalysisReport {
	if date.IsZero() {
		date = time.Now().AddDate(0, 0, -1)
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.Add(24 * time.Hour)

	var safetyMetrics *safety.Metrics
	if g.safetyAnalyzer != nil {
		m := g.safetyAnalyzer.CalculateMetrics(start, end)
		safetyMetrics = &m
	}

	var recentPatterns []patterns.BehaviorPattern
	var trends map[string]patterns.Trend
	if g.patternAnalyzer != nil {
		recentPatterns = g.patternAnalyzer.AnalyzeRecentPerformance(100)
		trends, _ = g.patternAnalyzer.PerformanceTrends(100)
	}

	alerts := g.checkForAlerts(safetyMetrics, recentPatterns)

	g.mu.Lock()
	reportID := fmt.Sprintf("daily_%s_%d", date.Format("20060102"), g.reportCount)
	g.reportCount++
	g.mu.Unlock()

	report := AnalysisReport{
		ReportID:            reportID,
		ReportType:          TypeDailySummary,
		Timestamp:           time.Now(),
		PeriodStart:         start,
		PeriodEnd:           end,
		ExecutiveSummary:    executiveSummary(safetyMetrics, recentPatterns, trends),
		KeyFindings:         keyFindings(safetyMetrics, recentPatterns, trends),
		OverallAssessment:   overallAssessment(safetyMetrics, recentPatterns),
		SafetyMetrics:       safetyMetrics,
		PerformancePatterns: recentPatterns,
		Recommendations:     g.generateRecommendations(safetyMetrics, recentPatterns, trends),
		Alerts:              alerts,
		RawMetrics:          map[string]any{"performance_trends": trends},
	}
	if g.patternAnalyzer != nil {
		report.RawMetrics["pattern_summary"] = g.patternAnalyzer.PatternSummary()
	}

	g.store(report, alerts)
	return report
}

// GeneratePerformanceAnalysis builds a performance report over the
// last N episodes.
func (g *Generator) GeneratePerformanceAnalysis(episodes int) AnalysisReport {
	if episodes <= 0 {
		episodes = 200
	}
	end := time.Now()
	start := end.Add(-time.Duration(episodes*30) * time.Second)

	var detected, anomalies []patterns.BehaviorPattern
	var trends map[string]patterns.Trend
	if g.patternAnalyzer != nil {
		detected = g.patternAnalyzer.AnalyzeRecentPerformance(episodes)
		trends, _ = g.patternAnalyzer.PerformanceTrends(episodes)
		for _, metric := range []string{"mean_reward", "decision_consistency", "safety_violations"} {
			anomalies = append(anomalies, g.patternAnalyzer.DetectAnomalies(metric, episodes)...)
		}
	}

	summary := fmt.Sprintf(
		"Performance analysis over %d episodes reveals %d behavioral patterns and %d anomalies.",
		episodes, len(detected), len(anomalies))

	var findings []string
	if t, ok := trends["reward_trend"]; ok {
		switch t.Direction {
		case "improving":
			findings = append(findings, "Reward performance is improving over time")
		case "declining":
			findings = append(findings, "Reward performance is declining - investigation needed")
		}
	}
	if len(anomalies) > 0 {
		findings = append(findings, fmt.Sprintf("Detected %d performance anomalies", len(anomalies)))
	}

	g.mu.Lock()
	reportID := fmt.Sprintf("performance_%d_%d", end.Unix(), g.reportCount)
	g.reportCount++
	g.mu.Unlock()

	report := AnalysisReport{
		ReportID:            reportID,
		ReportType:          TypePerformanceAnalysis,
		Timestamp:           time.Now(),
		PeriodStart:         start,
		PeriodEnd:           end,
		ExecutiveSummary:    summary,
		KeyFindings:         findings,
		OverallAssessment:   assessPerformanceHealth(detected, trends, anomalies),
		PerformancePatterns: detected,
		DetectedAnomalies:   anomalies,
		Recommendations:     performanceRecommendations(detected),
		RawMetrics:          map[string]any{"trends": trends},
	}

	g.store(report, nil)
	return report
}

// GenerateSafetyAssessment builds a safety report over the last N
// hours.
func (g *Generator) GenerateSafetyAssessment(hours float64) AnalysisReport {
	if hours <= 0 {
		hours = 24.0
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours * float64(time.Hour)))

	var safetyMetrics *safety.Metrics
	var violationPatterns safety.PatternReport
	var violations []safety.ViolationReport
	if g.safetyAnalyzer != nil {
		m := g.safetyAnalyzer.CalculateMetrics(start, end)
		safetyMetrics = &m
		violations = g.safetyAnalyzer.History(50)
		violationPatterns = g.safetyAnalyzer.ViolationPatterns()
	}

	summary := fmt.Sprintf("Safety assessment over %.0f hours", hours)
	var findings []string
	assessment := AssessmentExcellent
	var recommendations []Recommendation
	var alerts []Alert

	if safetyMetrics != nil {
		summary = fmt.Sprintf("Safety assessment over %.0f hours: %d violations, safety score %.1f/100",
			hours, safetyMetrics.TotalViolations, safetyMetrics.SafetyScore)

		if safetyMetrics.SafetyScore < 70 {
			findings = append(findings, "Safety score below acceptable threshold")
		}
		if safetyMetrics.NearMisses > 0 {
			findings = append(findings, fmt.Sprintf("Recorded %d near-miss events", safetyMetrics.NearMisses))
		}
		insights := violationPatterns.Insights
		if len(insights) > 3 {
			insights = insights[:3]
		}
		findings = append(findings, insights...)

		assessment = assessSafetyLevel(*safetyMetrics)
		recommendations = safetyRecommendations(*safetyMetrics)
		alerts = checkSafetyAlerts(*safetyMetrics)
	}

	g.mu.Lock()
	reportID := fmt.Sprintf("safety_%d_%d", end.Unix(), g.reportCount)
	g.reportCount++
	g.mu.Unlock()

	report := AnalysisReport{
		ReportID:          reportID,
		ReportType:        TypeSafetyAssessment,
		Timestamp:         time.Now(),
		PeriodStart:       start,
		PeriodEnd:         end,
		ExecutiveSummary:  summary,
		KeyFindings:       findings,
		OverallAssessment: assessment,
		SafetyMetrics:     safetyMetrics,
		Recommendations:   recommendations,
		Alerts:            alerts,
		RawMetrics: map[string]any{
			"violation_patterns": violationPatterns,
			"recent_violations":  violations,
		},
	}

	g.store(report, alerts)
	return report
}

// Reports returns stored reports, most recent first, optionally
// filtered by type. A limit of 0 returns everything.
func (g *Generator) Reports(reportType string, limit int) []AnalysisReport {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []AnalysisReport
	for i := len(g.reports) - 1; i >= 0; i-- {
		r := g.reports[i]
		if reportType != "" && r.ReportType != reportType {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ReportByID returns a stored report.
func (g *Generator) ReportByID(reportID string) (AnalysisReport, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for i := range g.reports {
		if g.reports[i].ReportID == reportID {
			return g.reports[i], true
		}
	}
	return AnalysisReport{}, false
}

// ActiveAlerts returns unresolved alerts.
func (g *Generator) ActiveAlerts() []Alert {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Alert
	for _, a := range g.alerts {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}

// AllAlerts returns every stored alert.
func (g *Generator) AllAlerts() []Alert {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Alert, len(g.alerts))
	copy(out, g.alerts)
	return out
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging an
// already-acknowledged alert is a no-op that still reports success.
func (g *Generator) AcknowledgeAlert(alertID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.alerts {
		if g.alerts[i].AlertID == alertID {
			g.alerts[i].Acknowledged = true
			return true
		}
	}
	return false
}

// ResolveAlert marks an alert resolved with optional notes. Resolving
// twice is a no-op; the later notes win.
func (g *Generator) ResolveAlert(alertID, notes string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.alerts {
		if g.alerts[i].AlertID == alertID {
			g.alerts[i].Resolved = true
			g.alerts[i].ResolutionNotes = notes
			return true
		}
	}
	return false
}

func (g *Generator) store(report AnalysisReport, alerts []Alert) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reports = append(g.reports, report)
	g.alerts = append(g.alerts, alerts...)
}

func executiveSummary(m *safety.Metrics, detected []patterns.BehaviorPattern,
	trends map[string]patterns.Trend) string {

	var parts []string

	if m != nil {
		switch {
		case m.SafetyScore >= 90:
			parts = append(parts, "Excellent safety performance")
		case m.SafetyScore >= 80:
			parts = append(parts, "Good safety performance")
		case m.SafetyScore >= 70:
			parts = append(parts, "Acceptable safety performance")
		default:
			parts = append(parts, "Safety performance needs attention")
		}
	}

	critical := filterBySeverity(detected, patterns.SeverityCritical)
	if len(critical) > 0 {
		parts = append(parts, fmt.Sprintf("%d critical behavioral patterns detected", len(critical)))
	} else if len(detected) > 0 {
		parts = append(parts, fmt.Sprintf("%d behavioral patterns identified", len(detected)))
	}

	if t, ok := trends["reward_trend"]; ok {
		switch t.Direction {
		case "improving":
			parts = append(parts, "performance is improving")
		case "declining":
			parts = append(parts, "performance is declining")
		default:
			parts = append(parts, "performance is stable")
		}
	} else {
		parts = append(parts, "performance is stable")
	}

	return strings.Join(parts, ". ") + "."
}

func keyFindings(m *safety.Metrics, detected []patterns.BehaviorPattern,
	trends map[string]patterns.Trend) []string {

	var findings []string

	if m != nil {
		if m.TotalViolations > 0 {
			findings = append(findings, fmt.Sprintf("Recorded %d safety violations", m.TotalViolations))
		}
		switch m.ViolationTrend {
		case "degrading":
			findings = append(findings, "Safety violations are increasing over time")
		case "improving":
			findings = append(findings, "Safety violations are decreasing over time")
		}
	}

	oscillations := 0
	anomalies := 0
	for _, p := range detected {
		switch p.PatternType {
		case patterns.TypeOscillation:
			oscillations++
		case patterns.TypeAnomaly:
			anomalies++
		}
	}
	if oscillations > 0 {
		findings = append(findings, fmt.Sprintf("Detected %d oscillatory behaviors", oscillations))
	}
	if anomalies > 0 {
		findings = append(findings, fmt.Sprintf("Identified %d performance anomalies", anomalies))
	}

	for metric, t := range trends {
		if t.Significance == "significant" {
			name := titleCase(strings.ReplaceAll(metric, "_", " "))
			findings = append(findings, fmt.Sprintf("%s is %s significantly", name, t.Direction))
		}
	}

	if len(findings) > maxKeyFindings {
		findings = findings[:maxKeyFindings]
	}
	return findings
}

// overallAssessment starts from the safety score band, then degrades
// one band for critical patterns. Critical patterns never improve the
// band and cannot push an excellent system past good via concerning
// patterns alone.
func overallAssessment(m *safety.Metrics, detected []patterns.BehaviorPattern) string {
	assessment := AssessmentExcellent
	if m != nil {
		switch {
		case m.SafetyScore >= 90:
			assessment = AssessmentExcellent
		case m.SafetyScore >= 80:
			assessment = AssessmentGood
		case m.SafetyScore >= 70:
			assessment = AssessmentConcerning
		default:
			assessment = AssessmentCritical
		}
	}

	critical := filterBySeverity(detected, patterns.SeverityCritical)
	concerning := filterBySeverity(detected, patterns.SeverityConcerning)

	if len(critical) > 0 {
		switch assessment {
		case AssessmentExcellent, AssessmentGood:
			assessment = AssessmentConcerning
		case AssessmentConcerning:
			assessment = AssessmentCritical
		}
	} else if len(concerning) > 0 && assessment == AssessmentExcellent {
		assessment = AssessmentGood
	}

	return assessment
}

func (g *Generator) generateRecommendations(m *safety.Metrics,
	detected []patterns.BehaviorPattern, trends map[string]patterns.Trend) []Recommendation {

	var recs []Recommendation
	counter := 0

	if m != nil && m.SafetyScore < 80 {
		counter++
		recs = append(recs, Recommendation{
			RecommendationID:     fmt.Sprintf("safety_%d", counter),
			Title:                "Improve Safety Performance",
			Description:          "Safety score is below target threshold. Focus on reducing violations.",
			Priority:             "high",
			Category:             "safety",
			Rationale:            fmt.Sprintf("Current safety score: %.1f/100", m.SafetyScore),
			ExpectedImpact:       "Reduce safety violations by 30-50%",
			ImplementationEffort: "medium",
			SupportingMetrics:    map[string]float64{"safety_score": m.SafetyScore},
		})
	}

	for _, p := range detected {
		if p.Severity != patterns.SeverityCritical && p.Severity != patterns.SeverityConcerning {
			continue
		}
		counter++
		priority := "medium"
		if p.Severity == patterns.SeverityCritical {
			priority = "high"
		}
		recs = append(recs, Recommendation{
			RecommendationID:     fmt.Sprintf("pattern_%d", counter),
			Title:                fmt.Sprintf("Address %s Pattern", titleCase(p.PatternType)),
			Description:          p.Description,
			Priority:             priority,
			Category:             "performance",
			Rationale:            fmt.Sprintf("Detected %s with %s severity", p.PatternType, p.Severity),
			ExpectedImpact:       "Improve training stability and performance",
			ImplementationEffort: "medium",
			SupportingPatterns:   []string{p.PatternID},
		})
	}

	if t, ok := trends["reward_trend"]; ok && t.Direction == "declining" && t.Significance == "significant" {
		counter++
		recs = append(recs, Recommendation{
			RecommendationID:     fmt.Sprintf("trend_%d", counter),
			Title:                "Address Declining Reward Performance",
			Description:          "Reward performance is declining significantly over time.",
			Priority:             "high",
			Category:             "training",
			Rationale:            fmt.Sprintf("Reward trend slope: %.4f", t.Slope),
			ExpectedImpact:       "Stabilize and improve reward performance",
			ImplementationEffort: "high",
			SupportingMetrics:    map[string]float64{"reward_slope": t.Slope},
		})
	}

	return recs
}

func performanceRecommendations(detected []patterns.BehaviorPattern) []Recommendation {
	var recs []Recommendation
	for _, p := range detected {
		for i, text := range p.Recommendations {
			title := text
			if len(title) > 50 {
				title = title[:50] + "..."
			}
			recs = append(recs, Recommendation{
				RecommendationID:     fmt.Sprintf("perf_%s_%d", p.PatternID, i),
				Title:                "Pattern-Based: " + title,
				Description:          text,
				Priority:             "medium",
				Category:             "performance",
				Rationale:            fmt.Sprintf("Based on %s pattern analysis", p.PatternType),
				ExpectedImpact:       "Improve specific performance aspect",
				ImplementationEffort: "medium",
				SupportingPatterns:   []string{p.PatternID},
			})
		}
	}
	if len(recs) > 10 {
		recs = recs[:10]
	}
	return recs
}

func safetyRecommendations(m safety.Metrics) []Recommendation {
	var recs []Recommendation
	if m.ViolationRatePerHour > 0.5 {
		recs = append(recs, Recommendation{
			RecommendationID:     "safety_rate_1",
			Title:                "Reduce Violation Rate",
			Description:          "Violation rate is above acceptable threshold. Implement additional safety constraints.",
			Priority:             "high",
			Category:             "safety",
			Rationale:            fmt.Sprintf("Current rate: %.2f violations/hour", m.ViolationRatePerHour),
			ExpectedImpact:       "Reduce violation rate by 50%",
			ImplementationEffort: "medium",
		})
	}
	return recs
}

func (g *Generator) checkForAlerts(m *safety.Metrics, detected []patterns.BehaviorPattern) []Alert {
	var alerts []Alert
	now := time.Now()

	if m != nil {
		switch {
		case m.SafetyScore < safetyScoreCritical:
			alerts = append(alerts, Alert{
				AlertID:         fmt.Sprintf("safety_critical_%d", now.UnixNano()),
				Timestamp:       now,
				AlertLevel:      LevelCritical,
				Title:           "Critical Safety Score",
				Description:     fmt.Sprintf("Safety score (%.1f) below critical threshold", m.SafetyScore),
				Category:        "safety",
				AffectedMetrics: []string{"safety_score"},
				ThresholdValues: map[string]float64{"safety_score": safetyScoreCritical},
				CurrentValues:   map[string]float64{"safety_score": m.SafetyScore},
			})
		case m.SafetyScore < safetyScoreWarning:
			alerts = append(alerts, Alert{
				AlertID:         fmt.Sprintf("safety_warning_%d", now.UnixNano()),
				Timestamp:       now,
				AlertLevel:      LevelWarning,
				Title:           "Low Safety Score",
				Description:     fmt.Sprintf("Safety score (%.1f) below warning threshold", m.SafetyScore),
				Category:        "safety",
				AffectedMetrics: []string{"safety_score"},
				ThresholdValues: map[string]float64{"safety_score": safetyScoreWarning},
				CurrentValues:   map[string]float64{"safety_score": m.SafetyScore},
			})
		}
	}

	critical := filterBySeverity(detected, patterns.SeverityCritical)
	if len(critical) > 0 {
		ids := make([]string, len(critical))
		for i, p := range critical {
			ids[i] = p.PatternID
		}
		alerts = append(alerts, Alert{
			AlertID:         fmt.Sprintf("pattern_critical_%d", now.UnixNano()),
			Timestamp:       now,
			AlertLevel:      LevelCritical,
			Title:           "Critical Performance Patterns",
			Description:     fmt.Sprintf("Detected %d critical performance patterns", len(critical)),
			Category:        "performance",
			AffectedMetrics: []string{"pattern_severity"},
			ThresholdValues: map[string]float64{"critical_patterns": 0},
			CurrentValues:   map[string]float64{"critical_patterns": float64(len(critical))},
			RelatedPatterns: ids,
		})
	}

	return alerts
}

func checkSafetyAlerts(m safety.Metrics) []Alert {
	var alerts []Alert
	if m.ViolationRatePerHour > violationRateCritical {
		now := time.Now()
		alerts = append(alerts, Alert{
			AlertID:         fmt.Sprintf("violation_rate_%d", now.UnixNano()),
			Timestamp:       now,
			AlertLevel:      LevelCritical,
			Title:           "High Violation Rate",
			Description:     fmt.Sprintf("Violation rate (%.2f/hour) exceeds threshold", m.ViolationRatePerHour),
			Category:        "safety",
			AffectedMetrics: []string{"violation_rate"},
			ThresholdValues: map[string]float64{"violation_rate": violationRateCritical},
			CurrentValues:   map[string]float64{"violation_rate": m.ViolationRatePerHour},
		})
	}
	return alerts
}

func assessPerformanceHealth(detected []patterns.BehaviorPattern,
	trends map[string]patterns.Trend, anomalies []patterns.BehaviorPattern) string {

	health := 100
	health -= len(filterBySeverity(detected, patterns.SeverityCritical)) * 20
	health -= len(filterBySeverity(detected, patterns.SeverityConcerning)) * 10
	health -= len(anomalies) * 5

	if t, ok := trends["reward_trend"]; ok {
		switch t.Direction {
		case "declining":
			health -= 15
		case "improving":
			health += 5
		}
	}

	switch {
	case health >= 90:
		return AssessmentExcellent
	case health >= 75:
		return AssessmentGood
	case health >= 60:
		return AssessmentConcerning
	default:
		return AssessmentCritical
	}
}

func assessSafetyLevel(m safety.Metrics) string {
	switch {
	case m.SafetyScore >= 95:
		return AssessmentExcellent
	case m.SafetyScore >= 85:
		return AssessmentGood
	case m.SafetyScore >= 70:
		return AssessmentConcerning
	default:
		return AssessmentCritical
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func filterBySeverity(list []patterns.BehaviorPattern, severity string) []patterns.BehaviorPattern {
	var out []patterns.BehaviorPattern
	for _, p := range list {
		if p.Severity == severity {
			out = append(out, p)
		}
	}
	return out
}
