package reports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Writer persists reports to disk as a JSON file plus a plain-text
// rendering, both named by report id.
type Writer struct {
	dir string
}

// NewWriter creates the output directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write persists the report and returns the JSON file path.
func (w *Writer) Write(report AnalysisReport) (string, error) {
	jsonPath := filepath.Join(w.dir, report.ReportID+".json")
	textPath := filepath.Join(w.dir, report.ReportID+".txt")

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	if err := os.WriteFile(textPath, []byte(RenderText(report)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report text: %w", err)
	}

	return jsonPath, nil
}

// RenderText produces the human-readable rendering of a report.
func RenderText(report AnalysisReport) string {
	var b strings.Builder

	title := strings.ToUpper(strings.ReplaceAll(report.ReportType, "_", " "))
	fmt.Fprintf(&b, "%s\n%s\n\n", title, strings.Repeat("=", len(title)))
	fmt.Fprintf(&b, "Report ID:  %s\n", report.ReportID)
	fmt.Fprintf(&b, "Generated:  %s\n", report.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Period:     %s to %s\n",
		report.PeriodStart.Format(time.RFC3339), report.PeriodEnd.Format(time.RFC3339))
	fmt.Fprintf(&b, "Assessment: %s\n\n", report.OverallAssessment)

	fmt.Fprintf(&b, "EXECUTIVE SUMMARY\n-----------------\n%s\n\n", report.ExecutiveSummary)

	if len(report.KeyFindings) > 0 {
		b.WriteString("KEY FINDINGS\n------------\n")
		for _, f := range report.KeyFindings {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
		b.WriteString("\n")
	}

	if m := report.SafetyMetrics; m != nil {
		b.WriteString("SAFETY METRICS\n--------------\n")
		fmt.Fprintf(&b, "  Safety score:        %.1f/100\n", m.SafetyScore)
		fmt.Fprintf(&b, "  Total violations:    %d\n", m.TotalViolations)
		fmt.Fprintf(&b, "  Violation rate:      %.2f/hour\n", m.ViolationRatePerHour)
		fmt.Fprintf(&b, "  Near misses:         %d\n", m.NearMisses)
		fmt.Fprintf(&b, "  Violation trend:     %s (confidence %.2f)\n\n",
			m.ViolationTrend, m.TrendConfidence)
	}

	if len(report.PerformancePatterns) > 0 {
		b.WriteString("DETECTED PATTERNS\n-----------------\n")
		for _, p := range report.PerformancePatterns {
			fmt.Fprintf(&b, "  [%s/%s] %s\n", p.PatternType, p.Severity, p.Description)
		}
		b.WriteString("\n")
	}

	if len(report.Recommendations) > 0 {
		b.WriteString("RECOMMENDATIONS\n---------------\n")
		for _, r := range report.Recommendations {
			fmt.Fprintf(&b, "  [%s] %s\n      %s\n", r.Priority, r.Title, r.Description)
		}
		b.WriteString("\n")
	}

	if len(report.Alerts) > 0 {
		b.WriteString("ALERTS\n------\n")
		for _, a := range report.Alerts {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", a.AlertLevel, a.Title, a.Description)
		}
		b.WriteString("\n")
	}

	return b.String()
}
