package slo

import (
	"fmt"
	"time"
)

// Severity classifies an SLO's health in a report.
type Severity string

const (
	SeverityHealthy Severity = "healthy"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
)

// warningBudgetFraction marks an SLO as warning once less than this
// fraction of its error budget remains.
const warningBudgetFraction = 0.25

// Recommendation is a terse action hint for a non-healthy SLO.
type Recommendation struct {
	SLO      string   `json:"slo"`
	Severity Severity `json:"severity"`
	Action   string   `json:"action"`
}

// ReportSummary aggregates SLO health counts.
type ReportSummary struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
	Warning int `json:"warning"`
	Urgent  int `json:"urgent"`
}

// Report is a point-in-time view of every SLO plus active alerts and
// recommended actions.
type Report struct {
	GeneratedAt     time.Time         `json:"generated_at"`
	Summary         ReportSummary     `json:"summary"`
	SLOs            map[string]Status `json:"slos"`
	Alerts          []Alert           `json:"alerts"`
	Recommendations []Recommendation  `json:"recommendations"`
}

// GenerateReport classifies each SLO as urgent (SLI below its alert
// threshold), warning (under a quarter of its error budget left), or
// healthy, and attaches an action hint per non-healthy SLO.
func (m *Monitor) GenerateReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	report := Report{
		GeneratedAt: now,
		SLOs:        make(map[string]Status, len(m.slos)),
		Alerts:      m.activeAlertsLocked(now),
	}

	for _, name := range m.sortedNamesLocked() {
		state := m.slos[name]
		m.pruneLocked(state, now)
		status := statusLocked(state)
		report.SLOs[name] = status
		report.Summary.Total++

		switch classify(status) {
		case SeverityUrgent:
			report.Summary.Urgent++
			report.Recommendations = append(report.Recommendations, Recommendation{
				SLO:      name,
				Severity: SeverityUrgent,
				Action:   fmt.Sprintf("SLI %.3f is below alert threshold %.3f; halt risky changes and investigate recent failures", status.SLI, status.Definition.AlertThreshold),
			})
		case SeverityWarning:
			report.Summary.Warning++
			report.Recommendations = append(report.Recommendations, Recommendation{
				SLO:      name,
				Severity: SeverityWarning,
				Action:   fmt.Sprintf("error budget %.1f%% consumed; slow the release cadence", status.Budget.ErrorBudgetPercentage),
			})
		default:
			report.Summary.Healthy++
		}
	}
	return report
}

func classify(s Status) Severity {
	if s.SLI < s.Definition.AlertThreshold {
		return SeverityUrgent
	}
	if s.Definition.ErrorBudget > 0 &&
		s.Budget.ErrorBudgetRemaining < warningBudgetFraction*s.Definition.ErrorBudget {
		return SeverityWarning
	}
	return SeverityHealthy
}
