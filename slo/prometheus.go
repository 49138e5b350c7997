package slo

import "github.com/prometheus/client_golang/prometheus"

// Collector bridges a Monitor to Prometheus. Register it on a
// prometheus.Registerer; each scrape snapshots the monitor.
type Collector struct {
	monitor *Monitor

	sli             *prometheus.Desc
	budgetRemaining *prometheus.Desc
	activeAlerts    *prometheus.Desc
}

// NewCollector creates a Collector for the given monitor.
func NewCollector(m *Monitor) *Collector {
	return &Collector{
		monitor: m,
		sli: prometheus.NewDesc(
			"ragline_slo_sli",
			"Current service-level indicator per SLO.",
			[]string{"slo"}, nil,
		),
		budgetRemaining: prometheus.NewDesc(
			"ragline_slo_error_budget_remaining",
			"Remaining error budget per SLO.",
			[]string{"slo"}, nil,
		),
		activeAlerts: prometheus.NewDesc(
			"ragline_slo_active_alerts",
			"Number of active SLO alerts.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sli
	ch <- c.budgetRemaining
	ch <- c.activeAlerts
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, status := range c.monitor.AllStatus() {
		ch <- prometheus.MustNewConstMetric(c.sli, prometheus.GaugeValue, status.SLI, name)
		ch <- prometheus.MustNewConstMetric(c.budgetRemaining, prometheus.GaugeValue, status.Budget.ErrorBudgetRemaining, name)
	}
	ch <- prometheus.MustNewConstMetric(c.activeAlerts, prometheus.GaugeValue, float64(len(c.monitor.ActiveAlerts())))
}
