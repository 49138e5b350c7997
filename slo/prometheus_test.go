package slo

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorExposesSLOMetrics(t *testing.T) {
	m := newTestMonitor(t, Definition{
		Name:           "api",
		Target:         0.9,
		Window:         time.Hour,
		AlertThreshold: 0.5,
	})
	// The single failure arrives last so the SLI never crosses the alert
	// threshold mid-run.
	for i := 0; i < 10; i++ {
		_, err := m.RecordMeasurement("api", i != 9, nil)
		require.NoError(t, err)
	}

	c := NewCollector(m)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP ragline_slo_active_alerts Number of active SLO alerts.
# TYPE ragline_slo_active_alerts gauge
ragline_slo_active_alerts 0
# HELP ragline_slo_error_budget_remaining Remaining error budget per SLO.
# TYPE ragline_slo_error_budget_remaining gauge
ragline_slo_error_budget_remaining{slo="api"} 0.09999999999999998
# HELP ragline_slo_sli Current service-level indicator per SLO.
# TYPE ragline_slo_sli gauge
ragline_slo_sli{slo="api"} 0.9
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"ragline_slo_sli",
		"ragline_slo_error_budget_remaining",
		"ragline_slo_active_alerts",
	)
	require.NoError(t, err)
}

func TestCollectorCountsActiveAlerts(t *testing.T) {
	m := newTestMonitor(t, Definition{
		Name:           "api",
		Target:         0.9,
		Window:         time.Hour,
		AlertThreshold: 0.8,
	})
	_, err := m.RecordMeasurement("api", false, nil)
	require.NoError(t, err)

	c := NewCollector(m)
	got := testutil.CollectAndCount(c, "ragline_slo_active_alerts", "ragline_slo_sli", "ragline_slo_error_budget_remaining")
	assert.Equal(t, 3, got)
}
