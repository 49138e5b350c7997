package slo

import "time"

// Well-known SLO names used by the convenience recorders.
const (
	SLOAvailability      = "availability"
	SLODeploymentSuccess = "deployment-success"
	SLOTestPassRate      = "test-pass-rate"
	SLOSecurityScan      = "security-scan"
	SLOResponseTime      = "response-time"
)

// DefineDefaults registers the standard operational SLOs. Individual
// definitions can be tuned by defining them before calling this; names
// already present are left untouched.
func (m *Monitor) DefineDefaults() error {
	defaults := []Definition{
		{Name: SLOAvailability, Target: 0.999, Window: time.Hour, AlertThreshold: 0.99, Description: "service availability"},
		{Name: SLODeploymentSuccess, Target: 0.95, Window: 24 * time.Hour, AlertThreshold: 0.90, Description: "deployment success rate"},
		{Name: SLOTestPassRate, Target: 0.98, Window: 24 * time.Hour, AlertThreshold: 0.95, Description: "test pass rate"},
		{Name: SLOSecurityScan, Target: 1.0, Window: 7 * 24 * time.Hour, AlertThreshold: 1.0, Description: "clean security scans"},
		{Name: SLOResponseTime, Target: 0.95, Window: time.Hour, AlertThreshold: 0.90, LatencyThreshold: 500 * time.Millisecond, Description: "request latency under threshold"},
	}
	for _, def := range defaults {
		m.mu.Lock()
		_, exists := m.slos[def.Name]
		m.mu.Unlock()
		if exists {
			continue
		}
		if err := m.DefineSLO(def); err != nil {
			return err
		}
	}
	return nil
}

// RecordAvailability records an up/down observation.
func (m *Monitor) RecordAvailability(up bool) (float64, error) {
	return m.RecordMeasurement(SLOAvailability, up, nil)
}

// RecordDeployment records a deployment outcome.
func (m *Monitor) RecordDeployment(success bool) (float64, error) {
	return m.RecordMeasurement(SLODeploymentSuccess, success, nil)
}

// RecordTestRun records a test run outcome.
func (m *Monitor) RecordTestRun(passed bool) (float64, error) {
	return m.RecordMeasurement(SLOTestPassRate, passed, nil)
}

// RecordSecurityScan records a scan outcome.
func (m *Monitor) RecordSecurityScan(clean bool) (float64, error) {
	return m.RecordMeasurement(SLOSecurityScan, clean, nil)
}

// RecordResponseTime records a latency observation; it succeeds when
// the latency is at or under the SLO's latency threshold.
func (m *Monitor) RecordResponseTime(latency time.Duration) (float64, error) {
	m.mu.Lock()
	state, ok := m.slos[SLOResponseTime]
	if !ok {
		m.mu.Unlock()
		return 0, &UnknownSLOError{Name: SLOResponseTime}
	}
	threshold := state.def.LatencyThreshold
	m.mu.Unlock()

	return m.RecordMeasurement(SLOResponseTime, latency <= threshold, map[string]any{
		"latency_ms": latency.Milliseconds(),
	})
}
