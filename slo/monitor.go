// Package slo maintains sliding-window service-level indicators,
// computes error-budget consumption, and raises alerts on threshold
// crossings. The monitor holds measurements in memory and prunes them
// lazily; it never couples to a metrics wire protocol (see Collector
// for the Prometheus bridge).
package slo

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// alertRetention bounds how long a triggered alert stays active.
const alertRetention = 24 * time.Hour

// Definition describes one service-level objective.
type Definition struct {
	// Name identifies the SLO.
	Name string `yaml:"name" json:"name"`

	// Target is the objective success ratio in (0, 1].
	Target float64 `yaml:"target" json:"target"`

	// Window is the sliding measurement window.
	Window time.Duration `yaml:"window" json:"window"`

	// ErrorBudget is the allowed failure mass. Defaults to 1 - Target.
	ErrorBudget float64 `yaml:"error_budget" json:"error_budget"`

	// AlertThreshold fires an alert when the SLI drops below it.
	// Defaults to Target; must not exceed Target.
	AlertThreshold float64 `yaml:"alert_threshold" json:"alert_threshold"`

	// LatencyThreshold is the success cutoff for RecordResponseTime.
	LatencyThreshold time.Duration `yaml:"latency_threshold" json:"latency_threshold"`

	Description string `yaml:"description" json:"description"`
}

// UnmarshalYAML accepts human-readable window and latency_threshold
// values ("1h", "500ms") as well as integer nanoseconds.
func (d *Definition) UnmarshalYAML(value *yaml.Node) error {
	type rawDefinition struct {
		Name             string  `yaml:"name"`
		Target           float64 `yaml:"target"`
		Window           string  `yaml:"window"`
		ErrorBudget      float64 `yaml:"error_budget"`
		AlertThreshold   float64 `yaml:"alert_threshold"`
		LatencyThreshold string  `yaml:"latency_threshold"`
		Description      string  `yaml:"description"`
	}
	var raw rawDefinition
	if err := value.Decode(&raw); err != nil {
		return err
	}
	d.Name = raw.Name
	d.Target = raw.Target
	d.ErrorBudget = raw.ErrorBudget
	d.AlertThreshold = raw.AlertThreshold
	d.Description = raw.Description
	if raw.Window != "" {
		w, err := parseDuration(raw.Window)
		if err != nil {
			return &DefinitionError{Name: raw.Name, Reason: fmt.Sprintf("window: %v", err)}
		}
		d.Window = w
	}
	if raw.LatencyThreshold != "" {
		lt, err := parseDuration(raw.LatencyThreshold)
		if err != nil {
			return &DefinitionError{Name: raw.Name, Reason: fmt.Sprintf("latency_threshold: %v", err)}
		}
		d.LatencyThreshold = lt
	}
	return nil
}

// parseDuration accepts Go duration strings and integer nanoseconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n), nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return &DefinitionError{Name: d.Name, Reason: "name is empty"}
	}
	if d.Target <= 0 || d.Target > 1 {
		return &DefinitionError{Name: d.Name, Reason: fmt.Sprintf("target %v outside (0, 1]", d.Target)}
	}
	if d.Window <= 0 {
		return &DefinitionError{Name: d.Name, Reason: "window must be positive"}
	}
	if d.ErrorBudget == 0 {
		d.ErrorBudget = 1 - d.Target
	}
	if d.ErrorBudget < 0 {
		return &DefinitionError{Name: d.Name, Reason: "error budget is negative"}
	}
	if d.AlertThreshold == 0 {
		d.AlertThreshold = d.Target
	}
	if d.AlertThreshold > d.Target {
		return &DefinitionError{Name: d.Name, Reason: fmt.Sprintf("alert threshold %v above target %v", d.AlertThreshold, d.Target)}
	}
	return nil
}

// Budget reports error-budget consumption for one SLO.
type Budget struct {
	Target               float64 `json:"target"`
	Current              float64 `json:"current"`
	ErrorBudget          float64 `json:"error_budget"`
	ErrorBudgetUsed      float64 `json:"error_budget_used"`
	ErrorBudgetRemaining float64 `json:"error_budget_remaining"`
	// ErrorBudgetPercentage is consumption relative to the budget, in
	// percent.
	ErrorBudgetPercentage float64 `json:"error_budget_percentage"`
}

// Status is a point-in-time view of one SLO.
type Status struct {
	Definition   Definition `json:"definition"`
	SLI          float64    `json:"sli"`
	Budget       Budget     `json:"budget"`
	Measurements int        `json:"measurements"`
	Healthy      bool       `json:"healthy"`
}

// Alert is raised when an SLO's SLI drops below its alert threshold.
// While the condition persists, the existing active alert is updated in
// place rather than duplicated.
type Alert struct {
	ID          string         `json:"id"`
	SLO         string         `json:"slo"`
	CurrentSLI  float64        `json:"current_sli"`
	Threshold   float64        `json:"threshold"`
	Target      float64        `json:"target"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AlertHandler receives newly triggered alerts. Handlers run
// synchronously on the recording goroutine.
type AlertHandler func(Alert)

type measurement struct {
	at      time.Time
	success bool
}

type sloState struct {
	def    Definition
	window []measurement
}

// Monitor tracks SLOs. All methods are safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	slos     map[string]*sloState
	alerts   []Alert
	handlers []AlertHandler
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor creates an empty Monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		slos:   make(map[string]*sloState),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnAlert registers an alert handler.
func (m *Monitor) OnAlert(h AlertHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// DefineSLO registers an objective. Redefining an existing name fails.
func (m *Monitor) DefineSLO(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.slos[def.Name]; exists {
		return &DefinitionError{Name: def.Name, Reason: "already defined"}
	}
	m.slos[def.Name] = &sloState{def: def}
	m.logger.Debug("SLO defined",
		"name", def.Name,
		"target", def.Target,
		"window", def.Window,
	)
	return nil
}

// RecordMeasurement appends a success/failure observation and returns
// the SLI over the updated window. Dropping below the alert threshold
// triggers (or refreshes) the SLO's active alert.
func (m *Monitor) RecordMeasurement(name string, success bool, metadata map[string]any) (float64, error) {
	m.mu.Lock()
	state, ok := m.slos[name]
	if !ok {
		m.mu.Unlock()
		return 0, &UnknownSLOError{Name: name}
	}

	now := m.now()
	state.window = append(state.window, measurement{at: now, success: success})
	m.pruneLocked(state, now)
	sli := sliLocked(state)

	var fired *Alert
	if sli < state.def.AlertThreshold {
		fired = m.raiseAlertLocked(state, sli, now, metadata)
	}
	m.mu.Unlock()

	if fired != nil {
		m.notify(*fired)
	}
	return sli, nil
}

// CalculateSLI returns successes/total over the active window, or 1.0
// when the window is empty.
func (m *Monitor) CalculateSLI(name string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.slos[name]
	if !ok {
		return 0, &UnknownSLOError{Name: name}
	}
	m.pruneLocked(state, m.now())
	return sliLocked(state), nil
}

// ErrorBudget reports budget consumption for one SLO.
func (m *Monitor) ErrorBudget(name string) (Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.slos[name]
	if !ok {
		return Budget{}, &UnknownSLOError{Name: name}
	}
	m.pruneLocked(state, m.now())
	return budgetLocked(state), nil
}

// Status returns a snapshot of one SLO.
func (m *Monitor) Status(name string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.slos[name]
	if !ok {
		return Status{}, &UnknownSLOError{Name: name}
	}
	m.pruneLocked(state, m.now())
	return statusLocked(state), nil
}

// AllStatus returns snapshots of every defined SLO, keyed by name.
func (m *Monitor) AllStatus() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make(map[string]Status, len(m.slos))
	for name, state := range m.slos {
		m.pruneLocked(state, now)
		out[name] = statusLocked(state)
	}
	return out
}

// ActiveAlerts returns alerts triggered within the retention period,
// oldest first.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeAlertsLocked(m.now())
}

func (m *Monitor) activeAlertsLocked(now time.Time) []Alert {
	cutoff := now.Add(-alertRetention)
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.TriggeredAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// raiseAlertLocked creates a new active alert for the SLO, or refreshes
// the CurrentSLI of the one already active. Returns the alert only when
// newly created so handlers fire once per episode.
func (m *Monitor) raiseAlertLocked(state *sloState, sli float64, now time.Time, metadata map[string]any) *Alert {
	cutoff := now.Add(-alertRetention)
	for i := range m.alerts {
		if m.alerts[i].SLO == state.def.Name && m.alerts[i].TriggeredAt.After(cutoff) {
			m.alerts[i].CurrentSLI = sli
			return nil
		}
	}

	alert := Alert{
		ID:          uuid.NewString(),
		SLO:         state.def.Name,
		CurrentSLI:  sli,
		Threshold:   state.def.AlertThreshold,
		Target:      state.def.Target,
		TriggeredAt: now,
		Message:     fmt.Sprintf("SLO %q: SLI %.3f below alert threshold %.3f", state.def.Name, sli, state.def.AlertThreshold),
		Metadata:    metadata,
	}
	m.alerts = append(m.alerts, alert)
	m.logger.Warn("SLO alert triggered",
		"slo", state.def.Name,
		"sli", sli,
		"threshold", state.def.AlertThreshold,
	)
	return &alert
}

func (m *Monitor) notify(alert Alert) {
	m.mu.Lock()
	handlers := m.handlers
	m.mu.Unlock()
	for _, h := range handlers {
		h(alert)
	}
}

// pruneLocked discards measurements older than the window.
func (m *Monitor) pruneLocked(state *sloState, now time.Time) {
	cutoff := now.Add(-state.def.Window)
	kept := state.window[:0]
	for _, mt := range state.window {
		if mt.at.After(cutoff) {
			kept = append(kept, mt)
		}
	}
	state.window = kept
}

func sliLocked(state *sloState) float64 {
	if len(state.window) == 0 {
		return 1.0
	}
	successes := 0
	for _, mt := range state.window {
		if mt.success {
			successes++
		}
	}
	return float64(successes) / float64(len(state.window))
}

func budgetLocked(state *sloState) Budget {
	sli := sliLocked(state)
	used := math.Max(0, state.def.Target-sli)
	remaining := math.Max(0, state.def.ErrorBudget-used)
	b := Budget{
		Target:               state.def.Target,
		Current:              sli,
		ErrorBudget:          state.def.ErrorBudget,
		ErrorBudgetUsed:      used,
		ErrorBudgetRemaining: remaining,
	}
	if state.def.ErrorBudget > 0 {
		b.ErrorBudgetPercentage = used / state.def.ErrorBudget * 100
	}
	return b
}

func statusLocked(state *sloState) Status {
	sli := sliLocked(state)
	return Status{
		Definition:   state.def,
		SLI:          sli,
		Budget:       budgetLocked(state),
		Measurements: len(state.window),
		Healthy:      sli >= state.def.AlertThreshold,
	}
}

// sortedNames returns defined SLO names in order. Caller holds m.mu.
func (m *Monitor) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.slos))
	for name := range m.slos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
