package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/vigil/internal/riskconfig"
)

// Alert is an immutable breach record handed to the notification
// collaborator. The monitor never performs delivery itself.
type Alert struct {
	ID        string               `json:"id"`
	Metric    string               `json:"metric"`
	Value     float64              `json:"value"`
	Threshold float64              `json:"threshold"`
	Direction riskconfig.Direction `json:"direction"`
	Channels  []string             `json:"channels"`
	Timestamp time.Time            `json:"timestamp"`
}

type metricState int

const (
	stateQuiet metricState = iota
	stateAlerting
)

// Monitor evaluates snapshot values against the configured alert
// thresholds. Per metric it keeps a two-state machine, Quiet and
// Alerting, plus the last emission time for cooldown suppression.
//
// All state lives inside the instance. The mutex makes Evaluate safe
// to call from the evaluation loop and ad hoc API reads concurrently.
type Monitor struct {
	cfg *riskconfig.Config

	mu        sync.Mutex
	states    map[string]metricState
	lastAlert map[string]time.Time
}

func NewMonitor(cfg *riskconfig.Config) *Monitor {
	return &Monitor{
		cfg:       cfg,
		states:    make(map[string]metricState),
		lastAlert: make(map[string]time.Time),
	}
}

// Evaluate runs every configured threshold against the value map and
// returns the alerts due this cycle. A metric returning in bounds
// resets to Quiet immediately; there is no hysteresis margin. The
// last-alert timestamp survives the reset, so a flapping metric still
// cannot emit twice inside one cooldown.
func (m *Monitor) Evaluate(values map[string]float64, now time.Time) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	cooldown := m.cfg.AlertCooldown()

	var alerts []Alert
	for _, th := range m.cfg.RiskAlerts.Thresholds {
		value, ok := values[th.Metric]
		if !ok {
			continue
		}

		if !breached(value, th) {
			m.states[th.Metric] = stateQuiet
			continue
		}

		m.states[th.Metric] = stateAlerting

		if last, seen := m.lastAlert[th.Metric]; seen && now.Sub(last) < cooldown {
			continue
		}
		m.lastAlert[th.Metric] = now

		alerts = append(alerts, Alert{
			ID:        uuid.New().String(),
			Metric:    th.Metric,
			Value:     value,
			Threshold: th.Limit,
			Direction: th.Direction,
			Channels:  m.cfg.RiskAlerts.Channels,
			Timestamp: now,
		})
	}

	return alerts
}

// Alerting reports whether a metric is currently in breach.
func (m *Monitor) Alerting(metric string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[metric] == stateAlerting
}

func breached(value float64, th riskconfig.AlertThreshold) bool {
	if th.Direction == riskconfig.DirectionBelow {
		return value < th.Limit
	}
	return value > th.Limit
}
