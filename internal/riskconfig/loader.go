package riskconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML risk configuration and returns the validated
// Config with the raw bytes. KnownFields(true) makes typos and unused
// fields fail immediately instead of silently loosening a limit.
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}

	return cfg, data, nil
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Hash generates a SHA256 hash of the config over canonical JSON, so a
// published snapshot can record exactly which parameters produced it.
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// applyDefaults fills gaps the file may leave. Limits themselves have
// no defaults: a missing limit is a validation error, not an implied
// "unlimited".
func applyDefaults(cfg *Config) {
	rc := &cfg.RiskCalculations
	if rc.UpdateFrequencySecs == 0 {
		rc.UpdateFrequencySecs = 3600
	}
	if rc.MinPeriods == 0 {
		rc.MinPeriods = 30
	}
	if rc.CorrelationMinPeriods == 0 {
		rc.CorrelationMinPeriods = 100
	}
	if rc.StalenessBoundSecs == 0 {
		rc.StalenessBoundSecs = 900
	}
	if rc.VaR.Method == "" {
		rc.VaR.Method = VaRHistorical
	}
	if len(rc.VaR.ConfidenceLevels) == 0 {
		rc.VaR.ConfidenceLevels = []float64{0.95, 0.99}
	}
	if rc.VaR.TimeHorizonDays == 0 {
		rc.VaR.TimeHorizonDays = 1
	}
	if rc.VaR.LookbackDays == 0 {
		rc.VaR.LookbackDays = 252
	}
	if rc.VaR.MonteCarlo.NumSimulations == 0 {
		rc.VaR.MonteCarlo.NumSimulations = 10000
	}

	if cfg.RiskAlerts.CooldownSecs == 0 {
		cfg.RiskAlerts.CooldownSecs = 3600
	}
	if len(cfg.RiskAlerts.Channels) == 0 {
		cfg.RiskAlerts.Channels = []string{"email", "slack", "in_app"}
	}

	ks := &cfg.KillSwitch
	if ks.EvaluationIntervalSecs == 0 {
		ks.EvaluationIntervalSecs = 30
	}
	if len(ks.Actions) == 0 {
		ks.Actions = []KillAction{ActionCloseAllPositions, ActionNotifyAdmin, ActionLogEvent}
	}
	if ks.Override.ExpirySecs == 0 {
		ks.Override.ExpirySecs = 3600
	}
	if ks.CloseRetry.MaxAttempts == 0 {
		ks.CloseRetry.MaxAttempts = 10
	}
	if ks.CloseRetry.BackoffSecs == 0 {
		ks.CloseRetry.BackoffSecs = 5
	}
	if ks.CloseRetry.MaxBackoffSecs == 0 {
		ks.CloseRetry.MaxBackoffSecs = 300
	}

	ps := &cfg.PositionSizing
	if ps.Method == "" {
		ps.Method = SizingEqualWeight
	}
	if ps.EqualWeight.TargetPositionCount == 0 {
		ps.EqualWeight.TargetPositionCount = 10
	}
	if ps.RiskTolerance == 0 {
		ps.RiskTolerance = 0.02
	}
	if ps.TakeProfitRatio == 0 {
		ps.TakeProfitRatio = 2.0
	}
	if ps.Kelly.Fraction == 0 {
		ps.Kelly.Fraction = 0.5
	}
	if ps.FixedNotional.ScalingFactor == 0 {
		ps.FixedNotional.ScalingFactor = 1.0
	}
}
