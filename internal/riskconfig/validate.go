package riskconfig

import (
	"fmt"
	"time"
)

// ValidationError is a hard failure: the process must not start with a
// config that fails validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks all required constraints. The engine assumes a
// validated config; nothing downstream re-checks these.
func Validate(cfg *Config) error {
	if cfg.Meta.ConfigID == "" {
		return ValidationError{"meta.config_id", "required"}
	}

	// === Risk limits ===
	rl := cfg.RiskLimits
	if rl.Portfolio.MaxDrawdown <= 0 || rl.Portfolio.MaxDrawdown >= 1 {
		return ValidationError{"risk_limits.portfolio.max_drawdown", "must be in (0, 1)"}
	}
	if rl.Portfolio.MaxLeverage <= 0 {
		return ValidationError{"risk_limits.portfolio.max_leverage", "must be > 0"}
	}
	if rl.Position.MaxPositionSize <= 0 || rl.Position.MaxPositionSize > 1 {
		return ValidationError{"risk_limits.position.max_position_size", "must be in (0, 1]"}
	}
	if rl.Position.MinPositionSize < 0 || rl.Position.MinPositionSize > rl.Position.MaxPositionSize {
		return ValidationError{"risk_limits.position.min_position_size", "must be in [0, max_position_size]"}
	}
	if rl.Position.MaxConcentration <= 0 || rl.Position.MaxConcentration > 1 {
		return ValidationError{"risk_limits.position.max_concentration", "must be in (0, 1]"}
	}

	// === Position sizing ===
	ps := cfg.PositionSizing
	if !validSizingMethod(ps.Method) {
		return ValidationError{"position_sizing.method", fmt.Sprintf("unknown method %q", ps.Method)}
	}
	switch ps.Method {
	case SizingEqualWeight:
		if ps.EqualWeight.TargetPositionCount <= 0 {
			return ValidationError{"position_sizing.equal_weight.target_position_count", "must be > 0"}
		}
	case SizingVolatilityTarget:
		if ps.VolatilityTarget.TargetVolatility <= 0 {
			return ValidationError{"position_sizing.volatility_target.target_volatility", "must be > 0"}
		}
	case SizingKelly:
		if ps.Kelly.Fraction <= 0 || ps.Kelly.Fraction > 1 {
			return ValidationError{"position_sizing.kelly.fraction", "must be in (0, 1]"}
		}
	case SizingFixedNotional:
		if ps.FixedNotional.Notional <= 0 {
			return ValidationError{"position_sizing.fixed_notional.notional", "must be > 0"}
		}
	}
	if ps.RiskTolerance <= 0 || ps.RiskTolerance >= 1 {
		return ValidationError{"position_sizing.risk_tolerance", "must be in (0, 1)"}
	}

	// === Risk calculations ===
	rc := cfg.RiskCalculations
	if rc.MinPeriods <= 0 {
		return ValidationError{"risk_calculations.min_periods", "must be > 0"}
	}
	if rc.VaR.Method != VaRHistorical && rc.VaR.Method != VaRParametric && rc.VaR.Method != VaRMonteCarlo {
		return ValidationError{"risk_calculations.var.method", fmt.Sprintf("unknown method %q", rc.VaR.Method)}
	}
	for _, cl := range rc.VaR.ConfidenceLevels {
		if cl <= 0 || cl >= 1 {
			return ValidationError{"risk_calculations.var.confidence_levels", "levels must be in (0, 1)"}
		}
	}
	if rc.VaR.TimeHorizonDays <= 0 {
		return ValidationError{"risk_calculations.var.time_horizon_days", "must be > 0"}
	}
	if rc.VaR.LookbackDays <= 0 {
		return ValidationError{"risk_calculations.var.lookback_days", "must be > 0"}
	}
	if rc.VaR.Method == VaRMonteCarlo && rc.VaR.MonteCarlo.NumSimulations < 10000 {
		return ValidationError{"risk_calculations.var.monte_carlo.num_simulations", "must be >= 10000"}
	}

	// === Stress scenarios ===
	seen := make(map[string]bool)
	for i, sc := range cfg.StressTesting.Scenarios {
		field := fmt.Sprintf("stress_testing.scenarios[%d]", i)
		if sc.Name == "" {
			return ValidationError{field + ".name", "required"}
		}
		if seen[sc.Name] {
			return ValidationError{field + ".name", fmt.Sprintf("duplicate scenario %q", sc.Name)}
		}
		seen[sc.Name] = true

		switch sc.Type {
		case ScenarioUniform:
			if sc.Shock == 0 {
				return ValidationError{field + ".shock", "required for uniform scenario"}
			}
		case ScenarioPerSymbol:
			if len(sc.SymbolShocks) == 0 {
				return ValidationError{field + ".symbol_shocks", "required for per_symbol scenario"}
			}
		case ScenarioSector:
			if len(sc.SectorShocks) == 0 {
				return ValidationError{field + ".sector_shocks", "required for sector scenario"}
			}
		case ScenarioAssetClass:
			if len(sc.AssetClassShocks) == 0 {
				return ValidationError{field + ".asset_class_shocks", "required for asset_class scenario"}
			}
		case ScenarioVolatility:
			if sc.VolMultiplier <= 0 {
				return ValidationError{field + ".vol_multiplier", "must be > 0"}
			}
		case ScenarioHistorical:
			if err := validateDateRange(sc.StartDate, sc.EndDate); err != nil {
				return ValidationError{field, err.Error()}
			}
		default:
			return ValidationError{field + ".type", fmt.Sprintf("unknown scenario type %q", sc.Type)}
		}
	}

	// === Alerts ===
	for i, th := range cfg.RiskAlerts.Thresholds {
		field := fmt.Sprintf("risk_alerts.thresholds[%d]", i)
		if !KnownMetrics[th.Metric] {
			return ValidationError{field + ".metric", fmt.Sprintf("unknown metric %q", th.Metric)}
		}
		if th.Direction != DirectionAbove && th.Direction != DirectionBelow {
			return ValidationError{field + ".direction", "must be above or below"}
		}
	}

	// === Kill switch ===
	ks := cfg.KillSwitch
	for i, tr := range ks.Triggers {
		field := fmt.Sprintf("kill_switch.triggers[%d]", i)
		if !KnownMetrics[tr.Metric] {
			return ValidationError{field + ".metric", fmt.Sprintf("unknown metric %q", tr.Metric)}
		}
		if tr.TimeWindowMinutes <= 0 {
			return ValidationError{field + ".time_window_minutes", "must be > 0"}
		}
	}
	for i, a := range ks.Actions {
		if a != ActionCloseAllPositions && a != ActionNotifyAdmin && a != ActionLogEvent {
			return ValidationError{fmt.Sprintf("kill_switch.actions[%d]", i), fmt.Sprintf("unknown action %q", a)}
		}
	}
	if len(ks.Override.AuthorizedRoles) == 0 {
		return ValidationError{"kill_switch.override.authorized_roles", "at least one role required"}
	}
	if ks.EvaluationIntervalSecs <= 0 {
		return ValidationError{"kill_switch.evaluation_interval_secs", "must be > 0"}
	}

	// The monitor loop must run well inside the shortest trigger window
	// or a sustained breach cannot be observed reliably.
	for _, tr := range ks.Triggers {
		if cfg.EvaluationInterval() > tr.Window()/2 {
			return ValidationError{"kill_switch.evaluation_interval_secs",
				fmt.Sprintf("must be at most half the shortest trigger window (%s)", tr.Window())}
		}
	}

	return nil
}

func validSizingMethod(m SizingMethod) bool {
	for _, s := range SizingMethods {
		if m == s {
			return true
		}
	}
	return false
}

func validateDateRange(start, end string) error {
	if start == "" || end == "" {
		return fmt.Errorf("start_date and end_date required for historical scenario")
	}
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return fmt.Errorf("start_date must be YYYY-MM-DD")
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return fmt.Errorf("end_date must be YYYY-MM-DD")
	}
	if !s.Before(e) {
		return fmt.Errorf("start_date must be before end_date")
	}
	return nil
}
