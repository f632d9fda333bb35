package riskconfig

import "time"

// Config is the full risk parameter surface, loaded once at startup
// from YAML and passed to the engine as a typed, validated structure.
// The raw file uses mixed units (trigger windows in minutes, override
// expiry in seconds); the accessor methods below are the only
// normalization point, and every internal API takes time.Duration.
type Config struct {
	Meta             Meta             `yaml:"meta" json:"meta"`
	RiskLimits       RiskLimits       `yaml:"risk_limits" json:"risk_limits"`
	PositionSizing   PositionSizing   `yaml:"position_sizing" json:"position_sizing"`
	RiskCalculations RiskCalculations `yaml:"risk_calculations" json:"risk_calculations"`
	StressTesting    StressTesting    `yaml:"stress_testing" json:"stress_testing"`
	RiskAlerts       RiskAlerts       `yaml:"risk_alerts" json:"risk_alerts"`
	KillSwitch       KillSwitch       `yaml:"kill_switch" json:"kill_switch"`
}

type Meta struct {
	ConfigID string `yaml:"config_id" json:"config_id"`
	Version  int    `yaml:"version" json:"version"`
}

// =============================================================================
// Risk Limits
// =============================================================================

type RiskLimits struct {
	Portfolio  PortfolioLimits  `yaml:"portfolio" json:"portfolio"`
	Position   PositionLimits   `yaml:"position" json:"position"`
	Sector     SectorLimits     `yaml:"sector" json:"sector"`
	Market     MarketLimits     `yaml:"market" json:"market"`
	Volatility VolatilityLimits `yaml:"volatility" json:"volatility"`
	Trading    TradingLimits    `yaml:"trading" json:"trading"`
}

type PortfolioLimits struct {
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"` // e.g. 0.15
	MaxLeverage float64 `yaml:"max_leverage" json:"max_leverage"`
	MaxVaR95    float64 `yaml:"max_var_95" json:"max_var_95"`
}

type PositionLimits struct {
	MaxPositionSize  float64 `yaml:"max_position_size" json:"max_position_size"` // fraction of portfolio
	MinPositionSize  float64 `yaml:"min_position_size" json:"min_position_size"`
	MaxConcentration float64 `yaml:"max_concentration" json:"max_concentration"`
}

type SectorLimits struct {
	MaxSectorExposure float64 `yaml:"max_sector_exposure" json:"max_sector_exposure"`
}

type MarketLimits struct {
	MaxCorrelation float64 `yaml:"max_correlation" json:"max_correlation"`
}

type VolatilityLimits struct {
	MaxPortfolioVolatility float64 `yaml:"max_portfolio_volatility" json:"max_portfolio_volatility"`
}

type TradingLimits struct {
	MaxDailyTrades int `yaml:"max_daily_trades" json:"max_daily_trades"`
}

// =============================================================================
// Position Sizing
// =============================================================================

// SizingMethod is the closed set of position sizing policies. Selection
// happens once at config load; downstream code switches exhaustively.
type SizingMethod string

const (
	SizingEqualWeight      SizingMethod = "equal_weight"
	SizingVolatilityTarget SizingMethod = "volatility_target"
	SizingKelly            SizingMethod = "kelly"
	SizingRiskParity       SizingMethod = "risk_parity"
	SizingFixedNotional    SizingMethod = "fixed_notional"
)

// SizingMethods lists every valid sizing method.
var SizingMethods = []SizingMethod{
	SizingEqualWeight,
	SizingVolatilityTarget,
	SizingKelly,
	SizingRiskParity,
	SizingFixedNotional,
}

type PositionSizing struct {
	Method           SizingMethod           `yaml:"method" json:"method"`
	RiskTolerance    float64                `yaml:"risk_tolerance" json:"risk_tolerance"` // fraction of portfolio risked per trade
	TakeProfitRatio  float64                `yaml:"take_profit_ratio" json:"take_profit_ratio"`
	EqualWeight      EqualWeightParams      `yaml:"equal_weight" json:"equal_weight"`
	VolatilityTarget VolatilityTargetParams `yaml:"volatility_target" json:"volatility_target"`
	Kelly            KellyParams            `yaml:"kelly" json:"kelly"`
	RiskParity       RiskParityParams       `yaml:"risk_parity" json:"risk_parity"`
	FixedNotional    FixedNotionalParams    `yaml:"fixed_notional" json:"fixed_notional"`
}

type EqualWeightParams struct {
	TargetPositionCount int `yaml:"target_position_count" json:"target_position_count"`
}

type VolatilityTargetParams struct {
	TargetVolatility float64 `yaml:"target_volatility" json:"target_volatility"` // annualized
}

type KellyParams struct {
	Fraction   float64 `yaml:"fraction" json:"fraction"` // e.g. 0.5 = half-Kelly
	AllowShort bool    `yaml:"allow_short" json:"allow_short"`
}

type RiskParityParams struct {
	SleeveSymbols []string `yaml:"sleeve_symbols" json:"sleeve_symbols"`
}

type FixedNotionalParams struct {
	Notional      float64 `yaml:"notional" json:"notional"`
	ScalingFactor float64 `yaml:"scaling_factor" json:"scaling_factor"`
}

// =============================================================================
// Risk Calculations
// =============================================================================

// VaRMethod is the closed set of VaR estimation methods.
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
	VaRMonteCarlo VaRMethod = "monte_carlo"
)

type RiskCalculations struct {
	UpdateFrequencySecs   int       `yaml:"update_frequency_secs" json:"update_frequency_secs"`
	MinPeriods            int       `yaml:"min_periods" json:"min_periods"`
	CorrelationMinPeriods int       `yaml:"correlation_min_periods" json:"correlation_min_periods"`
	StalenessBoundSecs    int       `yaml:"staleness_bound_secs" json:"staleness_bound_secs"`
	RiskFreeRate          float64   `yaml:"risk_free_rate" json:"risk_free_rate"` // annualized
	VaR                   VaRParams `yaml:"var" json:"var"`
}

type VaRParams struct {
	Method           VaRMethod        `yaml:"method" json:"method"`
	ConfidenceLevels []float64        `yaml:"confidence_levels" json:"confidence_levels"`
	TimeHorizonDays  int              `yaml:"time_horizon_days" json:"time_horizon_days"`
	LookbackDays     int              `yaml:"lookback_days" json:"lookback_days"`
	MonteCarlo       MonteCarloParams `yaml:"monte_carlo" json:"monte_carlo"`
}

type MonteCarloParams struct {
	NumSimulations int   `yaml:"num_simulations" json:"num_simulations"`
	Seed           int64 `yaml:"seed" json:"seed"` // 0 = non-reproducible
}

// =============================================================================
// Stress Testing
// =============================================================================

// ScenarioType is the closed set of shock scenario kinds.
type ScenarioType string

const (
	ScenarioUniform    ScenarioType = "uniform"     // one shock for every position
	ScenarioPerSymbol  ScenarioType = "per_symbol"  // explicit shock per symbol
	ScenarioSector     ScenarioType = "sector"      // shock per sector
	ScenarioAssetClass ScenarioType = "asset_class" // shock per asset class
	ScenarioVolatility ScenarioType = "volatility"  // vol-scaled uniform shock
	ScenarioHistorical ScenarioType = "historical"  // replay realized returns
)

type StressTesting struct {
	Scenarios []ScenarioConfig `yaml:"scenarios" json:"scenarios"`
}

type ScenarioConfig struct {
	Name             string             `yaml:"name" json:"name"`
	Type             ScenarioType       `yaml:"type" json:"type"`
	Shock            float64            `yaml:"shock,omitempty" json:"shock,omitempty"`
	SymbolShocks     map[string]float64 `yaml:"symbol_shocks,omitempty" json:"symbol_shocks,omitempty"`
	SectorShocks     map[string]float64 `yaml:"sector_shocks,omitempty" json:"sector_shocks,omitempty"`
	AssetClassShocks map[string]float64 `yaml:"asset_class_shocks,omitempty" json:"asset_class_shocks,omitempty"`
	VolMultiplier    float64            `yaml:"vol_multiplier,omitempty" json:"vol_multiplier,omitempty"`
	StartDate        string             `yaml:"start_date,omitempty" json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate          string             `yaml:"end_date,omitempty" json:"end_date,omitempty"`
}

// DateRange parses the historical replay window. Validation has
// already guaranteed the format and ordering for historical scenarios.
func (s *ScenarioConfig) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", s.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse("2006-01-02", s.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// =============================================================================
// Alerts
// =============================================================================

// Direction says which side of the boundary is adverse.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

type RiskAlerts struct {
	CooldownSecs int              `yaml:"cooldown_secs" json:"cooldown_secs"`
	Channels     []string         `yaml:"channels" json:"channels"` // email, slack, in_app
	Thresholds   []AlertThreshold `yaml:"thresholds" json:"thresholds"`
}

type AlertThreshold struct {
	Metric    string    `yaml:"metric" json:"metric"`
	Limit     float64   `yaml:"limit" json:"limit"`
	Direction Direction `yaml:"direction" json:"direction"`
}

// =============================================================================
// Kill Switch
// =============================================================================

// KillAction is the closed set of actions run on execution, in order.
type KillAction string

const (
	ActionCloseAllPositions KillAction = "close_all_positions"
	ActionNotifyAdmin       KillAction = "notify_admin"
	ActionLogEvent          KillAction = "log_event"
)

type KillSwitch struct {
	EvaluationIntervalSecs int              `yaml:"evaluation_interval_secs" json:"evaluation_interval_secs"`
	Triggers               []TriggerConfig  `yaml:"triggers" json:"triggers"`
	Actions                []KillAction     `yaml:"actions" json:"actions"`
	Override               OverrideConfig   `yaml:"override" json:"override"`
	CloseRetry             CloseRetryConfig `yaml:"close_retry" json:"close_retry"`
}

type TriggerConfig struct {
	Metric            string  `yaml:"metric" json:"metric"`
	Threshold         float64 `yaml:"threshold" json:"threshold"`
	TimeWindowMinutes int     `yaml:"time_window_minutes" json:"time_window_minutes"`
}

type OverrideConfig struct {
	AuthorizedRoles []string `yaml:"authorized_roles" json:"authorized_roles"`
	ExpirySecs      int      `yaml:"expiry_secs" json:"expiry_secs"`
}

type CloseRetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts" json:"max_attempts"`
	BackoffSecs    int `yaml:"backoff_secs" json:"backoff_secs"`
	MaxBackoffSecs int `yaml:"max_backoff_secs" json:"max_backoff_secs"`
}

// =============================================================================
// Duration accessors (unit normalization)
// =============================================================================

// UpdateFrequency returns the metrics recompute cadence.
func (c *Config) UpdateFrequency() time.Duration {
	return time.Duration(c.RiskCalculations.UpdateFrequencySecs) * time.Second
}

// StalenessBound returns the maximum acceptable feed age.
func (c *Config) StalenessBound() time.Duration {
	return time.Duration(c.RiskCalculations.StalenessBoundSecs) * time.Second
}

// AlertCooldown returns the minimum interval between alerts per metric.
func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.RiskAlerts.CooldownSecs) * time.Second
}

// EvaluationInterval returns the monitor/kill-switch loop cadence.
func (c *Config) EvaluationInterval() time.Duration {
	return time.Duration(c.KillSwitch.EvaluationIntervalSecs) * time.Second
}

// OverrideExpiry returns the override validity window. The source file
// specifies seconds here but minutes for trigger windows.
func (c *Config) OverrideExpiry() time.Duration {
	return time.Duration(c.KillSwitch.Override.ExpirySecs) * time.Second
}

// Window returns the trigger's sustained-breach window.
func (t *TriggerConfig) Window() time.Duration {
	return time.Duration(t.TimeWindowMinutes) * time.Minute
}

// Backoff returns the initial close-all retry backoff.
func (c *CloseRetryConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSecs) * time.Second
}

// MaxBackoff returns the retry backoff cap.
func (c *CloseRetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSecs) * time.Second
}

// =============================================================================
// Metric names
// =============================================================================

// Metric names shared by thresholds, triggers and the snapshot's value
// map. Thresholds and triggers must reference one of these.
const (
	MetricVaR95             = "var_95"
	MetricVaR99             = "var_99"
	MetricCVaR95            = "cvar_95"
	MetricCVaR99            = "cvar_99"
	MetricSharpe            = "sharpe"
	MetricSortino           = "sortino"
	MetricMaxDrawdown       = "max_drawdown"
	MetricPortfolioDrawdown = "portfolio_drawdown"
	MetricBeta              = "beta"
	MetricVolatility        = "volatility"
	MetricLeverage          = "leverage"

	// MetricRiskDataStale is the synthetic metric the engine raises
	// when it has no valid risk view. "Risk unknown" trips the kill
	// switch the same way a breached limit does.
	MetricRiskDataStale = "risk_data_stale"
)

// KnownMetrics is the set of metric names valid in thresholds/triggers.
var KnownMetrics = map[string]bool{
	MetricVaR95:             true,
	MetricVaR99:             true,
	MetricCVaR95:            true,
	MetricCVaR99:            true,
	MetricSharpe:            true,
	MetricSortino:           true,
	MetricMaxDrawdown:       true,
	MetricPortfolioDrawdown: true,
	MetricBeta:              true,
	MetricVolatility:        true,
	MetricLeverage:          true,
	MetricRiskDataStale:     true,
}
