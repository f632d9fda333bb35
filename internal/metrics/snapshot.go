package metrics

import (
	"time"

	"github.com/google/uuid"

	"github.com/wonny/vigil/internal/riskconfig"
)

// Snapshot is the immutable result of one metrics cycle. It is built
// once, published whole, and never mutated afterwards; consumers hold
// it read-only.
type Snapshot struct {
	RunID string    `json:"run_id"`
	AsOf  time.Time `json:"as_of"`

	PortfolioValue float64 `json:"portfolio_value"`
	Leverage       float64 `json:"leverage"`

	VaR95   VaRResult `json:"var_95"`
	VaR99   VaRResult `json:"var_99"`
	Sharpe  float64   `json:"sharpe"`
	Sortino float64   `json:"sortino"`

	// MaxDrawdown is the worst peak-to-trough over the lookback as a
	// negative fraction; CurrentDrawdown is the live distance from the
	// peak as a positive fraction, which is what triggers compare.
	MaxDrawdown     float64 `json:"max_drawdown"`
	CurrentDrawdown float64 `json:"current_drawdown"`

	Beta       float64 `json:"beta"`
	Volatility float64 `json:"volatility"` // annualized

	Correlation *CorrelationMatrix `json:"correlation,omitempty"`

	Method       riskconfig.VaRMethod `json:"method"`
	LookbackDays int                  `json:"lookback_days"`
	HorizonDays  int                  `json:"horizon_days"`
	SampleCount  int                  `json:"sample_count"`

	// DegenerateFields lists metrics substituted with 0 because their
	// input had no variance. The snapshot stays usable downstream.
	DegenerateFields []string `json:"degenerate_fields,omitempty"`
}

// NewSnapshot stamps identity and time; callers fill in the metrics.
func NewSnapshot(asOf time.Time) *Snapshot {
	return &Snapshot{
		RunID: uuid.New().String(),
		AsOf:  asOf,
	}
}

// Degenerate reports whether any metric was zero-substituted.
func (s *Snapshot) Degenerate() bool {
	return len(s.DegenerateFields) > 0
}

// Values flattens the snapshot into the named-metric map that alert
// thresholds and kill-switch triggers evaluate against.
func (s *Snapshot) Values() map[string]float64 {
	return map[string]float64{
		riskconfig.MetricVaR95:             s.VaR95.VaR,
		riskconfig.MetricVaR99:             s.VaR99.VaR,
		riskconfig.MetricCVaR95:            s.VaR95.CVaR,
		riskconfig.MetricCVaR99:            s.VaR99.CVaR,
		riskconfig.MetricSharpe:            s.Sharpe,
		riskconfig.MetricSortino:           s.Sortino,
		riskconfig.MetricMaxDrawdown:       s.MaxDrawdown,
		riskconfig.MetricPortfolioDrawdown: s.CurrentDrawdown,
		riskconfig.MetricBeta:              s.Beta,
		riskconfig.MetricVolatility:        s.Volatility,
		riskconfig.MetricLeverage:          s.Leverage,
	}
}

// Age returns how old the snapshot is at the given instant.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.AsOf)
}
