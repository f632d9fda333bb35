package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/riskconfig"
)

// =============================================================================
// Metrics engine
// =============================================================================

var (
	// ErrInsufficientData means a required return series is shorter
	// than min_periods. The cycle's snapshot must not be published.
	ErrInsufficientData = errors.New("insufficient return history")

	// ErrStalePriceData means the feed is older than the staleness
	// bound, or a held symbol has no return history at all. Computing
	// on top of it would produce a risk view that looks fresh but is
	// not, so the cycle fails instead.
	ErrStalePriceData = errors.New("price data stale")
)

// Engine is a pure calculator. It never touches the network: the
// caller assembles the portfolio and return history first, so Compute
// is safe to call from any goroutine.
type Engine struct {
	cfg *riskconfig.Config
}

func NewEngine(cfg *riskconfig.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Input is everything one metrics cycle needs, captured before the
// computation starts.
type Input struct {
	Portfolio        *contracts.Portfolio
	AssetReturns     map[string][]float64 // per symbol, oldest first
	BenchmarkReturns []float64
	FeedLastUpdate   time.Time
	Now              time.Time
}

// Compute produces one Snapshot or fails the whole cycle. Failure
// never yields a partial snapshot: callers keep serving the previous
// one.
func (e *Engine) Compute(in Input) (*Snapshot, error) {
	rc := e.cfg.RiskCalculations

	if age := in.Now.Sub(in.FeedLastUpdate); age > e.cfg.StalenessBound() {
		return nil, fmt.Errorf("%w: feed age %s exceeds bound %s",
			ErrStalePriceData, age.Round(time.Second), e.cfg.StalenessBound())
	}
	if in.Portfolio == nil {
		return nil, fmt.Errorf("%w: no portfolio", ErrStalePriceData)
	}

	snap := NewSnapshot(in.Now)
	snap.PortfolioValue = in.Portfolio.TotalValue()
	snap.Leverage = in.Portfolio.Leverage()
	snap.Method = rc.VaR.Method
	snap.LookbackDays = rc.VaR.LookbackDays
	snap.HorizonDays = rc.VaR.TimeHorizonDays

	symbols := in.Portfolio.Symbols()
	if len(symbols) == 0 {
		// Flat book: nothing at risk, every metric is zero.
		return snap, nil
	}

	held := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		series, ok := in.AssetReturns[sym]
		if !ok || len(series) == 0 {
			return nil, fmt.Errorf("%w: no return history for held symbol %s", ErrStalePriceData, sym)
		}
		if len(series) < rc.MinPeriods {
			return nil, fmt.Errorf("%w: %s has %d observations, need %d",
				ErrInsufficientData, sym, len(series), rc.MinPeriods)
		}
		held[sym] = series
	}

	weights := in.Portfolio.Weights()
	portfolioReturns := PortfolioReturns(weights, held)
	if len(portfolioReturns) < rc.MinPeriods {
		return nil, fmt.Errorf("%w: portfolio series has %d observations, need %d",
			ErrInsufficientData, len(portfolioReturns), rc.MinPeriods)
	}
	snap.SampleCount = len(portfolioReturns)

	e.computeVaR(snap, portfolioReturns, held, weights)

	sd := StdDev(portfolioReturns)
	if sd == 0 {
		snap.DegenerateFields = append(snap.DegenerateFields,
			riskconfig.MetricSharpe, riskconfig.MetricSortino, riskconfig.MetricVolatility)
	} else {
		snap.Sharpe = SharpeRatio(portfolioReturns, rc.RiskFreeRate)
		snap.Sortino = SortinoRatio(portfolioReturns, rc.RiskFreeRate)
		snap.Volatility = AnnualizedVolatility(portfolioReturns)
	}

	snap.MaxDrawdown = MaxDrawdown(portfolioReturns)
	snap.CurrentDrawdown = CurrentDrawdown(portfolioReturns)
	snap.Beta = Beta(portfolioReturns, in.BenchmarkReturns)

	if matrix := NewCorrelationMatrix(held, rc.CorrelationMinPeriods); len(matrix.Symbols) >= 2 {
		snap.Correlation = matrix
	}

	return snap, nil
}

// computeVaR fills VaR95/VaR99 using the configured method. A Monte
// Carlo run whose covariance matrix cannot be decomposed (typically a
// zero-variance asset) degrades to the historical method and flags the
// snapshot instead of failing the cycle.
func (e *Engine) computeVaR(
	snap *Snapshot,
	portfolioReturns []float64,
	held map[string][]float64,
	weights map[string]float64,
) {
	rc := e.cfg.RiskCalculations
	horizon := rc.VaR.TimeHorizonDays

	switch rc.VaR.Method {
	case riskconfig.VaRParametric:
		sd := StdDev(portfolioReturns)
		snap.VaR95 = ParametricVaR(sd, 0.95, horizon)
		snap.VaR99 = ParametricVaR(sd, 0.99, horizon)
		if sd == 0 {
			snap.DegenerateFields = append(snap.DegenerateFields,
				riskconfig.MetricVaR95, riskconfig.MetricVaR99)
		}

	case riskconfig.VaRMonteCarlo:
		mc := rc.VaR.MonteCarlo
		var95, err95 := MonteCarloVaR(held, weights, 0.95, horizon, mc.NumSimulations, mc.Seed)
		var99, err99 := MonteCarloVaR(held, weights, 0.99, horizon, mc.NumSimulations, mc.Seed)
		if err95 != nil || err99 != nil {
			snap.VaR95 = HistoricalVaR(portfolioReturns, 0.95, horizon)
			snap.VaR99 = HistoricalVaR(portfolioReturns, 0.99, horizon)
			snap.Method = riskconfig.VaRHistorical
			snap.DegenerateFields = append(snap.DegenerateFields,
				riskconfig.MetricVaR95, riskconfig.MetricVaR99)
			return
		}
		snap.VaR95 = var95
		snap.VaR99 = var99

	default:
		snap.VaR95 = HistoricalVaR(portfolioReturns, 0.95, horizon)
		snap.VaR99 = HistoricalVaR(portfolioReturns, 0.99, horizon)
	}
}
