package metrics

import (
	"math"
	"sort"
)

// tradingDaysPerYear is the annualization base for daily series.
const tradingDaysPerYear = 252

// =============================================================================
// Performance ratios
// =============================================================================

// SharpeRatio returns the annualized Sharpe ratio of a daily return
// series. riskFreeRate is annualized. A zero-variance series yields 0,
// never Inf or NaN.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	sd := StdDev(returns)
	if sd == 0 {
		return 0
	}
	excess := Mean(returns) - riskFreeRate/tradingDaysPerYear
	return excess / sd * math.Sqrt(tradingDaysPerYear)
}

// SortinoRatio is Sharpe with downside deviation in the denominator.
// The minimum acceptable return is the daily risk-free rate.
func SortinoRatio(returns []float64, riskFreeRate float64) float64 {
	dailyRF := riskFreeRate / tradingDaysPerYear
	dd := DownsideDeviation(returns, dailyRF)
	if dd == 0 {
		return 0
	}
	excess := Mean(returns) - dailyRF
	return excess / dd * math.Sqrt(tradingDaysPerYear)
}

// AnnualizedVolatility scales the daily standard deviation by sqrt(252).
func AnnualizedVolatility(returns []float64) float64 {
	return StdDev(returns) * math.Sqrt(tradingDaysPerYear)
}

// =============================================================================
// Drawdown
// =============================================================================

// MaxDrawdown walks the cumulative return curve and returns the worst
// peak-to-trough move as a negative fraction. -0.12 means a 12% fall
// from the running peak.
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	equity := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		dd := equity/peak - 1
		if dd < worst {
			worst = dd
		}
	}
	return worst
}

// CurrentDrawdown returns the distance from the running peak at the
// end of the series, as a positive fraction. 0 means at the peak.
func CurrentDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	equity := 1.0
	peak := 1.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
	}
	if peak == 0 {
		return 0
	}
	return 1 - equity/peak
}

// =============================================================================
// Beta and correlation
// =============================================================================

// Beta returns cov(portfolio, benchmark)/var(benchmark) over the
// common tail of the two series, 0 when the benchmark is constant.
func Beta(portfolioReturns, benchmarkReturns []float64) float64 {
	n := len(portfolioReturns)
	if len(benchmarkReturns) < n {
		n = len(benchmarkReturns)
	}
	if n < 2 {
		return 0
	}

	p := portfolioReturns[len(portfolioReturns)-n:]
	b := benchmarkReturns[len(benchmarkReturns)-n:]

	benchVar := Covariance(b, b)
	if benchVar == 0 {
		return 0
	}
	return Covariance(p, b) / benchVar
}

// CorrelationMatrix is a symmetric pairwise Pearson correlation matrix
// with unit diagonal, rows and columns in Symbols order.
type CorrelationMatrix struct {
	Symbols []string    `json:"symbols"`
	Values  [][]float64 `json:"values"`
}

// At returns the correlation between two symbols, 0 when either is not
// in the matrix.
func (m *CorrelationMatrix) At(a, b string) float64 {
	ia, ib := -1, -1
	for i, sym := range m.Symbols {
		if sym == a {
			ia = i
		}
		if sym == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return 0
	}
	return m.Values[ia][ib]
}

// NewCorrelationMatrix builds the matrix over every symbol whose series
// has at least minPeriods observations. Shorter series are excluded;
// callers decide whether exclusion is acceptable for their use.
func NewCorrelationMatrix(assetReturns map[string][]float64, minPeriods int) *CorrelationMatrix {
	symbols := make([]string, 0, len(assetReturns))
	for sym, series := range assetReturns {
		if len(series) >= minPeriods {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	aligned := alignSeries(symbols, assetReturns)

	n := len(symbols)
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		values[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := Correlation(aligned[symbols[i]], aligned[symbols[j]])
			values[i][j] = c
			values[j][i] = c
		}
	}

	return &CorrelationMatrix{Symbols: symbols, Values: values}
}
