package metrics

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// =============================================================================
// VaR / CVaR
// =============================================================================

// VaRResult carries VaR and CVaR at one confidence level over one
// horizon. Losses are positive: VaR 0.05 means a 5% loss at the given
// confidence.
type VaRResult struct {
	Confidence  float64 `json:"confidence"`
	HorizonDays int     `json:"horizon_days"`
	VaR         float64 `json:"var"`
	CVaR        float64 `json:"cvar"`
}

// HistoricalVaR computes VaR from a realized return series by sorting
// and reading the (1-confidence) percentile. Multi-day horizons scale
// the one-period figure by sqrt(h) under the i.i.d. assumption.
func HistoricalVaR(returns []float64, confidence float64, horizonDays int) VaRResult {
	res := VaRResult{Confidence: confidence, HorizonDays: horizonDays}
	if len(returns) == 0 {
		return res
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor((1.0 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	if sorted[idx] < 0 {
		res.VaR = -sorted[idx]
	}
	res.CVaR = tailLoss(sorted, idx)

	scale := horizonScale(horizonDays)
	res.VaR *= scale
	res.CVaR *= scale
	return res
}

// tailLoss averages the sorted returns at or below the VaR index and
// reports the loss as a positive number.
func tailLoss(sorted []float64, varIdx int) float64 {
	if len(sorted) == 0 || varIdx < 0 {
		return 0
	}

	var sum float64
	count := 0
	for i := 0; i <= varIdx && i < len(sorted); i++ {
		sum += sorted[i]
		count++
	}
	if count == 0 {
		return 0
	}

	avg := sum / float64(count)
	if avg < 0 {
		return -avg
	}
	return 0
}

// ParametricVaR computes VaR under a normality assumption. The mean is
// deliberately dropped: over daily horizons it is dominated by the
// volatility term, and dropping it keeps VaR conservative. CVaR uses
// the closed-form normal expected shortfall sigma*phi(z)/(1-c).
func ParametricVaR(stdDev, confidence float64, horizonDays int) VaRResult {
	res := VaRResult{Confidence: confidence, HorizonDays: horizonDays}
	if stdDev <= 0 {
		return res
	}

	z := NormInv(confidence)
	scale := horizonScale(horizonDays)

	res.VaR = z * stdDev * scale
	res.CVaR = stdDev * NormPDF(z) / (1 - confidence) * scale
	return res
}

func horizonScale(horizonDays int) float64 {
	if horizonDays <= 1 {
		return 1
	}
	return math.Sqrt(float64(horizonDays))
}

// =============================================================================
// Monte Carlo VaR
// =============================================================================

// MonteCarloVaR simulates correlated asset returns from the estimated
// covariance matrix and evaluates the empirical loss percentile of the
// weighted portfolio return. A non-zero seed makes runs reproducible.
//
// Symbols are processed in sorted order so that identical inputs and
// seed always consume the random stream identically.
func MonteCarloVaR(
	assetReturns map[string][]float64,
	weights map[string]float64,
	confidence float64,
	horizonDays int,
	numSimulations int,
	seed int64,
) (VaRResult, error) {
	res := VaRResult{Confidence: confidence, HorizonDays: horizonDays}
	if len(assetReturns) == 0 || len(weights) == 0 {
		return res, fmt.Errorf("empty asset returns or weights")
	}
	if numSimulations <= 0 {
		return res, fmt.Errorf("num_simulations must be > 0, got %d", numSimulations)
	}

	symbols := make([]string, 0, len(weights))
	for sym := range weights {
		if _, ok := assetReturns[sym]; !ok {
			return res, fmt.Errorf("no return history for %s", sym)
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	aligned := alignSeries(symbols, assetReturns)
	n := len(symbols)

	means := make([]float64, n)
	for i, sym := range symbols {
		means[i] = Mean(aligned[sym])
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
		for j := range cov[i] {
			cov[i][j] = Covariance(aligned[symbols[i]], aligned[symbols[j]])
		}
	}

	lower, err := CholeskyDecompose(cov)
	if err != nil {
		return res, fmt.Errorf("covariance decomposition: %w", err)
	}

	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewSource(seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	sqrtT := horizonScale(horizonDays)
	simulated := make([]float64, numSimulations)
	z := make([]float64, n)

	for s := 0; s < numSimulations; s++ {
		for i := range z {
			z[i] = rng.NormFloat64()
		}

		var portfolioReturn float64
		for i, sym := range symbols {
			var shock float64
			for k := 0; k <= i; k++ {
				shock += lower[i][k] * z[k]
			}
			assetReturn := means[i]*float64(horizonDays) + shock*sqrtT
			portfolioReturn += weights[sym] * assetReturn
		}
		simulated[s] = portfolioReturn
	}

	// The horizon is already baked into each simulated path.
	mc := HistoricalVaR(simulated, confidence, 1)
	res.VaR = mc.VaR
	res.CVaR = mc.CVaR
	return res, nil
}

// alignSeries trims every series to the common length, keeping the
// most recent observations. Series arrive oldest first.
func alignSeries(symbols []string, assetReturns map[string][]float64) map[string][]float64 {
	minLen := -1
	for _, sym := range symbols {
		if n := len(assetReturns[sym]); minLen == -1 || n < minLen {
			minLen = n
		}
	}

	out := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		series := assetReturns[sym]
		out[sym] = series[len(series)-minLen:]
	}
	return out
}

// PortfolioReturns collapses per-symbol return series into a single
// weighted portfolio return series over the common tail.
func PortfolioReturns(weights map[string]float64, assetReturns map[string][]float64) []float64 {
	symbols := make([]string, 0, len(weights))
	for sym := range weights {
		if _, ok := assetReturns[sym]; ok {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return nil
	}
	sort.Strings(symbols)

	aligned := alignSeries(symbols, assetReturns)
	minLen := len(aligned[symbols[0]])
	if minLen == 0 {
		return nil
	}

	out := make([]float64, minLen)
	for i := 0; i < minLen; i++ {
		var dayReturn float64
		for _, sym := range symbols {
			dayReturn += weights[sym] * aligned[sym][i]
		}
		out[i] = dayReturn
	}
	return out
}
