package metrics

import (
	"math"
	"testing"
)

func TestSharpeRatioZeroVariance(t *testing.T) {
	flat := []float64{0.001, 0.001, 0.001, 0.001}
	if got := SharpeRatio(flat, 0.02); got != 0 {
		t.Errorf("Sharpe of constant series = %v, want 0", got)
	}
	if got := SortinoRatio(flat, 0); got != 0 {
		t.Errorf("Sortino of all-gain series = %v, want 0", got)
	}
}

func TestSharpeRatioAnnualization(t *testing.T) {
	returns := syntheticReturns(252, 0.01, 3)
	mean := Mean(returns)
	sd := StdDev(returns)

	want := (mean - 0.02/252) / sd * math.Sqrt(252)
	if got := SharpeRatio(returns, 0.02); !almostEqual(got, want, 1e-12) {
		t.Errorf("Sharpe = %v, want %v", got, want)
	}
}

func TestSortinoExceedsSharpeForSkewedSeries(t *testing.T) {
	// Mostly small gains with rare losses: downside deviation is below
	// total deviation, so Sortino must come out higher.
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = 0.005
	}
	returns[10] = -0.02
	returns[60] = -0.03

	sharpe := SharpeRatio(returns, 0)
	sortino := SortinoRatio(returns, 0)
	if sortino <= sharpe {
		t.Errorf("Sortino %v <= Sharpe %v for positively skewed series", sortino, sharpe)
	}
}

func TestMaxDrawdownKnownPath(t *testing.T) {
	// Up 10%, down 20%, up 5%: worst drawdown is the -20% leg.
	returns := []float64{0.10, -0.20, 0.05}
	got := MaxDrawdown(returns)
	if !almostEqual(got, -0.20, 1e-12) {
		t.Errorf("MaxDrawdown = %v, want -0.20", got)
	}

	if got := MaxDrawdown([]float64{0.01, 0.02, 0.03}); got != 0 {
		t.Errorf("MaxDrawdown of rising curve = %v, want 0", got)
	}
}

func TestCurrentDrawdownRecovers(t *testing.T) {
	drop := []float64{0.10, -0.20}
	got := CurrentDrawdown(drop)
	if !almostEqual(got, 0.20, 1e-12) {
		t.Errorf("CurrentDrawdown after drop = %v, want 0.20", got)
	}

	// Recovering past the old peak resets the drawdown to zero.
	recovered := []float64{0.10, -0.20, 0.30}
	if got := CurrentDrawdown(recovered); got != 0 {
		t.Errorf("CurrentDrawdown after recovery = %v, want 0", got)
	}
}

func TestBetaOfScaledBenchmark(t *testing.T) {
	bench := syntheticReturns(252, 0.01, 9)
	portfolio := make([]float64, len(bench))
	for i, v := range bench {
		portfolio[i] = 2 * v
	}

	if got := Beta(portfolio, bench); !almostEqual(got, 2, 1e-9) {
		t.Errorf("Beta = %v, want 2", got)
	}
	if got := Beta(bench, bench); !almostEqual(got, 1, 1e-9) {
		t.Errorf("self Beta = %v, want 1", got)
	}
	if got := Beta(portfolio, nil); got != 0 {
		t.Errorf("Beta against empty benchmark = %v, want 0", got)
	}
}

func TestCorrelationMatrixShape(t *testing.T) {
	series := map[string][]float64{
		"AAPL": syntheticReturns(120, 0.015, 21),
		"MSFT": syntheticReturns(120, 0.012, 22),
		"TLT":  syntheticReturns(120, 0.007, 23),
	}

	m := NewCorrelationMatrix(series, 100)
	if len(m.Symbols) != 3 {
		t.Fatalf("symbols = %v, want 3", m.Symbols)
	}
	for i := range m.Symbols {
		if m.Values[i][i] != 1 {
			t.Errorf("diagonal[%d] = %v, want 1", i, m.Values[i][i])
		}
		for j := range m.Symbols {
			if m.Values[i][j] != m.Values[j][i] {
				t.Errorf("matrix not symmetric at (%d,%d)", i, j)
			}
			if m.Values[i][j] < -1 || m.Values[i][j] > 1 {
				t.Errorf("correlation out of range: %v", m.Values[i][j])
			}
		}
	}
}

func TestCorrelationMatrixExcludesShortSeries(t *testing.T) {
	series := map[string][]float64{
		"AAPL": syntheticReturns(120, 0.015, 21),
		"IPO":  syntheticReturns(30, 0.02, 24), // too young
	}

	m := NewCorrelationMatrix(series, 100)
	if len(m.Symbols) != 1 || m.Symbols[0] != "AAPL" {
		t.Errorf("symbols = %v, want [AAPL]", m.Symbols)
	}

	if got := m.At("AAPL", "IPO"); got != 0 {
		t.Errorf("At with excluded symbol = %v, want 0", got)
	}
}
