package metrics

import (
	"fmt"
	"math"
)

// =============================================================================
// Statistical primitives
// =============================================================================

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1 denominator).
// Fewer than two observations yield 0.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// DownsideDeviation returns the sample deviation of returns below the
// target, with the full sample count in the denominator.
func DownsideDeviation(values []float64, target float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		if v < target {
			diff := v - target
			sumSq += diff * diff
		}
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// Covariance returns the sample covariance of two equal-length series.
func Covariance(a, b []float64) float64 {
	n := len(a)
	if n < 2 || len(b) != n {
		return 0
	}
	meanA := Mean(a)
	meanB := Mean(b)
	var sum float64
	for i := 0; i < n; i++ {
		sum += (a[i] - meanA) * (b[i] - meanB)
	}
	return sum / float64(n-1)
}

// Correlation returns the Pearson correlation coefficient, 0 when
// either series is constant.
func Correlation(a, b []float64) float64 {
	sa := StdDev(a)
	sb := StdDev(b)
	if sa == 0 || sb == 0 {
		return 0
	}
	return Covariance(a, b) / (sa * sb)
}

// Percentile returns the linearly interpolated percentile p (0..100)
// of an ascending-sorted slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	idx := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// =============================================================================
// Normal distribution
// =============================================================================

// NormInv is the standard normal quantile function using the
// Beasley-Springer-Moro approximation. Common confidence levels take a
// fast path with the conventional rounded z-scores.
func NormInv(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}

	switch p {
	case 0.99:
		return 2.326
	case 0.975:
		return 1.96
	case 0.95:
		return 1.645
	case 0.90:
		return 1.282
	}

	a := []float64{
		-3.969683028665376e+01,
		2.209460984245205e+02,
		-2.759285104469687e+02,
		1.383577518672690e+02,
		-3.066479806614716e+01,
		2.506628277459239e+00,
	}
	b := []float64{
		-5.447609879822406e+01,
		1.615858368580409e+02,
		-1.556989798598866e+02,
		6.680131188771972e+01,
		-1.328068155288572e+01,
	}
	c := []float64{
		-7.784894002430293e-03,
		-3.223964580411365e-01,
		-2.400758277161838e+00,
		-2.549732539343734e+00,
		4.374664141464968e+00,
		2.938163982698783e+00,
	}
	d := []float64{
		7.784695709041462e-03,
		3.224671290700398e-01,
		2.445134137142996e+00,
		3.754408661907416e+00,
	}

	pLow := 0.02425
	pHigh := 1 - pLow

	var q, r float64

	if p < pLow {
		q = math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	} else if p <= pHigh {
		q = p - 0.5
		r = q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}

	q = math.Sqrt(-2 * math.Log(1-p))
	return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
		((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
}

// NormPDF is the standard normal density.
func NormPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

// =============================================================================
// Linear algebra
// =============================================================================

// CholeskyDecompose returns the lower-triangular L with L*Lᵀ = m.
// The input must be symmetric positive definite; a non-positive pivot
// fails the decomposition.
func CholeskyDecompose(m [][]float64) ([][]float64, error) {
	n := len(m)
	lower := make([][]float64, n)
	for i := range lower {
		lower[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		if len(m[i]) != n {
			return nil, fmt.Errorf("matrix not square: row %d has %d columns, want %d", i, len(m[i]), n)
		}
		for j := 0; j <= i; j++ {
			var sum float64
			for k := 0; k < j; k++ {
				sum += lower[i][k] * lower[j][k]
			}
			if i == j {
				pivot := m[i][i] - sum
				if pivot <= 0 {
					return nil, fmt.Errorf("matrix not positive definite at pivot %d", i)
				}
				lower[i][j] = math.Sqrt(pivot)
			} else {
				lower[i][j] = (m[i][j] - sum) / lower[j][j]
			}
		}
	}

	return lower, nil
}
