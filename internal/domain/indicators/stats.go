package indicators

import (
	"fmt"
	"math"

	"github.com/sawpanic/tradegate/internal/policy"
)

// MinBetaObservations is the minimum number of paired daily returns for a
// reliable beta estimate.
const MinBetaObservations = 30

// BetaResult holds beta and related statistics of an asset against a benchmark
type BetaResult struct {
	Beta                float64 `json:"beta"`
	Correlation         float64 `json:"correlation"`
	RSquared            float64 `json:"r_squared"`
	AssetVolatility     float64 `json:"asset_volatility"`     // annualised, percent
	BenchmarkVolatility float64 `json:"benchmark_volatility"` // annualised, percent
	DataPoints          int     `json:"data_points"`
}

// CalculateBeta computes beta = cov(asset, benchmark) / var(benchmark) over
// daily returns of two aligned close series. The most recent observations are
// paired when the series differ in length.
func CalculateBeta(asset, benchmark []float64) (*BetaResult, error) {
	a, b := align(Returns(asset), Returns(benchmark))
	if len(a) < MinBetaObservations {
		return nil, policy.Invalid("returns", len(a),
			fmt.Sprintf("need at least %d paired returns for beta", MinBetaObservations))
	}

	cov := covariance(a, b)
	varB := covariance(b, b)
	if varB == 0 {
		return nil, fmt.Errorf("benchmark variance is zero")
	}

	corr := Correlation(a, b)
	return &BetaResult{
		Beta:                cov / varB,
		Correlation:         corr,
		RSquared:            corr * corr,
		AssetVolatility:     StdDev(a) * math.Sqrt(TradingDaysPerYear) * 100,
		BenchmarkVolatility: StdDev(b) * math.Sqrt(TradingDaysPerYear) * 100,
		DataPoints:          len(a),
	}, nil
}

// Correlation returns the Pearson correlation of two equally long series.
// Degenerate inputs return 0.
func Correlation(a, b []float64) float64 {
	a, b = align(a, b)
	if len(a) < 2 {
		return 0
	}
	sa, sb := StdDev(a), StdDev(b)
	if sa == 0 || sb == 0 {
		return 0
	}
	return covariance(a, b) / (sa * sb)
}

// ReturnCorrelation correlates the daily returns of two close series
func ReturnCorrelation(closesA, closesB []float64) float64 {
	return Correlation(Returns(closesA), Returns(closesB))
}

func covariance(a, b []float64) float64 {
	if len(a) < 2 {
		return 0
	}
	ma, mb := Mean(a), Mean(b)
	sum := 0.0
	for i := range a {
		sum += (a[i] - ma) * (b[i] - mb)
	}
	return sum / float64(len(a)-1)
}

func align(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}
