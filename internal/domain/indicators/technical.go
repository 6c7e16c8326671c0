package indicators

import (
	"math"
)

// TradingDaysPerYear is used to annualise daily volatility
const TradingDaysPerYear = 252

// RSIResult represents the result of RSI calculation
type RSIResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateRSI calculates the Relative Strength Index (RSI) for given price data
func CalculateRSI(prices []float64, period int) RSIResult {
	if period <= 0 || len(prices) < period+1 {
		return RSIResult{
			Value:     50.0, // Neutral RSI when insufficient data
			Period:    period,
			IsValid:   false,
			DataCount: len(prices),
		}
	}

	gains := make([]float64, len(prices)-1)
	losses := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	// Initial averages (SMA for first period)
	avgGain := 0.0
	avgLoss := 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder's smoothing for subsequent periods
	alpha := 1.0 / float64(period)
	for i := period; i < len(gains); i++ {
		avgGain = avgGain*(1-alpha) + gains[i]*alpha
		avgLoss = avgLoss*(1-alpha) + losses[i]*alpha
	}

	if avgLoss == 0 {
		value := 100.0
		if avgGain == 0 {
			value = 50.0 // flat series
		}
		return RSIResult{Value: value, Period: period, IsValid: true, DataCount: len(prices)}
	}

	rs := avgGain / avgLoss
	return RSIResult{
		Value:     100.0 - (100.0 / (1.0 + rs)),
		Period:    period,
		IsValid:   true,
		DataCount: len(prices),
	}
}

// SMA returns the simple moving average of the last n values. ok is false when
// there are fewer than n values.
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// Last returns the final element of a series, or 0 for an empty series
func Last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// PeriodReturn returns the percentage return over the last n periods
func PeriodReturn(closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < n+1 {
		return 0, false
	}
	start := closes[len(closes)-1-n]
	if start <= 0 {
		return 0, false
	}
	return (closes[len(closes)-1]/start - 1) * 100, true
}

// Returns converts a price series to simple fractional period returns
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// Mean returns the arithmetic mean
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1 denominator)
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// ZScore returns how many standard deviations the latest close sits from its
// n-period rolling mean.
func ZScore(closes []float64, n int) (float64, bool) {
	if n < 2 || len(closes) < n {
		return 0, false
	}
	window := closes[len(closes)-n:]
	sd := StdDev(window)
	if sd == 0 {
		return 0, true
	}
	return (Last(closes) - Mean(window)) / sd, true
}

// DailyVolatility returns the stdev of the last n daily returns, in percent
func DailyVolatility(closes []float64, n int) (float64, bool) {
	if n < 2 || len(closes) < n+1 {
		return 0, false
	}
	rets := Returns(closes[len(closes)-n-1:])
	return StdDev(rets) * 100, true
}

// RealizedVolatility returns annualised realised volatility over n periods, in percent
func RealizedVolatility(closes []float64, n int) (float64, bool) {
	daily, ok := DailyVolatility(closes, n)
	if !ok {
		return 0, false
	}
	return daily * math.Sqrt(TradingDaysPerYear), true
}
