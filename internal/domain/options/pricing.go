package options

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Right is the option right
type Right string

const (
	Call Right = "call"
	Put  Right = "put"
)

// ContractMultiplier is the number of shares per listed equity option contract
const ContractMultiplier = 100

// DefaultRiskFreeRate is the annual risk-free rate used for theoretical prices
const DefaultRiskFreeRate = 0.04

// Params describes a single Black-Scholes evaluation
type Params struct {
	Right  Right
	Spot   float64
	Strike float64
	Years  float64 // time to expiration
	Vol    float64 // annualised, fractional (0.25 = 25%)
	Rate   float64
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func (p Params) d1d2() (float64, float64) {
	sqrtT := math.Sqrt(p.Years)
	d1 := (math.Log(p.Spot/p.Strike) + (p.Rate+0.5*p.Vol*p.Vol)*p.Years) / (p.Vol * sqrtT)
	return d1, d1 - p.Vol*sqrtT
}

func (p Params) degenerate() bool {
	return p.Years <= 0 || p.Vol <= 0 || p.Spot <= 0 || p.Strike <= 0
}

func (p Params) intrinsic() float64 {
	if p.Right == Call {
		return math.Max(p.Spot-p.Strike, 0)
	}
	return math.Max(p.Strike-p.Spot, 0)
}

// Price returns the Black-Scholes theoretical price per share
func Price(p Params) float64 {
	if p.degenerate() {
		return p.intrinsic()
	}
	d1, d2 := p.d1d2()
	disc := math.Exp(-p.Rate * p.Years)
	if p.Right == Call {
		return p.Spot*normCDF(d1) - p.Strike*disc*normCDF(d2)
	}
	return p.Strike*disc*normCDF(-d2) - p.Spot*normCDF(-d1)
}

// Delta returns the Black-Scholes delta per share (calls 0..1, puts -1..0)
func Delta(p Params) float64 {
	if p.degenerate() {
		switch {
		case p.Right == Call && p.Spot > p.Strike:
			return 1
		case p.Right == Put && p.Spot < p.Strike:
			return -1
		}
		return 0
	}
	d1, _ := p.d1d2()
	if p.Right == Call {
		return normCDF(d1)
	}
	return normCDF(d1) - 1
}

// StrikeIncrement returns the listed strike spacing for an underlying price
func StrikeIncrement(spot float64) float64 {
	switch {
	case spot < 50:
		return 1
	case spot < 200:
		return 2.5
	default:
		return 5
	}
}

// RoundStrike snaps a strike to the nearest listed increment
func RoundStrike(strike, increment float64) float64 {
	if increment <= 0 {
		return strike
	}
	inc := decimal.NewFromFloat(increment)
	steps := decimal.NewFromFloat(strike).Div(inc).Round(0)
	out, _ := steps.Mul(inc).Float64()
	if out <= 0 {
		return increment
	}
	return out
}

// StrikeForDelta solves for the strike whose absolute delta matches target,
// then rounds it to the listed increment.
func StrikeForDelta(right Right, spot, target, years, vol, rate float64) float64 {
	target = math.Abs(target)
	lo, hi := spot*0.2, spot*3
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		d := math.Abs(Delta(Params{Right: right, Spot: spot, Strike: mid, Years: years, Vol: vol, Rate: rate}))
		// call delta falls as strike rises; put |delta| rises with strike
		if (right == Call) == (d > target) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return RoundStrike((lo+hi)/2, StrikeIncrement(spot))
}

// YearsBetween converts a calendar span to a year fraction
func YearsBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / 365
}

// ThirdFriday returns the standard monthly expiration for a month.
// Month values outside 1..12 roll over into adjacent years.
func ThirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

// ExpirationFor returns the monthly expiration nearest to asOf + dte days,
// never earlier than asOf.
func ExpirationFor(asOf time.Time, dte int) time.Time {
	target := truncateDay(asOf).AddDate(0, 0, dte)
	best := time.Time{}
	bestGap := math.MaxFloat64
	for m := -1; m <= 1; m++ {
		exp := ThirdFriday(target.Year(), target.Month()+time.Month(m))
		if !exp.After(truncateDay(asOf)) {
			continue
		}
		gap := math.Abs(exp.Sub(target).Hours())
		if gap < bestGap {
			best, bestGap = exp, gap
		}
	}
	return best
}

// DaysUntil returns whole calendar days from asOf to t
func DaysUntil(asOf, t time.Time) int {
	return int(math.Round(truncateDay(t).Sub(truncateDay(asOf)).Hours() / 24))
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
