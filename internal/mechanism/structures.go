package mechanism

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/tradegate/internal/domain/options"
)

// builder prices candidate structures at the instrument's implied volatility
type builder struct {
	underlying string
	spot       float64
	vol        float64 // fraction
	rate       float64
	asOf       time.Time
	inc        float64
	stress     float64 // sigmas for undefined-risk loss estimates
}

func newBuilder(underlying string, spot, ivPct, rate float64, asOf time.Time, stressSigma float64) builder {
	return builder{
		underlying: underlying,
		spot:       spot,
		vol:        ivPct / 100,
		rate:       rate,
		asOf:       asOf,
		inc:        options.StrikeIncrement(spot),
		stress:     stressSigma,
	}
}

func (b builder) years(exp time.Time) float64 { return options.YearsBetween(b.asOf, exp) }

func (b builder) atm() float64 { return options.RoundStrike(b.spot, b.inc) }

func (b builder) expiration(dte int) time.Time { return options.ExpirationFor(b.asOf, dte) }

// expirationAtLeast returns the first monthly expiration at least minDays out
func (b builder) expirationAtLeast(minDays int) time.Time {
	y, m, _ := b.asOf.Date()
	for i := 0; i < 24; i++ {
		exp := options.ThirdFriday(y, m+time.Month(i))
		if options.DaysUntil(b.asOf, exp) >= minDays {
			return exp
		}
	}
	return options.ThirdFriday(y, m+24)
}

func (b builder) strikeFor(right options.Right, delta float64, exp time.Time) float64 {
	return options.StrikeForDelta(right, b.spot, delta, b.years(exp), b.vol, b.rate)
}

func (b builder) params(right options.Right, strike float64, exp time.Time) options.Params {
	return options.Params{Right: right, Spot: b.spot, Strike: strike, Years: b.years(exp), Vol: b.vol, Rate: b.rate}
}

func (b builder) leg(action Action, right options.Right, strike float64, exp time.Time, deltaTarget float64) Leg {
	p := b.params(right, strike, exp)
	return Leg{
		Action:         action,
		Right:          right,
		Strike:         strike,
		DeltaTarget:    deltaTarget,
		ExpirationDays: options.DaysUntil(b.asOf, exp),
		Expiration:     exp,
		Ratio:          1,
		TheoPrice:      options.Price(p),
		Delta:          options.Delta(p),
	}
}

// assemble computes net premium and net delta from the legs
func (b builder) assemble(family Family, dir Direction, legs ...Leg) *TradeStructure {
	s := &TradeStructure{Family: family, Underlying: b.underlying, Legs: legs, Direction: dir}
	for _, l := range legs {
		sign := l.Action.sign() * float64(l.Ratio)
		s.NetPremium += sign * l.TheoPrice
		s.NetDelta += sign * l.Delta * options.ContractMultiplier
	}
	s.NetPremium = round4(s.NetPremium)
	s.NetDelta = round4(s.NetDelta)
	return s
}

// stressMove is the underlying move of b.stress standard deviations to exp
func (b builder) stressMove(exp time.Time) float64 {
	return b.spot * b.vol * math.Sqrt(math.Max(b.years(exp), 1.0/365)) * b.stress
}

// debitSpread builds a bull call or bear put vertical
func (b builder) debitSpread(dir Direction, longDelta, shortDelta float64, dte int) (*TradeStructure, error) {
	exp := b.expiration(dte)
	right, family := options.Call, BullCallSpread
	if dir == Bearish {
		right, family = options.Put, BearPutSpread
	}

	longK := b.strikeFor(right, longDelta, exp)
	shortK := b.strikeFor(right, shortDelta, exp)
	if right == options.Call && shortK <= longK {
		shortK = longK + b.inc
	}
	if right == options.Put && shortK >= longK {
		shortK = longK - b.inc
	}

	s := b.assemble(family, dir,
		b.leg(Buy, right, longK, exp, longDelta),
		b.leg(Sell, right, shortK, exp, shortDelta),
	)
	width := math.Abs(longK - shortK)
	if s.NetPremium <= 0 || s.NetPremium >= width {
		return nil, fmt.Errorf("degenerate %s: debit %.2f for width %.2f", family, s.NetPremium, width)
	}
	s.MaxLoss = round2(s.NetPremium * options.ContractMultiplier)
	s.MaxProfit = round2((width - s.NetPremium) * options.ContractMultiplier)
	if right == options.Call {
		s.Breakevens = []float64{round2(longK + s.NetPremium)}
	} else {
		s.Breakevens = []float64{round2(longK - s.NetPremium)}
	}
	return s, nil
}

// ironCondor sells both wings at shortDelta with long wings wingSteps increments out
func (b builder) ironCondor(shortDelta float64, wingSteps, dte int) (*TradeStructure, error) {
	exp := b.expiration(dte)
	putK := b.strikeFor(options.Put, shortDelta, exp)
	callK := b.strikeFor(options.Call, shortDelta, exp)
	if callK <= putK {
		return nil, fmt.Errorf("iron condor short strikes cross: put %.2f call %.2f", putK, callK)
	}
	width := b.inc * float64(wingSteps)

	s := b.assemble(IronCondor, NeutralDirection,
		b.leg(Buy, options.Put, putK-width, exp, 0),
		b.leg(Sell, options.Put, putK, exp, shortDelta),
		b.leg(Sell, options.Call, callK, exp, shortDelta),
		b.leg(Buy, options.Call, callK+width, exp, 0),
	)
	credit := -s.NetPremium
	if credit <= 0 || credit >= width {
		return nil, fmt.Errorf("degenerate iron condor: credit %.2f for width %.2f", credit, width)
	}
	s.MaxProfit = round2(credit * options.ContractMultiplier)
	s.MaxLoss = round2((width - credit) * options.ContractMultiplier)
	s.Breakevens = []float64{round2(putK - credit), round2(callK + credit)}
	return s, nil
}

// shortStrangle sells both wings naked. Max loss is a stress estimate.
func (b builder) shortStrangle(shortDelta float64, dte int) (*TradeStructure, error) {
	exp := b.expiration(dte)
	putK := b.strikeFor(options.Put, shortDelta, exp)
	callK := b.strikeFor(options.Call, shortDelta, exp)

	s := b.assemble(ShortStrangle, NeutralDirection,
		b.leg(Sell, options.Put, putK, exp, shortDelta),
		b.leg(Sell, options.Call, callK, exp, shortDelta),
	)
	credit := -s.NetPremium
	if credit <= 0 {
		return nil, fmt.Errorf("degenerate short strangle: credit %.2f", credit)
	}
	move := b.stressMove(exp)
	worst := math.Max(math.Max(putK-(b.spot-move), 0), math.Max((b.spot+move)-callK, 0))
	s.UndefinedRisk = true
	s.MaxProfit = round2(credit * options.ContractMultiplier)
	s.MaxLoss = round2(math.Max(worst-credit, credit) * options.ContractMultiplier)
	s.Breakevens = []float64{round2(putK - credit), round2(callK + credit)}
	return s, nil
}

// calendar sells the front month and buys the back month at one strike.
// Max profit and breakevens are scanned at front expiration.
func (b builder) calendar(strike float64, frontDTE, backDTE int) (*TradeStructure, error) {
	front := b.expiration(frontDTE)
	back := b.expiration(backDTE)
	if !back.After(front) {
		back = options.ThirdFriday(front.Year(), front.Month()+1)
	}
	right := options.Call
	if strike < b.spot {
		right = options.Put
	}
	dir := NeutralDirection
	switch {
	case strike > b.spot+b.inc/2:
		dir = Bullish
	case strike < b.spot-b.inc/2:
		dir = Bearish
	}

	s := b.assemble(CalendarSpread, dir,
		b.leg(Sell, right, strike, front, 0),
		b.leg(Buy, right, strike, back, 0),
	)
	debit := s.NetPremium
	if debit <= 0 {
		return nil, fmt.Errorf("degenerate calendar: debit %.2f", debit)
	}
	s.MaxLoss = round2(debit * options.ContractMultiplier)

	remaining := options.YearsBetween(front, back)
	const steps = 240
	lo, hi := b.spot*0.7, b.spot*1.3
	best := math.Inf(-1)
	prev := math.NaN()
	prevS := 0.0
	for i := 0; i <= steps; i++ {
		px := lo + (hi-lo)*float64(i)/steps
		backVal := options.Price(options.Params{Right: right, Spot: px, Strike: strike, Years: remaining, Vol: b.vol, Rate: b.rate})
		frontVal := intrinsic(right, px, strike)
		pnl := backVal - frontVal - debit
		if pnl > best {
			best = pnl
		}
		if !math.IsNaN(prev) && (prev < 0) != (pnl < 0) {
			// linear interpolation between grid points
			x := prevS + (px-prevS)*(-prev)/(pnl-prev)
			s.Breakevens = append(s.Breakevens, round2(x))
		}
		prev, prevS = pnl, px
	}
	s.MaxProfit = round2(math.Max(best, 0) * options.ContractMultiplier)
	return s, nil
}

// straddle buys the at-the-money call and put expiring at least minDays out
func (b builder) straddle(minDays int) (*TradeStructure, error) {
	exp := b.expirationAtLeast(minDays)
	k := b.atm()
	s := b.assemble(LongStraddle, NeutralDirection,
		b.leg(Buy, options.Call, k, exp, 0.5),
		b.leg(Buy, options.Put, k, exp, 0.5),
	)
	if s.NetPremium <= 0 {
		return nil, fmt.Errorf("degenerate straddle: debit %.2f", s.NetPremium)
	}
	s.MaxLoss = round2(s.NetPremium * options.ContractMultiplier)
	s.MaxProfitUnlimited = true
	s.Breakevens = []float64{round2(k - s.NetPremium), round2(k + s.NetPremium)}
	return s, nil
}

// syntheticLong buys the call and sells the put at the money. Max loss is a
// stress estimate.
func (b builder) syntheticLong(dte int) (*TradeStructure, error) {
	exp := b.expiration(dte)
	k := b.atm()
	s := b.assemble(SyntheticLong, Bullish,
		b.leg(Buy, options.Call, k, exp, 0.5),
		b.leg(Sell, options.Put, k, exp, 0.5),
	)
	breakeven := k + s.NetPremium
	down := b.spot - b.stressMove(exp)
	s.UndefinedRisk = true
	s.MaxProfitUnlimited = true
	s.MaxLoss = round2(math.Max(breakeven-down, 0.01) * options.ContractMultiplier)
	s.Breakevens = []float64{round2(breakeven)}
	return s, nil
}

func intrinsic(right options.Right, spot, strike float64) float64 {
	if right == options.Call {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
