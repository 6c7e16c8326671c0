package mechanism

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/market"
)

// Mechanism is the market inefficiency a trade is built to exploit
type Mechanism string

const (
	MomentumDrift       Mechanism = "momentum_drift"
	VarianceRiskPremium Mechanism = "variance_risk_premium"
	MeanReversion       Mechanism = "mean_reversion"
	EarningsVolatility  Mechanism = "earnings_volatility"
	NoEdge              Mechanism = "no_edge"
)

// Family names the option structure
type Family string

const (
	BullCallSpread Family = "bull_call_spread"
	BearPutSpread  Family = "bear_put_spread"
	IronCondor     Family = "iron_condor"
	ShortStrangle  Family = "short_strangle"
	CalendarSpread Family = "calendar_spread"
	LongStraddle   Family = "long_straddle"
	SyntheticLong  Family = "synthetic_long"
)

// Credit reports whether the family is opened for a net credit
func (f Family) Credit() bool { return f == IronCondor || f == ShortStrangle }

// Direction is the directional bias of a structure
type Direction string

const (
	Bullish          Direction = "bullish"
	Bearish          Direction = "bearish"
	NeutralDirection Direction = "neutral"
)

// Action is the side of a leg
type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

func (a Action) sign() float64 {
	if a == Sell {
		return -1
	}
	return 1
}

// Leg is one option position of a structure
type Leg struct {
	Action         Action        `json:"action"`
	Right          options.Right `json:"right"`
	Strike         float64       `json:"strike"`
	DeltaTarget    float64       `json:"delta_target,omitempty"`
	ExpirationDays int           `json:"expiration_days"`
	Expiration     time.Time     `json:"expiration"`
	Ratio          int           `json:"ratio"`
	TheoPrice      float64       `json:"theo_price"`
	Delta          float64       `json:"delta"`
}

// TradeStructure is a priced multi-leg option position. Dollar figures are
// per unit (one contract of each leg, 100 multiplier); NetPremium is per share,
// positive for a debit and negative for a credit.
type TradeStructure struct {
	Family             Family    `json:"family"`
	Underlying         string    `json:"underlying"`
	Legs               []Leg     `json:"legs"`
	NetPremium         float64   `json:"net_premium"`
	MaxProfit          float64   `json:"max_profit"`
	MaxProfitUnlimited bool      `json:"max_profit_unlimited"`
	MaxLoss            float64   `json:"max_loss"`
	UndefinedRisk      bool      `json:"undefined_risk"`
	Breakevens         []float64 `json:"breakevens"`
	Direction          Direction `json:"direction"`
	NetDelta           float64   `json:"net_delta"`
}

// Credit reports whether the structure collects premium
func (s *TradeStructure) Credit() bool { return s.NetPremium < 0 }

// RewardRisk returns max profit over max loss; unlimited is true when the
// upside is uncapped.
func (s *TradeStructure) RewardRisk() (ratio float64, unlimited bool) {
	if s.MaxProfitUnlimited {
		return math.Inf(1), true
	}
	if s.MaxLoss <= 0 {
		return 0, false
	}
	return s.MaxProfit / s.MaxLoss, false
}

// CapitalPerUnit is the cash or buying power one unit ties up
func (s *TradeStructure) CapitalPerUnit() float64 {
	switch {
	case s.Family == SyntheticLong:
		// margin on the short put, approximated as 20% of notional
		return math.Max(s.NetPremium, 0)*options.ContractMultiplier + s.atmStrike()*options.ContractMultiplier*0.2
	case s.Credit():
		return s.MaxLoss
	}
	return s.NetPremium * options.ContractMultiplier
}

// Defensive reports whether the structure suits a crisis regime: bearish, or
// neutral with defined risk.
func (s *TradeStructure) Defensive() bool {
	if s.Direction == Bearish {
		return true
	}
	return s.Direction == NeutralDirection && !s.UndefinedRisk
}

// NearestExpiration returns the earliest leg expiration
func (s *TradeStructure) NearestExpiration() time.Time {
	var out time.Time
	for _, l := range s.Legs {
		if out.IsZero() || l.Expiration.Before(out) {
			out = l.Expiration
		}
	}
	return out
}

// Contracts lists the leg contracts for quote lookup
func (s *TradeStructure) Contracts() []market.OptionContract {
	out := make([]market.OptionContract, 0, len(s.Legs))
	for _, l := range s.Legs {
		out = append(out, market.OptionContract{
			Underlying: s.Underlying,
			Right:      l.Right,
			Strike:     l.Strike,
			Expiration: l.Expiration,
		})
	}
	return out
}

// Signs returns +1 for bought legs and -1 for sold legs, in leg order
func (s *TradeStructure) Signs() []float64 {
	out := make([]float64, len(s.Legs))
	for i, l := range s.Legs {
		out[i] = l.Action.sign() * float64(l.Ratio)
	}
	return out
}

// String summarises the structure for logs
func (s *TradeStructure) String() string {
	parts := make([]string, 0, len(s.Legs))
	for _, l := range s.Legs {
		parts = append(parts, fmt.Sprintf("%s %s %.2f %s", l.Action, l.Right, l.Strike, l.Expiration.Format("2006-01-02")))
	}
	return fmt.Sprintf("%s %s [%s]", s.Underlying, s.Family, strings.Join(parts, ", "))
}

func (s *TradeStructure) atmStrike() float64 {
	if len(s.Legs) == 0 {
		return 0
	}
	return s.Legs[0].Strike
}
