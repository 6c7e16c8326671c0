package mechanism

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/strength"
)

// Config holds mechanism selection and structure thresholds
type Config struct {
	// overrides
	EarningsBlackoutDays int     `yaml:"earnings_blackout_days"` // Default: 2
	MaxCorrelation       float64 `yaml:"max_correlation"`        // Default: 0.8
	MinTechnicalQuality  float64 `yaml:"min_technical_quality"`  // Default: 5

	// rule triggers
	EarningsHorizonDays      int     `yaml:"earnings_horizon_days"`       // Default: 14
	EarningsMaxIVPercentile  float64 `yaml:"earnings_max_iv_percentile"`  // Default: 40
	VRPRatio                 float64 `yaml:"vrp_ratio"`                   // Default: 1.25 (IV / realized)
	VRPMinIVPercentile       float64 `yaml:"vrp_min_iv_percentile"`       // Default: 50
	CondorIVPercentile       float64 `yaml:"condor_iv_percentile"`        // Default: 70
	StrangleIVPercentile     float64 `yaml:"strangle_iv_percentile"`      // Default: 85
	AllowUndefinedRisk       bool    `yaml:"allow_undefined_risk"`        // Default: false
	SyntheticMaxIVPercentile float64 `yaml:"synthetic_max_iv_percentile"` // Default: 30
	MeanReversionZ           float64 `yaml:"mean_reversion_z"`            // Default: 2.0

	// strikes and expirations
	LongDeltaHigh          float64 `yaml:"long_delta_high"`            // Default: 0.60
	LongDelta              float64 `yaml:"long_delta"`                 // Default: 0.55
	ShortDelta             float64 `yaml:"short_delta"`                // Default: 0.30
	CondorShortDelta       float64 `yaml:"condor_short_delta"`         // Default: 0.16
	CondorShortDeltaHighIV float64 `yaml:"condor_short_delta_high_iv"` // Default: 0.20
	CondorHighIVPercentile float64 `yaml:"condor_high_iv_percentile"`  // Default: 80
	CondorWingIncrements   int     `yaml:"condor_wing_increments"`     // Default: 2
	DebitDTEHigh           int     `yaml:"debit_dte_high"`             // Default: 60
	DebitDTE               int     `yaml:"debit_dte"`                  // Default: 45
	CondorDTE              int     `yaml:"condor_dte"`                 // Default: 45
	CalendarFrontDTE       int     `yaml:"calendar_front_dte"`         // Default: 30
	CalendarBackDTE        int     `yaml:"calendar_back_dte"`          // Default: 60
	StraddlePostEarnings   int     `yaml:"straddle_post_earnings"`     // Default: 7 days
	SyntheticDTE           int     `yaml:"synthetic_dte"`              // Default: 60
	StressSigma            float64 `yaml:"stress_sigma"`               // Default: 3
	RiskFreeRate           float64 `yaml:"risk_free_rate"`             // Default: 0.04

	Weights ConvictionWeights `yaml:"weights"`
}

// DefaultConfig returns production selection thresholds
func DefaultConfig() Config {
	return Config{
		EarningsBlackoutDays:     2,
		MaxCorrelation:           0.8,
		MinTechnicalQuality:      5,
		EarningsHorizonDays:      14,
		EarningsMaxIVPercentile:  40,
		VRPRatio:                 1.25,
		VRPMinIVPercentile:       50,
		CondorIVPercentile:       70,
		StrangleIVPercentile:     85,
		SyntheticMaxIVPercentile: 30,
		MeanReversionZ:           2.0,
		LongDeltaHigh:            0.60,
		LongDelta:                0.55,
		ShortDelta:               0.30,
		CondorShortDelta:         0.16,
		CondorShortDeltaHighIV:   0.20,
		CondorHighIVPercentile:   80,
		CondorWingIncrements:     2,
		DebitDTEHigh:             60,
		DebitDTE:                 45,
		CondorDTE:                45,
		CalendarFrontDTE:         30,
		CalendarBackDTE:          60,
		StraddlePostEarnings:     7,
		SyntheticDTE:             60,
		StressSigma:              3,
		RiskFreeRate:             options.DefaultRiskFreeRate,
		Weights: ConvictionWeights{
			Alignment:        0.2,
			Technical:        0.2,
			RelativeStrength: 0.2,
			RiskReward:       0.2,
			Liquidity:        0.2,
		},
	}
}

// Input is everything the selector needs for one candidate
type Input struct {
	Candidate             strength.InstrumentCandidate `json:"candidate"`
	Assessment            *regime.Assessment           `json:"-"`
	Aligned               bool                         `json:"aligned"`
	Conflict              bool                         `json:"conflict"`
	MaxHoldingCorrelation float64                      `json:"max_holding_correlation"`
	AsOf                  time.Time                    `json:"as_of"`
}

func (in Input) disposition() regime.Disposition {
	if in.Assessment == nil {
		return regime.Neutral
	}
	return in.Assessment.Disposition
}

// Selection is the chosen mechanism and its priced structure
type Selection struct {
	Mechanism   Mechanism       `json:"mechanism"`
	Rule        string          `json:"rule,omitempty"`
	Structure   *TradeStructure `json:"structure,omitempty"`
	Provisional Conviction      `json:"provisional_conviction"`
	Conviction  Conviction      `json:"conviction"`
	Overrides   []string        `json:"overrides,omitempty"`
}

// Rule is one guarded mechanism constructor; rules are evaluated in order
type Rule struct {
	Name      string
	Mechanism Mechanism
	When      func(Input) bool
	Build     func(Input) (*TradeStructure, error)
}

// Selector picks a mechanism and builds its structure
type Selector struct {
	config Config
	rules  []Rule
}

// NewSelector creates a selector with the standard rule order
func NewSelector(config Config) *Selector {
	s := &Selector{config: config}
	s.rules = s.standardRules()
	return s
}

// NewSelectorWithRules creates a selector evaluating custom rules in order
func NewSelectorWithRules(config Config, rules []Rule) *Selector {
	return &Selector{config: config, rules: rules}
}

// Config returns the selection thresholds
func (s *Selector) Config() Config { return s.config }

// Rules returns the rules in evaluation order
func (s *Selector) Rules() []Rule { return s.rules }

// Select applies the overrides, then the first matching rule. A no_edge
// result is returned together with a NO_EDGE policy violation.
func (s *Selector) Select(in Input) (*Selection, error) {
	sel := &Selection{Provisional: s.provisional(in)}

	if overrides := s.overrides(in); len(overrides) > 0 {
		sel.Mechanism = NoEdge
		sel.Overrides = overrides
		sel.Conviction = sel.Provisional
		return sel, policy.Violation(policy.ReasonNoEdge, "mechanism", "%s", strings.Join(overrides, "; "))
	}

	for _, r := range s.rules {
		if !r.When(in) {
			continue
		}
		st, err := r.Build(in)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", r.Name, err)
		}
		sel.Mechanism = r.Mechanism
		sel.Rule = r.Name
		sel.Structure = st
		sel.Conviction = s.final(in, st)
		return sel, nil
	}

	sel.Mechanism = NoEdge
	sel.Conviction = sel.Provisional
	return sel, policy.Violation(policy.ReasonNoEdge, "mechanism", "no rule matched %s", in.Candidate.Ticker)
}

func (s *Selector) overrides(in Input) []string {
	c := in.Candidate
	var out []string
	if c.EarningsKnown && c.DaysToEarnings <= s.config.EarningsBlackoutDays {
		out = append(out, fmt.Sprintf("earnings in %d days", c.DaysToEarnings))
	}
	if in.MaxHoldingCorrelation > s.config.MaxCorrelation {
		out = append(out, fmt.Sprintf("correlation %.2f to an existing holding", in.MaxHoldingCorrelation))
	}
	if c.TechnicalQuality < s.config.MinTechnicalQuality {
		out = append(out, fmt.Sprintf("technical quality %.1f below %.1f", c.TechnicalQuality, s.config.MinTechnicalQuality))
	}
	return out
}

func (s *Selector) components(in Input) Components {
	return Components{
		Alignment:        AlignmentScore(in.Aligned, in.Conflict),
		Technical:        in.Candidate.TechnicalQuality,
		RelativeStrength: in.Candidate.RSScore,
		RiskReward:       5,
		Liquidity:        LiquidityScore(in.Candidate.AvgVolume),
	}
}

// provisional conviction, before the structure's risk/reward is known
func (s *Selector) provisional(in Input) Conviction {
	return NewConviction(s.components(in), s.config.Weights)
}

func (s *Selector) final(in Input, st *TradeStructure) Conviction {
	c := s.components(in)
	c.RiskReward = RiskRewardScore(st.RewardRisk())
	return NewConviction(c, s.config.Weights)
}

func (s *Selector) builder(in Input) builder {
	asOf := in.AsOf
	if asOf.IsZero() && in.Assessment != nil {
		asOf = in.Assessment.AsOf
	}
	return newBuilder(in.Candidate.Ticker, in.Candidate.Price, in.Candidate.IV, s.config.RiskFreeRate, asOf, s.config.StressSigma)
}

// directionFor maps a disposition to a spread direction
func directionFor(d regime.Disposition) Direction {
	switch {
	case d.Bullish():
		return Bullish
	case d.Bearish():
		return Bearish
	}
	return NeutralDirection
}

func (s *Selector) debitSpread(in Input, dir Direction) (*TradeStructure, error) {
	tier := s.provisional(in).Tier
	long, dte := s.config.LongDelta, s.config.DebitDTE
	if tier.AtLeastHigh() {
		long, dte = s.config.LongDeltaHigh, s.config.DebitDTEHigh
	}
	return s.builder(in).debitSpread(dir, long, s.config.ShortDelta, dte)
}

func (s *Selector) standardRules() []Rule {
	cfg := s.config
	return []Rule{
		{
			Name:      "earnings_volatility",
			Mechanism: EarningsVolatility,
			When: func(in Input) bool {
				c := in.Candidate
				return c.EarningsKnown &&
					c.DaysToEarnings > cfg.EarningsBlackoutDays &&
					c.DaysToEarnings <= cfg.EarningsHorizonDays &&
					c.IVPercentile < cfg.EarningsMaxIVPercentile
			},
			Build: func(in Input) (*TradeStructure, error) {
				dir := directionFor(in.disposition())
				if dir == NeutralDirection {
					return s.builder(in).straddle(in.Candidate.DaysToEarnings + cfg.StraddlePostEarnings)
				}
				return s.debitSpread(in, dir)
			},
		},
		{
			Name:      "variance_risk_premium",
			Mechanism: VarianceRiskPremium,
			When: func(in Input) bool {
				c := in.Candidate
				return c.RealizedVol > 0 &&
					c.IV >= cfg.VRPRatio*c.RealizedVol &&
					c.IVPercentile > cfg.VRPMinIVPercentile &&
					(c.Trend == strength.RangeBound || c.Trend == strength.WeakTrend)
			},
			Build: func(in Input) (*TradeStructure, error) {
				ivp := in.Candidate.IVPercentile
				b := s.builder(in)
				switch {
				case ivp >= cfg.StrangleIVPercentile && cfg.AllowUndefinedRisk:
					return b.shortStrangle(cfg.CondorShortDelta, cfg.CondorDTE)
				case ivp >= cfg.CondorIVPercentile:
					delta := cfg.CondorShortDelta
					if ivp >= cfg.CondorHighIVPercentile {
						delta = cfg.CondorShortDeltaHighIV
					}
					return b.ironCondor(delta, cfg.CondorWingIncrements, cfg.CondorDTE)
				}
				return b.calendar(b.atm(), cfg.CalendarFrontDTE, cfg.CalendarBackDTE)
			},
		},
		{
			Name:      "momentum_drift",
			Mechanism: MomentumDrift,
			When: func(in Input) bool {
				c := in.Candidate
				return c.Category.Leading() && c.Trend == strength.Uptrend && in.disposition().Bullish()
			},
			Build: func(in Input) (*TradeStructure, error) {
				if s.provisional(in).Tier == VeryHigh && in.Candidate.IVPercentile < cfg.SyntheticMaxIVPercentile {
					return s.builder(in).syntheticLong(cfg.SyntheticDTE)
				}
				return s.debitSpread(in, Bullish)
			},
		},
		{
			Name:      "mean_reversion",
			Mechanism: MeanReversion,
			When: func(in Input) bool {
				c := in.Candidate
				return c.Trend == strength.RangeBound && math.Abs(c.DeviationZ) >= cfg.MeanReversionZ
			},
			Build: func(in Input) (*TradeStructure, error) {
				b := s.builder(in)
				strike := options.RoundStrike(in.Candidate.Mean20, b.inc)
				return b.calendar(strike, cfg.CalendarFrontDTE, cfg.CalendarBackDTE)
			},
		},
	}
}
