package liquidity

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/policy"
)

// Tier labels a leg by its spread to mid
type Tier string

const (
	Excellent  Tier = "excellent"
	Good       Tier = "good"
	Acceptable Tier = "acceptable"
	Poor       Tier = "poor"
)

var tierRank = map[Tier]int{Excellent: 0, Good: 1, Acceptable: 2, Poor: 3}

// Step awards Points when a measurement clears Bound
type Step struct {
	Bound  float64 `yaml:"bound"`
	Points float64 `yaml:"points"`
}

// Config holds scoring steps, hard floors and warning bands
type Config struct {
	SpreadSteps       []Step        `yaml:"spread_steps"`        // upper bounds, percent of mid
	VolumeSteps       []Step        `yaml:"volume_steps"`        // lower bounds, contracts
	OpenInterestSteps []Step        `yaml:"open_interest_steps"` // lower bounds, contracts
	DepthSteps        []Step        `yaml:"depth_steps"`         // lower bounds, min(size) / units
	RecencySteps      []Step        `yaml:"recency_steps"`       // upper bounds, minutes
	ExcellentPct      float64       `yaml:"excellent_pct"`       // Default: 0.25
	SpreadWarnPct     float64       `yaml:"spread_warn_pct"`     // Default: 0.5
	SpreadHardCapPct  float64       `yaml:"spread_hard_cap_pct"` // Default: 1.0
	MinVolume         int           `yaml:"min_volume"`          // Default: 100
	VolumePerUnit     int           `yaml:"volume_per_unit"`     // Default: 20
	MinOpenInterest   int           `yaml:"min_open_interest"`   // Default: 500
	OIPerUnit         int           `yaml:"oi_per_unit"`         // Default: 50
	MaxQuoteAge       time.Duration `yaml:"max_quote_age"`       // Default: 30m
	WarnScore         float64       `yaml:"warn_score"`          // Default: 50
}

// DefaultConfig returns production liquidity thresholds
func DefaultConfig() Config {
	return Config{
		SpreadSteps:       []Step{{0.25, 20}, {0.5, 16}, {0.75, 12}, {1.0, 8}},
		VolumeSteps:       []Step{{5000, 20}, {1000, 16}, {500, 12}, {100, 8}},
		OpenInterestSteps: []Step{{10000, 20}, {5000, 16}, {1000, 12}, {500, 8}},
		DepthSteps:        []Step{{10, 20}, {5, 16}, {2, 12}, {1, 8}},
		RecencySteps:      []Step{{5, 20}, {15, 15}, {30, 10}},
		ExcellentPct:      0.25,
		SpreadWarnPct:     0.5,
		SpreadHardCapPct:  1.0,
		MinVolume:         100,
		VolumePerUnit:     20,
		MinOpenInterest:   500,
		OIPerUnit:         50,
		MaxQuoteAge:       30 * time.Minute,
		WarnScore:         50,
	}
}

// Components are the five 0-20 score parts
type Components struct {
	Spread       float64 `json:"spread"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
	Depth        float64 `json:"depth"`
	Recency      float64 `json:"recency"`
}

// Total sums the components
func (c Components) Total() float64 {
	return c.Spread + c.Volume + c.OpenInterest + c.Depth + c.Recency
}

// LegResult is the liquidity verdict for one contract
type LegResult struct {
	Quote               market.OptionQuote `json:"quote"`
	Mid                 float64            `json:"mid"`
	SpreadPct           float64            `json:"spread_pct"`
	SpreadUnderlyingPct float64            `json:"spread_underlying_pct"`
	QuoteAge            time.Duration      `json:"quote_age"`
	Components          Components         `json:"components"`
	Score               float64            `json:"score"`
	Tier                Tier               `json:"tier"`
	Approved            bool               `json:"approved"`
	FailureReasons      []policy.Advisory  `json:"failure_reasons,omitempty"`
	Warnings            []policy.Advisory  `json:"warnings,omitempty"`
}

// StructureResult is the AND of every leg
type StructureResult struct {
	Legs     []LegResult       `json:"legs"`
	Approved bool              `json:"approved"`
	Score    float64           `json:"score"` // weakest leg
	Tier     Tier              `json:"tier"`  // weakest leg
	Warnings []policy.Advisory `json:"warnings,omitempty"`
	Failures []policy.Advisory `json:"failures,omitempty"`
}

// Gate validates option legs for tradability
type Gate struct {
	config Config
}

// NewGate creates a gate. Steps are ordered best first.
func NewGate(config Config) *Gate {
	config.SpreadSteps = sortSteps(config.SpreadSteps, true)
	config.RecencySteps = sortSteps(config.RecencySteps, true)
	config.VolumeSteps = sortSteps(config.VolumeSteps, false)
	config.OpenInterestSteps = sortSteps(config.OpenInterestSteps, false)
	config.DepthSteps = sortSteps(config.DepthSteps, false)
	return &Gate{config: config}
}

func sortSteps(steps []Step, ascending bool) []Step {
	out := append([]Step(nil), steps...)
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].Bound < out[j].Bound
		}
		return out[i].Bound > out[j].Bound
	})
	return out
}

// atMost scores v against upper-bound steps
func atMost(steps []Step, v float64) float64 {
	for _, s := range steps {
		if v <= s.Bound {
			return s.Points
		}
	}
	return 0
}

// atLeast scores v against lower-bound steps
func atLeast(steps []Step, v float64) float64 {
	for _, s := range steps {
		if v >= s.Bound {
			return s.Points
		}
	}
	return 0
}

// Config returns the gate thresholds
func (g *Gate) Config() Config { return g.config }

// TierFor labels a spread percentage
func (g *Gate) TierFor(spreadPct float64) Tier {
	switch {
	case spreadPct <= g.config.ExcellentPct:
		return Excellent
	case spreadPct <= g.config.SpreadWarnPct:
		return Good
	case spreadPct <= g.config.SpreadHardCapPct:
		return Acceptable
	}
	return Poor
}

// EvaluateLeg scores one quote for an intended unit count. Every hard
// reject is collected; an inverted market is a ValidationError.
func (g *Gate) EvaluateLeg(q market.OptionQuote, units int, asOf time.Time) (*LegResult, error) {
	if q.Bid > 0 && q.Ask > 0 && q.Ask < q.Bid {
		return nil, policy.Invalid("ask", q.Ask, fmt.Sprintf("below bid %.2f", q.Bid))
	}
	if units < 1 {
		units = 1
	}
	cfg := g.config
	res := &LegResult{Quote: q, Mid: q.Mid()}
	fail := func(code policy.ReasonCode, format string, args ...interface{}) {
		res.FailureReasons = append(res.FailureReasons, policy.Advisory{Code: code, Stage: "liquidity", Message: fmt.Sprintf(format, args...)})
	}
	warn := func(code policy.ReasonCode, format string, args ...interface{}) {
		res.Warnings = append(res.Warnings, policy.Advisory{Code: code, Stage: "liquidity", Message: fmt.Sprintf(format, args...)})
	}

	zero := q.Bid <= 0 || q.Ask <= 0
	if zero {
		fail(policy.ReasonZeroQuote, "zero quote: bid %.2f ask %.2f", q.Bid, q.Ask)
		res.Tier = Poor
	} else {
		width := q.Ask - q.Bid
		res.SpreadPct = width / res.Mid * 100
		if q.UnderlyingPrice > 0 {
			res.SpreadUnderlyingPct = width / q.UnderlyingPrice * 100
		}
		res.Components.Spread = atMost(cfg.SpreadSteps, res.SpreadPct)
		res.Tier = g.TierFor(res.SpreadPct)

		switch {
		case res.SpreadPct > cfg.SpreadHardCapPct:
			fail(policy.ReasonSpreadAboveCap, "spread %.2f%% above %.2f%% cap", res.SpreadPct, cfg.SpreadHardCapPct)
		case res.SpreadPct > cfg.SpreadWarnPct:
			warn(policy.ReasonSpreadWide, "spread %.2f%% above %.2f%%", res.SpreadPct, cfg.SpreadWarnPct)
		}
	}

	res.Components.Volume = atLeast(cfg.VolumeSteps, float64(q.Volume))
	if floor := max(cfg.MinVolume, cfg.VolumePerUnit*units); q.Volume < floor {
		fail(policy.ReasonVolumeBelowFloor, "volume %d below %d", q.Volume, floor)
	}

	res.Components.OpenInterest = atLeast(cfg.OpenInterestSteps, float64(q.OpenInterest))
	if floor := max(cfg.MinOpenInterest, cfg.OIPerUnit*units); q.OpenInterest < floor {
		fail(policy.ReasonOIBelowFloor, "open interest %d below %d", q.OpenInterest, floor)
	}

	depth := float64(min(q.BidSize, q.AskSize)) / float64(units)
	res.Components.Depth = atLeast(cfg.DepthSteps, depth)

	if q.LastTrade.IsZero() {
		res.QuoteAge = math.MaxInt64
		fail(policy.ReasonStaleQuote, "no trade print")
	} else {
		res.QuoteAge = asOf.Sub(q.LastTrade)
		if res.QuoteAge < 0 {
			res.QuoteAge = 0
		}
		res.Components.Recency = atMost(cfg.RecencySteps, res.QuoteAge.Minutes())
		if res.QuoteAge > cfg.MaxQuoteAge {
			fail(policy.ReasonStaleQuote, "last trade %s ago, limit %s", res.QuoteAge.Round(time.Second), cfg.MaxQuoteAge)
		}
	}

	res.Score = res.Components.Total()
	if res.Score < cfg.WarnScore {
		warn(policy.ReasonLowLiquidityScore, "liquidity score %.0f below %.0f", res.Score, cfg.WarnScore)
	}
	res.Approved = len(res.FailureReasons) == 0
	return res, nil
}

// EvaluateStructure evaluates every leg; the structure is approved only if
// all legs are.
func (g *Gate) EvaluateStructure(quotes []market.OptionQuote, units int, asOf time.Time) (*StructureResult, error) {
	out := &StructureResult{Approved: len(quotes) > 0, Score: 100, Tier: Excellent}
	if len(quotes) == 0 {
		out.Score, out.Tier = 0, Poor
		out.Failures = append(out.Failures, policy.Advisory{Code: policy.ReasonLiquidity, Stage: "liquidity", Message: "no legs"})
		return out, nil
	}
	for _, q := range quotes {
		leg, err := g.EvaluateLeg(q, units, asOf)
		if err != nil {
			return nil, fmt.Errorf("leg %s %.2f: %w", q.Contract.Right, q.Contract.Strike, err)
		}
		out.Legs = append(out.Legs, *leg)
		out.Approved = out.Approved && leg.Approved
		out.Score = math.Min(out.Score, leg.Score)
		if tierRank[leg.Tier] > tierRank[out.Tier] {
			out.Tier = leg.Tier
		}
		out.Warnings = append(out.Warnings, leg.Warnings...)
		out.Failures = append(out.Failures, leg.FailureReasons...)
	}

	log.Debug().
		Int("legs", len(out.Legs)).
		Bool("approved", out.Approved).
		Float64("score", out.Score).
		Str("tier", string(out.Tier)).
		Msg("Liquidity evaluated")
	return out, nil
}
