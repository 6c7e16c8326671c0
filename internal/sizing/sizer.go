package sizing

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/policy"
)

// Classification is the sizing bucket of a position
type Classification string

const (
	Core        Classification = "core"
	Speculative Classification = "speculative"
)

// CorrelationBand reduces units when correlation to a holding exceeds Above
type CorrelationBand struct {
	Above      float64 `yaml:"above"`
	Multiplier float64 `yaml:"multiplier"`
}

// Config holds sizing tables and ceilings
type Config struct {
	BaseAllocationPct map[Classification]float64                    `yaml:"base_allocation_pct"`
	TierMultiplier    map[mechanism.Tier]float64                    `yaml:"tier_multiplier"`
	MaxRiskPct        map[Classification]map[mechanism.Tier]float64 `yaml:"max_risk_pct"`
	CorrelationBands  []CorrelationBand                             `yaml:"correlation_bands"`
	MaxTickerPct      float64                                       `yaml:"max_ticker_pct"`   // Default: 15
	RiskCeilingPct    float64                                       `yaml:"risk_ceiling_pct"` // Default: 5
}

// DefaultConfig returns production sizing tables
func DefaultConfig() Config {
	return Config{
		BaseAllocationPct: map[Classification]float64{Core: 10, Speculative: 2},
		TierMultiplier: map[mechanism.Tier]float64{
			mechanism.VeryHigh: 1.25,
			mechanism.High:     1.0,
			mechanism.Moderate: 0.6,
			mechanism.Low:      0.3,
		},
		MaxRiskPct: map[Classification]map[mechanism.Tier]float64{
			Core: {
				mechanism.VeryHigh: 3.0,
				mechanism.High:     2.5,
				mechanism.Moderate: 1.5,
				mechanism.Low:      1.0,
			},
			Speculative: {
				mechanism.VeryHigh: 1.0,
				mechanism.High:     0.75,
				mechanism.Moderate: 0.5,
				mechanism.Low:      0.25,
			},
		},
		CorrelationBands: []CorrelationBand{
			{Above: 0.8, Multiplier: 0.25},
			{Above: 0.7, Multiplier: 0.5},
			{Above: 0.5, Multiplier: 0.75},
		},
		MaxTickerPct:   15,
		RiskCeilingPct: 5,
	}
}

// Request describes the position to size
type Request struct {
	Ticker                string         `json:"ticker"`
	Classification        Classification `json:"classification"`
	Tier                  mechanism.Tier `json:"tier"`
	MaxLossPerUnit        float64        `json:"max_loss_per_unit"`
	CapitalPerUnit        float64        `json:"capital_per_unit"`
	MaxHoldingCorrelation float64        `json:"max_holding_correlation"`
}

// Result is the sized position
type Result struct {
	Units           int               `json:"units"`
	AllocationUnits int               `json:"allocation_units"`
	RiskUnits       int               `json:"risk_units"`
	AllocationPct   float64           `json:"allocation_pct"`
	MaxRiskPct      float64           `json:"max_risk_pct"`
	CapitalDeployed float64           `json:"capital_deployed"`
	RiskDollars     float64           `json:"risk_dollars"`
	RiskPct         float64           `json:"risk_pct"`
	PositionPct     float64           `json:"position_pct"`
	Adjustments     []string          `json:"adjustments,omitempty"`
	Warnings        []policy.Advisory `json:"warnings,omitempty"`
	Pass            bool              `json:"pass"`
	Reason          string            `json:"reason,omitempty"`
}

// Sizer turns conviction and per-unit risk into a unit count
type Sizer struct {
	config Config
}

// NewSizer creates a sizer. Correlation bands are evaluated highest first.
func NewSizer(config Config) *Sizer {
	bands := append([]CorrelationBand(nil), config.CorrelationBands...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Above > bands[j].Above })
	config.CorrelationBands = bands
	return &Sizer{config: config}
}

// Config returns the sizing tables
func (s *Sizer) Config() Config { return s.config }

// TierMaxRiskPct returns the max risk percent for a classification and tier
func (s *Sizer) TierMaxRiskPct(c Classification, t mechanism.Tier) (float64, bool) {
	v, ok := s.config.MaxRiskPct[c][t]
	return v, ok
}

// Size computes units for req against the ledger state. A position that
// rounds below one unit is returned with Pass false together with a
// POSITION_TOO_SMALL violation.
func (s *Sizer) Size(req Request, state ledger.State) (*Result, error) {
	pv := state.PortfolioValue
	if pv <= 0 {
		return nil, policy.Invalid("portfolio_value", pv, "must be positive")
	}
	if req.MaxLossPerUnit <= 0 {
		return nil, policy.Invalid("max_loss_per_unit", req.MaxLossPerUnit, "must be positive")
	}
	if req.CapitalPerUnit <= 0 {
		return nil, policy.Invalid("capital_per_unit", req.CapitalPerUnit, "must be positive")
	}
	base, ok := s.config.BaseAllocationPct[req.Classification]
	if !ok {
		return nil, policy.Invalid("classification", req.Classification, "must be core or speculative")
	}
	mult, ok := s.config.TierMultiplier[req.Tier]
	if !ok {
		return nil, policy.Invalid("tier", req.Tier, "unknown conviction tier")
	}
	maxRisk, ok := s.TierMaxRiskPct(req.Classification, req.Tier)
	if !ok {
		return nil, policy.Invalid("tier", req.Tier, "no max risk for classification")
	}

	res := &Result{MaxRiskPct: maxRisk}

	allocPct := base * mult
	if allocPct > base {
		res.Warnings = append(res.Warnings, policy.Advisory{
			Code:    policy.ReasonAllocationCapped,
			Stage:   "sizing",
			Message: fmt.Sprintf("allocation %.2f%% capped at %s bucket %.2f%%", allocPct, req.Classification, base),
		})
		allocPct = base
	}
	res.AllocationPct = allocPct

	res.AllocationUnits = int(math.Floor(pv * allocPct / 100 / req.CapitalPerUnit))
	res.RiskUnits = int(math.Floor(pv * maxRisk / 100 / req.MaxLossPerUnit))
	units := res.AllocationUnits
	if res.RiskUnits < units {
		units = res.RiskUnits
	}

	for _, band := range s.config.CorrelationBands {
		if req.MaxHoldingCorrelation > band.Above {
			reduced := int(math.Floor(float64(units) * band.Multiplier))
			res.Adjustments = append(res.Adjustments, fmt.Sprintf("correlation %.2f > %.2f: units %d -> %d",
				req.MaxHoldingCorrelation, band.Above, units, reduced))
			units = reduced
			break
		}
	}

	existing := state.TickerExposure[req.Ticker]
	ceiling := pv * s.config.MaxTickerPct / 100
	if existing+float64(units)*req.CapitalPerUnit > ceiling {
		fit := int(math.Floor((ceiling - existing) / req.CapitalPerUnit))
		if fit < 0 {
			fit = 0
		}
		res.Adjustments = append(res.Adjustments, fmt.Sprintf("%s concentration cap %.0f%%: units %d -> %d",
			req.Ticker, s.config.MaxTickerPct, units, fit))
		units = fit
	}

	if units < 1 {
		res.Reason = fmt.Sprintf("position rounds to %d units", units)
		return res, policy.Violation(policy.ReasonPositionTooSmall, "sizing", "%s %s", req.Ticker, res.Reason)
	}

	riskCeiling := pv * s.config.RiskCeilingPct / 100
	if float64(units)*req.MaxLossPerUnit > riskCeiling {
		clamped := int(math.Floor(riskCeiling / req.MaxLossPerUnit))
		res.Adjustments = append(res.Adjustments, fmt.Sprintf("risk ceiling %.0f%%: units %d -> %d",
			s.config.RiskCeilingPct, units, clamped))
		units = clamped
		if units < 1 {
			res.Reason = "risk ceiling leaves no units"
			return res, policy.Violation(policy.ReasonPositionTooSmall, "sizing", "%s %s", req.Ticker, res.Reason)
		}
	}

	res.Units = units
	res.CapitalDeployed = round2(float64(units) * req.CapitalPerUnit)
	res.RiskDollars = round2(float64(units) * req.MaxLossPerUnit)
	res.RiskPct = res.RiskDollars / pv * 100
	res.PositionPct = res.CapitalDeployed / pv * 100
	res.Pass = true

	log.Debug().
		Str("ticker", req.Ticker).
		Str("tier", string(req.Tier)).
		Int("allocation_units", res.AllocationUnits).
		Int("risk_units", res.RiskUnits).
		Int("units", units).
		Msg("Position sized")
	return res, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
