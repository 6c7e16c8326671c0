package mechanism

import "math"

// Tier is the conviction bucket driving allocation and risk bands
type Tier string

const (
	VeryHigh Tier = "very_high"
	High     Tier = "high"
	Moderate Tier = "moderate"
	Low      Tier = "low"
)

// AtLeastHigh reports whether the tier is high or very high
func (t Tier) AtLeastHigh() bool { return t == VeryHigh || t == High }

// ParseTier maps a label to a Tier
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case VeryHigh, High, Moderate, Low:
		return Tier(s), true
	}
	return "", false
}

// Band is a recommended allocation range in percent of portfolio
type Band struct {
	MinPct float64 `json:"min_pct"`
	MaxPct float64 `json:"max_pct"`
}

// ConvictionWeights weights the five conviction components
type ConvictionWeights struct {
	Alignment        float64 `yaml:"alignment" json:"alignment"`
	Technical        float64 `yaml:"technical" json:"technical"`
	RelativeStrength float64 `yaml:"relative_strength" json:"relative_strength"`
	RiskReward       float64 `yaml:"risk_reward" json:"risk_reward"`
	Liquidity        float64 `yaml:"liquidity" json:"liquidity"`
}

// Sum returns the total weight
func (w ConvictionWeights) Sum() float64 {
	return w.Alignment + w.Technical + w.RelativeStrength + w.RiskReward + w.Liquidity
}

// Components are the 0-10 conviction inputs
type Components struct {
	Alignment        float64 `json:"alignment"`
	Technical        float64 `json:"technical"`
	RelativeStrength float64 `json:"relative_strength"`
	RiskReward       float64 `json:"risk_reward"`
	Liquidity        float64 `json:"liquidity"`
}

// Conviction is the weighted trade-idea confidence
type Conviction struct {
	Components     Components        `json:"components"`
	Weights        ConvictionWeights `json:"weights"`
	Score          float64           `json:"score"`
	Tier           Tier              `json:"tier"`
	AllocationBand Band              `json:"allocation_band"`
}

// NewConviction weights components and assigns the tier
func NewConviction(c Components, w ConvictionWeights) Conviction {
	score := c.Alignment*w.Alignment +
		c.Technical*w.Technical +
		c.RelativeStrength*w.RelativeStrength +
		c.RiskReward*w.RiskReward +
		c.Liquidity*w.Liquidity
	score = math.Round(score*100) / 100
	tier, band := TierFor(score)
	return Conviction{Components: c, Weights: w, Score: score, Tier: tier, AllocationBand: band}
}

// TierFor buckets a conviction score
func TierFor(score float64) (Tier, Band) {
	switch {
	case score >= 8.5:
		return VeryHigh, Band{MinPct: 4, MaxPct: 5}
	case score >= 7:
		return High, Band{MinPct: 2.5, MaxPct: 4}
	case score >= 5:
		return Moderate, Band{MinPct: 1, MaxPct: 2.5}
	}
	return Low, Band{MinPct: 0, MaxPct: 1}
}

// AlignmentScore is 10 for an aligned sector, 0 for a conflicting one, else 5
func AlignmentScore(aligned, conflict bool) float64 {
	switch {
	case aligned:
		return 10
	case conflict:
		return 0
	}
	return 5
}

// RiskRewardScore maps max profit / max loss to 0-10
func RiskRewardScore(ratio float64, unlimited bool) float64 {
	if unlimited {
		return 10
	}
	switch {
	case ratio >= 2:
		return 10
	case ratio >= 1.5:
		return 8
	case ratio >= 1:
		return 6
	case ratio >= 0.67:
		return 4
	}
	return 2
}

// LiquidityScore maps average daily share volume to 0-10
func LiquidityScore(avgVolume float64) float64 {
	switch {
	case avgVolume >= 5_000_000:
		return 10
	case avgVolume >= 2_000_000:
		return 8
	case avgVolume >= 1_000_000:
		return 6
	case avgVolume >= 500_000:
		return 4
	}
	return 2
}
