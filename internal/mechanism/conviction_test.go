package mechanism

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		score float64
		tier  Tier
		band  Band
	}{
		{10, VeryHigh, Band{4, 5}},
		{8.5, VeryHigh, Band{4, 5}},
		{8.49, High, Band{2.5, 4}},
		{7, High, Band{2.5, 4}},
		{6.99, Moderate, Band{1, 2.5}},
		{5, Moderate, Band{1, 2.5}},
		{4.99, Low, Band{0, 1}},
		{0, Low, Band{0, 1}},
	}
	for _, tt := range tests {
		tier, band := TierFor(tt.score)
		assert.Equal(t, tt.tier, tier, "score %.2f", tt.score)
		assert.Equal(t, tt.band, band, "score %.2f", tt.score)
	}
}

func TestNewConvictionIsWeightedMean(t *testing.T) {
	w := DefaultConfig().Weights
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)

	c := NewConviction(Components{Alignment: 10, Technical: 8, RelativeStrength: 7.5, RiskReward: 6, Liquidity: 8}, w)
	assert.Equal(t, 7.9, c.Score)
	assert.Equal(t, High, c.Tier)
	assert.Equal(t, Band{2.5, 4}, c.AllocationBand)
}

func TestComponentScores(t *testing.T) {
	assert.Equal(t, 10.0, AlignmentScore(true, false))
	assert.Equal(t, 0.0, AlignmentScore(false, true))
	assert.Equal(t, 5.0, AlignmentScore(false, false))

	rr := []struct {
		ratio float64
		want  float64
	}{
		{2, 10}, {1.5, 8}, {1.2, 6}, {0.67, 4}, {0.5, 2},
	}
	for _, tt := range rr {
		assert.Equal(t, tt.want, RiskRewardScore(tt.ratio, false), "ratio %.2f", tt.ratio)
	}
	assert.Equal(t, 10.0, RiskRewardScore(math.Inf(1), true))

	liq := []struct {
		volume float64
		want   float64
	}{
		{5_000_000, 10}, {2_000_000, 8}, {1_500_000, 6}, {500_000, 4}, {499_999, 2},
	}
	for _, tt := range liq {
		assert.Equal(t, tt.want, LiquidityScore(tt.volume), "volume %.0f", tt.volume)
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier("very_high")
	assert.True(t, ok)
	assert.True(t, tier.AtLeastHigh())

	tier, ok = ParseTier("moderate")
	assert.True(t, ok)
	assert.False(t, tier.AtLeastHigh())

	_, ok = ParseTier("extreme")
	assert.False(t, ok)
}
