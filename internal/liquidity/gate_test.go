package liquidity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/policy"
)

var now = time.Date(2024, time.March, 4, 15, 30, 0, 0, time.UTC)

func quote(bid, ask float64, volume, oi int, age time.Duration) market.OptionQuote {
	return market.OptionQuote{
		Bid:             bid,
		Ask:             ask,
		BidSize:         50,
		AskSize:         40,
		Volume:          volume,
		OpenInterest:    oi,
		LastTrade:       now.Add(-age),
		UnderlyingPrice: 500,
	}
}

func codes(advisories []policy.Advisory) []policy.ReasonCode {
	out := make([]policy.ReasonCode, 0, len(advisories))
	for _, a := range advisories {
		out = append(out, a.Code)
	}
	return out
}

func TestEvaluateLegLiquidContract(t *testing.T) {
	leg, err := NewGate(DefaultConfig()).EvaluateLeg(quote(28.40, 28.60, 8524, 15234, 2*time.Minute), 2, now)
	require.NoError(t, err)

	assert.True(t, leg.Approved)
	assert.InDelta(t, 28.50, leg.Mid, 1e-9)
	assert.InDelta(t, 0.70, leg.SpreadPct, 0.01)
	assert.InDelta(t, 0.04, leg.SpreadUnderlyingPct, 1e-9)
	assert.Equal(t, Acceptable, leg.Tier)
	assert.Equal(t, Components{Spread: 12, Volume: 20, OpenInterest: 20, Depth: 20, Recency: 20}, leg.Components)
	assert.Equal(t, 92.0, leg.Score)
	assert.Empty(t, leg.FailureReasons)
	assert.Equal(t, []policy.ReasonCode{policy.ReasonSpreadWide}, codes(leg.Warnings))
}

func TestEvaluateLegCollectsEveryReject(t *testing.T) {
	leg, err := NewGate(DefaultConfig()).EvaluateLeg(quote(2.10, 2.50, 35, 248, 45*time.Minute), 1, now)
	require.NoError(t, err)

	assert.False(t, leg.Approved)
	assert.Equal(t, Poor, leg.Tier)
	assert.Greater(t, leg.SpreadPct, 17.0)
	assert.Equal(t, []policy.ReasonCode{
		policy.ReasonSpreadAboveCap,
		policy.ReasonVolumeBelowFloor,
		policy.ReasonOIBelowFloor,
		policy.ReasonStaleQuote,
	}, codes(leg.FailureReasons))
	assert.Contains(t, codes(leg.Warnings), policy.ReasonLowLiquidityScore)
}

func TestSpreadCapIsNonCompensating(t *testing.T) {
	leg, err := NewGate(DefaultConfig()).EvaluateLeg(quote(9.90, 10.02, 100_000, 100_000, time.Minute), 1, now)
	require.NoError(t, err)
	assert.False(t, leg.Approved)
	assert.Equal(t, []policy.ReasonCode{policy.ReasonSpreadAboveCap}, codes(leg.FailureReasons))
	assert.Equal(t, 80.0, leg.Score)
}

func TestEvaluateLegSizeScaledFloors(t *testing.T) {
	g := NewGate(DefaultConfig())

	leg, err := g.EvaluateLeg(quote(10.00, 10.04, 150, 800, time.Minute), 20, now)
	require.NoError(t, err)
	assert.Equal(t, []policy.ReasonCode{policy.ReasonVolumeBelowFloor, policy.ReasonOIBelowFloor}, codes(leg.FailureReasons))
	assert.Equal(t, 12.0, leg.Components.Depth)

	leg, err = g.EvaluateLeg(quote(10.00, 10.04, 150, 800, time.Minute), 1, now)
	require.NoError(t, err)
	assert.True(t, leg.Approved)
	assert.Equal(t, Good, leg.Tier)
}

func TestEvaluateLegBadQuotes(t *testing.T) {
	g := NewGate(DefaultConfig())

	leg, err := g.EvaluateLeg(quote(0, 1.10, 5000, 5000, time.Minute), 1, now)
	require.NoError(t, err)
	assert.False(t, leg.Approved)
	assert.Equal(t, []policy.ReasonCode{policy.ReasonZeroQuote}, codes(leg.FailureReasons))
	assert.Zero(t, leg.SpreadPct)
	assert.Zero(t, leg.Components.Spread)

	_, err = g.EvaluateLeg(quote(1.20, 1.10, 5000, 5000, time.Minute), 1, now)
	assert.ErrorIs(t, err, policy.ErrValidation)

	q := quote(1.00, 1.004, 5000, 5000, 0)
	q.LastTrade = time.Time{}
	leg, err = g.EvaluateLeg(q, 1, now)
	require.NoError(t, err)
	assert.Contains(t, codes(leg.FailureReasons), policy.ReasonStaleQuote)
}

func TestRecencySteps(t *testing.T) {
	g := NewGate(DefaultConfig())
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{5 * time.Minute, 20},
		{10 * time.Minute, 15},
		{30 * time.Minute, 10},
		{31 * time.Minute, 0},
	}
	for _, tt := range tests {
		leg, err := g.EvaluateLeg(quote(10.00, 10.02, 5000, 10000, tt.age), 1, now)
		require.NoError(t, err)
		assert.Equal(t, tt.want, leg.Components.Recency, tt.age.String())
	}
}

func TestEvaluateStructureIsLogicalAnd(t *testing.T) {
	g := NewGate(DefaultConfig())
	good := quote(28.40, 28.60, 8524, 15234, 2*time.Minute)
	tight := quote(10.00, 10.02, 5000, 10000, time.Minute)
	bad := quote(2.10, 2.50, 35, 248, 45*time.Minute)

	res, err := g.EvaluateStructure([]market.OptionQuote{good, tight}, 2, now)
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, 92.0, res.Score)
	assert.Equal(t, Acceptable, res.Tier)
	assert.Len(t, res.Legs, 2)

	res, err = g.EvaluateStructure([]market.OptionQuote{good, bad}, 2, now)
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, Poor, res.Tier)
	assert.NotEmpty(t, res.Failures)

	res, err = g.EvaluateStructure(nil, 1, now)
	require.NoError(t, err)
	assert.False(t, res.Approved)
}
