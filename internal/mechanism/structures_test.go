package mechanism

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain/options"
)

var asOf = time.Date(2024, time.March, 4, 15, 30, 0, 0, time.UTC)

func testBuilder() builder {
	return newBuilder("ACME", 100, 30, options.DefaultRiskFreeRate, asOf, 3)
}

func TestDebitSpread(t *testing.T) {
	tests := []struct {
		name   string
		dir    Direction
		family Family
		right  options.Right
	}{
		{"bull call", Bullish, BullCallSpread, options.Call},
		{"bear put", Bearish, BearPutSpread, options.Put},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := testBuilder().debitSpread(tt.dir, 0.55, 0.30, 45)
			require.NoError(t, err)
			require.Len(t, s.Legs, 2)
			assert.Equal(t, tt.family, s.Family)
			assert.Equal(t, tt.dir, s.Direction)

			long, short := s.Legs[0], s.Legs[1]
			assert.Equal(t, Buy, long.Action)
			assert.Equal(t, Sell, short.Action)
			assert.Equal(t, tt.right, long.Right)
			if tt.right == options.Call {
				assert.Less(t, long.Strike, short.Strike)
				assert.InDelta(t, long.Strike+s.NetPremium, s.Breakevens[0], 0.01)
				assert.Greater(t, s.NetDelta, 0.0)
			} else {
				assert.Greater(t, long.Strike, short.Strike)
				assert.InDelta(t, long.Strike-s.NetPremium, s.Breakevens[0], 0.01)
				assert.Less(t, s.NetDelta, 0.0)
			}

			width := math.Abs(long.Strike - short.Strike)
			assert.False(t, s.Credit())
			assert.InDelta(t, s.NetPremium*100, s.MaxLoss, 0.01)
			assert.InDelta(t, width*100, s.MaxLoss+s.MaxProfit, 0.02)
			assert.InDelta(t, s.MaxLoss, s.CapitalPerUnit(), 0.01)
			assert.Equal(t, 46, long.ExpirationDays)
		})
	}
}

func TestIronCondor(t *testing.T) {
	s, err := testBuilder().ironCondor(0.16, 2, 45)
	require.NoError(t, err)
	require.Len(t, s.Legs, 4)

	assert.Equal(t, []float64{1, -1, -1, 1}, s.Signs())
	putWing, putShort, callShort, callWing := s.Legs[0], s.Legs[1], s.Legs[2], s.Legs[3]
	assert.Equal(t, 5.0, putShort.Strike-putWing.Strike)
	assert.Equal(t, 5.0, callWing.Strike-callShort.Strike)
	assert.Less(t, putShort.Strike, 100.0)
	assert.Greater(t, callShort.Strike, 100.0)

	assert.True(t, s.Credit())
	assert.True(t, s.Family.Credit())
	assert.True(t, s.Defensive())
	assert.InDelta(t, 500, s.MaxProfit+s.MaxLoss, 0.02)
	assert.InDelta(t, -s.NetPremium*100, s.MaxProfit, 0.01)
	assert.Equal(t, s.MaxLoss, s.CapitalPerUnit())
	require.Len(t, s.Breakevens, 2)
	assert.Less(t, s.Breakevens[0], putShort.Strike)
	assert.Greater(t, s.Breakevens[1], callShort.Strike)
}

func TestShortStrangleStressLoss(t *testing.T) {
	s, err := testBuilder().shortStrangle(0.16, 45)
	require.NoError(t, err)

	assert.True(t, s.UndefinedRisk)
	assert.False(t, s.Defensive())
	assert.Greater(t, s.MaxLoss, s.MaxProfit)
	ratio, unlimited := s.RewardRisk()
	assert.False(t, unlimited)
	assert.Less(t, ratio, 1.0)
}

func TestCalendar(t *testing.T) {
	b := testBuilder()
	s, err := b.calendar(100, 30, 60)
	require.NoError(t, err)
	require.Len(t, s.Legs, 2)

	front, back := s.Legs[0], s.Legs[1]
	assert.Equal(t, Sell, front.Action)
	assert.Equal(t, Buy, back.Action)
	assert.Equal(t, options.Call, front.Right)
	assert.True(t, back.Expiration.After(front.Expiration))
	assert.Equal(t, front.Expiration, s.NearestExpiration())
	assert.Equal(t, NeutralDirection, s.Direction)

	assert.Greater(t, s.NetPremium, 0.0)
	assert.InDelta(t, s.NetPremium*100, s.MaxLoss, 0.01)
	assert.Greater(t, s.MaxProfit, 0.0)
	require.Len(t, s.Breakevens, 2)
	assert.Less(t, s.Breakevens[0], 100.0)
	assert.Greater(t, s.Breakevens[1], 100.0)

	below, err := b.calendar(95, 30, 60)
	require.NoError(t, err)
	assert.Equal(t, options.Put, below.Legs[0].Right)
	assert.Equal(t, Bearish, below.Direction)
}

func TestStraddleExpiresAfterEarnings(t *testing.T) {
	s, err := testBuilder().straddle(17)
	require.NoError(t, err)

	assert.True(t, s.MaxProfitUnlimited)
	assert.GreaterOrEqual(t, s.Legs[0].ExpirationDays, 17)
	assert.Equal(t, s.Legs[0].Strike, s.Legs[1].Strike)
	ratio, unlimited := s.RewardRisk()
	assert.True(t, unlimited)
	assert.True(t, math.IsInf(ratio, 1))
	assert.InDelta(t, s.Legs[0].Strike-s.NetPremium, s.Breakevens[0], 0.01)
}

func TestSyntheticLong(t *testing.T) {
	s, err := testBuilder().syntheticLong(60)
	require.NoError(t, err)

	assert.True(t, s.UndefinedRisk)
	assert.True(t, s.MaxProfitUnlimited)
	assert.False(t, s.Defensive())
	assert.InDelta(t, 100, s.NetDelta, 5)
	assert.Greater(t, s.CapitalPerUnit(), 2000.0)
	assert.Greater(t, s.MaxLoss, 0.0)
}

func TestContractsAndString(t *testing.T) {
	s, err := testBuilder().debitSpread(Bullish, 0.55, 0.30, 45)
	require.NoError(t, err)

	contracts := s.Contracts()
	require.Len(t, contracts, 2)
	assert.Equal(t, "ACME", contracts[0].Underlying)
	assert.Equal(t, s.Legs[1].Strike, contracts[1].Strike)
	assert.Contains(t, s.String(), "ACME bull_call_spread [buy call")
}
