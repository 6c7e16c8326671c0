package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/liquidity"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/sizing"
)

func ironCondorRequest(units int, withQuotes bool) Request {
	st := &mechanism.TradeStructure{
		Family:     mechanism.IronCondor,
		Underlying: "ACME",
		Legs: []mechanism.Leg{
			leg(mechanism.Sell, options.Put, 95, 1.20),
			leg(mechanism.Buy, options.Put, 90, 0.50),
			leg(mechanism.Sell, options.Call, 105, 1.10),
			leg(mechanism.Buy, options.Call, 110, 0.40),
		},
		NetPremium: -1.40,
		MaxProfit:  140,
		MaxLoss:    360,
		Direction:  mechanism.NeutralDirection,
	}
	req := request()
	req.Selection = &mechanism.Selection{Mechanism: mechanism.VarianceRiskPremium, Structure: st}
	req.Sizing = &sizing.Result{Units: units, Pass: true}
	req.Liquidity = nil
	if withQuotes {
		req.Liquidity = &liquidity.StructureResult{
			Approved: true,
			Legs: []liquidity.LegResult{
				{Quote: quoteFor(st.Legs[0], 1.15, 1.25)},
				{Quote: quoteFor(st.Legs[1], 0.45, 0.55)},
				{Quote: quoteFor(st.Legs[2], 1.05, 1.15)},
				{Quote: quoteFor(st.Legs[3], 0.35, 0.45)},
			},
		}
	}
	return req
}

func TestExecutionParamsCredit(t *testing.T) {
	g := &Gate{config: DefaultConfig()}
	ex := g.executionParams(ironCondorRequest(3, true))

	assert.True(t, ex.Credit)
	assert.Equal(t, "1.40", ex.LimitMid.StringFixed(2))
	assert.Equal(t, "1.30", ex.LimitLow.StringFixed(2))
	assert.Equal(t, "1.50", ex.LimitHigh.StringFixed(2))
	assert.Equal(t, "2.80", ex.StopLoss.StringFixed(2))
	require.Len(t, ex.ProfitTargets, 2)
	assert.Equal(t, "0.70", ex.ProfitTargets[0].Price.StringFixed(2))
	assert.Equal(t, "0.35", ex.ProfitTargets[1].Price.StringFixed(2))
	assert.Equal(t, 2, ex.ProfitTargets[0].Units)
	assert.Equal(t, 1, ex.ProfitTargets[1].Units)
}

func TestExecutionParamsTheoreticalFallback(t *testing.T) {
	g := &Gate{config: DefaultConfig()}
	ex := g.executionParams(ironCondorRequest(2, false))

	assert.Equal(t, "1.40", ex.LimitMid.StringFixed(2))
	assert.Equal(t, "1.39", ex.LimitLow.StringFixed(2))
	assert.Equal(t, "1.41", ex.LimitHigh.StringFixed(2))
}

func TestExecutionParamsUncappedUpside(t *testing.T) {
	st := &mechanism.TradeStructure{
		Family:             mechanism.LongStraddle,
		Underlying:         "ACME",
		Legs:               []mechanism.Leg{leg(mechanism.Buy, options.Call, 100, 3.00), leg(mechanism.Buy, options.Put, 100, 2.50)},
		NetPremium:         5.50,
		MaxProfitUnlimited: true,
		MaxLoss:            550,
		Direction:          mechanism.NeutralDirection,
	}
	req := request()
	req.Selection = &mechanism.Selection{Mechanism: mechanism.EarningsVolatility, Structure: st}
	req.Sizing = &sizing.Result{Units: 1, Pass: true}
	req.Liquidity = nil

	ex := (&Gate{config: DefaultConfig()}).executionParams(req)
	assert.Equal(t, "5.50", ex.LimitMid.StringFixed(2))
	assert.Equal(t, "2.75", ex.StopLoss.StringFixed(2))
	require.Len(t, ex.ProfitTargets, 2)
	assert.Equal(t, "8.25", ex.ProfitTargets[0].Price.StringFixed(2))
	assert.Equal(t, "9.63", ex.ProfitTargets[1].Price.StringFixed(2))
	assert.Equal(t, 1, ex.ProfitTargets[0].Units)
	assert.Equal(t, 0, ex.ProfitTargets[1].Units)
}

func TestStageTargets(t *testing.T) {
	tests := []struct {
		units int
		want  []int
	}{
		{0, []int{0, 0}},
		{1, []int{1, 0}},
		{4, []int{2, 2}},
		{5, []int{3, 2}},
	}
	for _, tt := range tests {
		g := &Gate{config: DefaultConfig()}
		req := ironCondorRequest(tt.units, true)
		ex := g.executionParams(req)
		got := []int{ex.ProfitTargets[0].Units, ex.ProfitTargets[1].Units}
		assert.Equal(t, tt.want, got)
	}
}
