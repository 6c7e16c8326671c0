package gates

import (
	"github.com/shopspring/decimal"

	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/mechanism"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(options.ContractMultiplier)
)

// netQuote returns the net mid and the summed leg spreads per share. Live
// quotes are used when every leg has one; otherwise theoretical prices with
// no spread.
func netQuote(req Request) (mid, spread decimal.Decimal) {
	st := req.Selection.Structure
	signs := st.Signs()

	if req.Liquidity != nil && len(req.Liquidity.Legs) == len(st.Legs) {
		for i, leg := range req.Liquidity.Legs {
			sign := decimal.NewFromFloat(signs[i])
			bid := decimal.NewFromFloat(leg.Quote.Bid)
			ask := decimal.NewFromFloat(leg.Quote.Ask)
			mid = mid.Add(sign.Mul(bid.Add(ask).Div(two)))
			spread = spread.Add(sign.Abs().Mul(ask.Sub(bid)))
		}
		return mid, spread
	}
	for i, leg := range st.Legs {
		mid = mid.Add(decimal.NewFromFloat(signs[i]).Mul(decimal.NewFromFloat(leg.TheoPrice)))
	}
	return mid, decimal.Zero
}

// executionParams prices the limit band, stop, staged targets and time exit
func (g *Gate) executionParams(req Request) *ExecutionParams {
	cfg := g.config
	st := req.Selection.Structure
	units := 0
	if req.Sizing != nil {
		units = req.Sizing.Units
	}

	netMid, spread := netQuote(req)
	mid := netMid.Abs()
	band := decimal.Max(spread.Div(two).Mul(decimal.NewFromFloat(cfg.LimitBandFrac)), decimal.NewFromFloat(cfg.MinLimitBand))
	low := decimal.Max(mid.Sub(band), decimal.Zero)

	p := &ExecutionParams{
		LimitLow:  low.Round(2),
		LimitMid:  mid.Round(2),
		LimitHigh: mid.Add(band).Round(2),
		Credit:    st.Family.Credit(),
		Units:     units,
		TimeExit:  st.NearestExpiration().AddDate(0, 0, -cfg.TimeExitDays),
	}

	var prices []decimal.Decimal
	if p.Credit {
		p.StopLoss = mid.Mul(decimal.NewFromFloat(1 + cfg.CreditStopMultiple)).Round(2)
		for _, f := range cfg.CreditTargetFracs {
			prices = append(prices, mid.Mul(decimal.NewFromFloat(f)))
		}
	} else {
		p.StopLoss = mid.Mul(decimal.NewFromFloat(1 - cfg.DebitStopFrac)).Round(2)
		upside := profitPerShare(st, mid)
		for _, f := range cfg.DebitTargetFracs {
			prices = append(prices, mid.Add(upside.Mul(decimal.NewFromFloat(f))))
		}
	}
	p.ProfitTargets = stageTargets(prices, units)
	return p
}

// profitPerShare is max profit per share; an uncapped structure uses the
// debit itself so targets sit at 1.5x and 1.75x what was paid.
func profitPerShare(st *mechanism.TradeStructure, debit decimal.Decimal) decimal.Decimal {
	if _, unlimited := st.RewardRisk(); unlimited {
		return debit
	}
	return decimal.NewFromFloat(st.MaxProfit).Div(hundred)
}

// stageTargets closes half the units at each target; the last takes what is left
func stageTargets(prices []decimal.Decimal, units int) []Target {
	out := make([]Target, 0, len(prices))
	remaining := units
	for i, price := range prices {
		n := (units + 1) / 2
		if i == len(prices)-1 || n > remaining {
			n = remaining
		}
		remaining -= n
		out = append(out, Target{Price: price.Round(2), Units: n})
	}
	return out
}
