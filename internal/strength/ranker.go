package strength

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sawpanic/tradegate/internal/domain/indicators"
	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/regime"
)

// horizons for relative strength, in trading days
var horizons = [3]int{20, 40, 60}

// Ranker orders sectors and instruments by relative strength
type Ranker struct {
	config Config
}

// NewRanker creates a ranker
func NewRanker(config Config) *Ranker {
	return &Ranker{config: config}
}

// Config returns the ranking thresholds
func (r *Ranker) Config() Config { return r.config }

// relativeStrength returns RS20/40/60 of asset over base in percentage points
func relativeStrength(asset, base []float64) ([3]float64, bool) {
	var rs [3]float64
	for i, h := range horizons {
		a, ok := indicators.PeriodReturn(asset, h)
		if !ok {
			return rs, false
		}
		b, ok := indicators.PeriodReturn(base, h)
		if !ok {
			return rs, false
		}
		rs[i] = a - b
	}
	return rs, true
}

// RankSectors ranks every sector against the benchmark and selects the first
// of the top sectors that is aligned, trending and smooth. When none
// qualifies the full ranking is returned together with NO_QUALIFYING_SECTOR.
func (r *Ranker) RankSectors(snap *market.MarketSnapshot, assessment *regime.Assessment) (*Ranking, error) {
	if snap == nil || assessment == nil {
		return nil, policy.Unavailable("sectors", "snapshot or assessment missing")
	}

	rankings := make([]SectorRanking, 0, len(snap.Sectors))
	for _, s := range snap.Sectors {
		rs, ok := relativeStrength(s.Closes, snap.Benchmark.Closes)
		if !ok {
			return nil, policy.Unavailable("sectors", "%s needs %d closes for relative strength", s.Symbol, horizons[2]+1)
		}
		composite := r.config.Weights.Composite(rs[0], rs[1], rs[2])
		rankings = append(rankings, SectorRanking{
			Symbol:    s.Symbol,
			RS20:      rs[0],
			RS40:      rs[1],
			RS60:      rs[2],
			Composite: composite,
			Category:  r.config.Categorize(composite),
		})
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		a, b := rankings[i], rankings[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if a.RS60 != b.RS60 {
			return a.RS60 > b.RS60
		}
		if a.RS40 != b.RS40 {
			return a.RS40 > b.RS40
		}
		return a.Symbol < b.Symbol
	})

	ranking := &Ranking{Disposition: assessment.Disposition, Sectors: rankings}
	for i := range rankings {
		sr := &rankings[i]
		sr.Rank = i + 1
		sr.Aligned, sr.Conflict = r.alignment(sr.Symbol, sr.Composite, assessment.Disposition)

		if i >= r.config.TopSectors {
			sr.SkipReason = fmt.Sprintf("outside top %d", r.config.TopSectors)
			continue
		}

		series, _ := snap.Sector(sr.Symbol)
		sr.TrendQuality = trendQuality(series.Closes)
		sr.Volatility, _ = indicators.DailyVolatility(series.Closes, r.config.VolatilityLookback)
		sr.Smooth = sr.Volatility <= r.config.MaxDailyVolatility

		switch {
		case ranking.Selected != nil:
			sr.SkipReason = "higher-ranked sector selected"
		case !sr.Aligned:
			sr.SkipReason = fmt.Sprintf("not aligned with %s disposition", assessment.Disposition)
		case sr.TrendQuality < r.config.MinTrendQuality:
			sr.SkipReason = fmt.Sprintf("trend quality %.0f below %.0f", sr.TrendQuality, r.config.MinTrendQuality)
		case !sr.Smooth:
			sr.SkipReason = fmt.Sprintf("daily volatility %.2f%% above %.2f%%", sr.Volatility, r.config.MaxDailyVolatility)
		default:
			ranking.Selected = sr
		}
	}

	if ranking.Selected == nil {
		return ranking, policy.Violation(policy.ReasonNoQualifyingSector, "sector_ranking",
			"none of the top %d sectors is aligned, trending and smooth", r.config.TopSectors)
	}
	return ranking, nil
}

// alignment reports whether a sector suits the disposition, and whether it conflicts
func (r *Ranker) alignment(symbol string, composite float64, d regime.Disposition) (aligned, conflict bool) {
	cyclical := contains(r.config.Cyclical, symbol)
	defensive := contains(r.config.Defensive, symbol)
	switch {
	case d.Bullish():
		return cyclical, defensive
	case d.Bearish():
		return defensive, cyclical
	}
	return composite >= 0, false
}

// trendQuality scores 10 for price > MA20 > MA50, 7 for price > MA50, else 0
func trendQuality(closes []float64) float64 {
	price := indicators.Last(closes)
	ma20, ok20 := indicators.SMA(closes, 20)
	ma50, ok50 := indicators.SMA(closes, 50)
	if !ok20 || !ok50 {
		return 0
	}
	switch {
	case price > ma20 && ma20 > ma50:
		return 10
	case price > ma50:
		return 7
	}
	return 0
}

// RankInstruments screens and ranks instruments within a sector. Instruments
// failing the liquidity precondition or the checklist are dropped; an empty
// result is NO_CANDIDATE.
func (r *Ranker) RankInstruments(sector string, snap *market.MarketSnapshot, instruments []market.Instrument) ([]InstrumentCandidate, error) {
	if snap == nil {
		return nil, policy.Unavailable("instruments", "snapshot missing")
	}
	sectorSeries, ok := snap.Sector(sector)
	if !ok {
		return nil, policy.Unavailable("instruments", "sector %s not in snapshot", sector)
	}

	var out []InstrumentCandidate
	for i := range instruments {
		c, ok := r.candidate(&instruments[i], sector, sectorSeries.Closes, snap)
		if !ok {
			continue
		}
		out = append(out, c)
	}

	if len(out) == 0 {
		return nil, policy.Violation(policy.ReasonNoCandidate, "instrument_ranking",
			"no instrument in %s passed liquidity and checklist screens", sector)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].Ticker < out[j].Ticker
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (r *Ranker) candidate(inst *market.Instrument, sector string, sectorCloses []float64, snap *market.MarketSnapshot) (InstrumentCandidate, bool) {
	price := inst.Price()
	if inst.AvgVolume < r.config.MinAvgVolume || price < r.config.MinPrice {
		return InstrumentCandidate{}, false
	}
	vsSector, ok := relativeStrength(inst.Closes, sectorCloses)
	if !ok {
		return InstrumentCandidate{}, false
	}
	vsBench, _ := relativeStrength(inst.Closes, snap.Benchmark.Closes)

	w := r.config.Weights
	c := InstrumentCandidate{
		Ticker:        strings.ToUpper(inst.Ticker),
		Sector:        sector,
		Price:         price,
		RSvsSector:    w.Composite(vsSector[0], vsSector[1], vsSector[2]),
		RSvsBenchmark: w.Composite(vsBench[0], vsBench[1], vsBench[2]),
		IV:            inst.IV,
		IVPercentile:  inst.IVPercentile,
		AvgVolume:     inst.AvgVolume,
		Beta:          inst.Beta,
		SpreadPct:     inst.SpreadPct(),
	}
	c.Category = r.config.Categorize(c.RSvsBenchmark)
	rs := r.config.SectorRSWeight*c.RSvsSector + r.config.BenchmarkRSWeight*c.RSvsBenchmark
	c.RSScore = clamp(5+rs/2, 0, 10)

	ma20, _ := indicators.SMA(inst.Closes, 20)
	ma50, _ := indicators.SMA(inst.Closes, 50)
	ma200, has200 := indicators.SMA(inst.Closes, 200)

	if inst.NextEarnings != nil {
		if d := options.DaysUntil(snap.Timestamp, *inst.NextEarnings); d >= 0 {
			c.EarningsKnown = true
			c.DaysToEarnings = d
		}
	}

	c.Checklist = Checklist{
		AboveMAs:           has200 && price > ma20 && price > ma50 && price > ma200,
		NoNearEarnings:     !c.EarningsKnown || c.DaysToEarnings > r.config.EarningsExclusionDays,
		VolumeAboveAverage: volumeAboveAverage(inst.Volumes),
	}
	c.ChecklistRatio = c.Checklist.Ratio()
	if c.ChecklistRatio < r.config.MinChecklistRatio {
		return InstrumentCandidate{}, false
	}
	c.FinalScore = r.config.RSScoreWeight*c.RSScore + r.config.ChecklistWeight*c.ChecklistRatio*10

	stacked := 0
	for _, ok := range []bool{price > ma20, ma20 > ma50, has200 && ma50 > ma200} {
		if ok {
			stacked++
		}
	}
	c.TechnicalQuality = round1(10 * float64(stacked) / 3)
	c.Trend = r.classifyTrend(inst.Closes, price, ma20, ma50)
	c.DeviationZ, _ = indicators.ZScore(inst.Closes, 20)
	c.Mean20 = ma20
	c.RealizedVol, _ = indicators.RealizedVolatility(inst.Closes, 20)
	return c, true
}

func (r *Ranker) classifyTrend(closes []float64, price, ma20, ma50 float64) Trend {
	switch {
	case price > ma20 && ma20 > ma50:
		return Uptrend
	case price < ma20 && ma20 < ma50:
		return Downtrend
	}
	ret20, _ := indicators.PeriodReturn(closes, 20)
	if ma50 > 0 && math.Abs(ma20/ma50-1)*100 < r.config.RangeMASpreadPct && math.Abs(ret20) < r.config.RangeReturnPct {
		return RangeBound
	}
	return WeakTrend
}

// volumeAboveAverage compares the latest volume with its 20-day average
func volumeAboveAverage(volumes []float64) bool {
	avg, ok := indicators.SMA(volumes, 20)
	return ok && indicators.Last(volumes) > avg
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
