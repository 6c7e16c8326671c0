package strength

import (
	"math"

	"github.com/sawpanic/tradegate/internal/regime"
)

// Category buckets a composite relative-strength score
type Category string

const (
	StrongLeader  Category = "strong_leader"
	Leader        Category = "leader"
	NeutralRS     Category = "neutral"
	Laggard       Category = "laggard"
	StrongLaggard Category = "strong_laggard"
)

// Leading reports whether the category outperforms the benchmark
func (c Category) Leading() bool { return c == StrongLeader || c == Leader }

// Trend classifies an instrument's price structure
type Trend string

const (
	Uptrend    Trend = "uptrend"
	Downtrend  Trend = "downtrend"
	RangeBound Trend = "range_bound"
	WeakTrend  Trend = "weak_trend"
)

// Weights blends the three relative-strength horizons
type Weights struct {
	RS20 float64 `yaml:"rs20" json:"rs20"`
	RS40 float64 `yaml:"rs40" json:"rs40"`
	RS60 float64 `yaml:"rs60" json:"rs60"`
}

// Sum returns the total weight
func (w Weights) Sum() float64 { return w.RS20 + w.RS40 + w.RS60 }

// Composite blends RS values with the weights
func (w Weights) Composite(rs20, rs40, rs60 float64) float64 {
	return w.RS20*rs20 + w.RS40*rs40 + w.RS60*rs60
}

// Config holds ranking thresholds
type Config struct {
	Weights               Weights  `yaml:"weights"`
	StrongLeaderPct       float64  `yaml:"strong_leader_pct"`       // Default: 5 (percentage points)
	LeaderPct             float64  `yaml:"leader_pct"`              // Default: 2
	LaggardPct            float64  `yaml:"laggard_pct"`             // Default: -2
	StrongLaggardPct      float64  `yaml:"strong_laggard_pct"`      // Default: -5
	TopSectors            int      `yaml:"top_sectors"`             // Default: 3
	MinTrendQuality       float64  `yaml:"min_trend_quality"`       // Default: 7
	MaxDailyVolatility    float64  `yaml:"max_daily_volatility"`    // Default: 2.0 (% stdev of daily returns)
	VolatilityLookback    int      `yaml:"volatility_lookback"`     // Default: 20
	MinAvgVolume          float64  `yaml:"min_avg_volume"`          // Default: 500k shares
	MinPrice              float64  `yaml:"min_price"`               // Default: $5
	EarningsExclusionDays int      `yaml:"earnings_exclusion_days"` // Default: 10
	MinChecklistRatio     float64  `yaml:"min_checklist_ratio"`     // Default: 0.5
	SectorRSWeight        float64  `yaml:"sector_rs_weight"`        // Default: 0.6
	BenchmarkRSWeight     float64  `yaml:"benchmark_rs_weight"`     // Default: 0.4
	RSScoreWeight         float64  `yaml:"rs_score_weight"`         // Default: 0.6
	ChecklistWeight       float64  `yaml:"checklist_weight"`        // Default: 0.4
	RangeMASpreadPct      float64  `yaml:"range_ma_spread_pct"`     // Default: 1.0
	RangeReturnPct        float64  `yaml:"range_return_pct"`        // Default: 3.0
	Cyclical              []string `yaml:"cyclical"`
	Defensive             []string `yaml:"defensive"`
}

// DefaultConfig returns production ranking thresholds
func DefaultConfig() Config {
	groups := regime.DefaultConfig()
	return Config{
		Weights:               Weights{RS20: 0.5, RS40: 0.3, RS60: 0.2},
		StrongLeaderPct:       5,
		LeaderPct:             2,
		LaggardPct:            -2,
		StrongLaggardPct:      -5,
		TopSectors:            3,
		MinTrendQuality:       7,
		MaxDailyVolatility:    2.0,
		VolatilityLookback:    20,
		MinAvgVolume:          500000,
		MinPrice:              5,
		EarningsExclusionDays: 10,
		MinChecklistRatio:     0.5,
		SectorRSWeight:        0.6,
		BenchmarkRSWeight:     0.4,
		RSScoreWeight:         0.6,
		ChecklistWeight:       0.4,
		RangeMASpreadPct:      1.0,
		RangeReturnPct:        3.0,
		Cyclical:              groups.Cyclical,
		Defensive:             groups.Defensive,
	}
}

// Categorize buckets a composite score
func (c Config) Categorize(composite float64) Category {
	switch {
	case composite > c.StrongLeaderPct:
		return StrongLeader
	case composite > c.LeaderPct:
		return Leader
	case composite >= c.LaggardPct:
		return NeutralRS
	case composite >= c.StrongLaggardPct:
		return Laggard
	}
	return StrongLaggard
}

// SectorRanking is one sector's relative strength against the benchmark
type SectorRanking struct {
	Symbol       string   `json:"symbol"`
	Rank         int      `json:"rank"`
	RS20         float64  `json:"rs20"`
	RS40         float64  `json:"rs40"`
	RS60         float64  `json:"rs60"`
	Composite    float64  `json:"composite"`
	Category     Category `json:"category"`
	TrendQuality float64  `json:"trend_quality"`
	Volatility   float64  `json:"volatility"`
	Smooth       bool     `json:"smooth"`
	Aligned      bool     `json:"aligned"`
	Conflict     bool     `json:"conflict"`
	SkipReason   string   `json:"skip_reason,omitempty"`
}

// Ranking is the ordered sector list and the selected sector
type Ranking struct {
	Disposition regime.Disposition `json:"disposition"`
	Sectors     []SectorRanking    `json:"sectors"`
	Selected    *SectorRanking     `json:"selected,omitempty"`
}

// Checklist is the instrument technical checklist
type Checklist struct {
	AboveMAs           bool `json:"above_mas"`
	NoNearEarnings     bool `json:"no_near_earnings"`
	VolumeAboveAverage bool `json:"volume_above_average"`
}

// Ratio is the fraction of checklist items passed
func (c Checklist) Ratio() float64 {
	n := 0
	for _, ok := range []bool{c.AboveMAs, c.NoNearEarnings, c.VolumeAboveAverage} {
		if ok {
			n++
		}
	}
	return float64(n) / 3
}

// InstrumentCandidate is a ranked, checklist-screened instrument
type InstrumentCandidate struct {
	Ticker           string    `json:"ticker"`
	Sector           string    `json:"sector"`
	Rank             int       `json:"rank"`
	Price            float64   `json:"price"`
	RSvsSector       float64   `json:"rs_vs_sector"`
	RSvsBenchmark    float64   `json:"rs_vs_benchmark"`
	Category         Category  `json:"category"`
	RSScore          float64   `json:"rs_score"`
	Checklist        Checklist `json:"checklist"`
	ChecklistRatio   float64   `json:"checklist_ratio"`
	TechnicalQuality float64   `json:"technical_quality"`
	FinalScore       float64   `json:"final_score"`
	Trend            Trend     `json:"trend"`
	DeviationZ       float64   `json:"deviation_z"`
	Mean20           float64   `json:"mean20"`
	IV               float64   `json:"iv"`
	IVPercentile     float64   `json:"iv_percentile"`
	RealizedVol      float64   `json:"realized_vol"`
	EarningsKnown    bool      `json:"earnings_known"`
	DaysToEarnings   int       `json:"days_to_earnings"`
	AvgVolume        float64   `json:"avg_volume"`
	Beta             float64   `json:"beta"`
	SpreadPct        float64   `json:"spread_pct"`
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
