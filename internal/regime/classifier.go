package regime

import (
	"context"
	"sort"
	"time"

	"github.com/sawpanic/tradegate/internal/domain/indicators"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/policy"
)

// Signal names
const (
	SignalTrend            = "trend"
	SignalMomentum         = "momentum"
	SignalVolatility       = "volatility"
	SignalVolatilityTrend  = "volatility_trend"
	SignalSectorBreadth    = "sector_breadth"
	SignalSectorLeadership = "sector_leadership"
	SignalMacro            = "macro"
)

// Override labels
const (
	OverrideCrisis      = "crisis_defensive"
	OverrideBearishBias = "bearish_bias"
)

// Confidence tiers
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Config holds classifier thresholds
type Config struct {
	MaxDataAge          time.Duration `yaml:"max_data_age"`         // Default: 15m
	MinBenchmarkCloses  int           `yaml:"min_benchmark_closes"` // Default: 200 (MA200)
	MinSectorCloses     int           `yaml:"min_sector_closes"`    // Default: 21 (20-day return)
	RSIPeriod           int           `yaml:"rsi_period"`           // Default: 14
	RSIBullish          float64       `yaml:"rsi_bullish"`          // Default: 60
	RSIBearish          float64       `yaml:"rsi_bearish"`          // Default: 40
	VIXLow              float64       `yaml:"vix_low"`              // Default: 15
	VIXNormal           float64       `yaml:"vix_normal"`           // Default: 20
	VIXHigh             float64       `yaml:"vix_high"`             // Default: 30
	CrisisVIX           float64       `yaml:"crisis_vix"`           // Default: 40
	ElevatedVIX         float64       `yaml:"elevated_vix"`         // Default: 20
	BreadthLookback     int           `yaml:"breadth_lookback"`     // Default: 20 days
	Cyclical            []string      `yaml:"cyclical"`
	Defensive           []string      `yaml:"defensive"`
	HighConfidencePct   float64       `yaml:"high_confidence_pct"`   // Default: 70
	MediumConfidencePct float64       `yaml:"medium_confidence_pct"` // Default: 50
}

// DefaultConfig returns the production classifier thresholds
func DefaultConfig() Config {
	return Config{
		MaxDataAge:          15 * time.Minute,
		MinBenchmarkCloses:  200,
		MinSectorCloses:     21,
		RSIPeriod:           14,
		RSIBullish:          60,
		RSIBearish:          40,
		VIXLow:              15,
		VIXNormal:           20,
		VIXHigh:             30,
		CrisisVIX:           40,
		ElevatedVIX:         20,
		BreadthLookback:     20,
		Cyclical:            []string{"XLK", "XLY", "XLF", "XLI", "XLB", "XLE"},
		Defensive:           []string{"XLP", "XLU", "XLV"},
		HighConfidencePct:   70,
		MediumConfidencePct: 50,
	}
}

// IsCyclical reports whether a sector is in the cyclical/growth set
func (c Config) IsCyclical(sector string) bool { return contains(c.Cyclical, sector) }

// IsDefensive reports whether a sector is in the defensive set
func (c Config) IsDefensive(sector string) bool { return contains(c.Defensive, sector) }

// Signal is one scored component of the assessment
type Signal struct {
	Name   string  `json:"name"`
	Score  int     `json:"score"`
	Value  float64 `json:"value"`
	Detail string  `json:"detail,omitempty"`
}

// Inputs echoes the values the signals were computed from
type Inputs struct {
	Price           float64 `json:"price"`
	MA20            float64 `json:"ma20"`
	MA50            float64 `json:"ma50"`
	MA200           float64 `json:"ma200"`
	RSI             float64 `json:"rsi"`
	VIX             float64 `json:"vix"`
	VIXAverage      float64 `json:"vix_average"`
	PositiveSectors int     `json:"positive_sectors"`
	Leader          string  `json:"leader"`
	LeaderReturn    float64 `json:"leader_return"`
}

// Assessment is the regime classification for one snapshot
type Assessment struct {
	AsOf            time.Time   `json:"as_of"`
	Signals         []Signal    `json:"signals"`
	TotalScore      int         `json:"total_score"`
	BaseDisposition Disposition `json:"base_disposition"`
	Disposition     Disposition `json:"disposition"`
	NetDeltaTarget  int         `json:"net_delta_target"`
	ConfidencePct   float64     `json:"confidence_pct"`
	ConfidenceTier  string      `json:"confidence_tier"`
	ConvictionTier  string      `json:"conviction_tier"`
	Overrides       []string    `json:"overrides,omitempty"`
	Inputs          Inputs      `json:"inputs"`
}

// Signal returns the named signal
func (a *Assessment) Signal(name string) (Signal, bool) {
	for _, s := range a.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return Signal{}, false
}

// HasOverride reports whether the named override fired
func (a *Assessment) HasOverride(name string) bool { return contains(a.Overrides, name) }

// Classifier scores a market snapshot into a disposition
type Classifier struct {
	config Config
	now    func() time.Time
}

// NewClassifier creates a classifier with the wall clock
func NewClassifier(config Config) *Classifier {
	return NewClassifierWithClock(config, time.Now)
}

// NewClassifierWithClock creates a classifier with an injected clock
func NewClassifierWithClock(config Config, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{config: config, now: now}
}

// Config returns the classifier thresholds
func (c *Classifier) Config() Config { return c.config }

// Classify scores snap. Stale or short inputs are DataUnavailable; a
// non-positive benchmark price is a ValidationError.
func (c *Classifier) Classify(ctx context.Context, snap *market.MarketSnapshot) (*Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, policy.FromContext("regime", err)
	}
	if err := c.validate(snap); err != nil {
		return nil, err
	}

	closes := snap.Benchmark.Closes
	price := indicators.Last(closes)
	ma20, _ := indicators.SMA(closes, 20)
	ma50, _ := indicators.SMA(closes, 50)
	ma200, _ := indicators.SMA(closes, 200)
	rsi := indicators.CalculateRSI(closes, c.config.RSIPeriod).Value

	in := Inputs{
		Price:      price,
		MA20:       ma20,
		MA50:       ma50,
		MA200:      ma200,
		RSI:        rsi,
		VIX:        snap.VIX,
		VIXAverage: snap.VIXAverage,
	}

	signals := []Signal{
		{Name: SignalTrend, Score: compare(price, ma20) + compare(ma20, ma50) + compare(ma50, ma200), Value: price},
		{Name: SignalMomentum, Score: c.momentumScore(rsi), Value: rsi},
		{Name: SignalVolatility, Score: c.volatilityScore(snap.VIX), Value: snap.VIX},
		{Name: SignalVolatilityTrend, Score: compare(snap.VIXAverage, snap.VIX), Value: snap.VIX - snap.VIXAverage},
	}

	breadth, leader, leaderRet := c.sectorState(snap)
	in.PositiveSectors, in.Leader, in.LeaderReturn = breadth, leader, leaderRet
	signals = append(signals,
		Signal{Name: SignalSectorBreadth, Score: breadthScore(breadth), Value: float64(breadth)},
		Signal{Name: SignalSectorLeadership, Score: c.leadershipScore(leader), Value: leaderRet, Detail: leader},
	)
	if snap.Macro != nil {
		signals = append(signals, Signal{Name: SignalMacro, Score: clampInt(*snap.Macro, -1, 1), Value: float64(*snap.Macro)})
	}

	total := 0
	for _, s := range signals {
		total += s.Score
	}

	a := &Assessment{
		AsOf:            snap.Timestamp,
		Signals:         signals,
		TotalScore:      total,
		BaseDisposition: DispositionForScore(total),
		Inputs:          in,
	}
	a.ConfidencePct = confidence(signals, total)
	a.ConfidenceTier = c.tier(a.ConfidencePct)
	a.ConvictionTier = a.ConfidenceTier

	d := a.BaseDisposition
	if snap.VIX > c.config.CrisisVIX {
		if d.Tier() > Bear.Tier() {
			d = Bear
		}
		a.Overrides = append(a.Overrides, OverrideCrisis)
	}
	if price < ma200 && snap.VIX > c.config.ElevatedVIX {
		d = d.Shift(-1)
		a.Overrides = append(a.Overrides, OverrideBearishBias)
	}
	a.Disposition = d
	a.NetDeltaTarget = d.NetDeltaTarget()

	return a, nil
}

func (c *Classifier) validate(snap *market.MarketSnapshot) error {
	if snap == nil {
		return policy.Unavailable("snapshot", "no snapshot")
	}
	if age := c.now().Sub(snap.Timestamp); age > c.config.MaxDataAge {
		return policy.Unavailable("snapshot", "snapshot is %s old, max %s", age.Round(time.Second), c.config.MaxDataAge)
	}
	if n := len(snap.Benchmark.Closes); n < c.config.MinBenchmarkCloses {
		return policy.Unavailable("benchmark", "%d closes, need %d", n, c.config.MinBenchmarkCloses)
	}
	if len(snap.Sectors) < len(market.DefaultSectors) {
		return policy.Unavailable("sectors", "%d sectors, need %d", len(snap.Sectors), len(market.DefaultSectors))
	}
	for _, s := range snap.Sectors {
		if len(s.Closes) < c.config.MinSectorCloses {
			return policy.Unavailable("sectors", "%s has %d closes, need %d", s.Symbol, len(s.Closes), c.config.MinSectorCloses)
		}
	}
	if snap.VIX <= 0 || snap.VIXAverage <= 0 {
		return policy.Unavailable("vix", "volatility index missing")
	}
	if p := snap.Benchmark.Last(); p <= 0 {
		return policy.Invalid("benchmark.price", p, "must be positive")
	}
	return nil
}

func (c *Classifier) momentumScore(rsi float64) int {
	switch {
	case rsi > c.config.RSIBullish:
		return 1
	case rsi < c.config.RSIBearish:
		return -1
	}
	return 0
}

func (c *Classifier) volatilityScore(vix float64) int {
	switch {
	case vix < c.config.VIXLow:
		return 1
	case vix < c.config.VIXNormal:
		return 0
	case vix < c.config.VIXHigh:
		return -1
	}
	return -2
}

// sectorState counts sectors with a positive lookback return and finds the leader
func (c *Classifier) sectorState(snap *market.MarketSnapshot) (int, string, float64) {
	type perf struct {
		symbol string
		ret    float64
	}
	perfs := make([]perf, 0, len(snap.Sectors))
	positive := 0
	for _, s := range snap.Sectors {
		r, ok := indicators.PeriodReturn(s.Closes, c.config.BreadthLookback)
		if !ok {
			continue
		}
		if r > 0 {
			positive++
		}
		perfs = append(perfs, perf{s.Symbol, r})
	}
	if len(perfs) == 0 {
		return 0, "", 0
	}
	sort.Slice(perfs, func(i, j int) bool {
		if perfs[i].ret != perfs[j].ret {
			return perfs[i].ret > perfs[j].ret
		}
		return perfs[i].symbol < perfs[j].symbol
	})
	return positive, perfs[0].symbol, perfs[0].ret
}

func (c *Classifier) leadershipScore(leader string) int {
	switch {
	case c.config.IsCyclical(leader):
		return 1
	case c.config.IsDefensive(leader):
		return -1
	}
	return 0
}

func (c *Classifier) tier(pct float64) string {
	switch {
	case pct >= c.config.HighConfidencePct:
		return ConfidenceHigh
	case pct >= c.config.MediumConfidencePct:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

func breadthScore(positive int) int {
	switch {
	case positive >= 8:
		return 2
	case positive >= 6:
		return 1
	case positive >= 4:
		return 0
	case positive >= 2:
		return -1
	}
	return -2
}

// confidence is the share of signals agreeing in sign with the total
func confidence(signals []Signal, total int) float64 {
	if len(signals) == 0 {
		return 0
	}
	want := sign(total)
	agree := 0
	for _, s := range signals {
		if sign(s.Score) == want {
			agree++
		}
	}
	return float64(agree) / float64(len(signals)) * 100
}

func compare(a, b float64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
