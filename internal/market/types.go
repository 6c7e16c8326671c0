package market

import (
	"time"

	"github.com/sawpanic/tradegate/internal/domain/options"
)

// BenchmarkSymbol is the broad-market index proxy used for relative strength and beta
const BenchmarkSymbol = "SPY"

// DefaultSectors lists the nine sector benchmarks tracked per cycle
var DefaultSectors = []string{"XLB", "XLE", "XLF", "XLI", "XLK", "XLP", "XLU", "XLV", "XLY"}

// Series is a daily close (and optional volume) history, oldest first
type Series struct {
	Symbol  string    `json:"symbol"`
	Closes  []float64 `json:"closes"`
	Volumes []float64 `json:"volumes,omitempty"`
}

// Last returns the most recent close
func (s Series) Last() float64 {
	if len(s.Closes) == 0 {
		return 0
	}
	return s.Closes[len(s.Closes)-1]
}

// MarketSnapshot is the immutable market state for one analysis cycle
type MarketSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Benchmark  Series    `json:"benchmark"`
	VIX        float64   `json:"vix"`
	VIXAverage float64   `json:"vix_average"`
	Sectors    []Series  `json:"sectors"`
	Macro      *int      `json:"macro,omitempty"` // optional -1..+1 macro signal
}

// Sector returns the named sector series
func (s *MarketSnapshot) Sector(symbol string) (Series, bool) {
	for _, sec := range s.Sectors {
		if sec.Symbol == symbol {
			return sec, true
		}
	}
	return Series{}, false
}

// Instrument is the per-ticker state consumed by ranking and mechanism selection
type Instrument struct {
	Ticker       string     `json:"ticker"`
	Sector       string     `json:"sector"`
	AsOf         time.Time  `json:"as_of"`
	Closes       []float64  `json:"closes"`
	Volumes      []float64  `json:"volumes"`
	AvgVolume    float64    `json:"avg_volume"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	IV           float64    `json:"iv"`            // implied volatility, percent
	IVPercentile float64    `json:"iv_percentile"` // 0-100
	Beta         float64    `json:"beta"`
	NextEarnings *time.Time `json:"next_earnings,omitempty"`
}

// Price returns the last close
func (i *Instrument) Price() float64 {
	if len(i.Closes) == 0 {
		return 0
	}
	return i.Closes[len(i.Closes)-1]
}

// SpreadPct returns the equity quote spread as a percent of mid
func (i *Instrument) SpreadPct() float64 {
	mid := (i.Bid + i.Ask) / 2
	if mid <= 0 {
		return 0
	}
	return (i.Ask - i.Bid) / mid * 100
}

// OptionContract identifies a listed option
type OptionContract struct {
	Underlying string        `json:"underlying"`
	Right      options.Right `json:"right"`
	Strike     float64       `json:"strike"`
	Expiration time.Time     `json:"expiration"`
}

// OptionQuote is the top-of-book and activity snapshot for one contract
type OptionQuote struct {
	Contract        OptionContract `json:"contract"`
	Bid             float64        `json:"bid"`
	Ask             float64        `json:"ask"`
	BidSize         int            `json:"bid_size"`
	AskSize         int            `json:"ask_size"`
	Volume          int            `json:"volume"`
	OpenInterest    int            `json:"open_interest"`
	LastTrade       time.Time      `json:"last_trade"`
	UnderlyingPrice float64        `json:"underlying_price"`
	IV              float64        `json:"iv,omitempty"`
}

// Mid returns the quote midpoint
func (q *OptionQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// EarningsInfo is the next scheduled earnings report for a ticker
type EarningsInfo struct {
	Ticker string     `json:"ticker"`
	Date   *time.Time `json:"date,omitempty"`
	Time   string     `json:"time"` // AMC, BMO or Unknown
	Source string     `json:"source"`
}

// MacroEvent is a scheduled market-wide release (FOMC, CPI, payrolls)
type MacroEvent struct {
	Name   string    `json:"name"`
	Date   time.Time `json:"date"`
	Impact string    `json:"impact"`
}
