package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sawpanic/tradegate/internal/domain/indicators"
	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/policy"
)

// HistoryLength is the number of daily closes the mock generates per series
const HistoryLength = 260

// defaultMembers maps each sector benchmark to a few liquid constituents
var defaultMembers = map[string][]string{
	"XLB": {"LIN", "SHW", "FCX", "NEM"},
	"XLE": {"XOM", "CVX", "COP", "SLB"},
	"XLF": {"JPM", "BAC", "GS", "MS"},
	"XLI": {"CAT", "GE", "HON", "UNP"},
	"XLK": {"AAPL", "MSFT", "NVDA", "AVGO", "ADBE"},
	"XLP": {"PG", "KO", "PEP", "COST"},
	"XLU": {"NEE", "DUK", "SO", "AEP"},
	"XLV": {"UNH", "JNJ", "LLY", "ABBV"},
	"XLY": {"AMZN", "TSLA", "HD", "MCD"},
}

// TickerHash is the deterministic seed for mock data: the sum of the
// ticker's character codes.
func TickerHash(ticker string) int {
	h := 0
	for _, c := range strings.ToUpper(strings.TrimSpace(ticker)) {
		h += int(c)
	}
	return h
}

// MockPrice is the deterministic last price for a ticker
func MockPrice(ticker string) float64 {
	return float64(10 + TickerHash(ticker)%490)
}

// MockSpreadFrac is the deterministic equity bid/ask spread as a fraction of price
func MockSpreadFrac(ticker string) float64 {
	return 0.0001 + float64(TickerHash(ticker)%50)/10000
}

// MockAvgVolume is the deterministic average daily share volume
func MockAvgVolume(ticker string) float64 {
	return float64(100000 + TickerHash(ticker)%49900000)
}

// MockEarnings returns the deterministic next earnings report relative to asOf
func MockEarnings(ticker string, asOf time.Time) EarningsInfo {
	h := TickerHash(ticker)
	date := dayOf(asOf).AddDate(0, 0, 1+h%90)
	timing := "BMO"
	if h%2 == 0 {
		timing = "AMC"
	}
	return EarningsInfo{Ticker: strings.ToUpper(ticker), Date: &date, Time: timing, Source: "mock"}
}

// MockProvider is a deterministic, network-free Provider. Every value derives
// from the ticker hash and the fixed AsOf clock, so identical inputs always
// produce identical snapshots.
type MockProvider struct {
	AsOf       time.Time
	VIX        float64
	VIXAverage float64

	mu          sync.RWMutex
	snapshot    *MarketSnapshot
	instruments map[string]*Instrument
	quotes      map[string]*OptionQuote
	earnings    map[string]*EarningsInfo
	members     map[string][]string
	macro       []MacroEvent
	failures    map[string]error
}

// NewMockProvider creates a mock anchored at asOf
func NewMockProvider(asOf time.Time) *MockProvider {
	members := make(map[string][]string, len(defaultMembers))
	for k, v := range defaultMembers {
		members[k] = append([]string(nil), v...)
	}
	return &MockProvider{
		AsOf:        asOf,
		VIX:         16.5,
		VIXAverage:  18.0,
		instruments: make(map[string]*Instrument),
		quotes:      make(map[string]*OptionQuote),
		earnings:    make(map[string]*EarningsInfo),
		members:     members,
		failures:    make(map[string]error),
	}
}

// WithSnapshot pins the snapshot returned by Snapshot
func (m *MockProvider) WithSnapshot(s *MarketSnapshot) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = s
	return m
}

// WithInstrument pins the instrument returned for its ticker
func (m *MockProvider) WithInstrument(inst *Instrument) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[strings.ToUpper(inst.Ticker)] = inst
	return m
}

// WithQuote pins the quote returned for a contract
func (m *MockProvider) WithQuote(q *OptionQuote) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[contractKey(q.Contract)] = q
	return m
}

// WithEarnings pins the earnings info for a ticker
func (m *MockProvider) WithEarnings(e *EarningsInfo) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.earnings[strings.ToUpper(e.Ticker)] = e
	return m
}

// WithMembers replaces the constituent list of a sector
func (m *MockProvider) WithMembers(sector string, tickers ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[sector] = tickers
	return m
}

// WithMacroEvents sets the macro calendar
func (m *MockProvider) WithMacroEvents(events ...MacroEvent) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.macro = events
	return m
}

// FailOn makes calls whose source key matches return err ("snapshot",
// "instrument:AAPL", "option_quote:AAPL", "earnings:AAPL").
func (m *MockProvider) FailOn(source string, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[source] = err
	return m
}

func (m *MockProvider) failure(source string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures[source]
}

// Snapshot returns the pinned snapshot or a generated one
func (m *MockProvider) Snapshot(ctx context.Context) (*MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.failure("snapshot"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	pinned := m.snapshot
	m.mu.RUnlock()
	if pinned != nil {
		return pinned, nil
	}

	snap := &MarketSnapshot{
		Timestamp:  m.AsOf,
		Benchmark:  Series{Symbol: BenchmarkSymbol, Closes: GenerateCloses(BenchmarkSymbol, HistoryLength)},
		VIX:        m.VIX,
		VIXAverage: m.VIXAverage,
	}
	for _, sym := range DefaultSectors {
		snap.Sectors = append(snap.Sectors, Series{Symbol: sym, Closes: GenerateCloses(sym, HistoryLength)})
	}
	return snap, nil
}

// SectorMembers returns the configured constituents, sorted
func (m *MockProvider) SectorMembers(ctx context.Context, sector string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.members[sector]
	if !ok {
		return nil, policy.Unavailable("sector_members", "unknown sector %s", sector)
	}
	out := append([]string(nil), members...)
	sort.Strings(out)
	return out, nil
}

// SectorOf returns the sector a ticker belongs to in the mock universe
func (m *MockProvider) SectorOf(ticker string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ticker = strings.ToUpper(ticker)
	sectors := make([]string, 0, len(m.members))
	for s := range m.members {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)
	for _, s := range sectors {
		for _, t := range m.members[s] {
			if t == ticker {
				return s, true
			}
		}
	}
	return "", false
}

// Instrument returns the pinned instrument or a generated one
func (m *MockProvider) Instrument(ctx context.Context, ticker string) (*Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, policy.Invalid("ticker", ticker, "must not be empty")
	}
	if err := m.failure("instrument:" + ticker); err != nil {
		return nil, err
	}

	m.mu.RLock()
	pinned := m.instruments[ticker]
	m.mu.RUnlock()
	if pinned != nil {
		return pinned, nil
	}

	h := TickerHash(ticker)
	closes := GenerateCloses(ticker, HistoryLength)
	price := closes[len(closes)-1]
	half := price * MockSpreadFrac(ticker) / 2
	avgVol := MockAvgVolume(ticker)

	rng := rand.New(rand.NewSource(int64(h) * 7919))
	volumes := make([]float64, len(closes))
	for i := range volumes {
		volumes[i] = math.Round(avgVol * (0.7 + 0.6*rng.Float64()))
	}

	beta := 1.0
	if res, err := indicators.CalculateBeta(closes, GenerateCloses(BenchmarkSymbol, HistoryLength)); err == nil {
		beta = res.Beta
	}

	earnings := MockEarnings(ticker, m.AsOf)
	sector, _ := m.SectorOf(ticker)

	return &Instrument{
		Ticker:       ticker,
		Sector:       sector,
		AsOf:         m.AsOf,
		Closes:       closes,
		Volumes:      volumes,
		AvgVolume:    avgVol,
		Bid:          round2(price - half),
		Ask:          round2(price + half),
		IV:           float64(20 + h%40),
		IVPercentile: float64(h % 100),
		Beta:         beta,
		NextEarnings: earnings.Date,
	}, nil
}

// OptionQuote prices the contract with Black-Scholes at the instrument IV and
// derives spread, size and activity from the contract hash.
func (m *MockProvider) OptionQuote(ctx context.Context, c OptionContract) (*OptionQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.failure("option_quote:" + strings.ToUpper(c.Underlying)); err != nil {
		return nil, err
	}

	m.mu.RLock()
	pinned := m.quotes[contractKey(c)]
	m.mu.RUnlock()
	if pinned != nil {
		return pinned, nil
	}

	inst, err := m.Instrument(ctx, c.Underlying)
	if err != nil {
		return nil, err
	}

	spot := inst.Price()
	theo := options.Price(options.Params{
		Right:  c.Right,
		Spot:   spot,
		Strike: c.Strike,
		Years:  options.YearsBetween(m.AsOf, c.Expiration),
		Vol:    inst.IV / 100,
		Rate:   options.DefaultRiskFreeRate,
	})
	theo = math.Max(theo, 0.05)

	h := TickerHash(contractKey(c))
	spreadFrac := 0.002 + float64(h%70)/10000 // 0.2% .. 0.9% of mid
	half := math.Max(theo*spreadFrac/2, 0.005)

	return &OptionQuote{
		Contract:        c,
		Bid:             round2(theo - half),
		Ask:             round2(theo + half),
		BidSize:         10 + h%200,
		AskSize:         10 + (h/3)%200,
		Volume:          500 + h%9000,
		OpenInterest:    2000 + (h*7)%40000,
		LastTrade:       m.AsOf.Add(-time.Duration(h%10) * time.Minute),
		UnderlyingPrice: spot,
		IV:              inst.IV,
	}, nil
}

// Earnings returns the pinned or hash-derived earnings date
func (m *MockProvider) Earnings(ctx context.Context, ticker string) (*EarningsInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if err := m.failure("earnings:" + ticker); err != nil {
		return nil, err
	}

	m.mu.RLock()
	pinned := m.earnings[ticker]
	m.mu.RUnlock()
	if pinned != nil {
		return pinned, nil
	}
	info := MockEarnings(ticker, m.AsOf)
	return &info, nil
}

// MacroEvents returns configured events inside [from, to]
func (m *MockProvider) MacroEvents(ctx context.Context, from, to time.Time) ([]MacroEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []MacroEvent
	for _, e := range m.macro {
		if !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GenerateCloses builds a seeded random-walk close series ending at the
// ticker's deterministic mock price.
func GenerateCloses(ticker string, n int) []float64 {
	h := TickerHash(ticker)
	rng := rand.New(rand.NewSource(int64(h)))
	drift := float64(h%21-10) / 10000 // -0.10% .. +0.10% per day
	vol := 0.008 + float64(h%10)/1000

	raw := make([]float64, n)
	raw[0] = 1
	for i := 1; i < n; i++ {
		raw[i] = raw[i-1] * (1 + drift + vol*rng.NormFloat64())
		if raw[i] <= 0 {
			raw[i] = raw[i-1]
		}
	}

	scale := MockPrice(ticker) / raw[n-1]
	out := make([]float64, n)
	for i, v := range raw {
		out[i] = round2(v * scale)
	}
	return out
}

func contractKey(c OptionContract) string {
	return fmt.Sprintf("%s|%s|%.2f|%s", strings.ToUpper(c.Underlying), c.Right, c.Strike, c.Expiration.Format("2006-01-02"))
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
