package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/data/cache"
	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/policy"
)

var asOf = time.Date(2024, time.March, 4, 15, 30, 0, 0, time.UTC)

func TestMockDeterministicValues(t *testing.T) {
	assert.Equal(t, 286, TickerHash("AAPL"))
	assert.Equal(t, 286, TickerHash(" aapl "))
	assert.Equal(t, 296.0, MockPrice("AAPL"))
	assert.InDelta(t, 0.0037, MockSpreadFrac("AAPL"), 1e-12)
	assert.Equal(t, 100286.0, MockAvgVolume("AAPL"))

	e := MockEarnings("AAPL", asOf)
	require.NotNil(t, e.Date)
	assert.Equal(t, "2024-03-21", e.Date.Format("2006-01-02"))
	assert.Equal(t, "AMC", e.Time)

	// TSLA hash 84+83+76+65 = 308, even
	assert.Equal(t, "AMC", MockEarnings("TSLA", asOf).Time)
	// NVDA hash 78+86+68+65 = 297, odd
	assert.Equal(t, "BMO", MockEarnings("NVDA", asOf).Time)
}

func TestMockIsReproducible(t *testing.T) {
	ctx := context.Background()
	a := NewMockProvider(asOf)
	b := NewMockProvider(asOf)

	sa, err := a.Snapshot(ctx)
	require.NoError(t, err)
	sb, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Len(t, sa.Sectors, 9)
	assert.Len(t, sa.Benchmark.Closes, HistoryLength)
	assert.Equal(t, MockPrice(BenchmarkSymbol), sa.Benchmark.Last())

	ia, err := a.Instrument(ctx, "msft")
	require.NoError(t, err)
	ib, err := b.Instrument(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, ia, ib)
	assert.Equal(t, "XLK", ia.Sector)
	assert.Less(t, ia.Bid, ia.Ask)

	c := OptionContract{Underlying: "MSFT", Right: options.Call, Strike: ia.Price(), Expiration: options.ExpirationFor(asOf, 45)}
	qa, err := a.OptionQuote(ctx, c)
	require.NoError(t, err)
	qb, err := b.OptionQuote(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, qa, qb)
	assert.Greater(t, qa.Bid, 0.0)
	assert.Greater(t, qa.Ask, qa.Bid)
	assert.False(t, qa.LastTrade.After(asOf))
}

func TestMockOverridesAndFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider(asOf)

	pinned := &Instrument{Ticker: "ZZZ", Closes: []float64{1, 2, 3}}
	m.WithInstrument(pinned)
	got, err := m.Instrument(ctx, "zzz")
	require.NoError(t, err)
	assert.Same(t, pinned, got)

	m.FailOn("earnings:AAPL", policy.Unavailable("earnings", "feed down"))
	_, err = m.Earnings(ctx, "AAPL")
	assert.ErrorIs(t, err, policy.ErrDataUnavailable)

	_, err = m.SectorMembers(ctx, "XXX")
	assert.ErrorIs(t, err, policy.ErrDataUnavailable)

	m.WithMacroEvents(
		MacroEvent{Name: "FOMC", Date: asOf.AddDate(0, 0, 1)},
		MacroEvent{Name: "CPI", Date: asOf.AddDate(0, 0, 20)},
	)
	events, err := m.MacroEvents(ctx, asOf, asOf.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "FOMC", events[0].Name)
}

type slowProvider struct {
	*MockProvider
	delay time.Duration
}

func (s *slowProvider) Snapshot(ctx context.Context) (*MarketSnapshot, error) {
	select {
	case <-time.After(s.delay):
		return s.MockProvider.Snapshot(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWithTimeoutReportsDataUnavailable(t *testing.T) {
	p := WithTimeout(&slowProvider{MockProvider: NewMockProvider(asOf), delay: time.Second}, 20*time.Millisecond)

	_, err := p.Snapshot(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrDataUnavailable)

	fast := WithTimeout(NewMockProvider(asOf), time.Second)
	snap, err := fast.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func newGateway(t *testing.T, handler http.HandlerFunc) (*HTTPProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultHTTPConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = time.Second
	cfg.RateLimit.RPS = 1000
	cfg.RateLimit.Burst = 1000
	p, err := NewHTTPProvider(cfg, cache.NewMemory(100), nil)
	require.NoError(t, err)
	return p, srv
}

func TestHTTPProviderInstrumentCached(t *testing.T) {
	var calls int32
	p, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v1/instruments/AAPL", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Instrument{Ticker: "AAPL", Closes: []float64{100, 101}, IV: 24})
	})

	ctx := context.Background()
	inst, err := p.Instrument(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, 101.0, inst.Price())

	_, err = p.Instrument(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call served from cache")
}

func TestHTTPProviderOptionQuery(t *testing.T) {
	p, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "MSFT", q.Get("underlying"))
		assert.Equal(t, "put", q.Get("right"))
		assert.Equal(t, "400.00", q.Get("strike"))
		assert.Equal(t, "2024-04-19", q.Get("expiration"))
		_ = json.NewEncoder(w).Encode(OptionQuote{Bid: 5.1, Ask: 5.3, Volume: 900})
	})

	q, err := p.OptionQuote(context.Background(), OptionContract{
		Underlying: "msft", Right: options.Put, Strike: 400,
		Expiration: time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.InDelta(t, 5.2, q.Mid(), 1e-9)
}

func TestHTTPProviderNotFoundIsDataUnavailable(t *testing.T) {
	p, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown ticker", http.StatusNotFound)
	})

	_, err := p.Earnings(context.Background(), "NOPE")
	assert.ErrorIs(t, err, policy.ErrDataUnavailable)
}

func TestHTTPProviderBreakerOpens(t *testing.T) {
	var calls int32
	p, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := p.Snapshot(ctx)
		assert.ErrorIs(t, err, policy.ErrDataUnavailable)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "breaker stops calls after three failures")
	assert.Equal(t, "open", p.BreakerStates()[FamilySnapshot])
}

func TestHTTPProviderMalformedJSON(t *testing.T) {
	p, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := p.Snapshot(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, policy.ErrDataUnavailable))
}

func TestNewHTTPProviderRejectsBadURL(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.BaseURL = "::bad"
	_, err := NewHTTPProvider(cfg, nil, nil)
	assert.Error(t, err)
}
