package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/policy"
)

type memStore struct {
	mu        sync.Mutex
	positions map[string]Position
	fail      bool
}

func newMemStore(ps ...Position) *memStore {
	m := &memStore{positions: map[string]Position{}}
	for _, p := range ps {
		m.positions[p.ID] = p
	}
	return m
}

func (m *memStore) List(context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("db down")
	}
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) Upsert(_ context.Context, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, id)
	return nil
}

func portfolio() State {
	return State{PortfolioValue: 100_000, Cash: 100_000}
}

func reservation(id, ticker string, exposure, risk float64) Reservation {
	return Reservation{ID: id, Ticker: ticker, Family: "bull_call_spread", Units: 2, Exposure: exposure, Risk: risk, BetaDelta: 50}
}

func TestCommitAppliesReservation(t *testing.T) {
	store := newMemStore()
	l := New(portfolio(), DefaultLimits(), store)
	ctx := context.Background()

	snap := l.Snapshot()
	assert.Equal(t, uint64(0), snap.Version)

	st, err := l.Commit(ctx, snap.Version, reservation("a", "AAPL", 5_000, 1_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Version)
	assert.Equal(t, 95_000.0, st.Cash)
	assert.Equal(t, 1_000.0, st.OpenRisk)
	assert.InDelta(t, 1.0, st.OpenRiskPct(), 1e-9)
	assert.InDelta(t, 5.0, st.TickerPct("AAPL"), 1e-9)
	assert.Equal(t, 50.0, st.NetBetaDelta)
	require.Len(t, st.Positions, 1)
	assert.Contains(t, store.positions, "a")

	// snapshot is a copy
	snap.TickerExposure["AAPL"] = 1e9
	assert.InDelta(t, 5.0, l.Snapshot().TickerPct("AAPL"), 1e-9)
}

func TestCommitVersionConflict(t *testing.T) {
	l := New(portfolio(), DefaultLimits(), nil)
	ctx := context.Background()
	stale := l.Snapshot().Version

	_, err := l.Commit(ctx, stale, reservation("a", "AAPL", 1_000, 100))
	require.NoError(t, err)

	_, err = l.Commit(ctx, stale, reservation("b", "MSFT", 1_000, 100))
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Len(t, l.Snapshot().Positions, 1)
}

func TestCommitRechecksCaps(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*State)
		r     Reservation
		code  policy.ReasonCode
	}{
		{
			name:  "aggregate risk",
			setup: func(s *State) { s.OpenRisk = 14_500 },
			r:     reservation("x", "AAPL", 2_000, 1_000),
			code:  policy.ReasonAggregateRiskCap,
		},
		{
			name:  "single ticker",
			setup: func(s *State) { s.TickerExposure = map[string]float64{"AAPL": 14_000} },
			r:     reservation("x", "AAPL", 2_000, 100),
			code:  policy.ReasonSingleTickerCap,
		},
		{
			name: "correlated group",
			setup: func(s *State) {
				s.TickerExposure = map[string]float64{"MSFT": 12_000, "GOOG": 10_000}
				s.SetCorrelation("AAPL", "MSFT", 0.85)
				s.SetCorrelation("GOOG", "AAPL", 0.9)
			},
			r:    reservation("x", "AAPL", 5_000, 100),
			code: policy.ReasonCorrelatedGroupCap,
		},
		{
			name:  "cash",
			setup: func(s *State) { s.Cash = 1_000 },
			r:     reservation("x", "AAPL", 1_500, 100),
			code:  policy.ReasonInsufficientCash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := portfolio()
			tt.setup(&s)
			l := New(s, DefaultLimits(), nil)

			_, err := l.Commit(context.Background(), 0, tt.r)
			require.Error(t, err)
			code, ok := policy.CodeOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, uint64(0), l.Snapshot().Version)
		})
	}
}

func TestRelease(t *testing.T) {
	store := newMemStore()
	l := New(portfolio(), DefaultLimits(), store)
	ctx := context.Background()

	_, err := l.Commit(ctx, 0, reservation("a", "AAPL", 5_000, 1_000))
	require.NoError(t, err)

	st, err := l.Release(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Version)
	assert.Equal(t, 100_000.0, st.Cash)
	assert.Zero(t, st.OpenRisk)
	assert.Empty(t, st.Positions)
	assert.NotContains(t, st.TickerExposure, "AAPL")
	assert.Empty(t, store.positions)

	_, err = l.Release(ctx, "a")
	assert.ErrorIs(t, err, ErrUnknownPosition)
}

func TestLoadFromStore(t *testing.T) {
	store := newMemStore(
		Position{ID: "a", Ticker: "AAPL", Exposure: 4_000, Risk: 800, BetaDelta: 40},
		Position{ID: "b", Ticker: "AAPL", Exposure: 1_000, Risk: 200},
	)
	l := New(portfolio(), DefaultLimits(), store)
	require.NoError(t, l.Load(context.Background()))

	st := l.Snapshot()
	assert.Equal(t, 95_000.0, st.Cash)
	assert.Equal(t, 1_000.0, st.OpenRisk)
	assert.Equal(t, 5_000.0, st.TickerExposure["AAPL"])
	assert.Len(t, st.Positions, 2)

	store.fail = true
	assert.Error(t, l.Load(context.Background()))
}

func TestConcurrentCommitsRespectCaps(t *testing.T) {
	l := New(portfolio(), DefaultLimits(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 100; attempt++ {
				snap := l.Snapshot()
				_, err := l.Commit(ctx, snap.Version, reservation(string(rune('A'+i)), "T"+string(rune('A'+i)), 1_000, 1_000))
				if !errors.Is(err, ErrVersionConflict) {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	st := l.Snapshot()
	assert.Len(t, st.Positions, 15)
	assert.LessOrEqual(t, st.OpenRiskPct(), 15.0)
}

func TestStateHelpers(t *testing.T) {
	s := portfolio()
	s.TickerExposure = map[string]float64{"AAPL": 5_000, "MSFT": 3_000, "XOM": 2_000}
	s.SetCorrelation("AAPL", "MSFT", 0.82)
	s.SetCorrelation("AAPL", "XOM", 0.2)

	c, ok := s.Correlation("MSFT", "AAPL")
	assert.True(t, ok)
	assert.Equal(t, 0.82, c)
	_, ok = s.Correlation("MSFT", "XOM")
	assert.False(t, ok)

	assert.Equal(t, []string{"AAPL", "MSFT", "XOM"}, s.Holdings())
	assert.Equal(t, 0.82, s.MaxCorrelation("AAPL"))
	assert.Equal(t, 8_000.0, s.GroupExposure("AAPL", 0.8))
	assert.InDelta(t, 8.0, s.GroupPct("AAPL", 0.8), 1e-9)

	next := s.Apply(reservation("n", "NVDA", 1_000, 500))
	assert.Equal(t, 1_000.0, next.TickerExposure["NVDA"])
	assert.NotContains(t, s.TickerExposure, "NVDA")
}

func TestMergeCorrelations(t *testing.T) {
	st := portfolio()
	st.SetCorrelation("MSFT", "AAPL", 0.5)
	st.SetCorrelation("XOM", "CVX", 0.9)
	l := New(st, DefaultLimits(), nil)

	l.MergeCorrelations("AAPL", map[string]float64{"MSFT": 0.85, "AAPL": 1, "JPM": 0.2})
	snap := l.Snapshot()

	c, ok := snap.Correlation("AAPL", "MSFT")
	require.True(t, ok)
	assert.Equal(t, 0.85, c)
	c, ok = snap.Correlation("MSFT", "AAPL")
	require.True(t, ok)
	assert.Equal(t, 0.85, c)
	c, _ = snap.Correlation("CVX", "XOM")
	assert.Equal(t, 0.9, c)
	c, _ = snap.Correlation("JPM", "AAPL")
	assert.Equal(t, 0.2, c)
	assert.Equal(t, uint64(0), snap.Version)

	l.UpdateCorrelations(nil)
	_, ok = l.Snapshot().Correlation("AAPL", "MSFT")
	assert.False(t, ok)
}
