package regime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/policy"
)

var now = time.Date(2024, time.March, 4, 15, 30, 0, 0, time.UTC)

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// snapshot builds a snapshot whose sectors all follow sectorStep except
// leader, which moves at leaderStep.
func snapshot(benchmark []float64, vix, vixAvg, sectorStep float64, leader string, leaderStep float64) *market.MarketSnapshot {
	snap := &market.MarketSnapshot{
		Timestamp:  now.Add(-time.Minute),
		Benchmark:  market.Series{Symbol: market.BenchmarkSymbol, Closes: benchmark},
		VIX:        vix,
		VIXAverage: vixAvg,
	}
	for _, sym := range market.DefaultSectors {
		step := sectorStep
		if sym == leader {
			step = leaderStep
		}
		snap.Sectors = append(snap.Sectors, market.Series{Symbol: sym, Closes: linear(60, 100, step)})
	}
	return snap
}

func newTestClassifier() *Classifier {
	return NewClassifierWithClock(DefaultConfig(), func() time.Time { return now })
}

func scores(a *Assessment) map[string]int {
	out := make(map[string]int, len(a.Signals))
	for _, s := range a.Signals {
		out[s.Name] = s.Score
	}
	return out
}

func TestClassifyStrongBullScenario(t *testing.T) {
	snap := snapshot(linear(260, 100, 0.5), 17, 20, 0.5, "XLK", 1.0)

	a, err := newTestClassifier().Classify(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		SignalTrend:            3,
		SignalMomentum:         1,
		SignalVolatility:       0,
		SignalVolatilityTrend:  1,
		SignalSectorBreadth:    2,
		SignalSectorLeadership: 1,
	}, scores(a))
	assert.Equal(t, 8, a.TotalScore)
	assert.Equal(t, StrongBull, a.Disposition)
	assert.Equal(t, 60, a.NetDeltaTarget)
	assert.InDelta(t, 83.33, a.ConfidencePct, 0.01)
	assert.Equal(t, ConfidenceHigh, a.ConfidenceTier)
	assert.Equal(t, "XLK", a.Inputs.Leader)
	assert.Equal(t, 9, a.Inputs.PositiveSectors)
	assert.Empty(t, a.Overrides)
}

func TestClassifyOverrides(t *testing.T) {
	dropped := append(linear(240, 200, 0), linear(20, 150, 0)...)

	tests := []struct {
		name        string
		snap        *market.MarketSnapshot
		total       int
		base        Disposition
		disposition Disposition
		overrides   []string
	}{
		{
			name:        "crisis caps bull at bear",
			snap:        snapshot(linear(260, 100, 0.5), 45, 30, 0.5, "XLK", 1.0),
			total:       4,
			base:        Bull,
			disposition: Bear,
			overrides:   []string{OverrideCrisis},
		},
		{
			name:        "below MA200 with elevated vix shifts neutral to bear",
			snap:        snapshot(dropped, 22, 25, 0.5, "XLK", 1.0),
			total:       0,
			base:        Neutral,
			disposition: Bear,
			overrides:   []string{OverrideBearishBias},
		},
		{
			name:        "bearish bias floors at strong bear",
			snap:        snapshot(linear(260, 500, -1), 25, 20, -0.5, "XLU", -0.1),
			total:       -9,
			base:        StrongBear,
			disposition: StrongBear,
			overrides:   []string{OverrideBearishBias},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := newTestClassifier().Classify(context.Background(), tt.snap)
			require.NoError(t, err)
			assert.Equal(t, tt.total, a.TotalScore)
			assert.Equal(t, tt.base, a.BaseDisposition)
			assert.Equal(t, tt.disposition, a.Disposition)
			assert.Equal(t, tt.disposition.NetDeltaTarget(), a.NetDeltaTarget)
			assert.Equal(t, tt.overrides, a.Overrides)
		})
	}
}

func TestClassifyNeutralConfidenceCountsZeroSignals(t *testing.T) {
	dropped := append(linear(240, 200, 0), linear(20, 150, 0)...)
	a, err := newTestClassifier().Classify(context.Background(), snapshot(dropped, 22, 25, 0.5, "XLK", 1.0))
	require.NoError(t, err)

	// no signal scored zero, so nothing agrees with a zero total
	assert.Equal(t, 0.0, a.ConfidencePct)
	assert.Equal(t, ConfidenceLow, a.ConfidenceTier)
	assert.Equal(t, a.ConfidenceTier, a.ConvictionTier)
}

func TestClassifyMacroSignal(t *testing.T) {
	snap := snapshot(linear(260, 100, 0.5), 17, 20, 0.5, "XLK", 1.0)
	macro := -1
	snap.Macro = &macro

	a, err := newTestClassifier().Classify(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 7, a.TotalScore)
	assert.Len(t, a.Signals, 7)
	assert.Equal(t, StrongBull, a.Disposition)
}

func TestClassifyRejectsBadInput(t *testing.T) {
	good := func() *market.MarketSnapshot {
		return snapshot(linear(260, 100, 0.5), 17, 20, 0.5, "XLK", 1.0)
	}

	tests := []struct {
		name   string
		mutate func(s *market.MarketSnapshot)
		target error
	}{
		{"stale snapshot", func(s *market.MarketSnapshot) { s.Timestamp = now.Add(-16 * time.Minute) }, policy.ErrDataUnavailable},
		{"short benchmark", func(s *market.MarketSnapshot) { s.Benchmark.Closes = s.Benchmark.Closes[:199] }, policy.ErrDataUnavailable},
		{"missing sector", func(s *market.MarketSnapshot) { s.Sectors = s.Sectors[:8] }, policy.ErrDataUnavailable},
		{"short sector", func(s *market.MarketSnapshot) { s.Sectors[3].Closes = s.Sectors[3].Closes[:20] }, policy.ErrDataUnavailable},
		{"missing vix", func(s *market.MarketSnapshot) { s.VIX = 0 }, policy.ErrDataUnavailable},
		{"zero price", func(s *market.MarketSnapshot) { s.Benchmark.Closes[len(s.Benchmark.Closes)-1] = 0 }, policy.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := good()
			tt.mutate(s)
			_, err := newTestClassifier().Classify(context.Background(), s)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	_, err := newTestClassifier().Classify(context.Background(), nil)
	assert.ErrorIs(t, err, policy.ErrDataUnavailable)
}

func TestTotalIsExactSumOfSignals(t *testing.T) {
	c := newTestClassifier()
	for _, vix := range []float64{12, 18, 25, 35, 45} {
		for _, avg := range []float64{15, 25} {
			mock := market.NewMockProvider(now)
			mock.VIX, mock.VIXAverage = vix, avg
			snap, err := mock.Snapshot(context.Background())
			require.NoError(t, err)

			a, err := c.Classify(context.Background(), snap)
			require.NoError(t, err)

			sum := 0
			for _, s := range a.Signals {
				sum += s.Score
			}
			assert.Equal(t, sum, a.TotalScore, "vix %.0f avg %.0f", vix, avg)
			assert.Equal(t, DispositionForScore(sum), a.BaseDisposition)
		}
	}
}

func TestDispositionForScoreIsMonotonic(t *testing.T) {
	prev := DispositionForScore(-20).Tier()
	for total := -19; total <= 20; total++ {
		tier := DispositionForScore(total).Tier()
		assert.GreaterOrEqual(t, tier, prev, "total %d", total)
		prev = tier
	}

	assert.Equal(t, StrongBull, DispositionForScore(7))
	assert.Equal(t, Bull, DispositionForScore(6))
	assert.Equal(t, Bull, DispositionForScore(3))
	assert.Equal(t, Neutral, DispositionForScore(2))
	assert.Equal(t, Neutral, DispositionForScore(-2))
	assert.Equal(t, Bear, DispositionForScore(-3))
	assert.Equal(t, Bear, DispositionForScore(-6))
	assert.Equal(t, StrongBear, DispositionForScore(-7))
}

func TestDispositionShift(t *testing.T) {
	assert.Equal(t, Bear, Neutral.Shift(-1))
	assert.Equal(t, StrongBear, StrongBear.Shift(-1))
	assert.Equal(t, StrongBull, Bull.Shift(3))
	assert.True(t, Bull.Bullish())
	assert.True(t, StrongBear.Bearish())
	assert.False(t, Neutral.Bullish() || Neutral.Bearish())

	d, ok := ParseDisposition("bear")
	assert.True(t, ok)
	assert.Equal(t, Bear, d)
}

func TestClassifyIsStateless(t *testing.T) {
	c := newTestClassifier()
	ctx := context.Background()
	snap := snapshot(linear(260, 100, 0.5), 17, 20, 0.5, "XLK", 1.0)

	first, err := c.Classify(ctx, snap)
	require.NoError(t, err)
	_, err = c.Classify(ctx, snapshot(linear(260, 100, 0.5), 45, 30, 0.5, "XLK", 1.0))
	require.NoError(t, err)
	again, err := c.Classify(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestTrackerRecordsDispositionChanges(t *testing.T) {
	c := newTestClassifier()
	tr := NewTracker(0)
	ctx := context.Background()

	bull, err := c.Classify(ctx, snapshot(linear(260, 100, 0.5), 17, 20, 0.5, "XLK", 1.0))
	require.NoError(t, err)
	assert.Nil(t, tr.Observe(bull))
	assert.Nil(t, tr.Observe(bull))
	assert.Empty(t, tr.History())

	bear, err := c.Classify(ctx, snapshot(linear(260, 100, 0.5), 45, 30, 0.5, "XLK", 1.0))
	require.NoError(t, err)
	change := tr.Observe(bear)
	require.NotNil(t, change)
	assert.Equal(t, StrongBull, change.From)
	assert.Equal(t, Bear, change.To)
	assert.Equal(t, bear.TotalScore, change.Score)

	require.Len(t, tr.History(), 1)
	assert.Equal(t, Bear, tr.Last().Disposition)

	stale := *bull
	stale.AsOf = bear.AsOf.Add(-time.Hour)
	assert.Nil(t, tr.Observe(&stale), "older assessments are ignored")
	assert.Equal(t, Bear, tr.Last().Disposition)
}

func TestTrackerBoundsHistory(t *testing.T) {
	tr := NewTracker(2)
	at := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	for i, d := range []Disposition{Bull, Bear, Bull, Bear} {
		tr.Observe(&Assessment{AsOf: at.Add(time.Duration(i) * time.Hour), Disposition: d})
	}
	h := tr.History()
	require.Len(t, h, 2)
	assert.Equal(t, Bull, h[0].To)
	assert.Equal(t, Bear, h[1].To)
}
