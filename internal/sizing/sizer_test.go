package sizing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/policy"
)

func state() ledger.State {
	return ledger.State{PortfolioValue: 100_000, Cash: 100_000, TickerExposure: map[string]float64{}}
}

func TestSizeRiskBudgetBinds(t *testing.T) {
	res, err := NewSizer(DefaultConfig()).Size(Request{
		Ticker:         "ACME",
		Classification: Core,
		Tier:           mechanism.High,
		MaxLossPerUnit: 1_200,
		CapitalPerUnit: 1_250,
	}, state())
	require.NoError(t, err)

	assert.Equal(t, 8, res.AllocationUnits)
	assert.Equal(t, 2, res.RiskUnits)
	assert.Equal(t, 2, res.Units)
	assert.Equal(t, 10.0, res.AllocationPct)
	assert.Equal(t, 2.5, res.MaxRiskPct)
	assert.Equal(t, 2_400.0, res.RiskDollars)
	assert.InDelta(t, 2.4, res.RiskPct, 1e-9)
	assert.Equal(t, 2_500.0, res.CapitalDeployed)
	assert.True(t, res.Pass)
}

func TestSizeTiers(t *testing.T) {
	tests := []struct {
		class    Classification
		tier     mechanism.Tier
		alloc    float64
		maxRisk  float64
		capped   bool
		wantUnit int
	}{
		{Core, mechanism.VeryHigh, 10, 3.0, true, 6},
		{Core, mechanism.Moderate, 6, 1.5, false, 3},
		{Core, mechanism.Low, 3, 1.0, false, 2},
		{Speculative, mechanism.High, 2, 0.75, false, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.class)+"/"+string(tt.tier), func(t *testing.T) {
			res, err := NewSizer(DefaultConfig()).Size(Request{
				Ticker:         "ACME",
				Classification: tt.class,
				Tier:           tt.tier,
				MaxLossPerUnit: 500,
				CapitalPerUnit: 500,
			}, state())
			require.NoError(t, err)
			assert.InDelta(t, tt.alloc, res.AllocationPct, 1e-9)
			assert.Equal(t, tt.maxRisk, res.MaxRiskPct)
			assert.Equal(t, tt.wantUnit, res.Units)
			assert.LessOrEqual(t, res.RiskPct, 5.0)

			capped := false
			for _, w := range res.Warnings {
				if w.Code == policy.ReasonAllocationCapped {
					capped = true
				}
			}
			assert.Equal(t, tt.capped, capped)
		})
	}
}

func TestSizeCorrelationReduction(t *testing.T) {
	tests := []struct {
		corr  float64
		units int
	}{
		{0.4, 8},
		{0.6, 6},
		{0.75, 4},
		{0.85, 2},
	}
	for _, tt := range tests {
		res, err := NewSizer(DefaultConfig()).Size(Request{
			Ticker:                "ACME",
			Classification:        Core,
			Tier:                  mechanism.High,
			MaxLossPerUnit:        300,
			CapitalPerUnit:        1_250,
			MaxHoldingCorrelation: tt.corr,
		}, state())
		require.NoError(t, err)
		assert.Equal(t, tt.units, res.Units, "corr %.2f", tt.corr)
		if tt.corr > 0.5 {
			assert.Len(t, res.Adjustments, 1)
		}
	}
}

func TestSizeConcentrationCap(t *testing.T) {
	st := state()
	st.TickerExposure["ACME"] = 12_000

	res, err := NewSizer(DefaultConfig()).Size(Request{
		Ticker:         "ACME",
		Classification: Core,
		Tier:           mechanism.High,
		MaxLossPerUnit: 300,
		CapitalPerUnit: 1_000,
	}, st)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Units)
	assert.Contains(t, res.Adjustments[0], "concentration cap")
}

func TestSizeTooSmall(t *testing.T) {
	st := state()
	st.TickerExposure["ACME"] = 14_500

	res, err := NewSizer(DefaultConfig()).Size(Request{
		Ticker:         "ACME",
		Classification: Core,
		Tier:           mechanism.High,
		MaxLossPerUnit: 300,
		CapitalPerUnit: 1_000,
	}, st)
	require.Error(t, err)
	code, _ := policy.CodeOf(err)
	assert.Equal(t, policy.ReasonPositionTooSmall, code)
	require.NotNil(t, res)
	assert.False(t, res.Pass)
	assert.Zero(t, res.Units)

	// risk budget smaller than one unit
	_, err = NewSizer(DefaultConfig()).Size(Request{
		Ticker:         "ACME",
		Classification: Speculative,
		Tier:           mechanism.Low,
		MaxLossPerUnit: 500,
		CapitalPerUnit: 500,
	}, state())
	code, _ = policy.CodeOf(err)
	assert.Equal(t, policy.ReasonPositionTooSmall, code)
}

func TestSizeRiskCeilingClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRiskPct[Core][mechanism.VeryHigh] = 8

	res, err := NewSizer(cfg).Size(Request{
		Ticker:         "ACME",
		Classification: Core,
		Tier:           mechanism.VeryHigh,
		MaxLossPerUnit: 1_000,
		CapitalPerUnit: 1_000,
	}, state())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Units)
	assert.LessOrEqual(t, res.RiskPct, 5.0)
	assert.Contains(t, res.Adjustments[len(res.Adjustments)-1], "risk ceiling")
}

func TestSizeValidation(t *testing.T) {
	ok := Request{Ticker: "ACME", Classification: Core, Tier: mechanism.High, MaxLossPerUnit: 100, CapitalPerUnit: 100}

	tests := []struct {
		name   string
		mutate func(*Request, *ledger.State)
	}{
		{"zero portfolio", func(_ *Request, s *ledger.State) { s.PortfolioValue = 0 }},
		{"zero max loss", func(r *Request, _ *ledger.State) { r.MaxLossPerUnit = 0 }},
		{"negative capital", func(r *Request, _ *ledger.State) { r.CapitalPerUnit = -1 }},
		{"unknown classification", func(r *Request, _ *ledger.State) { r.Classification = "swing" }},
		{"unknown tier", func(r *Request, _ *ledger.State) { r.Tier = "extreme" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, st := ok, state()
			tt.mutate(&req, &st)
			_, err := NewSizer(DefaultConfig()).Size(req, st)
			assert.ErrorIs(t, err, policy.ErrValidation)
		})
	}
}

func TestAllocation(t *testing.T) {
	s := NewSizer(DefaultConfig())

	res, err := s.Allocation(100_000, "Core", 8, nil)
	require.NoError(t, err)
	assert.Equal(t, 8_000.0, res.AllocationDollars)
	assert.Equal(t, 0.08, res.AllocationFrac)
	assert.Equal(t, 10_000.0, res.MaxCapDollars)
	assert.Equal(t, 0.8, res.ConvictionMultiplier)
	assert.Equal(t, Core, res.Bucket)
	assert.Empty(t, res.Warnings)

	res, err = s.Allocation(100_000, " speculative ", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 400.0, res.AllocationDollars)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "low conviction")

	risk := 0.05
	res, err = s.Allocation(100_000, "core", 10, &risk)
	require.NoError(t, err)
	assert.Equal(t, 5_000.0, res.AllocationDollars)
	assert.Equal(t, 0.05, res.MaxCapFrac)
	assert.Contains(t, res.Warnings[0], "risk cap")
}

func TestAllocationValidation(t *testing.T) {
	s := NewSizer(DefaultConfig())
	bad := 1.5

	_, err := s.Allocation(0, "core", 5, nil)
	assert.ErrorIs(t, err, policy.ErrValidation)
	_, err = s.Allocation(1_000, "swing", 5, nil)
	assert.ErrorIs(t, err, policy.ErrValidation)
	_, err = s.Allocation(1_000, "core", 11, nil)
	assert.ErrorIs(t, err, policy.ErrValidation)
	_, err = s.Allocation(1_000, "core", 5, &bad)
	assert.ErrorIs(t, err, policy.ErrValidation)
}

func TestMaxPositionSize(t *testing.T) {
	max, err := NewSizer(DefaultConfig()).MaxPositionSize(250_000, "Speculative")
	require.NoError(t, err)
	assert.Equal(t, 5_000.0, max.MaxDollars)
	assert.Equal(t, 0.02, max.MaxFrac)
	assert.Equal(t, Speculative, max.Bucket)
}

func TestSizeNeverBreachesCeilings(t *testing.T) {
	rng := rand.New(rand.NewSource(20240304))
	tiers := []mechanism.Tier{mechanism.VeryHigh, mechanism.High, mechanism.Moderate, mechanism.Low}

	loose := DefaultConfig()
	for _, class := range []Classification{Core, Speculative} {
		for _, tier := range tiers {
			loose.MaxRiskPct[class][tier] = 9
		}
	}
	sizers := []*Sizer{NewSizer(DefaultConfig()), NewSizer(loose)}

	for i := 0; i < 2_000; i++ {
		class := []Classification{Core, Speculative}[rng.Intn(2)]
		tier := tiers[rng.Intn(len(tiers))]
		pv := 10_000 + rng.Float64()*990_000
		maxLoss := 10 + rng.Float64()*5_000
		req := Request{
			Ticker:                "ACME",
			Classification:        class,
			Tier:                  tier,
			MaxLossPerUnit:        maxLoss,
			CapitalPerUnit:        maxLoss * (1 + rng.Float64()*3),
			MaxHoldingCorrelation: rng.Float64(),
		}
		st := ledger.State{
			PortfolioValue: pv,
			Cash:           pv,
			TickerExposure: map[string]float64{"ACME": rng.Float64() * pv * 0.2},
		}
		sizer := sizers[rng.Intn(len(sizers))]
		name := fmt.Sprintf("#%d %s/%s pv=%.0f loss=%.2f", i, class, tier, pv, maxLoss)

		res, err := sizer.Size(req, st)
		require.NotNil(t, res, name)
		if err != nil {
			code, ok := policy.CodeOf(err)
			require.True(t, ok, name)
			assert.Equal(t, policy.ReasonPositionTooSmall, code, name)
			assert.False(t, res.Pass, name)
			continue
		}

		require.True(t, res.Pass, name)
		assert.GreaterOrEqual(t, res.Units, 1, name)
		assert.LessOrEqual(t, res.RiskDollars, pv*0.05+0.01, name)
		assert.LessOrEqual(t, res.RiskPct, 5.0+1e-3, name)
		assert.LessOrEqual(t, res.PositionPct, 15.0+1e-3, name)
		assert.LessOrEqual(t, (st.TickerExposure["ACME"]+res.CapitalDeployed)/pv*100, 15.0+1e-3, name)
	}
}
