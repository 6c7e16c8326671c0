package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/policy"
)

// ErrVersionConflict is returned when the ledger moved since the caller's snapshot
var ErrVersionConflict = errors.New("ledger version conflict")

// ErrUnknownPosition is returned by Release for an id that is not open
var ErrUnknownPosition = errors.New("unknown position")

const epsilon = 1e-9

// Store persists open positions
type Store interface {
	List(ctx context.Context) ([]Position, error)
	Upsert(ctx context.Context, p Position) error
	Delete(ctx context.Context, id string) error
}

// Ledger is the only shared mutable state of the pipeline. Readers take
// snapshots; writers commit against the version they read.
type Ledger struct {
	mu     sync.RWMutex
	state  State
	limits Limits
	store  Store
}

// New creates a ledger from an initial state. store may be nil.
func New(initial State, limits Limits, store Store) *Ledger {
	st := initial.Clone()
	if st.TickerExposure == nil {
		st.TickerExposure = make(map[string]float64)
	}
	return &Ledger{state: st, limits: limits, store: store}
}

// Load replaces open positions with the store's contents and recomputes
// exposure, risk and cash.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	positions, err := l.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// undo the current positions before applying the stored ones
	for _, p := range l.state.Positions {
		l.state.Cash += p.Exposure
	}
	l.state.TickerExposure = make(map[string]float64)
	l.state.OpenRisk = 0
	l.state.NetBetaDelta = 0
	l.state.Positions = nil
	for _, p := range positions {
		l.state.Cash -= p.Exposure
		l.state.OpenRisk += p.Risk
		l.state.NetBetaDelta += p.BetaDelta
		l.state.TickerExposure[p.Ticker] += p.Exposure
		l.state.Positions = append(l.state.Positions, p)
	}
	l.state.Version++

	log.Info().Int("positions", len(positions)).Float64("open_risk_pct", l.state.OpenRiskPct()).Msg("Ledger loaded")
	return nil
}

// Limits returns the configured caps
func (l *Ledger) Limits() Limits { return l.limits }

// Snapshot returns a deep copy of the current state
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// CheckCaps validates a post-trade state for ticker against the limits. A
// negative cash balance is never allowed.
func CheckCaps(s State, ticker string, limits Limits) error {
	if s.Cash < -epsilon {
		return policy.Violation(policy.ReasonInsufficientCash, "ledger",
			"%s leaves cash at $%.2f", ticker, s.Cash)
	}
	if pct := s.OpenRiskPct(); pct > limits.MaxOpenRiskPct+epsilon {
		return policy.Violation(policy.ReasonAggregateRiskCap, "ledger",
			"open risk %.2f%% above %.2f%%", pct, limits.MaxOpenRiskPct)
	}
	if pct := s.TickerPct(ticker); pct > limits.MaxTickerPct+epsilon {
		return policy.Violation(policy.ReasonSingleTickerCap, "ledger",
			"%s exposure %.2f%% above %.2f%%", ticker, pct, limits.MaxTickerPct)
	}
	if pct := s.GroupPct(ticker, limits.GroupCorrelation); pct > limits.MaxGroupPct+epsilon {
		return policy.Violation(policy.ReasonCorrelatedGroupCap, "ledger",
			"%s correlated group %.2f%% above %.2f%%", ticker, pct, limits.MaxGroupPct)
	}
	return nil
}

// Commit applies r if the ledger is still at version expected. Every cap is
// re-checked against the post-trade state.
func (l *Ledger) Commit(ctx context.Context, expected uint64, r Reservation) (State, error) {
	l.mu.Lock()
	if l.state.Version != expected {
		current := l.state.Version
		l.mu.Unlock()
		log.Debug().Str("ticker", r.Ticker).Uint64("expected", expected).Uint64("current", current).Msg("Ledger commit conflict")
		return State{}, fmt.Errorf("%w: expected %d, current %d", ErrVersionConflict, expected, current)
	}

	next := l.state.Apply(r)
	if err := CheckCaps(next, r.Ticker, l.limits); err != nil {
		l.mu.Unlock()
		return State{}, err
	}
	next.Version++
	l.state = next
	out := next.Clone()
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Upsert(ctx, r.position()); err != nil {
			log.Warn().Err(err).Str("id", r.ID).Msg("Failed to persist position")
		}
	}

	log.Info().
		Str("ticker", r.Ticker).
		Str("id", r.ID).
		Int("units", r.Units).
		Uint64("version", out.Version).
		Float64("open_risk_pct", out.OpenRiskPct()).
		Msg("Ledger commit")
	return out, nil
}

// Release closes an open position and returns its capital
func (l *Ledger) Release(ctx context.Context, id string) (State, error) {
	l.mu.Lock()
	idx := -1
	for i, p := range l.state.Positions {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return State{}, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}

	next := l.state.Clone()
	p := next.Positions[idx]
	next.Positions = append(next.Positions[:idx], next.Positions[idx+1:]...)
	next.Cash += p.Exposure
	next.OpenRisk -= p.Risk
	next.NetBetaDelta -= p.BetaDelta
	next.TickerExposure[p.Ticker] -= p.Exposure
	if next.TickerExposure[p.Ticker] <= epsilon {
		delete(next.TickerExposure, p.Ticker)
	}
	if next.OpenRisk < epsilon {
		next.OpenRisk = 0
	}
	next.Version++
	l.state = next
	out := next.Clone()
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to delete position")
		}
	}
	return out, nil
}

// UpdateCorrelations replaces the correlation matrix without bumping the
// version; correlations are market data, not portfolio state.
func (l *Ledger) UpdateCorrelations(c map[string]map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tmp := State{Correlations: c}.Clone()
	l.state.Correlations = tmp.Correlations
}

// MergeCorrelations records ticker's correlation to each entry of row,
// keeping every other pair. Like UpdateCorrelations it leaves the version alone.
func (l *Ledger) MergeCorrelations(ticker string, row map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for other, v := range row {
		if other == ticker {
			continue
		}
		if rev, ok := l.state.Correlations[other]; ok {
			delete(rev, ticker)
		}
		l.state.SetCorrelation(ticker, other, v)
	}
}
