package ledger

import (
	"sort"
	"time"
)

// Position is one open structure held by the portfolio
type Position struct {
	ID        string    `json:"id" db:"id"`
	Ticker    string    `json:"ticker" db:"ticker"`
	Family    string    `json:"family" db:"family"`
	Units     int       `json:"units" db:"units"`
	Exposure  float64   `json:"exposure" db:"exposure"` // capital deployed, dollars
	Risk      float64   `json:"risk" db:"risk"`         // max loss, dollars
	BetaDelta float64   `json:"beta_delta" db:"beta_delta"`
	OpenedAt  time.Time `json:"opened_at" db:"opened_at"`
}

// Reservation is a pending position the gate wants to commit
type Reservation struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	Family    string    `json:"family"`
	Units     int       `json:"units"`
	Exposure  float64   `json:"exposure"`
	Risk      float64   `json:"risk"`
	BetaDelta float64   `json:"beta_delta"`
	AsOf      time.Time `json:"as_of"`
}

func (r Reservation) position() Position {
	return Position{
		ID:        r.ID,
		Ticker:    r.Ticker,
		Family:    r.Family,
		Units:     r.Units,
		Exposure:  r.Exposure,
		Risk:      r.Risk,
		BetaDelta: r.BetaDelta,
		OpenedAt:  r.AsOf,
	}
}

// State is the portfolio as seen by sizing and the risk gate
type State struct {
	Version        uint64                        `json:"version"`
	PortfolioValue float64                       `json:"portfolio_value"`
	Cash           float64                       `json:"cash"`
	NetBetaDelta   float64                       `json:"net_beta_delta"`
	TickerExposure map[string]float64            `json:"ticker_exposure"`
	OpenRisk       float64                       `json:"open_risk"`
	Positions      []Position                    `json:"positions"`
	Correlations   map[string]map[string]float64 `json:"correlations,omitempty"`
	BenchmarkPrice float64                       `json:"benchmark_price,omitempty"`
}

// Clone returns a deep copy
func (s State) Clone() State {
	out := s
	out.TickerExposure = make(map[string]float64, len(s.TickerExposure))
	for k, v := range s.TickerExposure {
		out.TickerExposure[k] = v
	}
	out.Positions = append([]Position(nil), s.Positions...)
	if s.Correlations != nil {
		out.Correlations = make(map[string]map[string]float64, len(s.Correlations))
		for k, row := range s.Correlations {
			cp := make(map[string]float64, len(row))
			for j, v := range row {
				cp[j] = v
			}
			out.Correlations[k] = cp
		}
	}
	return out
}

func (s State) pct(dollars float64) float64 {
	if s.PortfolioValue <= 0 {
		return 0
	}
	return dollars / s.PortfolioValue * 100
}

// OpenRiskPct is open risk as a percent of portfolio value
func (s State) OpenRiskPct() float64 { return s.pct(s.OpenRisk) }

// TickerPct is the ticker's exposure as a percent of portfolio value
func (s State) TickerPct(ticker string) float64 { return s.pct(s.TickerExposure[ticker]) }

// Correlation looks up the pairwise correlation in either order
func (s State) Correlation(a, b string) (float64, bool) {
	if a == b {
		return 1, true
	}
	if v, ok := s.Correlations[a][b]; ok {
		return v, true
	}
	v, ok := s.Correlations[b][a]
	return v, ok
}

// Holdings returns held tickers in sorted order
func (s State) Holdings() []string {
	out := make([]string, 0, len(s.TickerExposure))
	for t, exp := range s.TickerExposure {
		if exp > 0 {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// MaxCorrelation is the highest correlation between ticker and any other
// holding; 0 when nothing else is held or nothing is known.
func (s State) MaxCorrelation(ticker string) float64 {
	max := 0.0
	for _, h := range s.Holdings() {
		if h == ticker {
			continue
		}
		if c, ok := s.Correlation(ticker, h); ok && c > max {
			max = c
		}
	}
	return max
}

// GroupExposure sums the exposure of ticker and every holding correlated
// with it above threshold.
func (s State) GroupExposure(ticker string, threshold float64) float64 {
	total := s.TickerExposure[ticker]
	for _, h := range s.Holdings() {
		if h == ticker {
			continue
		}
		if c, ok := s.Correlation(ticker, h); ok && c > threshold {
			total += s.TickerExposure[h]
		}
	}
	return total
}

// GroupPct is GroupExposure as a percent of portfolio value
func (s State) GroupPct(ticker string, threshold float64) float64 {
	return s.pct(s.GroupExposure(ticker, threshold))
}

// Apply returns the projected state after opening r. The receiver is not modified.
func (s State) Apply(r Reservation) State {
	out := s.Clone()
	out.Cash -= r.Exposure
	out.OpenRisk += r.Risk
	out.NetBetaDelta += r.BetaDelta
	out.TickerExposure[r.Ticker] += r.Exposure
	out.Positions = append(out.Positions, r.position())
	return out
}

// SetCorrelation records a symmetric pairwise correlation
func (s *State) SetCorrelation(a, b string, v float64) {
	if s.Correlations == nil {
		s.Correlations = make(map[string]map[string]float64)
	}
	if s.Correlations[a] == nil {
		s.Correlations[a] = make(map[string]float64)
	}
	s.Correlations[a][b] = v
}

// Limits are the portfolio caps re-checked on every commit
type Limits struct {
	MaxOpenRiskPct   float64 `yaml:"max_open_risk_pct"` // Default: 15
	MaxTickerPct     float64 `yaml:"max_ticker_pct"`    // Default: 15
	MaxGroupPct      float64 `yaml:"max_group_pct"`     // Default: 25
	GroupCorrelation float64 `yaml:"group_correlation"` // Default: 0.8
}

// DefaultLimits returns production portfolio caps
func DefaultLimits() Limits {
	return Limits{
		MaxOpenRiskPct:   15,
		MaxTickerPct:     15,
		MaxGroupPct:      25,
		GroupCorrelation: 0.8,
	}
}
