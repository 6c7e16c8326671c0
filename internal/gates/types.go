package gates

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/tradegate/internal/liquidity"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/sizing"
	"github.com/sawpanic/tradegate/internal/strength"
)

// Section names in evaluation order
const (
	SectionLiquidity     = "liquidity"
	SectionEventRisk     = "event_risk"
	SectionConcentration = "correlation_concentration"
	SectionPositionSize  = "position_size"
	SectionDisposition   = "disposition_alignment"
	SectionTechnical     = "technical"
	SectionRewardRisk    = "risk_reward"
	SectionPortfolioRisk = "portfolio_risk"
	SectionExecution     = "execution_feasibility"
)

// Status is the outcome of one section
type Status string

const (
	Pass Status = "pass"
	Warn Status = "warn"
	Fail Status = "fail"
)

// Verdict is the final gate decision
type Verdict string

const (
	Approve Verdict = "APPROVE"
	Reject  Verdict = "REJECT"
)

// SectionOutcome records one section's status. Reasons holds failures and
// warnings in the order they were found; Warnings is the soft subset.
type SectionOutcome struct {
	Name     string            `json:"name"`
	Status   Status            `json:"status"`
	Reasons  []policy.Advisory `json:"reasons,omitempty"`
	Warnings []policy.Advisory `json:"warnings,omitempty"`
}

// Target is a staged profit exit
type Target struct {
	Price decimal.Decimal `json:"price"`
	Units int             `json:"units"`
}

// ExecutionParams are the order parameters for an approved trade. Prices
// are per share of the net structure.
type ExecutionParams struct {
	LimitLow      decimal.Decimal `json:"limit_low"`
	LimitMid      decimal.Decimal `json:"limit_mid"`
	LimitHigh     decimal.Decimal `json:"limit_high"`
	Credit        bool            `json:"credit"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	ProfitTargets []Target        `json:"profit_targets"`
	TimeExit      time.Time       `json:"time_exit"`
	Units         int             `json:"units"`
}

// Request is everything the gate needs for one trade
type Request struct {
	Candidate   strength.InstrumentCandidate `json:"candidate"`
	Assessment  *regime.Assessment           `json:"assessment"`
	Selection   *mechanism.Selection         `json:"selection"`
	Sizing      *sizing.Result               `json:"sizing"`
	Liquidity   *liquidity.StructureResult   `json:"liquidity"`
	Earnings    *market.EarningsInfo         `json:"earnings,omitempty"`
	MacroEvents []market.MacroEvent          `json:"macro_events,omitempty"`
	Acknowledge bool                         `json:"acknowledge"`
	AsOf        time.Time                    `json:"as_of"`
}

// Result is the gate verdict with every section evaluated so far
type Result struct {
	Ticker                 string            `json:"ticker"`
	AsOf                   time.Time         `json:"as_of"`
	Sections               []SectionOutcome  `json:"sections"`
	Verdict                Verdict           `json:"verdict"`
	FailedSection          string            `json:"failed_section,omitempty"`
	Reasons                []policy.Advisory `json:"reasons,omitempty"`
	Warnings               []policy.Advisory `json:"warnings,omitempty"`
	RequiresAcknowledgment bool              `json:"requires_acknowledgment"`
	Acknowledged           bool              `json:"acknowledged"`
	Committed              bool              `json:"committed"`
	CommitAttempts         int               `json:"commit_attempts,omitempty"`
	LedgerVersion          uint64            `json:"ledger_version"`
	ReservationID          string            `json:"reservation_id,omitempty"`
	Execution              *ExecutionParams  `json:"execution,omitempty"`
}

// Approved reports an APPROVE verdict
func (r *Result) Approved() bool { return r.Verdict == Approve }

// Section returns the named outcome if it was evaluated
func (r *Result) Section(name string) (SectionOutcome, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return SectionOutcome{}, false
}

// Config holds the gate thresholds not owned by the ledger
type Config struct {
	EarningsBufferDays        int     `yaml:"earnings_buffer_days"`         // Default: 7
	EarningsBlackoutDays      int     `yaml:"earnings_blackout_days"`       // Default: 2
	MacroWindowDays           int     `yaml:"macro_window_days"`            // Default: 1
	WarnCorrelation           float64 `yaml:"warn_correlation"`             // Default: 0.7
	RiskCeilingPct            float64 `yaml:"risk_ceiling_pct"`             // Default: 5
	TierRiskWarnFrac          float64 `yaml:"tier_risk_warn_frac"`          // Default: 0.8
	MinTechnicalQuality       float64 `yaml:"min_technical_quality"`        // Default: 5
	WarnTechnicalQuality      float64 `yaml:"warn_technical_quality"`       // Default: 7
	MinRewardRiskDebit        float64 `yaml:"min_reward_risk_debit"`        // Default: 1.0
	PreferredRewardRiskDebit  float64 `yaml:"preferred_reward_risk_debit"`  // Default: 1.5
	MinRewardRiskCredit       float64 `yaml:"min_reward_risk_credit"`       // Default: 0.25
	PreferredRewardRiskCredit float64 `yaml:"preferred_reward_risk_credit"` // Default: 0.33
	WarnAggregateRiskPct      float64 `yaml:"warn_aggregate_risk_pct"`      // Default: 12
	MinDaysToExpiration       int     `yaml:"min_days_to_expiration"`       // Default: 14
	MaxCommitRetries          int     `yaml:"max_commit_retries"`           // Default: 5

	// Execution
	LimitBandFrac      float64   `yaml:"limit_band_frac"`      // Default: 0.5 of half the net spread
	MinLimitBand       float64   `yaml:"min_limit_band"`       // Default: 0.01
	DebitStopFrac      float64   `yaml:"debit_stop_frac"`      // Default: 0.5
	CreditStopMultiple float64   `yaml:"credit_stop_multiple"` // Default: 1.0
	DebitTargetFracs   []float64 `yaml:"debit_target_fracs"`   // Default: [0.5, 0.75] of max profit
	CreditTargetFracs  []float64 `yaml:"credit_target_fracs"`  // Default: [0.5, 0.25] of credit
	TimeExitDays       int       `yaml:"time_exit_days"`       // Default: 7
}

// DefaultConfig returns production gate thresholds
func DefaultConfig() Config {
	return Config{
		EarningsBufferDays:        7,
		EarningsBlackoutDays:      2,
		MacroWindowDays:           1,
		WarnCorrelation:           0.7,
		RiskCeilingPct:            5,
		TierRiskWarnFrac:          0.8,
		MinTechnicalQuality:       5,
		WarnTechnicalQuality:      7,
		MinRewardRiskDebit:        1.0,
		PreferredRewardRiskDebit:  1.5,
		MinRewardRiskCredit:       0.25,
		PreferredRewardRiskCredit: 0.33,
		WarnAggregateRiskPct:      12,
		MinDaysToExpiration:       14,
		MaxCommitRetries:          5,
		LimitBandFrac:             0.5,
		MinLimitBand:              0.01,
		DebitStopFrac:             0.5,
		CreditStopMultiple:        1.0,
		DebitTargetFracs:          []float64{0.5, 0.75},
		CreditTargetFracs:         []float64{0.5, 0.25},
		TimeExitDays:              7,
	}
}
