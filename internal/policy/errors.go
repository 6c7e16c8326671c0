package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDataUnavailable marks stale or missing required input; the stage result is inconclusive.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrValidation marks malformed or out-of-range numeric input.
	ErrValidation = errors.New("validation error")
	// ErrPolicyViolation marks a computed value breaching a hard threshold.
	ErrPolicyViolation = errors.New("policy violation")
)

// ReasonCode enumerates rejection and advisory reasons
type ReasonCode string

const (
	ReasonSpreadAboveCap       ReasonCode = "SPREAD_ABOVE_CAP"
	ReasonSpreadWide           ReasonCode = "SPREAD_WIDE"
	ReasonVolumeBelowFloor     ReasonCode = "VOLUME_BELOW_FLOOR"
	ReasonOIBelowFloor         ReasonCode = "OI_BELOW_FLOOR"
	ReasonStaleQuote           ReasonCode = "STALE_QUOTE"
	ReasonZeroQuote            ReasonCode = "ZERO_QUOTE"
	ReasonLowLiquidityScore    ReasonCode = "LOW_LIQUIDITY_SCORE"
	ReasonLiquidity            ReasonCode = "LIQUIDITY"
	ReasonEarningsBlackout     ReasonCode = "EARNINGS_BLACKOUT"
	ReasonEarningsConflict     ReasonCode = "EARNINGS_CONFLICT"
	ReasonMacroEvent           ReasonCode = "MACRO_EVENT"
	ReasonSingleTickerCap      ReasonCode = "SINGLE_TICKER_CAP"
	ReasonCorrelatedGroupCap   ReasonCode = "CORRELATED_GROUP_CAP"
	ReasonHighCorrelation      ReasonCode = "HIGH_CORRELATION"
	ReasonAggregateRiskCap     ReasonCode = "AGGREGATE_RISK_CAP"
	ReasonAggregateRiskHigh    ReasonCode = "AGGREGATE_RISK_HIGH"
	ReasonRiskCeiling          ReasonCode = "RISK_CEILING"
	ReasonRiskNearTierMax      ReasonCode = "RISK_NEAR_TIER_MAX"
	ReasonPositionTooSmall     ReasonCode = "POSITION_TOO_SMALL"
	ReasonAllocationCapped     ReasonCode = "ALLOCATION_CAPPED"
	ReasonLowConviction        ReasonCode = "LOW_CONVICTION"
	ReasonDispositionConflict  ReasonCode = "DISPOSITION_CONFLICT"
	ReasonDispositionNeutral   ReasonCode = "DISPOSITION_NEUTRAL"
	ReasonCrisisOverride       ReasonCode = "CRISIS_OVERRIDE"
	ReasonTechnicalQuality     ReasonCode = "TECHNICAL_QUALITY"
	ReasonTechnicalMarginal    ReasonCode = "TECHNICAL_MARGINAL"
	ReasonRewardRisk           ReasonCode = "REWARD_RISK"
	ReasonRewardRiskMarginal   ReasonCode = "REWARD_RISK_MARGINAL"
	ReasonInsufficientCash     ReasonCode = "INSUFFICIENT_CASH"
	ReasonExpirationTooClose   ReasonCode = "EXPIRATION_TOO_CLOSE"
	ReasonNoQualifyingSector   ReasonCode = "NO_QUALIFYING_SECTOR"
	ReasonNoCandidate          ReasonCode = "NO_CANDIDATE"
	ReasonNoEdge               ReasonCode = "NO_EDGE"
	ReasonLedgerCommitConflict ReasonCode = "LEDGER_COMMIT_CONFLICT"
)

// DataUnavailableError reports a required input that is stale, missing or timed out
type DataUnavailableError struct {
	Source string
	Reason string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable (%s): %s", e.Source, e.Reason)
}

func (e *DataUnavailableError) Unwrap() error { return ErrDataUnavailable }

// ValidationError contains detailed information about a rejected input value
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ViolationError contains detailed violation information
type ViolationError struct {
	Code    ReasonCode
	Stage   string
	Message string
	Details map[string]interface{}
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("[%s] %s (stage=%s)", e.Code, e.Message, e.Stage)
}

func (e *ViolationError) Unwrap() error { return ErrPolicyViolation }

// Advisory is a soft-threshold crossing. It never halts evaluation but must be
// acknowledged before a trade is committed.
type Advisory struct {
	Code    ReasonCode `json:"code"`
	Stage   string     `json:"stage"`
	Message string     `json:"message"`
}

func (a Advisory) String() string {
	return fmt.Sprintf("[%s] %s", a.Code, a.Message)
}

// Unavailable builds a DataUnavailableError
func Unavailable(source, format string, args ...interface{}) error {
	return &DataUnavailableError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

// Invalid builds a ValidationError
func Invalid(field string, value interface{}, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Violation builds a ViolationError
func Violation(code ReasonCode, stage, format string, args ...interface{}) error {
	return &ViolationError{Code: code, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// FromContext converts a context deadline or cancellation into DataUnavailable.
// Any other error is returned unchanged.
func FromContext(source string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DataUnavailableError{Source: source, Reason: "timed out"}
	}
	if errors.Is(err, context.Canceled) {
		return &DataUnavailableError{Source: source, Reason: "cancelled"}
	}
	return err
}

// Kind classifies an error into one of the taxonomy labels used in records and metrics
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	default:
		return "internal"
	}
}

// CodeOf returns the reason code carried by a ViolationError, if any
func CodeOf(err error) (ReasonCode, bool) {
	var v *ViolationError
	if errors.As(err, &v) {
		return v.Code, true
	}
	return "", false
}

// JoinAdvisories renders advisories for log lines
func JoinAdvisories(advisories []Advisory) string {
	parts := make([]string, len(advisories))
	for i, a := range advisories {
		parts[i] = a.String()
	}
	return strings.Join(parts, "; ")
}
