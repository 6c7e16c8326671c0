package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/tradegate/internal/gates"
	"github.com/sawpanic/tradegate/internal/liquidity"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/sizing"
	"github.com/sawpanic/tradegate/internal/strength"
)

// Status is the terminal state of a decision
type Status string

const (
	StatusApproved     Status = "approved"
	StatusPendingAck   Status = "pending_ack"
	StatusRejected     Status = "rejected"
	StatusInconclusive Status = "inconclusive"
	StatusError        Status = "error"
)

// DecisionRecord is the auditable outcome of one pipeline run
type DecisionRecord struct {
	ID            string                        `json:"id"`
	Ticker        string                        `json:"ticker"`
	AsOf          time.Time                     `json:"as_of"`
	Status        Status                        `json:"status"`
	Stage         string                        `json:"stage,omitempty"`       // stage that halted the run
	ReasonCode    policy.ReasonCode             `json:"reason_code,omitempty"` // first violation code
	Error         string                        `json:"error,omitempty"`
	LedgerVersion uint64                        `json:"ledger_version"` // version seen at start
	Regime        *regime.Assessment            `json:"regime,omitempty"`
	Ranking       *strength.Ranking             `json:"ranking,omitempty"`
	Candidate     *strength.InstrumentCandidate `json:"candidate,omitempty"`
	Selection     *mechanism.Selection          `json:"selection,omitempty"`
	Sizing        *sizing.Result                `json:"sizing,omitempty"`
	Liquidity     *liquidity.StructureResult    `json:"liquidity,omitempty"`
	Gate          *gates.Result                 `json:"gate,omitempty"`
	Advisories    []policy.Advisory             `json:"advisories,omitempty"`
	Stages        []StageTrace                  `json:"stages,omitempty"`
}

// Terminal reports whether the record needs no further action
func (r *DecisionRecord) Terminal() bool { return r.Status != StatusPendingAck }

var decisionNamespace = uuid.MustParse("5b0f5a43-7d1e-4b53-9a0e-3f4c1f6d2e81")

// DecisionID derives a stable id so that reruns over identical inputs, and a
// later acknowledgment of a pending decision, land on the same record.
func DecisionID(ticker string, asOf time.Time, version uint64) string {
	key := fmt.Sprintf("%s|%s|%d", ticker, asOf.UTC().Format(time.RFC3339Nano), version)
	return uuid.NewSHA1(decisionNamespace, []byte(key)).String()
}

// Recorder persists decision records
type Recorder interface {
	Insert(ctx context.Context, rec *DecisionRecord) error
}

// Publisher ships decision records to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, rec *DecisionRecord) error
}

// Broadcaster fans records out to live subscribers; it must not block
type Broadcaster interface {
	Broadcast(rec *DecisionRecord)
}

// settle assigns the status from the halting error or the gate verdict. The
// returned error is non-nil only for validation and internal failures.
func (r *DecisionRecord) settle(run *Runner) error {
	r.Stages = run.Trace()
	if err := run.Err(); err != nil {
		r.Stage = run.FailedStage()
		r.Error = err.Error()
		if code, ok := policy.CodeOf(err); ok {
			r.ReasonCode = code
		}
		switch {
		case errors.Is(err, policy.ErrDataUnavailable):
			r.Status = StatusInconclusive
		case errors.Is(err, policy.ErrPolicyViolation):
			r.Status = StatusRejected
		default:
			r.Status = StatusError
			return err
		}
		return nil
	}

	switch {
	case r.Gate == nil:
		r.Status = StatusError
		return errors.New("pipeline finished without a gate result")
	case !r.Gate.Approved():
		r.Status = StatusRejected
		r.Stage = "gate:" + r.Gate.FailedSection
		if len(r.Gate.Reasons) > 0 {
			r.ReasonCode = r.Gate.Reasons[0].Code
		}
	case r.Gate.Committed:
		r.Status = StatusApproved
	default:
		r.Status = StatusPendingAck
	}
	return nil
}
