package gates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/policy"
)

var reservationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tradegate/reservation"))

// ReservationID derives a stable position id from the ticker, evaluation
// time and the ledger version the trade was checked against.
func ReservationID(ticker string, asOf time.Time, version uint64) string {
	key := fmt.Sprintf("%s|%s|%d", strings.ToUpper(ticker), asOf.UTC().Format(time.RFC3339Nano), version)
	return uuid.NewSHA1(reservationNamespace, []byte(key)).String()
}

// Observer receives gate outcomes, typically the metrics registry
type Observer interface {
	RecordGateVerdict(verdict string, failedSection string)
	RecordLedgerConflict()
}

// Gate is the final pre-trade check. It evaluates nine sections in order,
// stops at the first failure, and commits approved trades to the ledger.
type Gate struct {
	config   Config
	ledger   *ledger.Ledger
	observer Observer
}

// NewGate creates a gate over l. observer may be nil.
func NewGate(config Config, l *ledger.Ledger, observer Observer) *Gate {
	if config.MaxCommitRetries < 0 {
		config.MaxCommitRetries = 0
	}
	return &Gate{config: config, ledger: l, observer: observer}
}

// Config returns the gate thresholds
func (g *Gate) Config() Config { return g.config }

type section struct {
	name string
	run  func(evaluation) SectionOutcome
}

func (g *Gate) sections() []section {
	return []section{
		{SectionLiquidity, g.checkLiquidity},
		{SectionEventRisk, g.checkEventRisk},
		{SectionConcentration, g.checkConcentration},
		{SectionPositionSize, g.checkPositionSize},
		{SectionDisposition, g.checkDisposition},
		{SectionTechnical, g.checkTechnical},
		{SectionRewardRisk, g.checkRewardRisk},
		{SectionPortfolioRisk, g.checkPortfolioRisk},
		{SectionExecution, g.checkExecution},
	}
}

// ledger-dependent sections re-run when a commit loses the version race
func (g *Gate) recheckSections() []section {
	return []section{
		{SectionConcentration, g.checkConcentration},
		{SectionPositionSize, g.checkPositionSize},
		{SectionPortfolioRisk, g.checkPortfolioRisk},
		{SectionExecution, g.checkExecution},
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.Candidate.Ticker) == "" {
		return policy.Invalid("ticker", req.Candidate.Ticker, "must not be empty")
	}
	if req.Selection == nil || req.Selection.Structure == nil {
		return policy.Invalid("selection", nil, "a trade structure is required")
	}
	if req.AsOf.IsZero() {
		return policy.Invalid("as_of", req.AsOf, "must be set")
	}
	return nil
}

// Evaluate runs every section against a ledger snapshot. An approved trade
// with no warnings, or with warnings and Acknowledge set, is committed.
// A REJECT is a result, not an error.
func (g *Gate) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, policy.FromContext("gate", err)
	}

	snap := g.ledger.Snapshot()
	res := &Result{
		Ticker:        req.Candidate.Ticker,
		AsOf:          req.AsOf,
		LedgerVersion: snap.Version,
		ReservationID: ReservationID(req.Candidate.Ticker, req.AsOf, snap.Version),
	}
	e := evaluation{req: req, before: snap, after: snap.Apply(g.reservation(req, res.ReservationID))}

	for _, s := range g.sections() {
		o := s.run(e)
		res.Sections = append(res.Sections, o)
		res.collect()
		if o.Status == Fail {
			g.reject(res, s.name)
			return res, nil
		}
	}

	res.Verdict = Approve
	res.Execution = g.executionParams(req)
	if len(res.Warnings) > 0 && !req.Acknowledge {
		res.RequiresAcknowledgment = true
		g.finish(res)
		return res, nil
	}
	res.Acknowledged = req.Acknowledge && len(res.Warnings) > 0
	return g.commit(ctx, req, res)
}

// Acknowledge accepts the warnings on an approved result and commits it. The
// ledger-dependent sections are re-run if the ledger moved in the meantime.
func (g *Gate) Acknowledge(ctx context.Context, res *Result, req Request) (*Result, error) {
	if res == nil || !res.Approved() {
		return nil, policy.Invalid("result", nil, "only an approved result can be acknowledged")
	}
	if res.Committed {
		return res, nil
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	req.Acknowledge = true
	res.Acknowledged = true
	res.RequiresAcknowledgment = false
	return g.commit(ctx, req, res)
}

// commit retries on version conflicts. Warnings present on entry are the
// ones the caller has seen; a recheck that raises any other code goes back
// for acknowledgment instead of committing.
func (g *Gate) commit(ctx context.Context, req Request, res *Result) (*Result, error) {
	r := g.reservation(req, res.ReservationID)
	version := res.LedgerVersion
	seen := warningCodes(res.Warnings)

	for attempt := 0; attempt <= g.config.MaxCommitRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, policy.FromContext("gate", err)
		}
		res.CommitAttempts = attempt + 1

		st, err := g.ledger.Commit(ctx, version, r)
		switch {
		case err == nil:
			res.Committed = true
			res.LedgerVersion = st.Version
			g.finish(res)
			return res, nil

		case errors.Is(err, ledger.ErrVersionConflict):
			if g.observer != nil {
				g.observer.RecordLedgerConflict()
			}
			snap := g.ledger.Snapshot()
			version = snap.Version
			res.LedgerVersion = version
			e := evaluation{req: req, before: snap, after: snap.Apply(r)}
			if failed := g.recheck(res, e); failed != "" {
				g.reject(res, failed)
				return res, nil
			}
			if unseen := unacknowledged(res.Warnings, seen); len(unseen) > 0 {
				log.Info().
					Str("ticker", res.Ticker).
					Str("warnings", policy.JoinAdvisories(unseen)).
					Msg("New warnings after ledger refresh")
				res.RequiresAcknowledgment = true
				res.Acknowledged = false
				g.finish(res)
				return res, nil
			}

		case errors.Is(err, policy.ErrPolicyViolation):
			var v *policy.ViolationError
			name := SectionPortfolioRisk
			adv := policy.Advisory{Code: policy.ReasonAggregateRiskCap, Stage: name, Message: err.Error()}
			if errors.As(err, &v) {
				name = sectionForCode(v.Code)
				adv = policy.Advisory{Code: v.Code, Stage: name, Message: v.Message}
			}
			g.replace(res, SectionOutcome{Name: name, Status: Fail, Reasons: []policy.Advisory{adv}})
			g.reject(res, name)
			return res, nil

		default:
			return nil, fmt.Errorf("commit %s: %w", res.Ticker, err)
		}
	}

	adv := policy.Advisory{
		Code:    policy.ReasonLedgerCommitConflict,
		Stage:   SectionPortfolioRisk,
		Message: fmt.Sprintf("ledger moved on %d commit attempts", res.CommitAttempts),
	}
	g.replace(res, SectionOutcome{Name: SectionPortfolioRisk, Status: Fail, Reasons: []policy.Advisory{adv}})
	g.reject(res, SectionPortfolioRisk)
	return res, nil
}

// recheck re-runs the ledger-dependent sections and returns the first that
// fails, or "".
func (g *Gate) recheck(res *Result, e evaluation) string {
	for _, s := range g.recheckSections() {
		o := s.run(e)
		g.replace(res, o)
		if o.Status == Fail {
			return s.name
		}
	}
	return ""
}

func warningCodes(ws []policy.Advisory) map[policy.ReasonCode]bool {
	out := make(map[policy.ReasonCode]bool, len(ws))
	for _, w := range ws {
		out[w.Code] = true
	}
	return out
}

// unacknowledged returns the warnings whose code is not in seen
func unacknowledged(ws []policy.Advisory, seen map[policy.ReasonCode]bool) []policy.Advisory {
	var out []policy.Advisory
	for _, w := range ws {
		if !seen[w.Code] {
			out = append(out, w)
		}
	}
	return out
}

// replace swaps in a fresh outcome for a section already recorded
func (g *Gate) replace(res *Result, o SectionOutcome) {
	for i := range res.Sections {
		if res.Sections[i].Name == o.Name {
			res.Sections[i] = o
			res.collect()
			return
		}
	}
	res.Sections = append(res.Sections, o)
	res.collect()
}

// collect rebuilds the flattened reasons from the section outcomes
func (r *Result) collect() {
	r.Reasons, r.Warnings = nil, nil
	for _, s := range r.Sections {
		r.Reasons = append(r.Reasons, s.Reasons...)
		r.Warnings = append(r.Warnings, s.Warnings...)
	}
}

func (g *Gate) reject(res *Result, section string) {
	res.Verdict = Reject
	res.FailedSection = section
	res.RequiresAcknowledgment = false
	res.Committed = false
	res.Execution = nil
	g.finish(res)
}

func (g *Gate) finish(res *Result) {
	if g.observer != nil {
		g.observer.RecordGateVerdict(string(res.Verdict), res.FailedSection)
	}

	event := log.Info()
	if res.Verdict == Reject {
		event = log.Warn().Str("failed_section", res.FailedSection).Str("reasons", policy.JoinAdvisories(res.Reasons))
	}
	event.
		Str("ticker", res.Ticker).
		Str("verdict", string(res.Verdict)).
		Int("sections", len(res.Sections)).
		Int("warnings", len(res.Warnings)).
		Bool("requires_ack", res.RequiresAcknowledgment).
		Bool("committed", res.Committed).
		Uint64("ledger_version", res.LedgerVersion).
		Msg("Risk gate verdict")
}

// reservation converts the sized structure into a pending ledger position
func (g *Gate) reservation(req Request, id string) ledger.Reservation {
	st := req.Selection.Structure
	r := ledger.Reservation{
		ID:     id,
		Ticker: req.Candidate.Ticker,
		Family: string(st.Family),
		AsOf:   req.AsOf,
	}
	if req.Sizing == nil {
		return r
	}
	beta := req.Candidate.Beta
	if beta == 0 {
		beta = 1
	}
	r.Units = req.Sizing.Units
	r.Exposure = req.Sizing.CapitalDeployed
	r.Risk = req.Sizing.RiskDollars
	r.BetaDelta = st.NetDelta * float64(r.Units) * beta
	return r
}
