package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain/indicators"
	"github.com/sawpanic/tradegate/internal/gates"
	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/liquidity"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/sizing"
	"github.com/sawpanic/tradegate/internal/strength"
)

// Stage names as they appear in records, logs and metrics
const (
	StageSnapshot    = "snapshot"
	StageRegime      = "regime"
	StageSectorRank  = "sector_rank"
	StageMembers     = "members"
	StageInstruments = "instruments"
	StageRank        = "instrument_rank"
	StageCorrelation = "correlation"
	StageMechanism   = "mechanism"
	StageQuotes      = "quotes"
	StageSizing      = "sizing"
	StageLiquidity   = "liquidity"
	StageEvents      = "events"
	StageGate        = "gate"
)

// Config controls fan-out and the sizing bucket
type Config struct {
	Concurrency        int                   `yaml:"concurrency"`          // Default: 4
	Classification     sizing.Classification `yaml:"classification"`       // Default: core
	StageTimeout       time.Duration         `yaml:"stage_timeout"`        // Default: 10s, per provider call
	MacroLookaheadDays int                   `yaml:"macro_lookahead_days"` // Default: 7
}

// DefaultConfig returns the production pipeline settings
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		Classification:     sizing.Core,
		StageTimeout:       10 * time.Second,
		MacroLookaheadDays: 7,
	}
}

// Components are the stage implementations the pipeline wires together
type Components struct {
	Provider   market.Provider
	Classifier *regime.Classifier
	Ranker     *strength.Ranker
	Selector   *mechanism.Selector
	Sizer      *sizing.Sizer
	Liquidity  *liquidity.Gate
	Gate       *gates.Gate
	Ledger     *ledger.Ledger
}

// Option configures optional collaborators
type Option func(*Pipeline)

// WithRecorder stores every record
func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// WithPublisher publishes every record
func WithPublisher(pub Publisher) Option { return func(p *Pipeline) { p.publisher = pub } }

// WithBroadcaster pushes every record to live subscribers
func WithBroadcaster(b Broadcaster) Option { return func(p *Pipeline) { p.broadcaster = b } }

// WithObserver reports stage timings and open risk
func WithObserver(o Observer) Option { return func(p *Pipeline) { p.observer = o } }

// WithClock sets the clock used when no snapshot timestamp is available
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// Pipeline runs the decision stages from snapshot to gate
type Pipeline struct {
	config      Config
	c           Components
	recorder    Recorder
	publisher   Publisher
	broadcaster Broadcaster
	observer    Observer
	regimes     *regime.Tracker
	now         func() time.Time
}

// New validates the components and bounds every provider call by StageTimeout
func New(config Config, c Components, opts ...Option) (*Pipeline, error) {
	switch {
	case c.Provider == nil:
		return nil, policy.Invalid("provider", nil, "must be set")
	case c.Classifier == nil, c.Ranker == nil, c.Selector == nil:
		return nil, policy.Invalid("components", nil, "classifier, ranker and selector must be set")
	case c.Sizer == nil, c.Liquidity == nil, c.Gate == nil, c.Ledger == nil:
		return nil, policy.Invalid("components", nil, "sizer, liquidity, gate and ledger must be set")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Classification == "" {
		config.Classification = sizing.Core
	}

	c.Provider = market.WithTimeout(c.Provider, config.StageTimeout)
	p := &Pipeline{config: config, c: c, regimes: regime.NewTracker(0), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() Config { return p.config }

// Ledger returns the shared portfolio ledger
func (p *Pipeline) Ledger() *ledger.Ledger { return p.c.Ledger }

// RegimeHistory lists the disposition changes seen by this pipeline
func (p *Pipeline) RegimeHistory() []regime.DispositionChange { return p.regimes.History() }

// EvaluateOptions selects the ticker and whether warnings are acknowledged
type EvaluateOptions struct {
	Ticker      string `json:"ticker"`
	Acknowledge bool   `json:"acknowledge"`
}

// market state shared by every candidate of one run
type prefix struct {
	asOf       time.Time
	snapshot   *market.MarketSnapshot
	assessment *regime.Assessment
	ranking    *strength.Ranking
}

// Evaluate decides one ticker, or the top candidate of the selected sector
// when ticker is empty
func (p *Pipeline) Evaluate(ctx context.Context, ticker string) (*DecisionRecord, error) {
	return p.EvaluateWith(ctx, EvaluateOptions{Ticker: ticker})
}

// EvaluateWith is Evaluate with an explicit acknowledgment. Re-running a
// pending_ack decision with Acknowledge set commits it under the same ID.
func (p *Pipeline) EvaluateWith(ctx context.Context, opts EvaluateOptions) (*DecisionRecord, error) {
	ticker := strings.ToUpper(strings.TrimSpace(opts.Ticker))
	version := p.c.Ledger.Snapshot().Version
	run := NewRunner(ticker, p.observer)
	rec := &DecisionRecord{Ticker: ticker, LedgerVersion: version}

	pre := p.prefix(ctx, run, rec, ticker != "")

	var cand strength.InstrumentCandidate
	var inst *market.Instrument
	if ticker != "" {
		cand, inst = p.single(ctx, run, pre, ticker)
	} else {
		cands, insts := p.screen(ctx, run, pre)
		if len(cands) > 0 {
			cand, inst = cands[0], insts[cands[0].Ticker]
			rec.Ticker = cand.Ticker
		}
	}
	if run.Err() == nil {
		rec.Candidate = &cand
		p.decide(ctx, run, rec, pre, cand, inst, opts.Acknowledge)
	}

	rec.AsOf = pre.asOf
	rec.ID = DecisionID(rec.Ticker, rec.AsOf, version)
	err := rec.settle(run)
	p.emit(ctx, rec)
	return rec, err
}

// Cycle runs the shared stages once and decides the top candidates of the
// selected sector concurrently against the shared ledger
func (p *Pipeline) Cycle(ctx context.Context, top int) ([]*DecisionRecord, error) {
	if top <= 0 {
		return nil, policy.Invalid("top", top, "must be positive")
	}

	run := NewRunner("", p.observer)
	head := &DecisionRecord{LedgerVersion: p.c.Ledger.Snapshot().Version}
	pre := p.prefix(ctx, run, head, false)
	cands, insts := p.screen(ctx, run, pre)
	if run.Err() != nil {
		head.AsOf = pre.asOf
		head.ID = DecisionID("", head.AsOf, head.LedgerVersion)
		err := head.settle(run)
		p.emit(ctx, head)
		return []*DecisionRecord{head}, err
	}
	if len(cands) > top {
		cands = cands[:top]
	}

	log.Info().
		Int("candidates", len(cands)).
		Str("sector", pre.ranking.Selected.Symbol).
		Str("disposition", string(pre.assessment.Disposition)).
		Msg("Cycle candidates selected")

	return fanOut(ctx, p.config.Concurrency, cands, func(ctx context.Context, cand strength.InstrumentCandidate) (*DecisionRecord, error) {
		version := p.c.Ledger.Snapshot().Version
		run := NewRunner(cand.Ticker, p.observer)
		rec := &DecisionRecord{
			Ticker:        cand.Ticker,
			AsOf:          pre.asOf,
			LedgerVersion: version,
			Regime:        pre.assessment,
			Ranking:       pre.ranking,
			Candidate:     &cand,
		}
		p.decide(ctx, run, rec, pre, cand, insts[cand.Ticker], false)
		rec.ID = DecisionID(rec.Ticker, rec.AsOf, version)
		err := rec.settle(run)
		p.emit(ctx, rec)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// Regime classifies the current snapshot
func (p *Pipeline) Regime(ctx context.Context) (*regime.Assessment, error) {
	snap, err := p.c.Provider.Snapshot(ctx)
	if err != nil {
		return nil, policy.FromContext(StageSnapshot, err)
	}
	return p.classify(ctx, snap)
}

// Sectors ranks the sectors; a ranking with no qualifying sector is returned
// with Selected nil rather than as an error
func (p *Pipeline) Sectors(ctx context.Context) (*strength.Ranking, error) {
	snap, err := p.c.Provider.Snapshot(ctx)
	if err != nil {
		return nil, policy.FromContext(StageSnapshot, err)
	}
	a, err := p.classify(ctx, snap)
	if err != nil {
		return nil, err
	}
	ranking, err := p.c.Ranker.RankSectors(snap, a)
	if err != nil && ranking != nil && errors.Is(err, policy.ErrPolicyViolation) {
		return ranking, nil
	}
	return ranking, err
}

// classify runs the classifier and feeds the change tracker
func (p *Pipeline) classify(ctx context.Context, snap *market.MarketSnapshot) (*regime.Assessment, error) {
	a, err := p.c.Classifier.Classify(ctx, snap)
	if err != nil {
		return nil, err
	}
	if change := p.regimes.Observe(a); change != nil {
		log.Info().
			Str("from", string(change.From)).
			Str("to", string(change.To)).
			Int("score", change.Score).
			Msg("Regime changed")
		if ro, ok := p.observer.(RegimeObserver); ok {
			ro.RecordRegimeChange(change.From, change.To)
		}
	}
	return a, nil
}

// prefix runs snapshot, regime and sector ranking. With an explicit ticker a
// missing qualifying sector is an advisory, not a halt.
func (p *Pipeline) prefix(ctx context.Context, run *Runner, rec *DecisionRecord, explicit bool) *prefix {
	pre := &prefix{asOf: p.now()}

	snap := Run(ctx, run, StageSnapshot, func(ctx context.Context) Outcome[*market.MarketSnapshot] {
		return From(p.c.Provider.Snapshot(ctx))
	})
	if snap.Failed() {
		return pre
	}
	pre.snapshot = snap.Value()
	pre.asOf = pre.snapshot.Timestamp

	assess := Run(ctx, run, StageRegime, func(ctx context.Context) Outcome[*regime.Assessment] {
		return From(p.classify(ctx, pre.snapshot))
	})
	pre.assessment = assess.Value()
	rec.Regime = pre.assessment

	ranked := Run(ctx, run, StageSectorRank, func(context.Context) Outcome[*strength.Ranking] {
		ranking, err := p.c.Ranker.RankSectors(pre.snapshot, pre.assessment)
		if err != nil && explicit && ranking != nil {
			if code, ok := policy.CodeOf(err); ok && code == policy.ReasonNoQualifyingSector {
				return Warn(ranking, policy.Advisory{Code: code, Stage: StageSectorRank, Message: err.Error()})
			}
		}
		return From(ranking, err)
	})
	pre.ranking = ranked.Value()
	rec.Ranking = pre.ranking
	rec.Advisories = append(rec.Advisories, ranked.Advisories()...)
	return pre
}

// screen ranks the selected sector's members
func (p *Pipeline) screen(ctx context.Context, run *Runner, pre *prefix) ([]strength.InstrumentCandidate, map[string]*market.Instrument) {
	sector := ""
	if pre.ranking != nil && pre.ranking.Selected != nil {
		sector = pre.ranking.Selected.Symbol
	}

	members := Run(ctx, run, StageMembers, func(ctx context.Context) Outcome[[]string] {
		return From(p.c.Provider.SectorMembers(ctx, sector))
	})
	fetched := Run(ctx, run, StageInstruments, func(ctx context.Context) Outcome[[]*market.Instrument] {
		return From(fanOut(ctx, p.config.Concurrency, members.Value(), p.c.Provider.Instrument))
	})
	if fetched.Failed() {
		return nil, nil
	}

	insts := make(map[string]*market.Instrument, len(fetched.Value()))
	flat := make([]market.Instrument, 0, len(fetched.Value()))
	for _, inst := range fetched.Value() {
		insts[inst.Ticker] = inst
		flat = append(flat, *inst)
	}
	ranked := Run(ctx, run, StageRank, func(context.Context) Outcome[[]strength.InstrumentCandidate] {
		return From(p.c.Ranker.RankInstruments(sector, pre.snapshot, flat))
	})
	return ranked.Value(), insts
}

// single screens one ticker within its own sector
func (p *Pipeline) single(ctx context.Context, run *Runner, pre *prefix, ticker string) (strength.InstrumentCandidate, *market.Instrument) {
	fetched := Run(ctx, run, StageInstruments, func(ctx context.Context) Outcome[*market.Instrument] {
		inst, err := p.c.Provider.Instrument(ctx, ticker)
		if err != nil {
			return Fail[*market.Instrument](err)
		}
		if inst.Sector == "" {
			return Fail[*market.Instrument](policy.Unavailable("sector_members", "no sector known for %s", ticker))
		}
		return Pass(inst)
	})
	ranked := Run(ctx, run, StageRank, func(context.Context) Outcome[[]strength.InstrumentCandidate] {
		inst := fetched.Value()
		return From(p.c.Ranker.RankInstruments(inst.Sector, pre.snapshot, []market.Instrument{*inst}))
	})
	if ranked.Failed() {
		return strength.InstrumentCandidate{}, nil
	}
	return ranked.Value()[0], fetched.Value()
}

// events is what the gate needs from the calendars
type events struct {
	earnings *market.EarningsInfo
	macro    []market.MacroEvent
}

// decide runs correlation through gate for one candidate
func (p *Pipeline) decide(ctx context.Context, run *Runner, rec *DecisionRecord, pre *prefix, cand strength.InstrumentCandidate, inst *market.Instrument, ack bool) {
	var aligned, conflict bool
	if pre.ranking != nil {
		for _, s := range pre.ranking.Sectors {
			if s.Symbol == cand.Sector {
				aligned, conflict = s.Aligned, s.Conflict
				break
			}
		}
	}

	corr := Run(ctx, run, StageCorrelation, func(ctx context.Context) Outcome[float64] {
		return From(p.correlate(ctx, cand.Ticker, inst))
	})

	selected := Run(ctx, run, StageMechanism, func(context.Context) Outcome[*mechanism.Selection] {
		return From(p.c.Selector.Select(mechanism.Input{
			Candidate:             cand,
			Assessment:            pre.assessment,
			Aligned:               aligned,
			Conflict:              conflict,
			MaxHoldingCorrelation: corr.Value(),
			AsOf:                  pre.asOf,
		}))
	})
	rec.Selection = selected.Value()

	quotes := Run(ctx, run, StageQuotes, func(ctx context.Context) Outcome[[]market.OptionQuote] {
		contracts := selected.Value().Structure.Contracts()
		qs, err := fanOut(ctx, p.config.Concurrency, contracts, func(ctx context.Context, c market.OptionContract) (market.OptionQuote, error) {
			q, err := p.c.Provider.OptionQuote(ctx, c)
			if err != nil {
				return market.OptionQuote{}, err
			}
			return *q, nil
		})
		return From(qs, err)
	})

	sized := Run(ctx, run, StageSizing, func(context.Context) Outcome[*sizing.Result] {
		sel := selected.Value()
		res, err := p.c.Sizer.Size(sizing.Request{
			Ticker:                cand.Ticker,
			Classification:        p.config.Classification,
			Tier:                  sel.Conviction.Tier,
			MaxLossPerUnit:        sel.Structure.MaxLoss,
			CapitalPerUnit:        sel.Structure.CapitalPerUnit(),
			MaxHoldingCorrelation: corr.Value(),
		}, p.c.Ledger.Snapshot())
		if err != nil {
			return FailWith(res, err)
		}
		return Warn(res, res.Warnings...)
	})
	rec.Sizing = sized.Value()

	// liquidity failures are judged by the gate's first section
	liq := Run(ctx, run, StageLiquidity, func(context.Context) Outcome[*liquidity.StructureResult] {
		res, err := p.c.Liquidity.EvaluateStructure(quotes.Value(), sized.Value().Units, pre.asOf)
		if err != nil {
			return Fail[*liquidity.StructureResult](err)
		}
		return Warn(res, append(append([]policy.Advisory(nil), res.Warnings...), res.Failures...)...)
	})
	rec.Liquidity = liq.Value()

	ev := Run(ctx, run, StageEvents, func(ctx context.Context) Outcome[events] {
		earnings, err := p.c.Provider.Earnings(ctx, cand.Ticker)
		if err != nil {
			return Fail[events](err)
		}
		macro, err := p.c.Provider.MacroEvents(ctx, pre.asOf, pre.asOf.AddDate(0, 0, p.config.MacroLookaheadDays))
		if err != nil {
			return Fail[events](err)
		}
		return Pass(events{earnings: earnings, macro: macro})
	})

	verdict := Run(ctx, run, StageGate, func(ctx context.Context) Outcome[*gates.Result] {
		res, err := p.c.Gate.Evaluate(ctx, gates.Request{
			Candidate:   cand,
			Assessment:  pre.assessment,
			Selection:   selected.Value(),
			Sizing:      sized.Value(),
			Liquidity:   liq.Value(),
			Earnings:    ev.Value().earnings,
			MacroEvents: ev.Value().macro,
			Acknowledge: ack,
			AsOf:        pre.asOf,
		})
		if err != nil {
			return Fail[*gates.Result](err)
		}
		if !res.Approved() {
			return Warn(res, res.Reasons...)
		}
		return Warn(res, res.Warnings...)
	})
	rec.Gate = verdict.Value()
	rec.Advisories = append(rec.Advisories, sized.Advisories()...)
}

// correlate computes the return correlation of ticker to every other holding,
// records it in the ledger and returns the highest value
func (p *Pipeline) correlate(ctx context.Context, ticker string, inst *market.Instrument) (float64, error) {
	var holdings []string
	for _, h := range p.c.Ledger.Snapshot().Holdings() {
		if h != ticker {
			holdings = append(holdings, h)
		}
	}
	if len(holdings) == 0 || inst == nil {
		return 0, nil
	}

	held, err := fanOut(ctx, p.config.Concurrency, holdings, p.c.Provider.Instrument)
	if err != nil {
		return 0, err
	}
	row := make(map[string]float64, len(held))
	highest := 0.0
	for _, h := range held {
		c := indicators.ReturnCorrelation(inst.Closes, h.Closes)
		row[h.Ticker] = c
		highest = max(highest, c)
	}
	p.c.Ledger.MergeCorrelations(ticker, row)
	return highest, nil
}

// emit hands the record to every configured sink. Sink failures are logged
// and never change the decision.
func (p *Pipeline) emit(ctx context.Context, rec *DecisionRecord) {
	ev := log.Info()
	if rec.Status == StatusError || rec.Status == StatusInconclusive {
		ev = log.Warn()
	}
	ev.Str("id", rec.ID).
		Str("ticker", rec.Ticker).
		Str("status", string(rec.Status)).
		Str("stage", rec.Stage).
		Str("reason", string(rec.ReasonCode)).
		Msg("Decision recorded")

	if p.recorder != nil {
		if err := p.recorder.Insert(ctx, rec); err != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("Failed to store decision")
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, rec); err != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("Failed to publish decision")
		}
	}
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(rec)
	}
	if p.observer != nil {
		p.observer.SetOpenRiskPct(p.c.Ledger.Snapshot().OpenRiskPct())
	}
}
