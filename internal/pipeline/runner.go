package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/regime"
)

// Observer receives stage timings and portfolio gauges, typically the
// metrics registry
type Observer interface {
	ObserveStage(stage, status string, d time.Duration)
	SetOpenRiskPct(pct float64)
}

// RegimeObserver is optionally implemented by an Observer that tracks
// disposition changes
type RegimeObserver interface {
	RecordRegimeChange(from, to regime.Disposition)
}

// StageTrace is one executed stage. Durations go to the Observer only, so
// identical inputs produce identical traces.
type StageTrace struct {
	Name   string      `json:"name"`
	Status StageStatus `json:"status"`
}

// Runner chains named stages for one decision. After the first failure every
// later stage is skipped and returns that failure.
type Runner struct {
	ticker   string
	observer Observer
	trace    []StageTrace
	failed   string
	err      error
}

// NewRunner creates a runner; observer may be nil
func NewRunner(ticker string, observer Observer) *Runner {
	return &Runner{ticker: ticker, observer: observer}
}

// Err returns the halting error, if any
func (r *Runner) Err() error { return r.err }

// FailedStage names the stage that halted the run
func (r *Runner) FailedStage() string { return r.failed }

// Trace lists executed stages in order
func (r *Runner) Trace() []StageTrace { return r.trace }

// Run executes fn as the named stage unless an earlier stage failed. A
// cancelled context fails the stage as DataUnavailable.
func Run[T any](ctx context.Context, r *Runner, name string, fn func(context.Context) Outcome[T]) Outcome[T] {
	if r.err != nil {
		return Fail[T](r.err)
	}
	if err := ctx.Err(); err != nil {
		o := Fail[T](policy.FromContext(name, err))
		r.record(name, o.status, 0, o.err, nil)
		return o
	}

	start := time.Now()
	o := fn(ctx)
	if o.status == StageFail {
		o.err = policy.FromContext(name, o.err)
	}
	r.record(name, o.status, time.Since(start), o.err, o.advisories)
	return o
}

func (r *Runner) record(name string, status StageStatus, d time.Duration, err error, advisories []policy.Advisory) {
	r.trace = append(r.trace, StageTrace{Name: name, Status: status})
	if r.observer != nil {
		r.observer.ObserveStage(name, string(status), d)
	}

	switch status {
	case StageFail:
		r.failed, r.err = name, err
		log.Warn().
			Str("ticker", r.ticker).
			Str("stage", name).
			Str("kind", policy.Kind(err)).
			Err(err).
			Dur("duration", d).
			Msg("Stage halted")
	case StageWarn:
		log.Warn().
			Str("ticker", r.ticker).
			Str("stage", name).
			Str("advisories", policy.JoinAdvisories(advisories)).
			Dur("duration", d).
			Msg("Stage advisories")
	default:
		log.Debug().
			Str("ticker", r.ticker).
			Str("stage", name).
			Dur("duration", d).
			Msg("Stage completed")
	}
}
