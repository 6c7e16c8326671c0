package market

import (
	"context"
	"time"

	"github.com/sawpanic/tradegate/internal/policy"
)

// Provider supplies market data to the decision pipeline. Implementations must
// return a *policy.DataUnavailableError for missing or stale data.
type Provider interface {
	Snapshot(ctx context.Context) (*MarketSnapshot, error)
	SectorMembers(ctx context.Context, sector string) ([]string, error)
	Instrument(ctx context.Context, ticker string) (*Instrument, error)
	OptionQuote(ctx context.Context, c OptionContract) (*OptionQuote, error)
	Earnings(ctx context.Context, ticker string) (*EarningsInfo, error)
	MacroEvents(ctx context.Context, from, to time.Time) ([]MacroEvent, error)
}

// timeoutProvider bounds every call with its own deadline
type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// WithTimeout decorates p so each call is bounded by d. A deadline hit is
// reported as DataUnavailable, never as an empty result.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{next: p, timeout: d}
}

func call[T any](ctx context.Context, d time.Duration, source string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, policy.FromContext(source, r.err)
	case <-ctx.Done():
		var zero T
		return zero, policy.FromContext(source, ctx.Err())
	}
}

func (t *timeoutProvider) Snapshot(ctx context.Context) (*MarketSnapshot, error) {
	return call(ctx, t.timeout, "snapshot", t.next.Snapshot)
}

func (t *timeoutProvider) SectorMembers(ctx context.Context, sector string) ([]string, error) {
	return call(ctx, t.timeout, "sector_members", func(ctx context.Context) ([]string, error) {
		return t.next.SectorMembers(ctx, sector)
	})
}

func (t *timeoutProvider) Instrument(ctx context.Context, ticker string) (*Instrument, error) {
	return call(ctx, t.timeout, "instrument:"+ticker, func(ctx context.Context) (*Instrument, error) {
		return t.next.Instrument(ctx, ticker)
	})
}

func (t *timeoutProvider) OptionQuote(ctx context.Context, c OptionContract) (*OptionQuote, error) {
	return call(ctx, t.timeout, "option_quote:"+c.Underlying, func(ctx context.Context) (*OptionQuote, error) {
		return t.next.OptionQuote(ctx, c)
	})
}

func (t *timeoutProvider) Earnings(ctx context.Context, ticker string) (*EarningsInfo, error) {
	return call(ctx, t.timeout, "earnings:"+ticker, func(ctx context.Context) (*EarningsInfo, error) {
		return t.next.Earnings(ctx, ticker)
	})
}

func (t *timeoutProvider) MacroEvents(ctx context.Context, from, to time.Time) ([]MacroEvent, error) {
	return call(ctx, t.timeout, "macro_events", func(ctx context.Context) ([]MacroEvent, error) {
		return t.next.MacroEvents(ctx, from, to)
	})
}
