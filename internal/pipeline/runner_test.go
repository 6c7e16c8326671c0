package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/policy"
)

func TestOutcomeConstructors(t *testing.T) {
	adv := policy.Advisory{Code: policy.ReasonSpreadWide, Stage: "liquidity"}

	assert.Equal(t, StagePass, Pass(1).Status())
	assert.Equal(t, StagePass, Warn(1).Status())
	assert.Equal(t, StageWarn, Warn(1, adv).Status())
	assert.Equal(t, []policy.Advisory{adv}, Warn(1, adv).Advisories())

	boom := errors.New("boom")
	f := FailWith(7, boom)
	assert.True(t, f.Failed())
	assert.Equal(t, 7, f.Value())
	assert.Equal(t, boom, f.Err())
	assert.True(t, From(0, boom).Failed())
	assert.False(t, From(0, nil).Failed())
}

func TestRunnerShortCircuits(t *testing.T) {
	run := NewRunner("ACME", nil)
	ctx := context.Background()

	a := Run(ctx, run, "a", func(context.Context) Outcome[int] { return Pass(1) })
	b := Run(ctx, run, "b", func(context.Context) Outcome[int] {
		return Fail[int](policy.Violation(policy.ReasonNoEdge, "b", "nothing"))
	})
	called := false
	c := Run(ctx, run, "c", func(context.Context) Outcome[int] {
		called = true
		return Pass(3)
	})

	assert.Equal(t, 1, a.Value())
	assert.True(t, b.Failed())
	assert.True(t, c.Failed())
	assert.False(t, called)
	assert.Equal(t, "b", run.FailedStage())
	assert.ErrorIs(t, run.Err(), policy.ErrPolicyViolation)
	require.Len(t, run.Trace(), 2)
	assert.Equal(t, StageFail, run.Trace()[1].Status)
}

func TestRunnerConvertsDeadline(t *testing.T) {
	run := NewRunner("ACME", nil)
	o := Run(context.Background(), run, "quotes", func(context.Context) Outcome[int] {
		return Fail[int](context.DeadlineExceeded)
	})
	assert.ErrorIs(t, o.Err(), policy.ErrDataUnavailable)
	assert.ErrorIs(t, run.Err(), policy.ErrDataUnavailable)
}

func TestFanOutKeepsOrder(t *testing.T) {
	in := []int{5, 1, 4, 2, 3}
	out, err := fanOut(context.Background(), 2, in, func(_ context.Context, v int) (int, error) {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return v * 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 10, 40, 20, 30}, out)
}

func TestFanOutBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	in := make([]int, 12)
	_, err := fanOut(context.Background(), 3, in, func(context.Context, int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return 0, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestFanOutFirstError(t *testing.T) {
	unavailable := policy.Unavailable("instrument", "BAD")
	out, err := fanOut(context.Background(), 4, []string{"A", "BAD", "C"}, func(ctx context.Context, s string) (string, error) {
		if s == "BAD" {
			return "", unavailable
		}
		return s, nil
	})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, policy.ErrDataUnavailable)
}

func TestFanOutEmpty(t *testing.T) {
	out, err := fanOut(context.Background(), 4, nil, func(context.Context, int) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Empty(t, out)
}
