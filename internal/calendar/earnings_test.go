package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/policy"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func earningsOn(t time.Time) market.EarningsInfo {
	return market.EarningsInfo{Ticker: "ACME", Date: &t, Time: "AMC", Source: "test"}
}

func TestCheckEarningsConflictSeverity(t *testing.T) {
	exp := date(2024, time.April, 19)
	tests := []struct {
		name     string
		earnings time.Time
		conflict bool
		severity Severity
		days     int
	}{
		{"same day", date(2024, time.April, 19), true, SeverityHigh, 0},
		{"two days before", date(2024, time.April, 17), true, SeverityHigh, -2},
		{"three days after", date(2024, time.April, 22), true, SeverityMedium, 3},
		{"five days", date(2024, time.April, 24), true, SeverityMedium, 5},
		{"six days", date(2024, time.April, 25), true, SeverityLow, 6},
		{"seven days before", date(2024, time.April, 12), true, SeverityLow, -7},
		{"eight days", date(2024, time.April, 27), false, SeverityNone, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CheckEarningsConflict("acme", exp, earningsOn(tt.earnings), DefaultBufferDays)
			require.NoError(t, err)
			assert.Equal(t, "ACME", c.Ticker)
			assert.Equal(t, tt.conflict, c.HasConflict)
			assert.Equal(t, tt.severity, c.Severity)
			assert.Equal(t, tt.days, c.DaysBetween)
			assert.NotEmpty(t, c.Recommendation)
			if tt.conflict {
				assert.NotEmpty(t, c.Warning)
			} else {
				assert.Contains(t, c.Recommendation, "Clear")
			}
		})
	}
}

func TestCheckEarningsConflictNoDate(t *testing.T) {
	c, err := CheckEarningsConflict("ACME", date(2024, time.April, 19), market.EarningsInfo{Ticker: "ACME"}, 7)
	require.NoError(t, err)
	assert.False(t, c.HasConflict)
	assert.Nil(t, c.EarningsDate)
	assert.Contains(t, c.Recommendation, "Proceed with caution")

	_, err = CheckEarningsConflict(" ", date(2024, time.April, 19), market.EarningsInfo{}, 7)
	assert.ErrorIs(t, err, policy.ErrValidation)
	_, err = CheckEarningsConflict("ACME", date(2024, time.April, 19), market.EarningsInfo{}, -1)
	assert.ErrorIs(t, err, policy.ErrValidation)
}

type fixedEarnings struct {
	info *market.EarningsInfo
	err  error
}

func (f fixedEarnings) Earnings(context.Context, string) (*market.EarningsInfo, error) {
	return f.info, f.err
}

func TestSafeExpirations(t *testing.T) {
	e := earningsOn(date(2024, time.May, 15))
	src := fixedEarnings{info: &e}

	res, err := SafeExpirations(context.Background(), src, "acme", date(2024, time.March, 4), 4, 7)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		date(2024, time.March, 15),
		date(2024, time.April, 19),
		date(2024, time.June, 21),
		date(2024, time.July, 19),
	}, res.Safe)
	require.Len(t, res.Unsafe, 1)
	assert.Equal(t, date(2024, time.May, 17), res.Unsafe[0].Date)
	assert.Equal(t, SeverityHigh, res.Unsafe[0].Severity)
}

func TestSafeExpirationsSkipsPastFriday(t *testing.T) {
	src := fixedEarnings{info: &market.EarningsInfo{Ticker: "ACME"}}
	res, err := SafeExpirations(context.Background(), src, "ACME", date(2024, time.March, 20), 2, 7)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2024, time.April, 19), date(2024, time.May, 17)}, res.Safe)
}

func TestSafeExpirationsErrors(t *testing.T) {
	_, err := SafeExpirations(context.Background(), fixedEarnings{err: errors.New("boom")}, "ACME", date(2024, time.March, 4), 4, 7)
	assert.Error(t, err)

	_, err = SafeExpirations(context.Background(), fixedEarnings{}, "ACME", date(2024, time.March, 4), 0, 7)
	assert.ErrorIs(t, err, policy.ErrValidation)
}

func TestMacroEventsWithin(t *testing.T) {
	asOf := time.Date(2024, time.March, 19, 15, 0, 0, 0, time.UTC)
	events := []market.MacroEvent{
		{Name: "CPI", Date: date(2024, time.March, 12)},
		{Name: "FOMC", Date: date(2024, time.March, 20)},
		{Name: "NFP", Date: date(2024, time.April, 5)},
	}
	got := MacroEventsWithin(events, asOf, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "FOMC", got[0].Name)
	assert.Empty(t, MacroEventsWithin(events, asOf, 0))
}
