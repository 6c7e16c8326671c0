package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/policy"
)

const (
	DefaultBufferDays      = 7
	DefaultExpirationCount = 4
	maxMonthsChecked       = 24
)

// Severity grades how close earnings falls to an expiration
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Conflict is the earnings check for one expiration
type Conflict struct {
	Ticker         string     `json:"ticker"`
	Expiration     time.Time  `json:"expiration"`
	EarningsDate   *time.Time `json:"earnings_date,omitempty"`
	EarningsTime   string     `json:"earnings_time,omitempty"`
	HasConflict    bool       `json:"has_conflict"`
	DaysBetween    int        `json:"days_between"` // earnings minus expiration
	Severity       Severity   `json:"severity,omitempty"`
	Warning        string     `json:"warning,omitempty"`
	Recommendation string     `json:"recommendation"`
	BufferDays     int        `json:"buffer_days"`
	Source         string     `json:"source,omitempty"`
}

// CheckEarningsConflict flags an expiration within bufferDays of earnings
func CheckEarningsConflict(ticker string, expiration time.Time, earnings market.EarningsInfo, bufferDays int) (*Conflict, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, policy.Invalid("ticker", ticker, "must not be empty")
	}
	if bufferDays < 0 {
		return nil, policy.Invalid("buffer_days", bufferDays, "must not be negative")
	}
	exp := day(expiration)
	c := &Conflict{Ticker: ticker, Expiration: exp, BufferDays: bufferDays, Source: earnings.Source}

	if earnings.Date == nil {
		c.Recommendation = "No earnings date found. Proceed with caution."
		return c, nil
	}
	ed := day(*earnings.Date)
	c.EarningsDate = &ed
	c.EarningsTime = earnings.Time
	c.DaysBetween = options.DaysUntil(exp, ed)

	dist := abs(c.DaysBetween)
	c.HasConflict = dist <= bufferDays
	edStr, expStr := ed.Format("2006-01-02"), exp.Format("2006-01-02")

	switch {
	case !c.HasConflict && c.DaysBetween > 0:
		c.Recommendation = fmt.Sprintf("Clear: expiration is %d days before earnings.", c.DaysBetween)
	case !c.HasConflict:
		c.Recommendation = fmt.Sprintf("Clear: expiration is %d days after earnings.", dist)
	case dist <= 2:
		c.Severity = SeverityHigh
		c.Warning = fmt.Sprintf("Earnings on %s is within %d day(s) of expiration %s", edStr, dist, expStr)
		c.Recommendation = "Avoid: choose a different expiration or skip the trade."
	case dist <= 5:
		c.Severity = SeverityMedium
		c.Warning = fmt.Sprintf("Earnings on %s is within %d days of expiration %s", edStr, dist, expStr)
		c.Recommendation = "Caution: consider a different expiration."
	default:
		c.Severity = SeverityLow
		c.Warning = fmt.Sprintf("Earnings on %s is %d days from expiration %s", edStr, dist, expStr)
		c.Recommendation = "Monitor: earnings is inside the buffer window."
	}
	return c, nil
}

// EarningsSource looks up the next earnings report
type EarningsSource interface {
	Earnings(ctx context.Context, ticker string) (*market.EarningsInfo, error)
}

// UnsafeExpiration is a monthly expiration that conflicts with earnings
type UnsafeExpiration struct {
	Date     time.Time `json:"date"`
	Severity Severity  `json:"severity"`
	Warning  string    `json:"warning"`
}

// Expirations splits monthly expirations into safe and unsafe
type Expirations struct {
	Ticker       string             `json:"ticker"`
	Safe         []time.Time        `json:"safe"`
	Unsafe       []UnsafeExpiration `json:"unsafe"`
	EarningsDate *time.Time         `json:"earnings_date,omitempty"`
}

// SafeExpirations walks third-Friday expirations after start until n safe
// ones are found or 24 have been checked.
func SafeExpirations(ctx context.Context, src EarningsSource, ticker string, start time.Time, n, bufferDays int) (*Expirations, error) {
	if n < 1 {
		return nil, policy.Invalid("count", n, "must be at least 1")
	}
	info, err := src.Earnings(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("earnings for %s: %w", ticker, err)
	}
	if info == nil {
		info = &market.EarningsInfo{Ticker: ticker}
	}

	out := &Expirations{Ticker: strings.ToUpper(ticker), EarningsDate: info.Date}
	start = day(start)
	y, m, _ := start.Date()
	checked := 0
	for i := 0; len(out.Safe) < n && checked < maxMonthsChecked; i++ {
		exp := options.ThirdFriday(y, m+time.Month(i))
		if !exp.After(start) {
			continue
		}
		checked++
		c, err := CheckEarningsConflict(ticker, exp, *info, bufferDays)
		if err != nil {
			return nil, err
		}
		if c.HasConflict {
			out.Unsafe = append(out.Unsafe, UnsafeExpiration{Date: exp, Severity: c.Severity, Warning: c.Warning})
			continue
		}
		out.Safe = append(out.Safe, exp)
	}
	return out, nil
}

// MacroEventsWithin returns events from asOf through asOf + days
func MacroEventsWithin(events []market.MacroEvent, asOf time.Time, days int) []market.MacroEvent {
	from := day(asOf)
	to := from.AddDate(0, 0, days)
	var out []market.MacroEvent
	for _, e := range events {
		d := day(e.Date)
		if !d.Before(from) && !d.After(to) {
			out = append(out, e)
		}
	}
	return out
}

func day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
