package gates

import (
	"fmt"

	"github.com/sawpanic/tradegate/internal/calendar"
	"github.com/sawpanic/tradegate/internal/domain/options"
	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/regime"
)

const epsilon = 1e-9

func newOutcome(name string) *SectionOutcome {
	return &SectionOutcome{Name: name, Status: Pass}
}

func (o *SectionOutcome) fail(code policy.ReasonCode, format string, args ...interface{}) {
	o.failWith(policy.Advisory{Code: code, Stage: o.Name, Message: fmt.Sprintf(format, args...)})
}

func (o *SectionOutcome) failWith(a policy.Advisory) {
	o.Status = Fail
	o.Reasons = append(o.Reasons, a)
}

func (o *SectionOutcome) warn(code policy.ReasonCode, format string, args ...interface{}) {
	o.warnWith(policy.Advisory{Code: code, Stage: o.Name, Message: fmt.Sprintf(format, args...)})
}

func (o *SectionOutcome) warnWith(a policy.Advisory) {
	if o.Status == Pass {
		o.Status = Warn
	}
	o.Reasons = append(o.Reasons, a)
	o.Warnings = append(o.Warnings, a)
}

// evaluation carries the ledger views a pass over the sections needs
type evaluation struct {
	req    Request
	before ledger.State // snapshot the reservation is checked against
	after  ledger.State // snapshot with the reservation applied
}

func (g *Gate) checkLiquidity(e evaluation) SectionOutcome {
	o := newOutcome(SectionLiquidity)
	liq := e.req.Liquidity
	if liq == nil {
		o.fail(policy.ReasonLiquidity, "no liquidity evaluation")
		return *o
	}
	for _, f := range liq.Failures {
		o.failWith(f)
	}
	if !liq.Approved && len(liq.Failures) == 0 {
		o.fail(policy.ReasonLiquidity, "structure not approved")
	}
	for _, w := range liq.Warnings {
		o.warnWith(w)
	}
	return *o
}

func (g *Gate) checkEventRisk(e evaluation) SectionOutcome {
	o := newOutcome(SectionEventRisk)
	cfg := g.config
	req := e.req
	exp := req.Selection.Structure.NearestExpiration()

	switch {
	case req.Earnings != nil && req.Earnings.Date != nil:
		if d := options.DaysUntil(req.AsOf, *req.Earnings.Date); d >= 0 && d <= cfg.EarningsBlackoutDays {
			o.fail(policy.ReasonEarningsBlackout, "earnings in %d days", d)
		}
		c, err := calendar.CheckEarningsConflict(req.Candidate.Ticker, exp, *req.Earnings, cfg.EarningsBufferDays)
		if err != nil {
			o.fail(policy.ReasonEarningsConflict, "earnings check: %v", err)
			break
		}
		switch c.Severity {
		case calendar.SeverityHigh:
			o.fail(policy.ReasonEarningsConflict, "%s", c.Warning)
		case calendar.SeverityMedium, calendar.SeverityLow:
			o.warn(policy.ReasonEarningsConflict, "%s", c.Warning)
		}
	case req.Candidate.EarningsKnown:
		if d := req.Candidate.DaysToEarnings; d >= 0 && d <= cfg.EarningsBlackoutDays {
			o.fail(policy.ReasonEarningsBlackout, "earnings in %d days", d)
		}
	}

	for _, ev := range calendar.MacroEventsWithin(req.MacroEvents, req.AsOf, cfg.MacroWindowDays) {
		o.warn(policy.ReasonMacroEvent, "%s on %s", ev.Name, ev.Date.Format("2006-01-02"))
	}
	return *o
}

func (g *Gate) checkConcentration(e evaluation) SectionOutcome {
	o := newOutcome(SectionConcentration)
	limits := g.ledger.Limits()
	ticker := e.req.Candidate.Ticker

	if pct := e.after.TickerPct(ticker); pct > limits.MaxTickerPct+epsilon {
		o.fail(policy.ReasonSingleTickerCap, "%s exposure %.2f%% above %.2f%%", ticker, pct, limits.MaxTickerPct)
	}
	if pct := e.after.GroupPct(ticker, limits.GroupCorrelation); pct > limits.MaxGroupPct+epsilon {
		o.fail(policy.ReasonCorrelatedGroupCap, "correlated group %.2f%% above %.2f%%", pct, limits.MaxGroupPct)
	}
	if c := e.after.MaxCorrelation(ticker); c > g.config.WarnCorrelation {
		o.warn(policy.ReasonHighCorrelation, "correlation %.2f to an existing holding", c)
	}
	return *o
}

func (g *Gate) checkPositionSize(e evaluation) SectionOutcome {
	o := newOutcome(SectionPositionSize)
	s := e.req.Sizing
	if s == nil {
		o.fail(policy.ReasonPositionTooSmall, "no sizing result")
		return *o
	}
	if !s.Pass {
		o.fail(policy.ReasonPositionTooSmall, "%s", s.Reason)
		return *o
	}

	riskPct := s.RiskPct
	if e.before.PortfolioValue > 0 {
		riskPct = s.RiskDollars / e.before.PortfolioValue * 100
	}
	switch {
	case riskPct > g.config.RiskCeilingPct+epsilon:
		o.fail(policy.ReasonRiskCeiling, "risk %.2f%% above %.2f%% ceiling", riskPct, g.config.RiskCeilingPct)
	case s.MaxRiskPct > 0 && riskPct > g.config.TierRiskWarnFrac*s.MaxRiskPct+epsilon:
		o.warn(policy.ReasonRiskNearTierMax, "risk %.2f%% near tier max %.2f%%", riskPct, s.MaxRiskPct)
	}
	for _, w := range s.Warnings {
		o.warnWith(w)
	}
	return *o
}

func (g *Gate) checkDisposition(e evaluation) SectionOutcome {
	o := newOutcome(SectionDisposition)
	a := e.req.Assessment
	if a == nil {
		o.fail(policy.ReasonDispositionConflict, "no regime assessment")
		return *o
	}
	st := e.req.Selection.Structure
	d := a.Disposition

	switch {
	case st.Direction == mechanism.Bullish && d.Bearish(),
		st.Direction == mechanism.Bearish && d.Bullish():
		o.fail(policy.ReasonDispositionConflict, "%s structure in %s disposition", st.Direction, d)
	case st.Direction != mechanism.NeutralDirection && d == regime.Neutral:
		o.warn(policy.ReasonDispositionNeutral, "%s structure in neutral disposition", st.Direction)
	}
	if a.HasOverride(regime.OverrideCrisis) && !st.Defensive() {
		o.fail(policy.ReasonCrisisOverride, "%s is not defensive under crisis override", st.Family)
	}
	return *o
}

func (g *Gate) checkTechnical(e evaluation) SectionOutcome {
	o := newOutcome(SectionTechnical)
	q := e.req.Candidate.TechnicalQuality
	switch {
	case q < g.config.MinTechnicalQuality:
		o.fail(policy.ReasonTechnicalQuality, "technical quality %.1f below %.1f", q, g.config.MinTechnicalQuality)
	case q < g.config.WarnTechnicalQuality:
		o.warn(policy.ReasonTechnicalMarginal, "technical quality %.1f below %.1f", q, g.config.WarnTechnicalQuality)
	}
	return *o
}

func (g *Gate) checkRewardRisk(e evaluation) SectionOutcome {
	o := newOutcome(SectionRewardRisk)
	st := e.req.Selection.Structure
	ratio, unlimited := st.RewardRisk()
	if unlimited {
		return *o
	}

	lo, pref := g.config.MinRewardRiskDebit, g.config.PreferredRewardRiskDebit
	if st.Family.Credit() {
		lo, pref = g.config.MinRewardRiskCredit, g.config.PreferredRewardRiskCredit
	}
	switch {
	case ratio < lo:
		o.fail(policy.ReasonRewardRisk, "reward/risk %.2f below %.2f", ratio, lo)
	case ratio < pref:
		o.warn(policy.ReasonRewardRiskMarginal, "reward/risk %.2f below preferred %.2f", ratio, pref)
	}
	return *o
}

func (g *Gate) checkPortfolioRisk(e evaluation) SectionOutcome {
	o := newOutcome(SectionPortfolioRisk)
	limits := g.ledger.Limits()
	pct := e.after.OpenRiskPct()
	switch {
	case pct > limits.MaxOpenRiskPct+epsilon:
		o.fail(policy.ReasonAggregateRiskCap, "open risk %.2f%% above %.2f%%", pct, limits.MaxOpenRiskPct)
	case pct > g.config.WarnAggregateRiskPct+epsilon:
		o.warn(policy.ReasonAggregateRiskHigh, "open risk %.2f%% above %.2f%%", pct, g.config.WarnAggregateRiskPct)
	}
	return *o
}

func (g *Gate) checkExecution(e evaluation) SectionOutcome {
	o := newOutcome(SectionExecution)
	req := e.req
	if req.Sizing == nil || req.Sizing.Units < 1 {
		o.fail(policy.ReasonPositionTooSmall, "zero units")
	} else if capital := req.Sizing.CapitalDeployed; capital > e.before.Cash+epsilon {
		o.fail(policy.ReasonInsufficientCash, "capital $%.2f above cash $%.2f", capital, e.before.Cash)
	}
	exp := req.Selection.Structure.NearestExpiration()
	if dte := options.DaysUntil(req.AsOf, exp); dte < g.config.MinDaysToExpiration {
		o.fail(policy.ReasonExpirationTooClose, "%d days to expiration, minimum %d", dte, g.config.MinDaysToExpiration)
	}
	return *o
}

// sectionForCode maps a ledger cap breach to the section that owns it
func sectionForCode(code policy.ReasonCode) string {
	switch code {
	case policy.ReasonSingleTickerCap, policy.ReasonCorrelatedGroupCap:
		return SectionConcentration
	case policy.ReasonInsufficientCash:
		return SectionExecution
	}
	return SectionPortfolioRisk
}
