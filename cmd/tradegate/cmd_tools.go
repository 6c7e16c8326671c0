package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/calendar"
	"github.com/sawpanic/tradegate/internal/domain/indicators"
	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/liquidity"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/sizing"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAllocateCmd(flags *globalFlags) *cobra.Command {
	var account, conviction, riskPct float64
	var bucket string

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Bucket allocation for an account and conviction score",
		Example: `  tradegate allocate --account 100000 --bucket core --conviction 8
  tradegate allocate --account 50000 --bucket speculative --conviction 6 --risk-pct 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			var riskFrac *float64
			if cmd.Flags().Changed("risk-pct") {
				frac := riskPct / 100
				riskFrac = &frac
			}

			res, err := sizing.NewSizer(cfg.Sizing).Allocation(account, bucket, conviction, riskFrac)
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, res)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s bucket, conviction %.1f (x%.2f)\n", res.Bucket, res.Conviction, res.ConvictionMultiplier)
			fmt.Fprintf(w, "Allocation $%.2f (%.2f%%), cap $%.2f (%.2f%%)\n",
				res.AllocationDollars, res.AllocationFrac*100, res.MaxCapDollars, res.MaxCapFrac*100)
			for _, warning := range res.Warnings {
				fmt.Fprintf(w, "  warn %s\n", warning)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&account, "account", 0, "Account size in dollars")
	cmd.Flags().StringVar(&bucket, "bucket", "core", "Bucket: core or speculative")
	cmd.Flags().Float64Var(&conviction, "conviction", 0, "Conviction score 1-10")
	cmd.Flags().Float64Var(&riskPct, "risk-pct", 0, "Optional extra cap, percent of account")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("conviction")
	return cmd
}

func newSizeCmd(flags *globalFlags) *cobra.Command {
	var portfolio, maxLoss, capital, correlation float64
	var classification, tier, ticker string

	cmd := &cobra.Command{
		Use:     "size",
		Short:   "Size a position against an empty portfolio",
		Example: `  tradegate size --portfolio 100000 --classification core --tier high --max-loss 250`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			class, err := sizing.ParseClassification(classification)
			if err != nil {
				return err
			}
			t, ok := mechanism.ParseTier(tier)
			if !ok {
				return policy.Invalid("tier", tier, "must be very_high, high, moderate or low")
			}
			if capital == 0 {
				capital = maxLoss
			}

			res, err := sizing.NewSizer(cfg.Sizing).Size(sizing.Request{
				Ticker:                strings.ToUpper(ticker),
				Classification:        class,
				Tier:                  t,
				MaxLossPerUnit:        maxLoss,
				CapitalPerUnit:        capital,
				MaxHoldingCorrelation: correlation,
			}, ledger.State{PortfolioValue: portfolio, Cash: portfolio})
			if res != nil {
				if flags.json {
					if perr := printJSON(cmd, res); perr != nil {
						return perr
					}
				} else {
					w := cmd.OutOrStdout()
					fmt.Fprintf(w, "Units %d (allocation %d, risk %d)\n", res.Units, res.AllocationUnits, res.RiskUnits)
					fmt.Fprintf(w, "Capital $%.2f (%.2f%%), risk $%.2f (%.2f%% of %.2f%% max)\n",
						res.CapitalDeployed, res.PositionPct, res.RiskDollars, res.RiskPct, res.MaxRiskPct)
					for _, adj := range res.Adjustments {
						fmt.Fprintf(w, "  %s\n", adj)
					}
				}
			}
			return err
		},
	}
	cmd.Flags().Float64Var(&portfolio, "portfolio", 100000, "Portfolio value in dollars")
	cmd.Flags().StringVar(&classification, "classification", "core", "core or speculative")
	cmd.Flags().StringVar(&tier, "tier", "high", "Conviction tier: very_high, high, moderate, low")
	cmd.Flags().Float64Var(&maxLoss, "max-loss", 0, "Maximum loss per unit in dollars")
	cmd.Flags().Float64Var(&capital, "capital", 0, "Capital per unit; defaults to --max-loss")
	cmd.Flags().Float64Var(&correlation, "correlation", 0, "Highest correlation to an existing holding")
	cmd.Flags().StringVar(&ticker, "ticker", "", "Ticker, for the report only")
	_ = cmd.MarkFlagRequired("max-loss")
	return cmd
}

func newLiquidityCmd(flags *globalFlags) *cobra.Command {
	var bid, ask, underlying float64
	var volume, oi, size, units int
	var age time.Duration

	cmd := &cobra.Command{
		Use:     "liquidity",
		Short:   "Score one option quote",
		Example: `  tradegate liquidity --bid 2.40 --ask 2.45 --volume 1200 --oi 8000 --last-trade-age 3m --units 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			asOf := time.Now().UTC()
			q := market.OptionQuote{
				Bid:             bid,
				Ask:             ask,
				BidSize:         size,
				AskSize:         size,
				Volume:          volume,
				OpenInterest:    oi,
				LastTrade:       asOf.Add(-age),
				UnderlyingPrice: underlying,
			}

			res, err := liquidity.NewGate(cfg.Liquidity).EvaluateLeg(q, units, asOf)
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, res)
			}
			w := cmd.OutOrStdout()
			verdict := "APPROVED"
			if !res.Approved {
				verdict = "REJECTED"
			}
			fmt.Fprintf(w, "%s  score %.0f  tier %s  spread %.2f%%\n", verdict, res.Score, res.Tier, res.SpreadPct)
			c := res.Components
			fmt.Fprintf(w, "  spread %.0f  volume %.0f  oi %.0f  depth %.0f  recency %.0f\n", c.Spread, c.Volume, c.OpenInterest, c.Depth, c.Recency)
			for _, adv := range res.FailureReasons {
				fmt.Fprintf(w, "  fail %s\n", adv)
			}
			for _, adv := range res.Warnings {
				fmt.Fprintf(w, "  warn %s\n", adv)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&bid, "bid", 0, "Bid price")
	cmd.Flags().Float64Var(&ask, "ask", 0, "Ask price")
	cmd.Flags().Float64Var(&underlying, "underlying", 0, "Underlying price")
	cmd.Flags().IntVar(&volume, "volume", 0, "Contracts traded today")
	cmd.Flags().IntVar(&oi, "oi", 0, "Open interest")
	cmd.Flags().IntVar(&size, "size", 50, "Displayed bid and ask size")
	cmd.Flags().DurationVar(&age, "last-trade-age", 0, "Time since the last trade print")
	cmd.Flags().IntVar(&units, "units", 1, "Intended contracts")
	_ = cmd.MarkFlagRequired("bid")
	_ = cmd.MarkFlagRequired("ask")
	return cmd
}

func newExpirationsCmd(flags *globalFlags) *cobra.Command {
	var ticker string
	var count, buffer int

	cmd := &cobra.Command{
		Use:   "expirations",
		Short: "Monthly expirations clear of earnings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			provider, asOf, err := newProvider(cfg, flags, nil)
			if err != nil {
				return err
			}

			exps, err := calendar.SafeExpirations(cmd.Context(), provider, ticker, asOf, count, buffer)
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, exps)
			}
			w := cmd.OutOrStdout()
			if exps.EarningsDate != nil {
				fmt.Fprintf(w, "%s earnings %s\n", exps.Ticker, exps.EarningsDate.Format("2006-01-02"))
			} else {
				fmt.Fprintf(w, "%s earnings date unknown\n", exps.Ticker)
			}
			for _, d := range exps.Safe {
				fmt.Fprintf(w, "  safe   %s\n", d.Format("2006-01-02"))
			}
			for _, u := range exps.Unsafe {
				fmt.Fprintf(w, "  unsafe %s  %s: %s\n", u.Date.Format("2006-01-02"), u.Severity, u.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "Ticker")
	cmd.Flags().IntVar(&count, "count", calendar.DefaultExpirationCount, "Safe expirations wanted")
	cmd.Flags().IntVar(&buffer, "buffer", calendar.DefaultBufferDays, "Days kept clear of earnings")
	_ = cmd.MarkFlagRequired("ticker")
	return cmd
}

func newEarningsCmd(flags *globalFlags) *cobra.Command {
	var ticker, expiration string
	var buffer int

	cmd := &cobra.Command{
		Use:     "earnings",
		Short:   "Check an expiration against the next earnings date",
		Example: `  tradegate earnings --ticker AAPL --expiration 2024-04-19`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			exp, err := time.Parse("2006-01-02", expiration)
			if err != nil {
				return policy.Invalid("expiration", expiration, "must be YYYY-MM-DD")
			}
			provider, _, err := newProvider(cfg, flags, nil)
			if err != nil {
				return err
			}
			info, err := provider.Earnings(cmd.Context(), ticker)
			if err != nil {
				return err
			}
			if info == nil {
				info = &market.EarningsInfo{Ticker: ticker}
			}

			c, err := calendar.CheckEarningsConflict(ticker, exp, *info, buffer)
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, c)
			}
			w := cmd.OutOrStdout()
			if c.HasConflict {
				fmt.Fprintf(w, "CONFLICT (%s): %s\n", c.Severity, c.Warning)
			} else {
				fmt.Fprintln(w, "No conflict")
			}
			fmt.Fprintln(w, c.Recommendation)
			return nil
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "Ticker")
	cmd.Flags().StringVar(&expiration, "expiration", "", "Expiration date, YYYY-MM-DD")
	cmd.Flags().IntVar(&buffer, "buffer", calendar.DefaultBufferDays, "Days kept clear of earnings")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("expiration")
	return cmd
}

func newBetaCmd(flags *globalFlags) *cobra.Command {
	var ticker, benchmark string

	cmd := &cobra.Command{
		Use:   "beta",
		Short: "Beta and correlation of a ticker against a benchmark",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			provider, _, err := newProvider(cfg, flags, nil)
			if err != nil {
				return err
			}

			asset, err := provider.Instrument(cmd.Context(), ticker)
			if err != nil {
				return err
			}
			bench, err := benchmarkCloses(cmd, provider, benchmark)
			if err != nil {
				return err
			}
			res, err := indicators.CalculateBeta(asset.Closes, bench)
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s vs %s: beta %.2f  correlation %.2f  r2 %.2f  vol %.1f%% / %.1f%%  (%d returns)\n",
				strings.ToUpper(ticker), strings.ToUpper(benchmark), res.Beta, res.Correlation, res.RSquared,
				res.AssetVolatility, res.BenchmarkVolatility, res.DataPoints)
			return nil
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "Ticker")
	cmd.Flags().StringVar(&benchmark, "benchmark", "SPY", "Benchmark ticker")
	_ = cmd.MarkFlagRequired("ticker")
	return cmd
}

// benchmarkCloses prefers the snapshot's benchmark series when it matches
func benchmarkCloses(cmd *cobra.Command, provider market.Provider, symbol string) ([]float64, error) {
	snap, err := provider.Snapshot(cmd.Context())
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(snap.Benchmark.Symbol, symbol) {
		return snap.Benchmark.Closes, nil
	}
	inst, err := provider.Instrument(cmd.Context(), symbol)
	if err != nil {
		return nil, err
	}
	return inst.Closes, nil
}
