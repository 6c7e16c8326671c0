package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/pipeline"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/strength"
)

func newRegimeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "regime",
		Short: "Classify the current market regime",
		Long: `Scores the five regime signals (trend, breadth, momentum, volatility,
leadership) and maps the total to a disposition and net delta target.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			assessment, err := a.pipeline.Regime(cmd.Context())
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, assessment)
			}
			printAssessment(cmd, assessment)
			return nil
		},
	}
}

func newSectorsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sectors",
		Short: "Rank sectors by relative strength for the current disposition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ranking, err := a.pipeline.Sectors(cmd.Context())
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, ranking)
			}
			printRanking(cmd, ranking)
			return nil
		},
	}
}

func newEvaluateCmd(flags *globalFlags) *cobra.Command {
	var ticker string
	var ack bool

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the full decision pipeline for one ticker",
		Long: `Runs regime, ranking, mechanism selection, sizing, liquidity and the
pre-trade gate. Without --ticker the top candidate of the selected sector is
evaluated. A decision needing acknowledgment is committed when re-run with --ack.`,
		Example: `  tradegate evaluate --ticker AAPL
  tradegate evaluate --ticker AAPL --ack --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.pipeline.EvaluateWith(cmd.Context(), pipeline.EvaluateOptions{Ticker: ticker, Acknowledge: ack})
			if rec != nil {
				if flags.json {
					if perr := printJSON(cmd, rec); perr != nil {
						return perr
					}
				} else {
					printRecord(cmd, rec)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "", "Ticker to evaluate; empty picks the top candidate")
	cmd.Flags().BoolVar(&ack, "ack", false, "Acknowledge gate warnings and commit")
	return cmd
}

func newCycleCmd(flags *globalFlags) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Decide the top candidates of the selected sector concurrently",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.pipeline.Cycle(cmd.Context(), top)
			if flags.json {
				if perr := printJSON(cmd, recs); perr != nil {
					return perr
				}
				return err
			}
			for _, rec := range recs {
				printRecord(cmd, rec)
			}
			s := a.pipeline.Ledger().Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "ledger v%d  open risk %.2f%%  cash $%.0f\n", s.Version, s.OpenRiskPct(), s.Cash)
			return err
		},
	}
	cmd.Flags().IntVar(&top, "top", 3, "Number of candidates to decide")
	return cmd
}

func printAssessment(cmd *cobra.Command, a *regime.Assessment) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Regime %s (score %+d, net delta %+d)\n", strings.ToUpper(string(a.Disposition)), a.TotalScore, a.NetDeltaTarget)
	fmt.Fprintf(w, "Confidence %.0f%% (%s)\n", a.ConfidencePct, a.ConfidenceTier)
	for _, s := range a.Signals {
		fmt.Fprintf(w, "  %-12s %+d  %s\n", s.Name, s.Score, s.Detail)
	}
	for _, o := range a.Overrides {
		fmt.Fprintf(w, "  override: %s\n", o)
	}
}

func printRanking(cmd *cobra.Command, r *strength.Ranking) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Sectors for %s\n", r.Disposition)
	for _, s := range r.Sectors {
		mark := " "
		if r.Selected != nil && r.Selected.Symbol == s.Symbol {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %2d %-4s composite %+6.2f  %-14s trend %.1f\n", mark, s.Rank, s.Symbol, s.Composite, s.Category, s.TrendQuality)
	}
	if r.Selected == nil {
		fmt.Fprintln(w, "No qualifying sector")
	}
}

func printRecord(cmd *cobra.Command, rec *pipeline.DecisionRecord) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %-6s %-12s", rec.ID[:8], rec.Ticker, rec.Status)
	if rec.Selection != nil {
		fmt.Fprintf(w, " %s", rec.Selection.Mechanism)
	}
	if rec.Sizing != nil {
		fmt.Fprintf(w, " x%d risk %.2f%%", rec.Sizing.Units, rec.Sizing.RiskPct)
	}
	if rec.ReasonCode != "" {
		fmt.Fprintf(w, " [%s at %s]", rec.ReasonCode, rec.Stage)
	} else if rec.Error != "" {
		fmt.Fprintf(w, " [%s: %s]", rec.Stage, rec.Error)
	}
	fmt.Fprintln(w)
	if rec.Gate != nil {
		for _, adv := range rec.Gate.Warnings {
			fmt.Fprintf(w, "    warn %s\n", adv)
		}
		for _, adv := range rec.Gate.Reasons {
			fmt.Fprintf(w, "    fail %s\n", adv)
		}
	}
}
