package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/tradegate/internal/config"
)

const (
	appName = "tradegate"
	version = "v0.4.0"
)

// globalFlags are the persistent flags shared by every command
type globalFlags struct {
	configPath string
	logLevel   string
	mock       bool
	asOf       string
	json       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Options and equity trade decision pipeline",
		Version: version,
		Long: `tradegate classifies the market regime, ranks sectors and instruments,
selects an options mechanism, sizes it against the portfolio ledger and runs
the pre-trade risk gate. Every run ends in an auditable decision record.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(flags.logLevel)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file (defaults plus environment when empty)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.BoolVar(&flags.mock, "mock", true, "Use the deterministic mock market data provider")
	pf.StringVar(&flags.asOf, "as-of", "", "Evaluation time, RFC3339 or YYYY-MM-DD (mock provider only)")
	pf.BoolVar(&flags.json, "json", false, "Print results as JSON")
	config.BindFlags(pf)

	rootCmd.AddCommand(
		newRegimeCmd(flags),
		newSectorsCmd(flags),
		newEvaluateCmd(flags),
		newCycleCmd(flags),
		newAllocateCmd(flags),
		newSizeCmd(flags),
		newLiquidityCmd(flags),
		newExpirationsCmd(flags),
		newEarningsCmd(flags),
		newBetaCmd(flags),
		newServeCmd(flags),
	)
	return rootCmd
}

// setupLogging configures the global zerolog logger. Console output is used
// when stderr is a terminal, JSON lines otherwise.
func setupLogging(level string) error {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return setLevel(level)
}

func setLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// loadConfig reads the config file, applies flag overrides and the
// configured log level unless --log-level was given
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if flags.logLevel == "" {
		if err := setLevel(cfg.Log.Level); err != nil {
			return nil, err
		}
	}
	cfg.Server.Version = version
	return cfg, nil
}

// parseAsOf accepts RFC3339 or a bare date, which means the US close (16:00 ET as 21:00 UTC)
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: want RFC3339 or YYYY-MM-DD", s)
	}
	return d.Add(21 * time.Hour), nil
}
