package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradegate/internal/gates"
	"github.com/sawpanic/tradegate/internal/infrastructure/db"
	httpapi "github.com/sawpanic/tradegate/internal/interfaces/http"
	"github.com/sawpanic/tradegate/internal/ledger"
	"github.com/sawpanic/tradegate/internal/liquidity"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/mechanism"
	"github.com/sawpanic/tradegate/internal/outbox"
	"github.com/sawpanic/tradegate/internal/pipeline"
	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/sizing"
	"github.com/sawpanic/tradegate/internal/strength"
)

// Config is the complete tradegate configuration. Every section starts from
// its package defaults; the YAML file only needs the keys it changes.
type Config struct {
	Log       LogConfig            `yaml:"logging"`
	Pipeline  pipeline.Config      `yaml:"pipeline"`
	Regime    regime.Config        `yaml:"regime"`
	Strength  strength.Config      `yaml:"strength"`
	Mechanism mechanism.Config     `yaml:"mechanism"`
	Sizing    sizing.Config        `yaml:"sizing"`
	Liquidity liquidity.Config     `yaml:"liquidity"`
	Gates     gates.Config         `yaml:"gates"`
	Ledger    LedgerConfig         `yaml:"ledger"`
	Provider  market.HTTPConfig    `yaml:"provider"`
	Database  db.Config            `yaml:"database"`
	Outbox    outbox.Config        `yaml:"outbox"`
	Server    httpapi.ServerConfig `yaml:"server"`
}

// LogConfig selects the zerolog level and output
type LogConfig struct {
	Level  string `yaml:"level" env:"TRADEGATE_LOG_LEVEL"` // Default: info
	Format string `yaml:"format"`                          // console, json or auto (console on a TTY)
}

// LedgerConfig seeds the portfolio when no position store is configured
type LedgerConfig struct {
	PortfolioValue float64       `yaml:"portfolio_value"` // Default: 100000
	Cash           float64       `yaml:"cash"`            // Default: portfolio_value
	Limits         ledger.Limits `yaml:"limits"`
	MemoryRecords  int           `yaml:"memory_records"` // Default: 1000, decisions kept without a database
}

// Default returns the production configuration
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "auto"},
		Pipeline:  pipeline.DefaultConfig(),
		Regime:    regime.DefaultConfig(),
		Strength:  strength.DefaultConfig(),
		Mechanism: mechanism.DefaultConfig(),
		Sizing:    sizing.DefaultConfig(),
		Liquidity: liquidity.DefaultConfig(),
		Gates:     gates.DefaultConfig(),
		Ledger: LedgerConfig{
			PortfolioValue: 100000,
			Cash:           100000,
			Limits:         ledger.DefaultLimits(),
			MemoryRecords:  1000,
		},
		Provider: market.DefaultHTTPConfig(),
		Database: db.DefaultConfig(),
		Outbox:   outbox.DefaultConfig(),
		Server:   httpapi.DefaultServerConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) error {
	if dsn := os.Getenv("TRADEGATE_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("TRADEGATE_REDIS_ADDR"); addr != "" {
		cfg.Provider.Cache.RedisAddr = addr
	}
	if u := os.Getenv("TRADEGATE_PROVIDER_URL"); u != "" {
		cfg.Provider.BaseURL = u
	}
	if key := os.Getenv("TRADEGATE_PROVIDER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if brokers := os.Getenv("TRADEGATE_KAFKA_BROKERS"); brokers != "" {
		cfg.Outbox.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("TRADEGATE_KAFKA_TOPIC"); topic != "" {
		cfg.Outbox.Topic = topic
	}
	if level := os.Getenv("TRADEGATE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if port := os.Getenv("HTTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return policy.Invalid("HTTP_PORT", port, "must be an integer")
		}
		cfg.Server.Port = p
	}
	return nil
}

// BindFlags adds the override flags shared by every command
func BindFlags(fs *pflag.FlagSet) {
	fs.String("db-dsn", "", "PostgreSQL DSN; empty keeps decisions in memory")
	fs.String("redis-addr", "", "Redis address for the market data cache")
	fs.String("provider-url", "", "Quote gateway base URL")
	fs.StringSlice("kafka-brokers", nil, "Kafka brokers for the decision outbox")
	fs.String("classification", "", "Sizing bucket: core or speculative")
	fs.Int("concurrency", 0, "Candidate fan-out limit")
	fs.Float64("portfolio-value", 0, "Portfolio value seeding the ledger")
}

// ApplyFlags copies every flag the user set over cfg and revalidates
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func()) {
		if err == nil && fs.Changed(name) {
			apply()
		}
	}

	set("db-dsn", func() { c.Database.DSN, err = fs.GetString("db-dsn") })
	set("redis-addr", func() { c.Provider.Cache.RedisAddr, err = fs.GetString("redis-addr") })
	set("provider-url", func() { c.Provider.BaseURL, err = fs.GetString("provider-url") })
	set("kafka-brokers", func() { c.Outbox.Brokers, err = fs.GetStringSlice("kafka-brokers") })
	set("classification", func() {
		var raw string
		if raw, err = fs.GetString("classification"); err == nil {
			c.Pipeline.Classification, err = sizing.ParseClassification(raw)
		}
	})
	set("concurrency", func() { c.Pipeline.Concurrency, err = fs.GetInt("concurrency") })
	set("portfolio-value", func() {
		var v float64
		if v, err = fs.GetFloat64("portfolio-value"); err == nil {
			c.Ledger.PortfolioValue, c.Ledger.Cash = v, v
		}
	})
	if err != nil {
		return err
	}
	return c.Validate()
}

// Validate reports every inconsistent setting at once
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, policy.Invalid(field, value, msg))
	}
	sumsToOne := func(field string, sum float64) {
		if math.Abs(sum-1) > 1e-9 {
			add(field, sum, "weights must sum to 1")
		}
	}

	if c.Pipeline.Concurrency < 1 {
		add("pipeline.concurrency", c.Pipeline.Concurrency, "must be at least 1")
	}
	if _, err := sizing.ParseClassification(string(c.Pipeline.Classification)); err != nil {
		add("pipeline.classification", c.Pipeline.Classification, "must be core or speculative")
	}
	if c.Pipeline.StageTimeout <= 0 {
		add("pipeline.stage_timeout", c.Pipeline.StageTimeout, "must be positive")
	}

	w := c.Strength.Weights
	if w.RS20 < 0 || w.RS40 < 0 || w.RS60 < 0 {
		add("strength.weights", w, "must be non-negative")
	}
	sumsToOne("strength.weights", w.Sum())
	sumsToOne("strength.sector_rs_weight", c.Strength.SectorRSWeight+c.Strength.BenchmarkRSWeight)
	sumsToOne("strength.rs_score_weight", c.Strength.RSScoreWeight+c.Strength.ChecklistWeight)
	cw := c.Mechanism.Weights
	sumsToOne("mechanism.weights", cw.Alignment+cw.Technical+cw.RelativeStrength+cw.RiskReward+cw.Liquidity)
	if c.Strength.TopSectors < 1 {
		add("strength.top_sectors", c.Strength.TopSectors, "must be at least 1")
	}

	if c.Liquidity.SpreadWarnPct <= 0 || c.Liquidity.SpreadWarnPct >= c.Liquidity.SpreadHardCapPct {
		add("liquidity.spread_warn_pct", c.Liquidity.SpreadWarnPct, "must be positive and below spread_hard_cap_pct")
	}

	const ceiling = 5.0
	if c.Gates.RiskCeilingPct <= 0 || c.Gates.RiskCeilingPct > ceiling {
		add("gates.risk_ceiling_pct", c.Gates.RiskCeilingPct, "must be in (0, 5]")
	}
	if c.Sizing.RiskCeilingPct <= 0 || c.Sizing.RiskCeilingPct > ceiling {
		add("sizing.risk_ceiling_pct", c.Sizing.RiskCeilingPct, "must be in (0, 5]")
	}
	for class, tiers := range c.Sizing.MaxRiskPct {
		for tier, pct := range tiers {
			if pct <= 0 || pct > c.Sizing.RiskCeilingPct {
				add(fmt.Sprintf("sizing.max_risk_pct.%s.%s", class, tier), pct, "must be positive and within risk_ceiling_pct")
			}
		}
	}

	l := c.Ledger.Limits
	if l.MaxOpenRiskPct <= 0 || l.MaxOpenRiskPct > 15 {
		add("ledger.limits.max_open_risk_pct", l.MaxOpenRiskPct, "must be in (0, 15]")
	}
	if l.MaxTickerPct <= 0 || l.MaxTickerPct > 15 {
		add("ledger.limits.max_ticker_pct", l.MaxTickerPct, "must be in (0, 15]")
	}
	if l.MaxGroupPct < l.MaxTickerPct || l.MaxGroupPct > 25 {
		add("ledger.limits.max_group_pct", l.MaxGroupPct, "must be between max_ticker_pct and 25")
	}
	if l.GroupCorrelation <= 0 || l.GroupCorrelation > 1 {
		add("ledger.limits.group_correlation", l.GroupCorrelation, "must be in (0, 1]")
	}
	if c.Ledger.PortfolioValue <= 0 {
		add("ledger.portfolio_value", c.Ledger.PortfolioValue, "must be positive")
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		add("database.max_idle_conns", c.Database.MaxIdleConns, "cannot exceed max_open_conns")
	}
	if c.Database.QueryTimeout <= 0 {
		add("database.query_timeout", c.Database.QueryTimeout, "must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", c.Server.Port, "must be a valid TCP port")
	}

	return errors.Join(errs...)
}

// Save writes cfg as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
