package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/policy"
	"github.com/sawpanic/tradegate/internal/sizing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, 5.0, cfg.Gates.RiskCeilingPct)
	assert.False(t, cfg.Database.Enabled())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  concurrency: 8
  classification: speculative
ledger:
  portfolio_value: 250000
liquidity:
  spread_warn_pct: 0.4
sizing:
  max_risk_pct:
    core:
      very_high: 2.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, sizing.Speculative, cfg.Pipeline.Classification)
	assert.Equal(t, 250000.0, cfg.Ledger.PortfolioValue)
	assert.Equal(t, 0.4, cfg.Liquidity.SpreadWarnPct)
	assert.Equal(t, 1.0, cfg.Liquidity.SpreadHardCapPct, "untouched keys keep defaults")
	assert.Equal(t, 0.5, cfg.Strength.Weights.RS20)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "pipeline: ["))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"weights off", func(c *Config) { c.Strength.Weights.RS60 = 0.5 }, "strength.weights"},
		{"negative weight", func(c *Config) { c.Strength.Weights.RS20, c.Strength.Weights.RS40 = -0.2, 1.0 }, "strength.weights"},
		{"spread bands inverted", func(c *Config) { c.Liquidity.SpreadWarnPct = 1.5 }, "liquidity.spread_warn_pct"},
		{"gate ceiling above 5", func(c *Config) { c.Gates.RiskCeilingPct = 6 }, "gates.risk_ceiling_pct"},
		{"tier risk above ceiling", func(c *Config) { c.Sizing.MaxRiskPct[sizing.Core]["very_high"] = 7 }, "sizing.max_risk_pct.core.very_high"},
		{"group below ticker", func(c *Config) { c.Ledger.Limits.MaxGroupPct = 10 }, "ledger.limits.max_group_pct"},
		{"group above cap", func(c *Config) { c.Ledger.Limits.MaxGroupPct = 30 }, "ledger.limits.max_group_pct"},
		{"open risk above cap", func(c *Config) { c.Ledger.Limits.MaxOpenRiskPct = 20 }, "ledger.limits.max_open_risk_pct"},
		{"conviction weights off", func(c *Config) { c.Mechanism.Weights.Liquidity = 0.5 }, "mechanism.weights"},
		{"zero concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }, "pipeline.concurrency"},
		{"bad classification", func(c *Config) { c.Pipeline.Classification = "swing" }, "pipeline.classification"},
		{"idle above open", func(c *Config) { c.Database.MaxIdleConns = 50 }, "database.max_idle_conns"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, policy.ErrValidation)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADEGATE_DATABASE_DSN", "postgres://db/tradegate")
	t.Setenv("TRADEGATE_REDIS_ADDR", "redis:6379")
	t.Setenv("TRADEGATE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("HTTP_PORT", "9191")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/tradegate", cfg.Database.DSN)
	assert.Equal(t, "redis:6379", cfg.Provider.Cache.RedisAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Outbox.Brokers)
	assert.Equal(t, 9191, cfg.Server.Port)

	t.Setenv("HTTP_PORT", "eighty")
	_, err = Load("")
	assert.ErrorIs(t, err, policy.ErrValidation)
}

func TestApplyFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--classification=Speculative", "--portfolio-value=50000", "--kafka-brokers=a:1,b:2"}))

	cfg := Default()
	require.NoError(t, cfg.ApplyFlags(fs))
	assert.Equal(t, sizing.Speculative, cfg.Pipeline.Classification)
	assert.Equal(t, 50000.0, cfg.Ledger.Cash)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Outbox.Brokers)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency, "unset flags leave config alone")

	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--classification=swing"}))
	assert.Error(t, Default().ApplyFlags(fs))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Pipeline.Concurrency = 6
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, loaded.Pipeline.Concurrency)
}
