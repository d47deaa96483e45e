package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Source = SourceParquet
	cfg.Start = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.End = time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	return cfg
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestValidateConfigRejectsInvalidValues(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.SlowPeriod = cfg.Strategy.FastPeriod

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for slow <= fast")
	}
}

func TestValidateConfigAcceptsValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected config to be valid, got %v", err)
	}
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty symbols", func(c *Config) { c.Symbols = nil }},
		{"blank symbol", func(c *Config) { c.Symbols = []string{"AAPL", ""} }},
		{"duplicate symbol", func(c *Config) { c.Symbols = []string{"AAPL", "AAPL"} }},
		{"end before start", func(c *Config) { c.End = c.Start.AddDate(0, 0, -1) }},
		{"bad mode", func(c *Config) { c.Mode = "paper" }},
		{"zero atr period", func(c *Config) { c.Strategy.ATRPeriod = 0 }},
		{"risk fraction above one", func(c *Config) { c.Strategy.RiskFraction = 1.5 }},
		{"negative stop loss", func(c *Config) { c.Strategy.StopLossATR = -1 }},
		{"no cash", func(c *Config) { c.StartingCash = 0 }},
		{"slippage of one", func(c *Config) { c.SlippagePct = 1 }},
		{"live without credentials", func(c *Config) { c.Mode = ModeLive }},
		{"alpaca source without credentials", func(c *Config) { c.Source = SourceAlpaca }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, Validate(cfg), ErrInvalid)
		})
	}
}

func TestLoadArgsPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	contents := `mode: backtest
symbols: [aapl, msft]
start: "2023-01-01"
end: "2023-06-30"
source: parquet
data_dir: bars
strategy:
  fast_period: 5
  slow_period: 20
slippage_pct: 0
log_file: bot.log
`
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o600))
	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "env-secret")

	cfg, err := LoadArgs(newFlagSet(), []string{"--config", configPath, "--slow", "30"})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Symbols)
	assert.Equal(t, 5, cfg.Strategy.FastPeriod, "fast from file")
	assert.Equal(t, 30, cfg.Strategy.SlowPeriod, "slow from flag")
	assert.Equal(t, 14, cfg.Strategy.ATRPeriod, "atr from defaults")
	assert.Equal(t, SourceParquet, cfg.Source)
	assert.Equal(t, "bars", cfg.DataDir)
	assert.Zero(t, cfg.SlippagePct)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC), cfg.End)
	assert.Equal(t, "bot.log", cfg.LogFile)
}

func TestLoadArgsRejectsMalformedDate(t *testing.T) {
	_, err := LoadArgs(newFlagSet(), []string{"--source", "parquet", "--start", "01/02/2023"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadArgsRejectsEmptySymbolList(t *testing.T) {
	_, err := LoadArgs(newFlagSet(), []string{"--source", "parquet", "--symbols", " , "})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadArgsRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols: [unterminated"), 0o600))

	_, err := LoadArgs(newFlagSet(), []string{"--config", path})
	assert.ErrorIs(t, err, ErrInvalid)
}
