package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

/*
YAML config example:

mode: backtest
symbols: [AAPL, MSFT, GOOG]
start: "2023-01-01"
end: "2023-12-31"
timeframe: day
source: parquet
data_dir: data
strategy:
  fast_period: 10
  slow_period: 50
  atr_period: 14
  stop_loss_atr: 2
  take_profit_atr: 3
  risk_fraction: 0.02
starting_cash: 10000
slippage_pct: 0.05
*/

// File mirrors Config for YAML decoding. Dates stay strings so that they go
// through the same parsing as the flags.
type File struct {
	Mode              string          `yaml:"mode"`
	Symbols           []string        `yaml:"symbols"`
	Start             string          `yaml:"start"`
	End               string          `yaml:"end"`
	Timeframe         string          `yaml:"timeframe"`
	Source            string          `yaml:"source"`
	DataDir           string          `yaml:"data_dir"`
	Feed              string          `yaml:"feed"`
	Strategy          *StrategyParams `yaml:"strategy"`
	StartingCash      float64         `yaml:"starting_cash"`
	SlippagePct       *float64        `yaml:"slippage_pct"`
	MaxNotional       float64         `yaml:"max_notional"`
	KillSwitch        bool            `yaml:"kill_switch"`
	ReconcileInterval string          `yaml:"reconcile_interval"`
	DecisionsPath     *string         `yaml:"decisions_path"`
	CheckpointPath    string          `yaml:"checkpoint_path"`
	MetricsAddr       string          `yaml:"metrics_addr"`
	LogLevel          string          `yaml:"log_level"`
	LogFormat         string          `yaml:"log_format"`
	LogFile           string          `yaml:"log_file"`
	BaseURL           string          `yaml:"base_url"`
}

func loadFile(path string) (File, error) {
	var file File
	data, err := os.ReadFile(path)
	if err != nil {
		return file, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("%w: decode yaml %s: %v", ErrInvalid, path, err)
	}
	return file, nil
}

// applyFile copies values from the file into cfg unless the matching flag
// was given explicitly.
func applyFile(cfg *Config, file File, set map[string]bool) error {
	setString := func(flagName string, dst *string, v string) {
		if !set[flagName] && v != "" {
			*dst = v
		}
	}
	setFloat := func(flagName string, dst *float64, v float64) {
		if !set[flagName] && v != 0 {
			*dst = v
		}
	}

	setString("timeframe", &cfg.Timeframe, file.Timeframe)
	setString("source", &cfg.Source, file.Source)
	setString("data-dir", &cfg.DataDir, file.DataDir)
	setString("feed", &cfg.Feed, file.Feed)
	setString("checkpoint-path", &cfg.CheckpointPath, file.CheckpointPath)
	setString("metrics-addr", &cfg.MetricsAddr, file.MetricsAddr)
	setString("log-level", &cfg.LogLevel, file.LogLevel)
	setString("log-format", &cfg.LogFormat, file.LogFormat)
	setString("log-file", &cfg.LogFile, file.LogFile)
	setString("base-url", &cfg.BaseURL, file.BaseURL)
	setFloat("cash", &cfg.StartingCash, file.StartingCash)
	setFloat("max-notional", &cfg.MaxNotional, file.MaxNotional)

	if file.SlippagePct != nil && !set["slippage"] {
		cfg.SlippagePct = *file.SlippagePct
	}
	if file.DecisionsPath != nil && !set["decisions-path"] {
		cfg.DecisionsPath = *file.DecisionsPath
	}
	if file.KillSwitch && !set["kill-switch"] {
		cfg.KillSwitch = true
	}
	if file.ReconcileInterval != "" && !set["reconcile-interval"] {
		d, err := time.ParseDuration(file.ReconcileInterval)
		if err != nil {
			return fmt.Errorf("%w: reconcile_interval: %v", ErrInvalid, err)
		}
		cfg.ReconcileInterval = d
	}

	if p := file.Strategy; p != nil {
		setInt := func(flagName string, dst *int, v int) {
			if !set[flagName] && v != 0 {
				*dst = v
			}
		}
		setInt("fast", &cfg.Strategy.FastPeriod, p.FastPeriod)
		setInt("slow", &cfg.Strategy.SlowPeriod, p.SlowPeriod)
		setInt("atr", &cfg.Strategy.ATRPeriod, p.ATRPeriod)
		setFloat("stop-loss", &cfg.Strategy.StopLossATR, p.StopLossATR)
		setFloat("take-profit", &cfg.Strategy.TakeProfitATR, p.TakeProfitATR)
		setFloat("risk-fraction", &cfg.Strategy.RiskFraction, p.RiskFraction)
	}
	return nil
}
