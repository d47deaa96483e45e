package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

const (
	SourceAlpaca  = "alpaca"
	SourceParquet = "parquet"

	TimeframeDay    = "day"
	TimeframeMinute = "minute"
)

// DateLayout is the accepted format for --start and --end.
const DateLayout = "2006-01-02"

var ErrInvalid = errors.New("invalid config")

// StrategyParams are the crossover and risk knobs.
type StrategyParams struct {
	FastPeriod    int     `yaml:"fast_period"`
	SlowPeriod    int     `yaml:"slow_period"`
	ATRPeriod     int     `yaml:"atr_period"`
	StopLossATR   float64 `yaml:"stop_loss_atr"`
	TakeProfitATR float64 `yaml:"take_profit_atr"`
	RiskFraction  float64 `yaml:"risk_fraction"`
}

type Config struct {
	Mode              Mode
	Symbols           []string
	Start             time.Time
	End               time.Time
	Timeframe         string
	Source            string
	DataDir           string
	Feed              string
	Strategy          StrategyParams
	StartingCash      float64
	SlippagePct       float64
	MaxNotional       float64
	KillSwitch        bool
	ReconcileInterval time.Duration
	DecisionsPath     string
	CheckpointPath    string
	MetricsAddr       string
	LogLevel          string
	LogFormat         string
	LogFile           string
	BaseURL           string
	APIKey            string
	APISecret         string
}

// Live reports whether orders go to the Alpaca trading API.
func (c Config) Live() bool {
	return c.Mode == ModeLive
}

func Defaults() Config {
	return Config{
		Mode:      ModeBacktest,
		Symbols:   []string{"AAPL", "MSFT", "GOOG"},
		Timeframe: TimeframeDay,
		Source:    SourceAlpaca,
		DataDir:   "data",
		Feed:      "iex",
		Strategy: StrategyParams{
			FastPeriod:    10,
			SlowPeriod:    50,
			ATRPeriod:     14,
			StopLossATR:   2,
			TakeProfitATR: 3,
			RiskFraction:  0.02,
		},
		StartingCash:      10000,
		SlippagePct:       0.05,
		ReconcileInterval: 10 * time.Second,
		DecisionsPath:     "decisions.ndjson",
		LogLevel:          "info",
		LogFormat:         "text",
		BaseURL:           "https://paper-api.alpaca.markets",
	}
}

// Load builds the config from defaults, an optional YAML file, the
// environment (including a .env file) and command line flags, in that order
// of precedence.
func Load() (Config, error) {
	return LoadArgs(flag.CommandLine, os.Args[1:])
}

func LoadArgs(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Defaults()

	var (
		configPath string
		mode       string
		symbols    string
		start      string
		end        string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&mode, "mode", string(cfg.Mode), "run mode: backtest or live")
	fs.StringVar(&symbols, "symbols", strings.Join(cfg.Symbols, ","), "comma-separated symbols")
	fs.StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	fs.StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	fs.StringVar(&cfg.Timeframe, "timeframe", cfg.Timeframe, "bar timeframe: day or minute")
	fs.StringVar(&cfg.Source, "source", cfg.Source, "backtest bar source: alpaca or parquet")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding <SYMBOL>.parquet files")
	fs.StringVar(&cfg.Feed, "feed", cfg.Feed, "market data feed: iex or sip")
	fs.IntVar(&cfg.Strategy.FastPeriod, "fast", cfg.Strategy.FastPeriod, "fast SMA period")
	fs.IntVar(&cfg.Strategy.SlowPeriod, "slow", cfg.Strategy.SlowPeriod, "slow SMA period")
	fs.IntVar(&cfg.Strategy.ATRPeriod, "atr", cfg.Strategy.ATRPeriod, "ATR period")
	fs.Float64Var(&cfg.Strategy.StopLossATR, "stop-loss", cfg.Strategy.StopLossATR, "stop loss distance in ATRs")
	fs.Float64Var(&cfg.Strategy.TakeProfitATR, "take-profit", cfg.Strategy.TakeProfitATR, "take profit distance in ATRs")
	fs.Float64Var(&cfg.Strategy.RiskFraction, "risk-fraction", cfg.Strategy.RiskFraction, "fraction of portfolio value risked per entry")
	fs.Float64Var(&cfg.StartingCash, "cash", cfg.StartingCash, "backtest starting cash")
	fs.Float64Var(&cfg.SlippagePct, "slippage", cfg.SlippagePct, "backtest slippage as a fraction of price")
	fs.Float64Var(&cfg.MaxNotional, "max-notional", cfg.MaxNotional, "max notional per entry, 0 disables")
	fs.BoolVar(&cfg.KillSwitch, "kill-switch", cfg.KillSwitch, "if true, never open positions")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "live reconciliation interval")
	fs.StringVar(&cfg.DecisionsPath, "decisions-path", cfg.DecisionsPath, "path to decisions log, empty disables")
	fs.StringVar(&cfg.CheckpointPath, "checkpoint-path", cfg.CheckpointPath, "path to state checkpoint, empty disables")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "prometheus listen address, empty disables")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also append text logs to this file, empty disables")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "trading API base URL")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if configPath != "" {
		file, err := loadFile(configPath)
		if err != nil {
			return cfg, err
		}
		if err := applyFile(&cfg, file, set); err != nil {
			return cfg, err
		}
		if !set["mode"] && file.Mode != "" {
			mode = file.Mode
		}
		if !set["symbols"] && len(file.Symbols) > 0 {
			symbols = strings.Join(file.Symbols, ",")
		}
		if !set["start"] && file.Start != "" {
			start = file.Start
		}
		if !set["end"] && file.End != "" {
			end = file.End
		}
	}

	loadDotEnvIfPresent(".env")
	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" && !set["base-url"] {
		cfg.BaseURL = v
	}

	cfg.Mode = Mode(mode)
	cfg.Symbols = splitSymbols(symbols)

	if start == "" {
		start = time.Now().UTC().AddDate(-1, 0, 0).Format(DateLayout)
	}
	if end == "" {
		end = time.Now().UTC().Format(DateLayout)
	}
	var err error
	if cfg.Start, err = parseDate("start", start); err != nil {
		return cfg, err
	}
	if cfg.End, err = parseDate("end", end); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first problem with cfg, wrapped in ErrInvalid.
func Validate(cfg Config) error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Mode != ModeBacktest && cfg.Mode != ModeLive {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s == "" {
			return fmt.Errorf("empty symbol in list")
		}
		if seen[s] {
			return fmt.Errorf("duplicate symbol: %s", s)
		}
		seen[s] = true
	}
	if cfg.Start.IsZero() || cfg.End.IsZero() {
		return fmt.Errorf("start and end dates are required")
	}
	if cfg.End.Before(cfg.Start) {
		return fmt.Errorf("end date %s is before start date %s", cfg.End.Format(DateLayout), cfg.Start.Format(DateLayout))
	}
	if cfg.Timeframe != TimeframeDay && cfg.Timeframe != TimeframeMinute {
		return fmt.Errorf("invalid timeframe: %s", cfg.Timeframe)
	}
	if cfg.Source != SourceAlpaca && cfg.Source != SourceParquet {
		return fmt.Errorf("invalid source: %s", cfg.Source)
	}
	if cfg.Source == SourceParquet && cfg.DataDir == "" {
		return fmt.Errorf("data-dir is required for parquet source")
	}
	needsCredentials := cfg.Live() || cfg.Source == SourceAlpaca
	if needsCredentials && (cfg.APIKey == "" || cfg.APISecret == "") {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required for live mode and the alpaca source")
	}
	p := cfg.Strategy
	if p.FastPeriod <= 0 {
		return fmt.Errorf("fast must be > 0")
	}
	if p.SlowPeriod <= p.FastPeriod {
		return fmt.Errorf("slow must be > fast")
	}
	if p.ATRPeriod <= 0 {
		return fmt.Errorf("atr must be > 0")
	}
	if !positive(p.StopLossATR) || !positive(p.TakeProfitATR) {
		return fmt.Errorf("stop-loss and take-profit must be > 0")
	}
	if !positive(p.RiskFraction) || p.RiskFraction > 1 {
		return fmt.Errorf("risk-fraction must be in (0, 1]")
	}
	if !cfg.Live() && !positive(cfg.StartingCash) {
		return fmt.Errorf("cash must be > 0")
	}
	if cfg.SlippagePct < 0 || cfg.SlippagePct >= 1 {
		return fmt.Errorf("slippage must be in [0, 1)")
	}
	if cfg.MaxNotional < 0 {
		return fmt.Errorf("max-notional must be >= 0")
	}
	if cfg.Live() && cfg.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile-interval must be > 0")
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func parseDate(name, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s date %q: expected YYYY-MM-DD", ErrInvalid, name, value)
	}
	return t, nil
}

func splitSymbols(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		s := strings.ToUpper(strings.TrimSpace(part))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
