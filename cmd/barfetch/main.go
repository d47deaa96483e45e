// Command barfetch downloads historical bars from Alpaca into
// <data-dir>/<SYMBOL>.parquet for offline backtests.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"trendbot/internal/config"
	"trendbot/internal/logging"
	"trendbot/internal/md"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))
	if cfg.APIKey == "" || cfg.APISecret == "" {
		log.Fatalf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	history := md.NewAlpacaHistory(cfg.APIKey, cfg.APISecret, cfg.Feed, cfg.Timeframe == config.TimeframeDay)
	series, err := history.Bars(context.Background(), cfg.Symbols, cfg.Start, cfg.End)
	if err != nil {
		log.Fatalf("fetch bars: %v", err)
	}

	for _, symbol := range cfg.Symbols {
		bars := series[symbol]
		if len(bars) == 0 {
			slog.Warn("no bars returned", "symbol", symbol)
			continue
		}
		path := md.ParquetPath(cfg.DataDir, symbol)
		if err := md.WriteParquet(path, bars); err != nil {
			log.Fatalf("write %s: %v", path, err)
		}
		slog.Info("bars written", "symbol", symbol, "count", len(bars), "path", path)
	}
}
