package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trendbot/internal/config"
	"trendbot/internal/logging"
	"trendbot/internal/metrics"
	"trendbot/internal/session"
	"trendbot/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("log file error: %v", err)
		}
		defer f.Close()
		lines := make(chan string, 1024)
		logger = logging.Tee(logger, logging.NewChanLogger(lines, cfg.LogLevel))
		go func() {
			if err := logging.Drain(lines, f); err != nil {
				logger.Warn("log file stream stopped", "path", cfg.LogFile, "error", err)
			}
		}()
	}
	slog.SetDefault(logger)

	store := state.NewStore()
	if cfg.CheckpointPath != "" {
		if err := store.Load(cfg.CheckpointPath); err == nil {
			slog.Info("loaded checkpoint", "path", cfg.CheckpointPath)
		} else if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load checkpoint", "path", cfg.CheckpointPath, "error", err)
		}
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer srv.Close()
		slog.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	s, err := session.New(cfg, session.WithStore(store))
	if err != nil {
		log.Fatalf("session error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// first signal flattens and stops, a second one aborts
	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		slog.Info("shutdown signal received, closing positions")
		s.Stop()
		<-signalChan
		slog.Warn("second signal received, aborting")
		cancel()
	}()

	res := s.Run(ctx)

	if cfg.CheckpointPath != "" {
		if err := store.Save(cfg.CheckpointPath); err != nil {
			slog.Error("failed to save checkpoint", "path", cfg.CheckpointPath, "error", err)
		}
	}

	slog.Info("bot shutdown complete", "status", res.Status)
	if res.Status == session.StatusFailed {
		os.Exit(1)
	}
}
