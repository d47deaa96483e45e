package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"trendbot/internal/broker"
	"trendbot/internal/config"
	"trendbot/internal/engine"
	"trendbot/internal/md"
	"trendbot/internal/risk"
)

func (s *Session) runLive(ctx context.Context, decisions *engine.DecisionLogger) Result {
	res := Result{RunID: decisions.RunID()}

	b := s.broker
	if b == nil {
		b = broker.New(s.cfg.APIKey, s.cfg.APISecret, s.cfg.BaseURL)
	}
	eng := engine.New(s.cfg, s.strategy, risk.Gate{}, b, s.store, decisions, &s.stop)
	if err := eng.Sync(ctx); err != nil {
		return failed(res.RunID, err)
	}

	warmed, err := s.warm(ctx, eng)
	if err != nil {
		return failed(res.RunID, err)
	}
	slog.Info("indicators warmed", "bars", warmed)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// panics on the stream and reconcile goroutines end the run as failed
	crashed := make(chan error, 1)
	guard := func(fn func()) {
		defer func() {
			if r := recover(); r != nil {
				select {
				case crashed <- fmt.Errorf("panic: %v", r):
				default:
				}
			}
		}()
		fn()
	}

	go guard(func() { engine.ReconcileLoop(ctx, eng, s.cfg.ReconcileInterval) })

	var bars atomic.Int64
	handler := func(bar md.Bar) {
		if ctx.Err() != nil {
			return
		}
		guard(func() {
			if err := eng.Sync(ctx); err != nil {
				slog.Warn("sync before bar failed", "symbol", bar.Symbol, "error", err)
			}
			eng.OnBar(ctx, bar)
			bars.Add(1)
		})
	}

	opts := md.StreamOptions{
		APIKey:    s.cfg.APIKey,
		APISecret: s.cfg.APISecret,
		Feed:      s.cfg.Feed,
		Daily:     s.cfg.Timeframe == config.TimeframeDay,
	}
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- s.stream(ctx, opts, s.cfg.Symbols, handler)
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	stopped := false
	for res.Status == "" {
		select {
		case err := <-crashed:
			res.Status = StatusFailed
			res.Err = err
			cancel()
		case err := <-streamErr:
			switch {
			case stopped || errors.Is(err, context.Canceled) || ctx.Err() != nil:
				res.Status = StatusStopped
			case err != nil:
				res.Status = StatusFailed
				res.Err = err
			default:
				res.Status = StatusFailed
				res.Err = fmt.Errorf("market data stream ended")
			}
		case <-ticker.C:
			if !stopped && s.stop.IsSet() {
				if err := eng.Sync(ctx); err != nil {
					slog.Warn("sync while stopping failed", "error", err)
					continue
				}
				if eng.Flat() {
					stopped = true
					cancel()
				}
			}
		}
	}

	res.Bars = bars.Load()
	res.Orders = eng.Submitted()
	res.FinalEquity = s.store.Account().PortfolioValue
	return res
}

// warm replays history from the configured start through now into the
// indicators so live decisions start with ready values.
func (s *Session) warm(ctx context.Context, eng *engine.Engine) (int, error) {
	series, err := s.source.Bars(ctx, s.cfg.Symbols, s.cfg.Start, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("warm-up bars: %w", err)
	}
	steps, err := md.Merge(series)
	if errors.Is(err, md.ErrNoBars) {
		slog.Warn("no warm-up bars, indicators start cold")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("warm-up bars: %w", err)
	}
	n := 0
	for _, step := range steps {
		for _, bar := range step.Bars {
			eng.Warm(bar)
			n++
		}
	}
	return n, nil
}
