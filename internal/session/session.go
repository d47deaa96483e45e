// Package session runs one backtest or live trading session from a validated
// config and reports how it ended.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trendbot/internal/config"
	"trendbot/internal/engine"
	"trendbot/internal/md"
	"trendbot/internal/state"
	"trendbot/internal/strategy"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

type Result struct {
	Status      Status
	Err         error
	RunID       string
	Bars        int64
	Orders      int64
	Fills       int
	FinalEquity float64
}

// StreamFunc delivers live bars until ctx is done or the feed fails.
type StreamFunc func(ctx context.Context, opts md.StreamOptions, symbols []string, handler md.BarHandler) error

type Option func(*Session)

// WithSource replaces the historical bar source picked from the config.
func WithSource(src md.Source) Option {
	return func(s *Session) { s.source = src }
}

// WithBroker replaces the Alpaca broker in live mode.
func WithBroker(b engine.Broker) Option {
	return func(s *Session) { s.broker = b }
}

func WithStream(fn StreamFunc) Option {
	return func(s *Session) { s.stream = fn }
}

func WithStore(store *state.Store) Option {
	return func(s *Session) { s.store = store }
}

func WithStrategy(strat strategy.Strategy) Option {
	return func(s *Session) { s.strategy = strat }
}

type Session struct {
	cfg      config.Config
	stop     engine.StopSignal
	source   md.Source
	broker   engine.Broker
	stream   StreamFunc
	store    *state.Store
	strategy strategy.Strategy
	poll     time.Duration
}

// New validates cfg and prepares a session. Nothing is contacted until Run.
func New(cfg config.Config, opts ...Option) (*Session, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:    cfg,
		stream: md.StartStream,
		poll:   time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.source == nil {
		s.source = defaultSource(cfg)
	}
	if s.store == nil {
		s.store = state.NewStore()
	}
	if s.strategy == nil {
		s.strategy = strategy.NewSMACross(cfg.Strategy)
	}
	return s, nil
}

func defaultSource(cfg config.Config) md.Source {
	if cfg.Source == config.SourceParquet {
		return md.ParquetSource{Dir: cfg.DataDir}
	}
	return md.NewAlpacaHistory(cfg.APIKey, cfg.APISecret, cfg.Feed, cfg.Timeframe == config.TimeframeDay)
}

// Stop requests a graceful stop: open positions are closed on their next bar
// and the run ends once the book is flat.
func (s *Session) Stop() {
	s.stop.Set()
	slog.Info("stop requested")
}

func (s *Session) Store() *state.Store {
	return s.store
}

func (s *Session) Run(ctx context.Context) (res Result) {
	runID := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Status: StatusFailed, Err: fmt.Errorf("panic: %v", r), RunID: runID}
		}
		logResult(res)
	}()

	slog.Info("session starting", "run_id", runID, "mode", s.cfg.Mode, "symbols", s.cfg.Symbols,
		"start", s.cfg.Start.Format(config.DateLayout), "end", s.cfg.End.Format(config.DateLayout), "source", s.cfg.Source)

	decisions, err := engine.NewDecisionLogger(s.cfg.DecisionsPath, runID)
	if err != nil {
		return failed(runID, fmt.Errorf("open decision log: %w", err))
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			slog.Warn("failed to close decision log", "error", err)
		}
	}()

	if s.cfg.Live() {
		return s.runLive(ctx, decisions)
	}
	return s.runBacktest(ctx, decisions)
}

func failed(runID string, err error) Result {
	return Result{Status: StatusFailed, Err: err, RunID: runID}
}

func logResult(res Result) {
	attrs := []any{"run_id", res.RunID, "status", res.Status, "bars", res.Bars, "orders", res.Orders, "fills", res.Fills, "final_equity", res.FinalEquity}
	if res.Err != nil {
		slog.Error("session finished", append(attrs, "error", res.Err)...)
		return
	}
	slog.Info("session finished", attrs...)
}
