package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trendbot/internal/broker"
	"trendbot/internal/config"
	"trendbot/internal/indicator"
	"trendbot/internal/md"
	"trendbot/internal/metrics"
	"trendbot/internal/risk"
	"trendbot/internal/state"
	"trendbot/internal/strategy"
)

// Broker is what the engine needs from an execution venue. Both the Alpaca
// adapter and the paper broker satisfy it.
type Broker interface {
	Account(ctx context.Context) (broker.Account, error)
	Positions(ctx context.Context) ([]broker.Position, error)
	OpenOrders(ctx context.Context) ([]broker.OrderRef, error)
	SubmitEntry(ctx context.Context, req broker.EntryOrder) (broker.OrderRef, error)
	ClosePosition(ctx context.Context, symbol string, qty float64) (broker.OrderRef, error)
	CancelOrders(ctx context.Context, symbol string) error
}

// StopSignal asks a running session to flatten and stop. Safe to set from
// any goroutine.
type StopSignal struct {
	flag atomic.Bool
}

func (s *StopSignal) Set() {
	s.flag.Store(true)
}

func (s *StopSignal) IsSet() bool {
	return s.flag.Load()
}

type Engine struct {
	cfg         config.Config
	strategy    strategy.Strategy
	gate        risk.Gate
	broker      Broker
	state       *state.Store
	decisions   *DecisionLogger
	stop        *StopSignal
	runID       string
	orderSeqNum uint64
	submitted   atomic.Int64

	basket map[string]bool

	mu   sync.Mutex
	sets map[string]*indicator.Set
}

func New(cfg config.Config, strategy strategy.Strategy, gate risk.Gate, b Broker, stateStore *state.Store, decisions *DecisionLogger, stop *StopSignal) *Engine {
	if stop == nil {
		stop = &StopSignal{}
	}
	basket := make(map[string]bool, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		basket[symbol] = true
	}
	return &Engine{
		cfg:       cfg,
		strategy:  strategy,
		gate:      gate,
		broker:    b,
		state:     stateStore,
		decisions: decisions,
		stop:      stop,
		runID:     decisions.RunID(),
		basket:    basket,
		sets:      make(map[string]*indicator.Set, len(cfg.Symbols)),
	}
}

// Warm feeds a historical bar to the symbol's indicators without deciding.
func (e *Engine) Warm(bar md.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set(bar.Symbol).Update(bar)
	e.state.SetLastBarTime(bar.Symbol, bar.Timestamp)
}

func (e *Engine) OnBar(ctx context.Context, bar md.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := e.set(bar.Symbol).Update(bar)
	e.state.SetLastBarTime(bar.Symbol, bar.Timestamp)
	metrics.BarsTotal.WithLabelValues(bar.Symbol).Inc()

	stopping := e.stop.IsSet()
	position := e.state.Position(bar.Symbol)
	if stopping && position.Qty == 0 {
		e.cancelResting(ctx, bar.Symbol)
	}

	account := e.state.Account()
	intent := e.strategy.Decide(strategy.MarketSnapshot{
		Timestamp:      bar.Timestamp,
		Symbol:         bar.Symbol,
		Close:          bar.Close,
		FastSMA:        v.Fast,
		SlowSMA:        v.Slow,
		ATR:            v.ATR,
		Crossover:      v.Cross,
		Ready:          v.Ready,
		PositionQty:    position.Qty,
		Cash:           account.Cash,
		PortfolioValue: account.PortfolioValue,
		Stopping:       stopping,
	})
	metrics.IntentsTotal.WithLabelValues(bar.Symbol, string(intent.Action)).Inc()

	riskCtx := risk.RiskContext{
		Symbol:         bar.Symbol,
		Price:          bar.Close,
		PositionQty:    position.Qty,
		OpenOrderCount: e.state.OpenOrderCount(bar.Symbol),
		MaxNotional:    e.cfg.MaxNotional,
		KillSwitch:     e.cfg.KillSwitch,
	}

	approved, err := e.gate.Evaluate(intent, riskCtx)
	decision := Decision{
		Timestamp:  time.Now().UTC(),
		BarTime:    bar.Timestamp,
		Symbol:     bar.Symbol,
		Close:      bar.Close,
		Fast:       v.Fast,
		Slow:       v.Slow,
		ATR:        v.ATR,
		Cross:      v.Cross,
		Ready:      v.Ready,
		Stopping:   stopping,
		Intent:     intent.Action,
		IntentQty:  intent.Qty,
		StopPrice:  intent.StopPrice,
		LimitPrice: intent.LimitPrice,
		Reason:     intent.Reason,
	}

	if err != nil {
		decision.Result = "rejected"
		decision.RejectReason = err.Error()
		e.decisions.Append(decision)
		metrics.RejectsTotal.WithLabelValues(bar.Symbol, err.Error()).Inc()
		return
	}

	if intent.Action == strategy.Hold {
		decision.Result = "hold"
		decision.ApprovalReason = approved.Reason
		e.decisions.Append(decision)
		slog.Debug("hold", "symbol", bar.Symbol, "time", bar.Timestamp, "close", bar.Close, "fast", v.Fast, "slow", v.Slow, "reason", intent.Reason)
		return
	}

	var ref broker.OrderRef
	switch intent.Action {
	case strategy.Buy:
		ref, err = e.broker.SubmitEntry(ctx, broker.EntryOrder{
			Symbol:        bar.Symbol,
			Qty:           approved.Intent.Qty,
			StopPrice:     approved.Intent.StopPrice,
			LimitPrice:    approved.Intent.LimitPrice,
			ClientOrderID: e.nextClientOrderID(),
		})
	case strategy.Sell:
		ref, err = e.broker.ClosePosition(ctx, bar.Symbol, approved.Intent.Qty)
		if err == nil {
			e.state.RemoveOpenOrders(bar.Symbol)
		}
	default:
		err = fmt.Errorf("unsupported action: %s", intent.Action)
	}

	if err != nil {
		decision.Result = "order_failed"
		decision.RejectReason = err.Error()
		e.decisions.Append(decision)
		metrics.RejectsTotal.WithLabelValues(bar.Symbol, "order_failed").Inc()
		slog.Warn("order failed", "symbol", bar.Symbol, "intent", intent.Action, "qty", intent.Qty, "error", err)
		return
	}

	decision.Result = "order_submitted"
	decision.OrderID = ref.ID
	decision.ClientOrderID = ref.ClientOrderID
	decision.ApprovalReason = approved.Reason
	e.decisions.Append(decision)
	e.submitted.Add(1)
	metrics.OrdersTotal.WithLabelValues(bar.Symbol, ref.Side).Inc()
	slog.Info("order submitted", "symbol", bar.Symbol, "side", ref.Side, "qty", intent.Qty, "stop", intent.StopPrice, "limit", intent.LimitPrice, "order_id", ref.ID, "client_order_id", ref.ClientOrderID, "reason", intent.Reason)

	e.state.AddOpenOrder(state.OpenOrder{
		ClientOrderID: ref.ClientOrderID,
		OrderID:       ref.ID,
		Symbol:        bar.Symbol,
		Side:          ref.Side,
		Status:        ref.Status,
	})
}

// Sync pulls account, positions and open orders from the broker into the
// state store. Positions and orders outside the configured symbols are
// ignored.
func (e *Engine) Sync(ctx context.Context) error {
	account, err := e.broker.Account(ctx)
	if err != nil {
		return fmt.Errorf("sync account: %w", err)
	}
	positions, err := e.broker.Positions(ctx)
	if err != nil {
		return fmt.Errorf("sync positions: %w", err)
	}
	orders, err := e.broker.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("sync open orders: %w", err)
	}

	e.state.SetAccount(state.Account{Cash: account.Cash, PortfolioValue: account.PortfolioValue})

	bySymbol := make(map[string]state.Position, len(positions))
	for _, p := range positions {
		if !e.inBasket(p.Symbol) {
			continue
		}
		bySymbol[p.Symbol] = state.Position{Qty: p.Qty, AvgEntry: p.AvgEntry}
	}
	e.state.SetPositions(bySymbol)

	openOrders := make(map[string]state.OpenOrder, len(orders))
	for _, o := range orders {
		if !e.inBasket(o.Symbol) {
			continue
		}
		openOrders[o.ID] = state.OpenOrder{
			ClientOrderID: o.ClientOrderID,
			OrderID:       o.ID,
			Symbol:        o.Symbol,
			Side:          o.Side,
			Status:        o.Status,
		}
	}
	e.state.SetOpenOrders(openOrders)
	e.state.SetLastSync(time.Now().UTC())

	metrics.EquityGauge.Set(account.PortfolioValue)
	metrics.PositionsOpen.Set(float64(len(bySymbol)))
	return nil
}

// Flat reports whether the last sync saw no positions and no resting orders.
func (e *Engine) Flat() bool {
	return e.state.Flat()
}

// Submitted is the number of orders the broker accepted this run.
func (e *Engine) Submitted() int64 {
	return e.submitted.Load()
}

func (e *Engine) RunID() string {
	return e.runID
}

// cancelResting withdraws a flat symbol's unfilled entries once stop is set.
func (e *Engine) cancelResting(ctx context.Context, symbol string) {
	if e.state.OpenOrderCount(symbol) == 0 {
		return
	}
	if err := e.broker.CancelOrders(ctx, symbol); err != nil {
		slog.Warn("cancel resting orders failed", "symbol", symbol, "error", err)
		return
	}
	e.state.RemoveOpenOrders(symbol)
	slog.Info("resting orders cancelled", "symbol", symbol, "reason", "stop_requested")
}

func (e *Engine) inBasket(symbol string) bool {
	return len(e.basket) == 0 || e.basket[symbol]
}

func (e *Engine) set(symbol string) *indicator.Set {
	s, ok := e.sets[symbol]
	if !ok {
		p := e.cfg.Strategy
		s = indicator.NewSet(p.FastPeriod, p.SlowPeriod, p.ATRPeriod)
		e.sets[symbol] = s
	}
	return s
}

func (e *Engine) nextClientOrderID() string {
	seq := atomic.AddUint64(&e.orderSeqNum, 1)
	return fmt.Sprintf("%s-%d", e.runID, seq)
}
