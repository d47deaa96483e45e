// Package paper is the simulated broker used for backtests. Orders submitted
// while a bar is being evaluated are matched against the following bars.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"trendbot/internal/broker"
	"trendbot/internal/md"
)

const epsilon = 1e-9

var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrNoPosition       = errors.New("no position")
	ErrInvalidOrder     = errors.New("invalid order")
)

type orderKind int

const (
	marketSell orderKind = iota
	stopLimitBuy
	protectiveStop
)

type order struct {
	ref       broker.OrderRef
	kind      orderKind
	qty       float64
	stop      float64
	limit     float64
	protect   float64
	triggered bool
}

type position struct {
	qty     float64
	avgCost float64
}

// Fill is one executed trade.
type Fill struct {
	OrderID string
	Symbol  string
	Side    string
	Qty     float64
	Price   float64
	Time    time.Time
	Reason  string
}

type Broker struct {
	mu        sync.Mutex
	cash      float64
	slippage  float64
	positions map[string]*position
	lastClose map[string]float64
	orders    []*order
	fills     []Fill
	seq       int
}

func New(startingCash, slippage float64) *Broker {
	return &Broker{
		cash:      startingCash,
		slippage:  slippage,
		positions: make(map[string]*position),
		lastClose: make(map[string]float64),
	}
}

func (b *Broker) Account(ctx context.Context) (broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value := b.valueLocked()
	return broker.Account{Cash: b.cash, PortfolioValue: value, BuyingPower: b.cash}, nil
}

func (b *Broker) Positions(ctx context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Position, 0, len(b.positions))
	for symbol, p := range b.positions {
		out = append(out, broker.Position{Symbol: symbol, Qty: p.qty, AvgEntry: p.avgCost})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (b *Broker) OpenOrders(ctx context.Context) ([]broker.OrderRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.OrderRef, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o.ref)
	}
	return out, nil
}

func (b *Broker) SubmitEntry(ctx context.Context, req broker.EntryOrder) (broker.OrderRef, error) {
	if !(req.Qty > 0) || !(req.LimitPrice > 0) || !(req.StopPrice < req.LimitPrice) {
		return broker.OrderRef{}, fmt.Errorf("%w: entry %s qty=%v stop=%v limit=%v", ErrInvalidOrder, req.Symbol, req.Qty, req.StopPrice, req.LimitPrice)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &order{
		ref:     b.newRefLocked(req.Symbol, "buy", req.ClientOrderID),
		kind:    stopLimitBuy,
		qty:     req.Qty,
		stop:    req.LimitPrice,
		limit:   req.LimitPrice,
		protect: req.StopPrice,
	}
	b.orders = append(b.orders, o)
	slog.Debug("paper entry accepted", "order_id", o.ref.ID, "symbol", req.Symbol, "qty", req.Qty, "limit", req.LimitPrice, "stop", req.StopPrice)
	return o.ref, nil
}

// ClosePosition cancels the symbol's resting orders and queues a market sell
// that fills at the next bar's open.
func (b *Broker) ClosePosition(ctx context.Context, symbol string, qty float64) (broker.OrderRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok || p.qty <= epsilon {
		return broker.OrderRef{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	b.cancelLocked(symbol)
	o := &order{
		ref:  b.newRefLocked(symbol, "sell", ""),
		kind: marketSell,
		qty:  math.Min(math.Abs(qty), p.qty),
	}
	b.orders = append(b.orders, o)
	return o.ref, nil
}

func (b *Broker) CancelOrders(ctx context.Context, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelLocked(symbol)
	return nil
}

// Process matches resting orders against one time step and then marks
// positions to the step's closes.
func (b *Broker) Process(bars []md.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, bar := range bars {
		active := make([]*order, 0, len(b.orders))
		var added []*order
		for _, o := range b.orders {
			if o.ref.Symbol != bar.Symbol {
				active = append(active, o)
				continue
			}
			done, next := b.matchLocked(o, bar)
			if !done {
				active = append(active, o)
			}
			if next != nil {
				added = append(added, next)
			}
		}
		b.orders = append(active, added...)
		b.lastClose[bar.Symbol] = bar.Close
	}
}

// Fills returns a copy of all executions so far.
func (b *Broker) Fills() []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Fill(nil), b.fills...)
}

func (b *Broker) matchLocked(o *order, bar md.Bar) (bool, *order) {
	switch o.kind {
	case marketSell:
		b.sellLocked(o, bar, b.sellPrice(bar.Open, bar), "close")
		return true, nil

	case stopLimitBuy:
		wasTriggered := o.triggered
		if !o.triggered {
			if bar.High < o.stop {
				return false, nil
			}
			o.triggered = true
		}
		if bar.Low > o.limit {
			return false, nil
		}
		px := o.limit
		if wasTriggered && bar.Open <= o.limit {
			px = bar.Open
		}
		px = math.Min(math.Min(px*(1+b.slippage), o.limit), bar.High)
		cost := o.qty * px
		if cost > b.cash+epsilon {
			slog.Warn("paper entry rejected", "order_id", o.ref.ID, "symbol", o.ref.Symbol, "cost", cost, "cash", b.cash, "error", ErrInsufficientCash)
			return true, nil
		}
		b.cash -= cost
		p := b.positions[o.ref.Symbol]
		if p == nil {
			p = &position{}
			b.positions[o.ref.Symbol] = p
		}
		p.avgCost = (p.avgCost*p.qty + cost) / (p.qty + o.qty)
		p.qty += o.qty
		b.recordLocked(o, bar, px, "entry")

		return true, &order{
			ref:  b.newRefLocked(o.ref.Symbol, "sell", ""),
			kind: protectiveStop,
			qty:  o.qty,
			stop: o.protect,
		}

	case protectiveStop:
		if bar.Low > o.stop {
			return false, nil
		}
		b.sellLocked(o, bar, b.sellPrice(math.Min(bar.Open, o.stop), bar), "stop_loss")
		return true, nil
	}
	return true, nil
}

// sellPrice applies slippage against a sell without leaving the bar's range.
func (b *Broker) sellPrice(px float64, bar md.Bar) float64 {
	return math.Max(px*(1-b.slippage), bar.Low)
}

func (b *Broker) sellLocked(o *order, bar md.Bar, px float64, reason string) {
	p, ok := b.positions[o.ref.Symbol]
	if !ok {
		return
	}
	qty := math.Min(o.qty, p.qty)
	if qty <= epsilon {
		return
	}
	b.cash += qty * px
	p.qty -= qty
	if p.qty <= epsilon {
		delete(b.positions, o.ref.Symbol)
	}
	filled := *o
	filled.qty = qty
	b.recordLocked(&filled, bar, px, reason)
}

func (b *Broker) recordLocked(o *order, bar md.Bar, px float64, reason string) {
	fill := Fill{
		OrderID: o.ref.ID,
		Symbol:  o.ref.Symbol,
		Side:    o.ref.Side,
		Qty:     o.qty,
		Price:   px,
		Time:    bar.Timestamp,
		Reason:  reason,
	}
	b.fills = append(b.fills, fill)
	slog.Info("paper fill", "order_id", fill.OrderID, "symbol", fill.Symbol, "side", fill.Side, "qty", fill.Qty, "price", fill.Price, "reason", reason, "cash", b.cash)
}

func (b *Broker) cancelLocked(symbol string) {
	kept := b.orders[:0]
	for _, o := range b.orders {
		if o.ref.Symbol == symbol {
			slog.Debug("paper order cancelled", "order_id", o.ref.ID, "symbol", symbol)
			continue
		}
		kept = append(kept, o)
	}
	b.orders = kept
}

func (b *Broker) newRefLocked(symbol, side, clientID string) broker.OrderRef {
	b.seq++
	id := fmt.Sprintf("paper-%d", b.seq)
	if clientID == "" {
		clientID = id
	}
	return broker.OrderRef{ID: id, ClientOrderID: clientID, Symbol: symbol, Side: side, Status: "open"}
}

func (b *Broker) valueLocked() float64 {
	value := b.cash
	for symbol, p := range b.positions {
		value += p.qty * b.lastClose[symbol]
	}
	return value
}
