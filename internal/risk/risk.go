package risk

import (
	"errors"
	"log/slog"
	"math"

	"trendbot/internal/strategy"
)

var (
	ErrKillSwitch      = errors.New("kill_switch_enabled")
	ErrOpenOrderExists = errors.New("open_order_exists")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrMaxNotional     = errors.New("max_notional_exceeded")
	ErrNoPosition      = errors.New("no_position_to_sell")
)

type RiskContext struct {
	Symbol         string
	Price          float64
	PositionQty    float64
	OpenOrderCount int
	MaxNotional    float64
	KillSwitch     bool
}

type ApprovedIntent struct {
	Intent strategy.TradeIntent
	Reason string
}

// Gate is the last check before an intent reaches a broker. Closing intents
// pass the kill switch so a position can always be flattened.
type Gate struct{}

func (g Gate) Evaluate(intent strategy.TradeIntent, ctx RiskContext) (ApprovedIntent, error) {
	if intent.Action == strategy.Hold {
		return ApprovedIntent{Intent: intent, Reason: "hold"}, nil
	}

	price := ctx.Price
	if intent.Action == strategy.Buy && intent.LimitPrice > 0 {
		price = intent.LimitPrice
	}
	notional := price * intent.Qty
	slog.Debug("risk evaluation", "symbol", ctx.Symbol, "intent", intent.Action, "qty", intent.Qty, "position", ctx.PositionQty, "price", price, "notional", notional)

	if intent.Action == strategy.Buy && ctx.KillSwitch {
		return reject(ctx, ErrKillSwitch)
	}
	if intent.Action == strategy.Buy && ctx.OpenOrderCount > 0 {
		return reject(ctx, ErrOpenOrderExists, "count", ctx.OpenOrderCount)
	}
	if !(intent.Qty > 0) || math.IsInf(intent.Qty, 0) {
		return reject(ctx, ErrInvalidQuantity, "qty", intent.Qty)
	}
	if intent.Action == strategy.Sell && ctx.PositionQty == 0 {
		return reject(ctx, ErrNoPosition)
	}
	if intent.Action == strategy.Buy && ctx.MaxNotional > 0 && notional > ctx.MaxNotional {
		return reject(ctx, ErrMaxNotional, "notional", notional, "max", ctx.MaxNotional)
	}

	slog.Info("risk approved", "symbol", ctx.Symbol, "intent", intent.Action, "qty", intent.Qty, "reason", intent.Reason)
	return ApprovedIntent{Intent: intent, Reason: "approved"}, nil
}

func reject(ctx RiskContext, err error, args ...any) (ApprovedIntent, error) {
	slog.Info("risk rejected", append([]any{"symbol", ctx.Symbol, "reason", err.Error()}, args...)...)
	return ApprovedIntent{}, err
}
