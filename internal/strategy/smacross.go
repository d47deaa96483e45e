package strategy

import (
	"math"

	"trendbot/internal/config"
)

// SMACross trades a fast/slow moving average crossover with ATR sized risk.
//
// Entries are placed as a stop-limit order at close + TakeProfitATR*ATR with a
// protective stop at close - StopLossATR*ATR, so a position only opens once
// price reaches the upper level.
type SMACross struct {
	Params config.StrategyParams
}

func NewSMACross(params config.StrategyParams) SMACross {
	return SMACross{Params: params}
}

func (s SMACross) Decide(snapshot MarketSnapshot) TradeIntent {
	inMarket := snapshot.PositionQty != 0

	if snapshot.Stopping {
		if inMarket {
			return TradeIntent{Action: Sell, Qty: math.Abs(snapshot.PositionQty), Reason: "stop_requested"}
		}
		return TradeIntent{Action: Hold, Reason: "stop_requested_flat"}
	}

	if !snapshot.Ready {
		return TradeIntent{Action: Hold, Reason: "warming_up"}
	}

	if inMarket {
		if snapshot.Crossover < 0 {
			return TradeIntent{Action: Sell, Qty: math.Abs(snapshot.PositionQty), Reason: "fast_crossed_below_slow"}
		}
		return TradeIntent{Action: Hold, Reason: "in_market"}
	}

	if snapshot.Crossover <= 0 {
		return TradeIntent{Action: Hold, Reason: "no_signal"}
	}
	return s.entry(snapshot)
}

func (s SMACross) entry(snapshot MarketSnapshot) TradeIntent {
	atr := snapshot.ATR
	price := snapshot.Close
	if !(atr > 0) || math.IsInf(atr, 0) {
		return TradeIntent{Action: Hold, Reason: "atr_not_positive"}
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return TradeIntent{Action: Hold, Reason: "close_not_positive"}
	}

	affordable := snapshot.Cash / (price * (1 + atr))
	riskBudget := s.Params.RiskFraction * snapshot.PortfolioValue / (price * atr)
	size := math.Min(affordable, riskBudget)
	if !(size > 0) || math.IsInf(size, 0) {
		return TradeIntent{Action: Hold, Reason: "size_not_positive"}
	}

	return TradeIntent{
		Action:     Buy,
		Qty:        size,
		StopPrice:  price - s.Params.StopLossATR*atr,
		LimitPrice: price + s.Params.TakeProfitATR*atr,
		Reason:     "fast_crossed_above_slow",
	}
}
