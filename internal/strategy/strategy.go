package strategy

import "time"

type Action string

const (
	Hold Action = "HOLD"
	// Buy opens a long position with a stop-limit entry and protective stop.
	Buy Action = "BUY"
	// Sell flattens the open position.
	Sell Action = "SELL"
)

// MarketSnapshot is everything a decision may depend on for one symbol at
// one bar.
type MarketSnapshot struct {
	Timestamp      time.Time
	Symbol         string
	Close          float64
	FastSMA        float64
	SlowSMA        float64
	ATR            float64
	Crossover      float64
	Ready          bool
	PositionQty    float64
	Cash           float64
	PortfolioValue float64
	Stopping       bool
}

type TradeIntent struct {
	Action     Action
	Qty        float64
	StopPrice  float64
	LimitPrice float64
	Reason     string
}

type Strategy interface {
	Decide(snapshot MarketSnapshot) TradeIntent
}
