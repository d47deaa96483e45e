package md

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// AlpacaHistory loads historical bars from the Alpaca market data API.
type AlpacaHistory struct {
	client    *marketdata.Client
	feed      marketdata.Feed
	timeframe marketdata.TimeFrame
	now       func() time.Time
}

func NewAlpacaHistory(apiKey, apiSecret, feed string, daily bool) *AlpacaHistory {
	timeframe := marketdata.OneMin
	if daily {
		timeframe = marketdata.OneDay
	}
	return &AlpacaHistory{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		feed:      parseFeed(feed),
		timeframe: timeframe,
		now:       time.Now,
	}
}

func (h *AlpacaHistory) Bars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	end = endOfDay(end)
	// Recent data needs a subscription; stay outside the 15 minute window.
	if limit := h.now().Add(-15 * time.Minute); end.After(limit) {
		end = limit
	}

	raw, err := h.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame:  h.timeframe,
		Adjustment: marketdata.All,
		Start:      start,
		End:        end,
		Feed:       h.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}

	out := make(map[string][]Bar, len(symbols))
	for _, symbol := range symbols {
		bars := raw[symbol]
		series := make([]Bar, 0, len(bars))
		for _, b := range bars {
			series = append(series, Bar{
				Symbol:    symbol,
				Timestamp: b.Timestamp.UTC(),
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    float64(b.Volume),
			})
		}
		slog.Info("historical bars loaded", "symbol", symbol, "count", len(series), "source", "alpaca")
		out[symbol] = series
	}
	return out, nil
}
