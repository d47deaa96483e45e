package md

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
)

// StreamOptions selects credentials, feed and bar period for StartStream.
type StreamOptions struct {
	APIKey    string
	APISecret string
	Feed      string
	Daily     bool
}

// StartStream delivers live bars for symbols to handler until ctx is done or
// the connection terminates.
func StartStream(ctx context.Context, opts StreamOptions, symbols []string, handler BarHandler) error {
	client := stream.NewStocksClient(
		parseFeed(opts.Feed),
		stream.WithCredentials(opts.APIKey, opts.APISecret),
	)

	// Connect must be called before subscribing.
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect market data stream: %w", err)
	}

	subscribe := client.SubscribeToBars
	if opts.Daily {
		subscribe = client.SubscribeToDailyBars
	}
	if err := subscribe(func(bar stream.Bar) {
		slog.Debug("received bar", "symbol", bar.Symbol, "timestamp", bar.Timestamp, "close", bar.Close)
		handler(Bar{
			Symbol:    bar.Symbol,
			Timestamp: bar.Timestamp.UTC(),
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		})
	}, symbols...); err != nil {
		return fmt.Errorf("subscribe to bars: %w", err)
	}

	slog.Info("subscribed to bars", "symbols", symbols, "daily", opts.Daily, "feed", opts.Feed)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-client.Terminated():
		if err == nil {
			return fmt.Errorf("market data stream terminated")
		}
		return fmt.Errorf("market data stream terminated: %w", err)
	}
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}
