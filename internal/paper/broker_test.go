package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendbot/internal/broker"
	"trendbot/internal/md"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func bar(day int, o, h, l, c float64) md.Bar {
	return md.Bar{Symbol: "AAPL", Timestamp: t0.AddDate(0, 0, day), Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func entry() broker.EntryOrder {
	return broker.EntryOrder{Symbol: "AAPL", Qty: 1, StopPrice: 96, LimitPrice: 106, ClientOrderID: "run-1"}
}

func TestEntryFillsAtLimitThenProtectiveStop(t *testing.T) {
	ctx := context.Background()
	b := New(1000, 0.05)
	b.Process([]md.Bar{bar(0, 100, 101, 99, 100)})

	ref, err := b.SubmitEntry(ctx, entry())
	require.NoError(t, err)
	assert.Equal(t, "run-1", ref.ClientOrderID)

	b.Process([]md.Bar{bar(1, 100, 107, 99, 105)})

	pos, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, 1.0, pos[0].Qty)
	assert.Equal(t, 106.0, pos[0].AvgEntry)

	acct, err := b.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 894, acct.Cash, 1e-9)
	assert.InDelta(t, 999, acct.PortfolioValue, 1e-9)

	orders, err := b.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "sell", orders[0].Side)

	b.Process([]md.Bar{bar(2, 100, 101, 95, 97)})

	pos, _ = b.Positions(ctx)
	assert.Empty(t, pos)
	orders, _ = b.OpenOrders(ctx)
	assert.Empty(t, orders)

	fills := b.Fills()
	require.Len(t, fills, 2)
	assert.Equal(t, "stop_loss", fills[1].Reason)
	// 96 less 5% would be 91.2, below the bar's low of 95
	assert.InDelta(t, 95, fills[1].Price, 1e-9)
}

func TestEntryWaitsForTrigger(t *testing.T) {
	ctx := context.Background()
	b := New(1000, 0)
	_, err := b.SubmitEntry(ctx, entry())
	require.NoError(t, err)

	b.Process([]md.Bar{bar(1, 100, 105, 99, 104)})
	pos, _ := b.Positions(ctx)
	assert.Empty(t, pos)
	orders, _ := b.OpenOrders(ctx)
	assert.Len(t, orders, 1)
}

func TestTriggeredEntryFillsAtOpenBelowLimit(t *testing.T) {
	ctx := context.Background()
	b := New(1000, 0)
	_, err := b.SubmitEntry(ctx, entry())
	require.NoError(t, err)

	// triggers but trades above the limit all bar
	b.Process([]md.Bar{bar(1, 106.5, 108, 106.5, 107)})
	pos, _ := b.Positions(ctx)
	require.Empty(t, pos)

	b.Process([]md.Bar{bar(2, 105, 106, 104, 105)})
	pos, _ = b.Positions(ctx)
	require.Len(t, pos, 1)
	assert.Equal(t, 105.0, pos[0].AvgEntry)
}

func TestEntryRejectedForInsufficientCash(t *testing.T) {
	ctx := context.Background()
	b := New(50, 0)
	_, err := b.SubmitEntry(ctx, entry())
	require.NoError(t, err)

	b.Process([]md.Bar{bar(1, 100, 107, 99, 105)})
	pos, _ := b.Positions(ctx)
	assert.Empty(t, pos)
	orders, _ := b.OpenOrders(ctx)
	assert.Empty(t, orders)
	acct, _ := b.Account(ctx)
	assert.Equal(t, 50.0, acct.Cash)
}

func TestCloseFillsAtNextOpen(t *testing.T) {
	ctx := context.Background()
	b := New(1000, 0.05)
	_, err := b.SubmitEntry(ctx, entry())
	require.NoError(t, err)
	b.Process([]md.Bar{bar(1, 100, 107, 99, 105)})

	_, err = b.ClosePosition(ctx, "AAPL", 1)
	require.NoError(t, err)

	// the protective stop was cancelled with the close
	orders, _ := b.OpenOrders(ctx)
	require.Len(t, orders, 1)

	pos, _ := b.Positions(ctx)
	require.Len(t, pos, 1, "close must not fill on the bar it was submitted")

	b.Process([]md.Bar{bar(2, 110, 111, 100, 110)})
	pos, _ = b.Positions(ctx)
	assert.Empty(t, pos)

	acct, _ := b.Account(ctx)
	assert.InDelta(t, 894+110*0.95, acct.Cash, 1e-9)
	assert.InDelta(t, acct.Cash, acct.PortfolioValue, 1e-9)
}

func TestCloseWithoutPosition(t *testing.T) {
	b := New(1000, 0)
	_, err := b.ClosePosition(context.Background(), "AAPL", 1)
	require.ErrorIs(t, err, ErrNoPosition)
}

func TestSubmitEntryValidates(t *testing.T) {
	b := New(1000, 0)
	bad := entry()
	bad.Qty = 0
	_, err := b.SubmitEntry(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestCancelOrdersOnlyTouchesSymbol(t *testing.T) {
	ctx := context.Background()
	b := New(1000, 0)
	_, err := b.SubmitEntry(ctx, entry())
	require.NoError(t, err)
	other := entry()
	other.Symbol = "MSFT"
	_, err = b.SubmitEntry(ctx, other)
	require.NoError(t, err)

	require.NoError(t, b.CancelOrders(ctx, "AAPL"))
	orders, _ := b.OpenOrders(ctx)
	require.Len(t, orders, 1)
	assert.Equal(t, "MSFT", orders[0].Symbol)
}

func TestSlippedSellStaysInsideBarRange(t *testing.T) {
	ctx := context.Background()
	b := New(1000, 0.05)
	_, err := b.SubmitEntry(ctx, entry())
	require.NoError(t, err)
	b.Process([]md.Bar{bar(1, 100, 107, 99, 105)})

	_, err = b.ClosePosition(ctx, "AAPL", 1)
	require.NoError(t, err)

	// open 100 less 5% is 95, but the bar never traded below 98
	b.Process([]md.Bar{bar(2, 100, 101, 98, 99)})

	fills := b.Fills()
	require.Len(t, fills, 2)
	assert.Equal(t, "close", fills[1].Reason)
	assert.InDelta(t, 98, fills[1].Price, 1e-9)
}

func TestSlippedBuyStaysInsideBarRange(t *testing.T) {
	ctx := context.Background()
	b := New(1000, 0.05)
	_, err := b.SubmitEntry(ctx, entry())
	require.NoError(t, err)

	b.Process([]md.Bar{bar(1, 106.5, 108, 106.5, 107)})
	// opens at 102 after triggering; 102 plus 5% is above the bar's high
	b.Process([]md.Bar{bar(2, 102, 104, 101, 103)})

	pos, _ := b.Positions(ctx)
	require.Len(t, pos, 1)
	assert.InDelta(t, 104, pos[0].AvgEntry, 1e-9)
}
