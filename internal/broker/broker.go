package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

var ErrQtyTooSmall = errors.New("quantity rounds to zero whole shares")

const (
	defaultPoll   = 250 * time.Millisecond
	defaultSettle = 5 * time.Second
	closeAttempts = 3
)

// EntryOrder is a stop-limit buy at LimitPrice with a protective stop at
// StopPrice that activates once the entry fills.
type EntryOrder struct {
	Symbol        string
	Qty           float64
	StopPrice     float64
	LimitPrice    float64
	ClientOrderID string
}

type OrderRef struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          string
	Status        string
}

type Position struct {
	Symbol   string
	Qty      float64
	AvgEntry float64
}

type Account struct {
	Cash           float64
	PortfolioValue float64
	BuyingPower    float64
}

// tradingAPI is the subset of *alpaca.Client the adapter uses.
type tradingAPI interface {
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
}

// Client routes orders to the Alpaca trading API.
type Client struct {
	client tradingAPI
	// poll and settle bound the wait for cancelled orders to release shares.
	poll   time.Duration
	settle time.Duration
}

func New(apiKey, apiSecret, baseURL string) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return &Client{client: alpaca.NewClient(opts), poll: defaultPoll, settle: defaultSettle}
}

func (c *Client) SubmitEntry(ctx context.Context, req EntryOrder) (OrderRef, error) {
	whole := math.Floor(req.Qty)
	if whole < 1 {
		slog.Warn("entry skipped", "symbol", req.Symbol, "qty", req.Qty, "reason", ErrQtyTooSmall)
		return OrderRef{}, fmt.Errorf("%s: %w (qty=%.4f)", req.Symbol, ErrQtyTooSmall, req.Qty)
	}
	qty := decimal.NewFromFloat(whole)
	entry := price(req.LimitPrice)
	stop := price(req.StopPrice)

	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Buy,
		Type:          alpaca.StopLimit,
		TimeInForce:   alpaca.GTC,
		StopPrice:     &entry,
		LimitPrice:    &entry,
		OrderClass:    alpaca.OTO,
		StopLoss:      &alpaca.StopLoss{StopPrice: &stop},
		ClientOrderID: req.ClientOrderID,
	}

	order, err := c.client.PlaceOrder(orderReq)
	if err != nil {
		slog.Error("place entry failed", "symbol", req.Symbol, "qty", whole, "limit", entry, "stop", stop, "error", err)
		return OrderRef{}, err
	}

	slog.Info("place entry success", "order_id", order.ID, "symbol", req.Symbol, "qty", whole, "limit", entry, "stop", stop, "status", order.Status)
	return toRef(*order), nil
}

// ClosePosition cancels the symbol's resting orders (which hold the shares),
// waits for the cancels to settle and sells qty at market. A sell rejected
// because the shares are still held is retried.
func (c *Client) ClosePosition(ctx context.Context, symbol string, qty float64) (OrderRef, error) {
	if err := c.CancelOrders(ctx, symbol); err != nil {
		return OrderRef{}, err
	}
	if err := c.awaitNoOrders(ctx, symbol); err != nil {
		return OrderRef{}, err
	}

	amount := decimal.NewFromFloat(math.Abs(qty))
	req := alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &amount,
		Side:        alpaca.Sell,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}

	var err error
	for attempt := 1; attempt <= closeAttempts; attempt++ {
		var order *alpaca.Order
		order, err = c.client.PlaceOrder(req)
		if err == nil {
			slog.Info("close position success", "order_id", order.ID, "symbol", symbol, "qty", qty, "status", order.Status, "attempt", attempt)
			return toRef(*order), nil
		}
		if !sharesHeld(err) || attempt == closeAttempts {
			break
		}
		slog.Warn("close blocked by held shares, retrying", "symbol", symbol, "attempt", attempt, "error", err)
		if err := wait(ctx, c.pollInterval()); err != nil {
			return OrderRef{}, err
		}
	}
	slog.Error("close position failed", "symbol", symbol, "qty", qty, "error", err)
	return OrderRef{}, err
}

// awaitNoOrders polls until symbol has no open orders or the settle window
// passes.
func (c *Client) awaitNoOrders(ctx context.Context, symbol string) error {
	settle := c.settle
	if settle <= 0 {
		settle = defaultSettle
	}
	deadline := time.Now().Add(settle)
	for {
		orders, err := c.OpenOrders(ctx)
		if err != nil {
			return err
		}
		open := 0
		for _, order := range orders {
			if order.Symbol == symbol {
				open++
			}
		}
		if open == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			slog.Warn("orders still open after cancel", "symbol", symbol, "count", open)
			return nil
		}
		if err := wait(ctx, c.pollInterval()); err != nil {
			return err
		}
	}
}

func (c *Client) pollInterval() time.Duration {
	if c.poll <= 0 {
		return defaultPoll
	}
	return c.poll
}

// sharesHeld reports a sell rejected because open orders still reserve the
// position.
func sharesHeld(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 403 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "insufficient qty")
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) CancelOrders(ctx context.Context, symbol string) error {
	orders, err := c.OpenOrders(ctx)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if order.Symbol != symbol {
			continue
		}
		if err := c.client.CancelOrder(order.ID); err != nil {
			slog.Error("cancel order failed", "order_id", order.ID, "symbol", symbol, "error", err)
			return fmt.Errorf("cancel %s: %w", order.ID, err)
		}
		slog.Info("order cancelled", "order_id", order.ID, "symbol", symbol)
	}
	return nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]OrderRef, error) {
	orders, err := c.client.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	if err != nil {
		slog.Error("fetch open orders failed", "error", err)
		return nil, err
	}
	slog.Debug("open orders fetched", "count", len(orders))
	refs := make([]OrderRef, 0, len(orders))
	for _, order := range orders {
		refs = append(refs, toRef(order))
	}
	return refs, nil
}

func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	positions, err := c.client.GetPositions()
	if err != nil {
		slog.Error("fetch positions failed", "error", err)
		return nil, err
	}
	out := make([]Position, 0, len(positions))
	for _, pos := range positions {
		qty, _ := pos.Qty.Float64()
		avgEntry, _ := pos.AvgEntryPrice.Float64()
		out = append(out, Position{Symbol: pos.Symbol, Qty: qty, AvgEntry: avgEntry})
	}
	slog.Debug("positions fetched", "count", len(out))
	return out, nil
}

func (c *Client) Account(ctx context.Context) (Account, error) {
	acct, err := c.client.GetAccount()
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return Account{}, err
	}
	cash, _ := acct.Cash.Float64()
	value, _ := acct.PortfolioValue.Float64()
	buyingPower, _ := acct.BuyingPower.Float64()

	slog.Debug("account fetched", "cash", cash, "portfolio_value", value, "buying_power", buyingPower)
	return Account{Cash: cash, PortfolioValue: value, BuyingPower: buyingPower}, nil
}

func toRef(order alpaca.Order) OrderRef {
	return OrderRef{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          strings.ToLower(string(order.Side)),
		Status:        string(order.Status),
	}
}

// price rounds to whole cents, the tick size for stocks above $1.
func price(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
