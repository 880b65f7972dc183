// Package executor wraps the exchange's order and account operations with
// retries, idempotent order tracking and quantity normalization. Failures
// never escape as errors from order placement; they become FAILED results.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quantavn/ai-futures-bot/internal/config"
	"github.com/quantavn/ai-futures-bot/internal/exchange"
	"github.com/quantavn/ai-futures-bot/internal/logger"
)

// Status is the terminal outcome of an order request.
type Status string

const (
	StatusFilled Status = "FILLED"
	StatusFailed Status = "FAILED"
)

// Result is the normalized outcome of an order request. When Status is
// FAILED, Error carries the reason and the other fields are zero.
type Result struct {
	OrderID     string
	Status      Status
	AvgPrice    float64
	ExecutedQty float64
	Error       string
}

// Executor is the single entry point the controller uses to act on the
// venue. Not safe for concurrent use; the trading loop is its sole caller.
type Executor struct {
	client exchange.Client
	cfg    config.ExecutorConfig
	log    *logger.Logger

	// orders tracks placed orders by id for cancellation lookups.
	orders map[string]exchange.Order
}

// New creates an executor over the given exchange client.
func New(client exchange.Client, cfg config.ExecutorConfig, log *logger.Logger) *Executor {
	return &Executor{
		client: client,
		cfg:    cfg,
		log:    log.Named("executor"),
		orders: make(map[string]exchange.Order),
	}
}

// PlaceMarketOrder places a market order, retrying transient venue errors up
// to the configured attempt count with linearly increasing backoff. The
// direction may be given as LONG/SHORT or BUY/SELL.
func (e *Executor) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) Result {
	venueSide, err := normalizeSide(side)
	if err != nil {
		return failed(err)
	}

	params := exchange.PlaceOrderParams{
		Symbol: symbol,
		Side:   venueSide,
		Type:   exchange.OrderTypeMarket,
		Qty:    e.formatQty(quantity),
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		order, err := e.client.PlaceOrder(ctx, params)
		if err == nil {
			return e.settle(ctx, order)
		}
		lastErr = err

		if !exchange.IsRetryable(err) {
			e.log.Errorf("market order %s %s rejected: %v", venueSide, symbol, err)
			return failed(err)
		}

		e.log.Warnf("market order attempt %d/%d failed, retrying: %v",
			attempt, e.cfg.MaxRetries, err)
		if attempt < e.cfg.MaxRetries {
			if err := e.sleep(ctx, e.cfg.RetryDelay.Std()*time.Duration(attempt)); err != nil {
				return failed(err)
			}
		}
	}

	e.log.Errorf("market order %s %s failed after %d attempts: %v",
		venueSide, symbol, e.cfg.MaxRetries, lastErr)
	return failed(fmt.Errorf("order failed after %d attempts: %w", e.cfg.MaxRetries, lastErr))
}

// PlaceLimitOrder places a single-attempt GTC limit order. Same side
// normalization and failure contract as market orders, without the retry
// loop.
func (e *Executor) PlaceLimitOrder(ctx context.Context, symbol, side string, quantity, price float64) Result {
	venueSide, err := normalizeSide(side)
	if err != nil {
		return failed(err)
	}

	order, err := e.client.PlaceOrder(ctx, exchange.PlaceOrderParams{
		Symbol:      symbol,
		Side:        venueSide,
		Type:        exchange.OrderTypeLimit,
		Qty:         e.formatQty(quantity),
		Price:       e.formatPrice(price),
		TimeInForce: "GTC",
	})
	if err != nil {
		e.log.Errorf("limit order %s %s failed: %v", venueSide, symbol, err)
		return failed(err)
	}
	return e.settle(ctx, order)
}

// CancelOrder cancels a tracked order best-effort. On success the order is
// removed from the tracking map.
func (e *Executor) CancelOrder(ctx context.Context, symbol, orderID string) bool {
	if err := e.client.CancelOrder(ctx, symbol, orderID); err != nil {
		e.log.Warnf("cancel order %s failed: %v", orderID, err)
		return false
	}
	delete(e.orders, orderID)
	e.log.Infof("order %s cancelled", orderID)
	return true
}

// AccountInfo fetches the account snapshot. Any failure degrades to an
// all-zero snapshot; callers treat zero equity as unknown, not empty.
func (e *Executor) AccountInfo(ctx context.Context) exchange.AccountSnapshot {
	snap, err := e.client.AccountBalance(ctx)
	if err != nil {
		e.log.Errorf("account info fetch failed: %v", err)
		return exchange.AccountSnapshot{}
	}
	return *snap
}

// SetLeverage configures leverage best-effort. Failures (including the
// venue's "leverage not modified" response) are logged, never fatal.
func (e *Executor) SetLeverage(ctx context.Context, symbol string, leverage int) {
	if err := e.client.SetLeverage(ctx, symbol, leverage); err != nil {
		e.log.Warnf("set leverage %dx on %s failed: %v", leverage, symbol, err)
		return
	}
	e.log.Infof("leverage set to %dx on %s", leverage, symbol)
}

// OpenInterest fetches open-interest history for the feature engine.
func (e *Executor) OpenInterest(ctx context.Context, symbol, period string, limit int) ([]exchange.OpenInterest, error) {
	return e.client.OpenInterestHistory(ctx, symbol, period, limit)
}

// TrackedOrders returns the number of orders currently tracked.
func (e *Executor) TrackedOrders() int { return len(e.orders) }

// settle records a placed order and builds its result, resolving a zero fill
// price with one status re-fetch. Venues report market fills asynchronously,
// so the create response may not carry the average price yet. An order the
// venue reports as rejected or cancelled is a FAILED result, never a fill.
func (e *Executor) settle(ctx context.Context, order *exchange.Order) Result {
	if terminalFailure(order.Status) {
		e.log.Errorf("order %s %s %s %s by venue", order.OrderID, order.Side, order.Symbol,
			strings.ToLower(string(order.Status)))
		return failed(fmt.Errorf("order %s %s by venue", order.OrderID, strings.ToLower(string(order.Status))))
	}

	avgPrice := order.AvgPrice
	executed := order.ExecutedQty
	if avgPrice == 0 {
		if refreshed, err := e.client.OrderStatus(ctx, order.Symbol, order.OrderID); err == nil {
			if terminalFailure(refreshed.Status) {
				e.log.Errorf("order %s %s %s %s by venue", order.OrderID, order.Side, order.Symbol,
					strings.ToLower(string(refreshed.Status)))
				return failed(fmt.Errorf("order %s %s by venue", order.OrderID, strings.ToLower(string(refreshed.Status))))
			}
			if refreshed.AvgPrice > 0 {
				avgPrice = refreshed.AvgPrice
				executed = refreshed.ExecutedQty
			}
		} else {
			e.log.Warnf("fill price fetch for order %s failed: %v", order.OrderID, err)
		}
	}

	e.orders[order.OrderID] = *order
	e.log.Infof("order %s %s %s filled: qty=%.6f avg_price=%.4f",
		order.OrderID, order.Side, order.Symbol, executed, avgPrice)
	return Result{
		OrderID:     order.OrderID,
		Status:      StatusFilled,
		AvgPrice:    avgPrice,
		ExecutedQty: executed,
	}
}

// terminalFailure reports whether the venue status means the order will never
// fill. New and partially-filled orders are still live; an absent status (the
// client's degraded status-fetch fallback) is treated as live too.
func terminalFailure(status exchange.OrderStatus) bool {
	return status == exchange.OrderStatusRejected || status == exchange.OrderStatusCancelled
}

// sleep waits for the backoff duration unless the context is cancelled.
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) formatQty(qty float64) string {
	return fmt.Sprintf("%.*f", e.cfg.QtyDecimals, qty)
}

func (e *Executor) formatPrice(price float64) string {
	return fmt.Sprintf("%.*f", e.cfg.PriceDecimals, price)
}

// normalizeSide maps the bot's directional vocabulary onto the venue's.
func normalizeSide(side string) (exchange.Side, error) {
	switch strings.ToUpper(side) {
	case "LONG", "BUY":
		return exchange.SideBuy, nil
	case "SHORT", "SELL":
		return exchange.SideSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", side)
	}
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Error: err.Error()}
}
