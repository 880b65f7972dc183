package exchange

import (
	"context"
	"time"
)

// Side is the direction of an order as the venue understands it.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

// Order is a normalized view of a venue order.
type Order struct {
	OrderID     string
	Symbol      string
	Side        Side
	Type        OrderType
	Status      OrderStatus
	Qty         float64
	Price       float64
	AvgPrice    float64
	ExecutedQty float64
	UpdatedAt   time.Time
}

// PlaceOrderParams holds the parameters for placing an order.
type PlaceOrderParams struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         string
	Price       string // limit orders only
	TimeInForce string // GTC for limit orders
	ReduceOnly  bool
}

// AccountSnapshot is the margin account state the bot sizes positions from.
type AccountSnapshot struct {
	TotalBalance     float64
	AvailableBalance float64
	UnrealizedPnL    float64
}

// Kline is one OHLCV candle.
type Kline struct {
	StartTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
}

// OpenInterest is one point of the venue's open-interest history.
type OpenInterest struct {
	Timestamp    time.Time
	OpenInterest float64
}

// Client is the venue surface the order executor and controller need. The
// Bybit implementation lives in the bybit subpackage; tests use fakes.
type Client interface {
	PlaceOrder(ctx context.Context, params PlaceOrderParams) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OrderStatus(ctx context.Context, symbol, orderID string) (*Order, error)
	AccountBalance(ctx context.Context) (*AccountSnapshot, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]OpenInterest, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}
