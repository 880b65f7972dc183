// Package bybit implements the exchange.Client interface against the Bybit
// v5 unified trading API.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/quantavn/ai-futures-bot/internal/exchange"
)

// Config holds connection settings for the Bybit client.
type Config struct {
	APIKey    string
	APISecret string
	Category  string // "linear" for USDT perpetuals
	Testnet   bool
	Demo      bool
}

// Client wraps the Bybit HTTP client behind the exchange.Client interface.
type Client struct {
	httpClient *bybit_api.Client
	category   string
	demo       bool
	testnet    bool
}

var _ exchange.Client = (*Client)(nil)

// NewClient creates a Bybit client for the configured environment.
func NewClient(cfg Config) *Client {
	var baseURL string
	switch {
	case cfg.Demo:
		baseURL = "https://api-demo.bybit.com"
	case cfg.Testnet:
		baseURL = bybit_api.TESTNET
	default:
		baseURL = bybit_api.MAINNET
	}

	category := cfg.Category
	if category == "" {
		category = "linear"
	}

	return &Client{
		httpClient: bybit_api.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit_api.WithBaseURL(baseURL)),
		category:   category,
		demo:       cfg.Demo,
		testnet:    cfg.Testnet,
	}
}

// Environment describes which Bybit environment the client talks to.
func (c *Client) Environment() string {
	switch {
	case c.demo:
		return "demo"
	case c.testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}

// PlaceOrder submits an order and returns the normalized result. The venue's
// create response only carries the order id, so execution details are fetched
// from order history.
func (c *Client) PlaceOrder(ctx context.Context, params exchange.PlaceOrderParams) (*exchange.Order, error) {
	apiParams := map[string]interface{}{
		"category":  c.category,
		"symbol":    params.Symbol,
		"side":      string(params.Side),
		"orderType": string(params.Type),
		"qty":       params.Qty,
	}
	if params.Price != "" {
		apiParams["price"] = params.Price
	}
	if params.TimeInForce != "" {
		apiParams["timeInForce"] = params.TimeInForce
	}
	if params.ReduceOnly {
		apiParams["reduceOnly"] = true
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, exchange.WrapAPIError("place order", err)
	}

	var created struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &created); err != nil {
		return nil, exchange.WrapAPIError("place order", err)
	}

	// Market orders fill asynchronously; poll the order record for fill data.
	order, err := c.OrderStatus(ctx, params.Symbol, created.OrderID)
	if err != nil {
		// The order exists even if the status fetch failed.
		return &exchange.Order{
			OrderID: created.OrderID,
			Symbol:  params.Symbol,
			Side:    params.Side,
			Type:    params.Type,
			Status:  exchange.OrderStatusNew,
		}, nil
	}
	return order, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return exchange.WrapAPIError("cancel order", err)
	}
	var ignored struct{}
	if err := decodeResult(result, &ignored); err != nil {
		return exchange.WrapAPIError("cancel order", err)
	}
	return nil
}

// OrderStatus fetches the current state of an order, checking open orders
// first and falling back to history for terminal orders.
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, exchange.WrapAPIError("order status", err)
	}

	orders, err := parseOrderList(result)
	if err != nil {
		return nil, exchange.WrapAPIError("order status", err)
	}
	for i := range orders {
		if orders[i].OrderID == orderID {
			return &orders[i], nil
		}
	}
	return nil, exchange.NewAPIError(exchange.ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID))
}

// AccountBalance returns the unified account totals.
func (c *Client) AccountBalance(ctx context.Context) (*exchange.AccountSnapshot, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, exchange.WrapAPIError("account balance", err)
	}

	var wallet struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalPerpUPL          string `json:"totalPerpUPL"`
		} `json:"list"`
	}
	if err := decodeResult(result, &wallet); err != nil {
		return nil, exchange.WrapAPIError("account balance", err)
	}
	if len(wallet.List) == 0 {
		return nil, fmt.Errorf("no account data in wallet response")
	}

	acct := wallet.List[0]
	return &exchange.AccountSnapshot{
		TotalBalance:     parseFloat(acct.TotalEquity),
		AvailableBalance: parseFloat(acct.TotalAvailableBalance),
		UnrealizedPnL:    parseFloat(acct.TotalPerpUPL),
	}, nil
}

// SetLeverage sets buy and sell leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	params := map[string]interface{}{
		"category":     c.category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err != nil {
		return exchange.WrapAPIError("set leverage", err)
	}
	var ignored struct{}
	if err := decodeResult(result, &ignored); err != nil {
		return exchange.WrapAPIError("set leverage", err)
	}
	return nil
}

// OpenInterestHistory fetches open-interest points, oldest first.
func (c *Client) OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]exchange.OpenInterest, error) {
	if limit <= 0 {
		limit = 1
	}
	params := map[string]interface{}{
		"category":     c.category,
		"symbol":       symbol,
		"intervalTime": period,
		"limit":        limit,
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenInterests(ctx)
	if err != nil {
		return nil, exchange.WrapAPIError("open interest", err)
	}

	var oiResult struct {
		List []struct {
			OpenInterest string `json:"openInterest"`
			Timestamp    string `json:"timestamp"`
		} `json:"list"`
	}
	if err := decodeResult(result, &oiResult); err != nil {
		return nil, exchange.WrapAPIError("open interest", err)
	}

	// Bybit returns newest first; reverse to chronological order.
	points := make([]exchange.OpenInterest, 0, len(oiResult.List))
	for i := len(oiResult.List) - 1; i >= 0; i-- {
		item := oiResult.List[i]
		points = append(points, exchange.OpenInterest{
			Timestamp:    time.UnixMilli(parseInt(item.Timestamp)),
			OpenInterest: parseFloat(item.OpenInterest),
		})
	}
	return points, nil
}

// Klines fetches candles, oldest first. Used to warm up the feature engine on
// startup.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	if limit <= 0 {
		limit = 200
	}
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"interval": interval,
		"limit":    limit,
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, exchange.WrapAPIError("klines", err)
	}

	var klineResult struct {
		List [][]string `json:"list"`
	}
	if err := decodeResult(result, &klineResult); err != nil {
		return nil, exchange.WrapAPIError("klines", err)
	}

	// Format per candle: [startTime, open, high, low, close, volume, turnover],
	// newest first.
	klines := make([]exchange.Kline, 0, len(klineResult.List))
	for i := len(klineResult.List) - 1; i >= 0; i-- {
		item := klineResult.List[i]
		if len(item) < 7 {
			continue
		}
		klines = append(klines, exchange.Kline{
			StartTime: time.UnixMilli(parseInt(item[0])),
			Open:      parseFloat(item[1]),
			High:      parseFloat(item[2]),
			Low:       parseFloat(item[3]),
			Close:     parseFloat(item[4]),
			Volume:    parseFloat(item[5]),
			Closed:    true,
		})
	}
	return klines, nil
}

// decodeResult validates the server envelope and unmarshals its result field.
func decodeResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", response)
	}
	if serverResp.RetCode != 0 {
		return exchange.NewAPIError(serverResp.RetCode, serverResp.RetMsg)
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

func parseOrderList(response interface{}) ([]exchange.Order, error) {
	var listResult struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			OrderStatus string `json:"orderStatus"`
			Qty         string `json:"qty"`
			Price       string `json:"price"`
			AvgPrice    string `json:"avgPrice"`
			CumExecQty  string `json:"cumExecQty"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := decodeResult(response, &listResult); err != nil {
		return nil, err
	}

	orders := make([]exchange.Order, 0, len(listResult.List))
	for _, item := range listResult.List {
		orders = append(orders, exchange.Order{
			OrderID:     item.OrderID,
			Symbol:      item.Symbol,
			Side:        exchange.Side(item.Side),
			Type:        exchange.OrderType(item.OrderType),
			Status:      exchange.OrderStatus(item.OrderStatus),
			Qty:         parseFloat(item.Qty),
			Price:       parseFloat(item.Price),
			AvgPrice:    parseFloat(item.AvgPrice),
			ExecutedQty: parseFloat(item.CumExecQty),
			UpdatedAt:   time.UnixMilli(parseInt(item.UpdatedTime)),
		})
	}
	return orders, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
