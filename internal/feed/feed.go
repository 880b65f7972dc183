// Package feed maintains a live cache of market data from the venue's public
// websocket streams: the most recent candle per symbol and the latest
// funding/ticker snapshot. The trading loop only ever reads the cache, so a
// stalled stream degrades to "no data" instead of blocking a cycle.
package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantavn/ai-futures-bot/internal/exchange"
	"github.com/quantavn/ai-futures-bot/internal/logger"
)

// Funding is the venue's ticker-derived funding snapshot.
type Funding struct {
	MarkPrice       float64
	IndexPrice      float64
	FundingRate     float64
	NextFundingTime time.Time
}

// Feed is the market-data contract the controller consumes.
type Feed interface {
	LatestKline(symbol string) (exchange.Kline, bool)
	LatestFunding(symbol string) (Funding, bool)
}

// Stream URLs for the linear (USDT perpetual) public feed.
const (
	MainnetURL = "wss://stream.bybit.com/v5/public/linear"
	TestnetURL = "wss://stream-testnet.bybit.com/v5/public/linear"
)

const pingInterval = 20 * time.Second

// WSFeed subscribes to kline and ticker streams over a websocket and caches
// the latest values. It reconnects with a fixed delay on any failure.
type WSFeed struct {
	url            string
	symbol         string
	interval       string
	reconnectDelay time.Duration
	log            *logger.Logger

	mu      sync.RWMutex
	klines  map[string]exchange.Kline
	funding map[string]Funding
}

// NewWSFeed creates a feed for one symbol. The interval uses the bot's
// notation ("5m", "1h") and is translated to the venue's topic naming.
func NewWSFeed(url, symbol, interval string, reconnectDelay time.Duration, log *logger.Logger) *WSFeed {
	return &WSFeed{
		url:            url,
		symbol:         symbol,
		interval:       Interval(interval),
		reconnectDelay: reconnectDelay,
		log:            log.Named("feed"),
		klines:         make(map[string]exchange.Kline),
		funding:        make(map[string]Funding),
	}
}

// Run connects and consumes the stream until the context is cancelled,
// reconnecting after the configured delay on any failure.
func (f *WSFeed) Run(ctx context.Context) {
	for {
		if err := f.connectAndConsume(ctx); err != nil {
			f.log.Warnf("stream disconnected: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

// LatestKline returns the most recent candle seen for the symbol.
func (f *WSFeed) LatestKline(symbol string) (exchange.Kline, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	k, ok := f.klines[symbol]
	return k, ok
}

// LatestFunding returns the most recent funding snapshot for the symbol.
func (f *WSFeed) LatestFunding(symbol string) (Funding, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fu, ok := f.funding[symbol]
	return fu, ok
}

func (f *WSFeed) connectAndConsume(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"op": "subscribe",
		"args": []string{
			"kline." + f.interval + "." + f.symbol,
			"tickers." + f.symbol,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.log.Infof("subscribed to %s kline/%s and tickers", f.symbol, f.interval)

	done := make(chan struct{})
	defer close(done)
	go f.keepAlive(ctx, conn, done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(message)
	}
}

func (f *WSFeed) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

// envelope is the common push-message frame.
type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (f *WSFeed) handleMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Topic == "" {
		return // op acks and pongs carry no topic
	}

	switch {
	case strings.HasPrefix(env.Topic, "kline."):
		f.handleKline(env)
	case strings.HasPrefix(env.Topic, "tickers."):
		f.handleTicker(env)
	}
}

func (f *WSFeed) handleKline(env envelope) {
	symbol := env.Topic[strings.LastIndex(env.Topic, ".")+1:]

	var items []struct {
		Start   int64  `json:"start"`
		Open    string `json:"open"`
		High    string `json:"high"`
		Low     string `json:"low"`
		Close   string `json:"close"`
		Volume  string `json:"volume"`
		Confirm bool   `json:"confirm"`
	}
	if err := json.Unmarshal(env.Data, &items); err != nil || len(items) == 0 {
		return
	}
	item := items[len(items)-1]

	f.mu.Lock()
	f.klines[symbol] = exchange.Kline{
		StartTime: time.UnixMilli(item.Start),
		Open:      parseFloat(item.Open),
		High:      parseFloat(item.High),
		Low:       parseFloat(item.Low),
		Close:     parseFloat(item.Close),
		Volume:    parseFloat(item.Volume),
		Closed:    item.Confirm,
	}
	f.mu.Unlock()
}

func (f *WSFeed) handleTicker(env envelope) {
	symbol := strings.TrimPrefix(env.Topic, "tickers.")

	// Ticker deltas omit unchanged fields; only overwrite what arrived.
	var data struct {
		MarkPrice       string `json:"markPrice"`
		IndexPrice      string `json:"indexPrice"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	fu := f.funding[symbol]
	if data.MarkPrice != "" {
		fu.MarkPrice = parseFloat(data.MarkPrice)
	}
	if data.IndexPrice != "" {
		fu.IndexPrice = parseFloat(data.IndexPrice)
	}
	if data.FundingRate != "" {
		fu.FundingRate = parseFloat(data.FundingRate)
	}
	if data.NextFundingTime != "" {
		if ms, err := strconv.ParseInt(data.NextFundingTime, 10, 64); err == nil {
			fu.NextFundingTime = time.UnixMilli(ms)
		}
	}
	f.funding[symbol] = fu
}

// Interval maps the bot's interval notation ("5m", "1h") to the venue's
// kline naming, shared by the websocket topics and the REST kline fetch.
func Interval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "3m":
		return "3"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	}
	return strings.TrimSuffix(interval, "m")
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
