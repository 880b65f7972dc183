// Package features turns raw market snapshots into the indicator map the
// prediction and policy components consume. The engine keeps its own rolling
// candle history; it returns an empty map until enough history accumulates.
package features

import (
	"math"

	"github.com/quantavn/ai-futures-bot/internal/exchange"
)

// warmupBars is the history needed before features are meaningful: the
// longest lookback is the 20-period return, which needs 21 closes.
const warmupBars = 21

// historyCap bounds the retained candle history.
const historyCap = 200

// Snapshot is one cycle's raw market observation.
type Snapshot struct {
	Kline        exchange.Kline
	FundingRate  float64
	OpenInterest float64
}

// Engine computes rolling indicators from consecutive snapshots. Not safe
// for concurrent use.
type Engine struct {
	klines []exchange.Kline
	oi     []float64
}

// NewEngine creates an empty feature engine.
func NewEngine() *Engine {
	return &Engine{
		klines: make([]exchange.Kline, 0, historyCap),
		oi:     make([]float64, 0, historyCap),
	}
}

// Warmup preloads candle history, typically from a REST kline fetch at
// startup, so the first live cycles already have features.
func (e *Engine) Warmup(klines []exchange.Kline) {
	for _, k := range klines {
		if !k.Closed {
			continue
		}
		e.append(k, 0)
	}
}

// Compute ingests a snapshot and returns the feature map, or an empty map
// while history is still warming up. Only closed candles advance history; an
// in-progress candle recomputes features on the existing window.
func (e *Engine) Compute(snap Snapshot) map[string]float64 {
	if snap.Kline.Closed {
		e.append(snap.Kline, snap.OpenInterest)
	}
	if len(e.klines) < warmupBars {
		return map[string]float64{}
	}
	return e.compute(snap)
}

// Ready reports whether enough history has accumulated to produce features.
func (e *Engine) Ready() bool { return len(e.klines) >= warmupBars }

func (e *Engine) append(k exchange.Kline, oi float64) {
	if n := len(e.klines); n > 0 && !k.StartTime.After(e.klines[n-1].StartTime) {
		return // duplicate or out-of-order candle
	}
	e.klines = append(e.klines, k)
	e.oi = append(e.oi, oi)
	if len(e.klines) > historyCap {
		e.klines = e.klines[1:]
		e.oi = e.oi[1:]
	}
}

func (e *Engine) compute(snap Snapshot) map[string]float64 {
	n := len(e.klines)
	closes := make([]float64, n)
	for i, k := range e.klines {
		closes[i] = k.Close
	}
	price := closes[n-1]

	f := map[string]float64{
		"return_1":     pctChange(closes, 1),
		"return_5":     pctChange(closes, 5),
		"return_20":    pctChange(closes, 20),
		"funding_rate": snap.FundingRate,
	}

	atr := e.atr(14)
	f["atr_14"] = atr
	if price > 0 {
		f["natr"] = atr / price
	} else {
		f["natr"] = 0
	}

	f["rsi_14"] = rsi(closes, 14)

	sma := mean(closes[n-20:])
	f["sma_20"] = sma
	if sma > 0 {
		f["price_to_sma20"] = price/sma - 1
	} else {
		f["price_to_sma20"] = 0
	}

	f["volume_ratio"] = e.volumeRatio(20)
	f["bb_position"] = bollingerPosition(closes[n-20:], price)

	f["oi_change_1"] = pctChange(e.oi, 1)
	f["oi_change_5"] = pctChange(e.oi, 5)
	f["oi_change_20"] = pctChange(e.oi, 20)
	f["oi_price_divergence_20"] = f["oi_change_20"] - f["return_20"]

	return f
}

// atr is the simple average of the true range over the trailing window.
func (e *Engine) atr(period int) float64 {
	n := len(e.klines)
	if n < period+1 {
		return 0
	}
	var sum float64
	for i := n - period; i < n; i++ {
		k := e.klines[i]
		prevClose := e.klines[i-1].Close
		tr := math.Max(k.High-k.Low,
			math.Max(math.Abs(k.High-prevClose), math.Abs(k.Low-prevClose)))
		sum += tr
	}
	return sum / float64(period)
}

func (e *Engine) volumeRatio(period int) float64 {
	n := len(e.klines)
	if n < period {
		return 1
	}
	var sum float64
	for i := n - period; i < n; i++ {
		sum += e.klines[i].Volume
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 1
	}
	return e.klines[n-1].Volume / avg
}

// pctChange is the fractional change over the trailing lookback, 0 when the
// series is too short or the base value is 0.
func pctChange(series []float64, lookback int) float64 {
	n := len(series)
	if n < lookback+1 {
		return 0
	}
	base := series[n-1-lookback]
	if base == 0 {
		return 0
	}
	return series[n-1]/base - 1
}

// rsi is Wilder's relative strength index over the trailing window, 50 when
// the series is flat.
func rsi(closes []float64, period int) float64 {
	n := len(closes)
	if n < period+1 {
		return 50
	}
	var gains, losses float64
	for i := n - period; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if gains+losses == 0 {
		return 50
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// bollingerPosition places the price within the 2-sigma band: 0 at the lower
// band, 1 at the upper, 0.5 when the band has no width.
func bollingerPosition(window []float64, price float64) float64 {
	m := mean(window)
	var sqSum float64
	for _, v := range window {
		d := v - m
		sqSum += d * d
	}
	std := math.Sqrt(sqSum / float64(len(window)))
	if std == 0 {
		return 0.5
	}
	lower := m - 2*std
	return (price - lower) / (4 * std)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
