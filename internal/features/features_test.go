package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavn/ai-futures-bot/internal/exchange"
)

func makeKlines(closes []float64) []exchange.Kline {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	klines := make([]exchange.Kline, len(closes))
	for i, c := range closes {
		klines[i] = exchange.Kline{
			StartTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
			Closed:    true,
		}
	}
	return klines
}

func risingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return closes
}

// TestCompute_EmptyBeforeWarmup verifies the engine stays silent until the
// longest lookback is covered.
func TestCompute_EmptyBeforeWarmup(t *testing.T) {
	e := NewEngine()
	for _, k := range makeKlines(risingCloses(15)) {
		f := e.Compute(Snapshot{Kline: k})
		assert.Empty(t, f)
	}
	assert.False(t, e.Ready())
}

// TestCompute_PopulatedAfterWarmup verifies a full feature map appears once
// enough candles have been ingested.
func TestCompute_PopulatedAfterWarmup(t *testing.T) {
	e := NewEngine()
	e.Warmup(makeKlines(risingCloses(30)))
	require.True(t, e.Ready())

	next := exchange.Kline{
		StartTime: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC),
		Open:      129.5, High: 131, Low: 129, Close: 130, Volume: 1500, Closed: true,
	}
	f := e.Compute(Snapshot{Kline: next, FundingRate: 0.0001, OpenInterest: 5000})

	for _, name := range []string{
		"return_1", "return_5", "return_20", "atr_14", "natr", "rsi_14",
		"sma_20", "price_to_sma20", "volume_ratio", "bb_position",
		"oi_change_20", "oi_price_divergence_20", "funding_rate",
	} {
		_, ok := f[name]
		assert.True(t, ok, "missing feature %s", name)
	}
	assert.InDelta(t, 0.0001, f["funding_rate"], 1e-12)
}

// TestCompute_DirectionalIndicators verifies a monotone rally reads as
// overbought momentum: positive returns, RSI at the ceiling, price above its
// average.
func TestCompute_DirectionalIndicators(t *testing.T) {
	e := NewEngine()
	e.Warmup(makeKlines(risingCloses(40)))

	k := makeKlines(risingCloses(41))[40]
	f := e.Compute(Snapshot{Kline: k})

	assert.Greater(t, f["return_20"], 0.0)
	assert.InDelta(t, 100.0, f["rsi_14"], 1e-9, "strictly rising closes max out RSI")
	assert.Greater(t, f["price_to_sma20"], 0.0)
	assert.Greater(t, f["bb_position"], 0.5)
}

// TestCompute_FlatSeries verifies degenerate flat input produces neutral
// values instead of NaN.
func TestCompute_FlatSeries(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	e := NewEngine()
	e.Warmup(makeKlines(closes))

	k := makeKlines(append(closes, 100))[30]
	f := e.Compute(Snapshot{Kline: k})

	for name, v := range f {
		assert.False(t, math.IsNaN(v), "feature %s is NaN", name)
	}
	assert.Zero(t, f["return_20"])
	assert.InDelta(t, 50.0, f["rsi_14"], 1e-9)
	assert.InDelta(t, 0.5, f["bb_position"], 1e-9)
}

// TestCompute_IgnoresDuplicateCandle verifies re-delivering the same candle
// does not grow history.
func TestCompute_IgnoresDuplicateCandle(t *testing.T) {
	e := NewEngine()
	klines := makeKlines(risingCloses(25))
	e.Warmup(klines)

	before := len(e.klines)
	e.Compute(Snapshot{Kline: klines[len(klines)-1]})
	assert.Equal(t, before, len(e.klines))
}
