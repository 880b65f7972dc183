package tradelog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavn/ai-futures-bot/internal/logger"
)

func sampleTrade(action string, pnl float64) Trade {
	return Trade{
		Timestamp:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Symbol:     "SOLUSDT",
		Direction:  "LONG",
		Action:     action,
		Price:      100,
		Size:       10,
		PnL:        pnl,
		Confidence: 0.7,
	}
}

// TestJSONL_RoundTrip verifies entries, exits and equity snapshots written
// as JSON lines read back in order with the action stamped by the writer.
func TestJSONL_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	store, err := NewJSONL(path, logger.NewNop())
	require.NoError(t, err)

	store.LogEntry(sampleTrade("", 0))
	store.LogExit(sampleTrade("", 100))
	store.LogEquity(EquityPoint{
		Timestamp: time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC),
		Equity:    10100,
		DailyPnL:  100,
	})
	require.NoError(t, store.Close())

	reader, err := NewJSONL(path, logger.NewNop())
	require.NoError(t, err)
	defer reader.Close()

	trades, err := reader.ReadTrades()
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, ActionEntry, trades[0].Action)
	assert.Equal(t, ActionExit, trades[1].Action)
	assert.InDelta(t, 100.0, trades[1].PnL, 1e-9)

	points, err := reader.ReadEquity()
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 10100.0, points[0].Equity, 1e-9)
}

// TestSQLite_RoundTrip verifies the embedded-database backend honours the
// same contract as the JSONL writer.
func TestSQLite_RoundTrip(t *testing.T) {
	store, err := NewSQLite(filepath.Join(t.TempDir(), "trades.db"), logger.NewNop())
	require.NoError(t, err)
	defer store.Close()

	store.LogEntry(sampleTrade("", 0))
	store.LogExit(sampleTrade("", -50))
	store.LogEquity(EquityPoint{Timestamp: time.Now(), Equity: 9950, DailyPnL: -50})

	trades, err := store.ReadTrades()
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, ActionEntry, trades[0].Action)
	assert.Equal(t, "SOLUSDT", trades[0].Symbol)
	assert.InDelta(t, -50.0, trades[1].PnL, 1e-9)

	points, err := store.ReadEquity()
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 9950.0, points[0].Equity, 1e-9)
}
