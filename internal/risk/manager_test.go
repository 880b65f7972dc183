package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantavn/ai-futures-bot/internal/config"
	"github.com/quantavn/ai-futures-bot/internal/logger"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSize:      0.2,
		RiskPerTrade:         0.02,
		MaxDailyLoss:         0.03,
		MaxTradesPerDay:      20,
		MaxConsecutiveLosses: 5,
		MinNotional:          10,
	}
}

func newTestManager() *Manager {
	return NewManager(testConfig(), logger.NewNop())
}

// TestCalculatePositionSize_RiskBased verifies the standard sizing formula:
// $10k equity, 2% risk, $20 stop on a $100 instrument yields 10 units, well
// under the leverage cap of 100.
func TestCalculatePositionSize_RiskBased(t *testing.T) {
	m := newTestManager()

	size := m.CalculatePositionSize(10000, 0.02, 20, 100, 5)

	assert.InDelta(t, 10.0, size, 1e-9)
}

// TestCalculatePositionSize_CappedByMaxPosition verifies a tight stop cannot
// push the size past the max-position-size cap.
func TestCalculatePositionSize_CappedByMaxPosition(t *testing.T) {
	m := newTestManager()

	// 2% of 10k over a $0.50 stop would be 400 units; cap is
	// (10000*0.2*5)/100 = 100.
	size := m.CalculatePositionSize(10000, 0.02, 0.5, 100, 5)

	assert.InDelta(t, 100.0, size, 1e-9)
}

// TestCalculatePositionSize_FallbackWithoutStop verifies the conservative
// fallback when no stop distance is available.
func TestCalculatePositionSize_FallbackWithoutStop(t *testing.T) {
	m := newTestManager()

	size := m.CalculatePositionSize(10000, 0.02, 0, 100, 5)

	// (10000 * 0.1 * 5) / 100 = 50, below the cap of 100.
	assert.InDelta(t, 50.0, size, 1e-9)
}

// TestCalculatePositionSize_DegenerateInputs verifies zero equity or price
// yields a zero size instead of NaN/Inf.
func TestCalculatePositionSize_DegenerateInputs(t *testing.T) {
	m := newTestManager()

	assert.Zero(t, m.CalculatePositionSize(0, 0.02, 20, 100, 5))
	assert.Zero(t, m.CalculatePositionSize(10000, 0.02, 20, 0, 5))
}

// TestValidatePosition verifies both the notional cap and the minimum floor.
func TestValidatePosition(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 0)

	// Limit is 10000*0.2*5 = 10000 notional.
	assert.NoError(t, m.ValidatePosition(50, 100, 5))
	assert.Error(t, m.ValidatePosition(150, 100, 5), "oversized notional must be rejected")
	assert.Error(t, m.ValidatePosition(0.05, 100, 5), "notional below $10 floor must be rejected")
}

// TestCanTrade_DailyLossLimit verifies trading is blocked once the daily
// realized loss reaches the configured fraction of day-start equity.
func TestCanTrade_DailyLossLimit(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 0)

	ok, _ := m.CanTrade()
	assert.True(t, ok)

	m.Update(9700, -300, 3)
	ok, reason := m.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "daily loss")
}

// TestCanTrade_MaxTradesPerDay verifies the trade-count throttle.
func TestCanTrade_MaxTradesPerDay(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 20)

	ok, reason := m.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "max trades")
}

// TestCanTrade_ConsecutiveLosses verifies four straight losses still permit
// trading and the fifth blocks it, per the configured streak limit.
func TestCanTrade_ConsecutiveLosses(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 0)

	for i := 0; i < 4; i++ {
		m.RecordTrade(-50)
	}
	ok, _ := m.CanTrade()
	assert.True(t, ok, "four losses must not block trading")

	m.RecordTrade(-50)
	ok, reason := m.CanTrade()
	assert.False(t, ok)
	assert.Contains(t, reason, "consecutive losses")
}

// TestRecordTrade_StreakResetsOnWin verifies a break-even or winning trade
// clears the losing streak.
func TestRecordTrade_StreakResetsOnWin(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 0)

	m.RecordTrade(-50)
	m.RecordTrade(-50)
	assert.Equal(t, 2, m.Snapshot().ConsecutiveLosses)

	m.RecordTrade(0)
	assert.Equal(t, 0, m.Snapshot().ConsecutiveLosses)

	m.RecordTrade(-50)
	m.RecordTrade(100)
	assert.Equal(t, 0, m.Snapshot().ConsecutiveLosses)
}

// TestRecordTrade_LeavesDailyCountToUpdate verifies closed trades advance
// only the lifetime counter; the daily count is set solely through Update.
func TestRecordTrade_LeavesDailyCountToUpdate(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 2)

	m.RecordTrade(-50)
	m.RecordTrade(100)

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.TradesToday, "daily count stays where Update left it")
	assert.Equal(t, 2, snap.TotalTrades)
}

// TestRecentSharpe_RequiresMinimumSamples verifies the estimate stays at 0
// until five returns are recorded.
func TestRecentSharpe_RequiresMinimumSamples(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 0)

	for i := 0; i < 4; i++ {
		m.RecordTrade(100)
	}
	assert.Zero(t, m.RecentSharpe())

	m.RecordTrade(50)
	assert.NotZero(t, m.RecentSharpe())
}

// TestRecentSharpe_ZeroVariance verifies identical returns produce a 0
// Sharpe rather than a division by zero.
func TestRecentSharpe_ZeroVariance(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 0)

	for i := 0; i < 6; i++ {
		m.RecordTrade(100)
	}
	assert.Zero(t, m.RecentSharpe())
}

// TestReturnWindow_EvictsOldest verifies the return buffer holds at most 50
// entries.
func TestReturnWindow_EvictsOldest(t *testing.T) {
	m := newTestManager()
	m.Update(10000, 0, 0)

	for i := 0; i < 60; i++ {
		m.RecordTrade(10)
	}
	assert.Len(t, m.returns, 50)
}

// TestUpdate_DrawdownFromPeak verifies the peak ratchets up and drawdown is
// measured from it, never negative.
func TestUpdate_DrawdownFromPeak(t *testing.T) {
	m := newTestManager()

	m.Update(10000, 0, 0)
	assert.Zero(t, m.Snapshot().Drawdown)

	m.Update(12000, 0, 0)
	assert.Zero(t, m.Snapshot().Drawdown)

	m.Update(9000, 0, 0)
	assert.InDelta(t, 0.25, m.Snapshot().Drawdown, 1e-9)

	m.Update(13000, 0, 0)
	assert.Zero(t, m.Snapshot().Drawdown)
	assert.InDelta(t, 13000.0, m.Snapshot().PeakEquity, 1e-9)
}

// TestDailyReset verifies the daily counters clear when the clock crosses
// midnight, and the loss limit is re-based on the new day's equity.
func TestDailyReset(t *testing.T) {
	m := newTestManager()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	m.Update(10000, 0, 0)
	m.Update(9600, -400, 5)
	ok, _ := m.CanTrade()
	assert.False(t, ok, "4 percent daily loss must block trading")

	now = now.Add(24 * time.Hour)
	ok, _ = m.CanTrade()
	assert.True(t, ok, "new day must clear the daily loss block")
	assert.Zero(t, m.Snapshot().DailyPnL)
	assert.Zero(t, m.Snapshot().TradesToday)
}
