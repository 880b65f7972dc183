package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavn/ai-futures-bot/internal/config"
	"github.com/quantavn/ai-futures-bot/internal/exchange"
	"github.com/quantavn/ai-futures-bot/internal/executor"
	"github.com/quantavn/ai-futures-bot/internal/features"
	"github.com/quantavn/ai-futures-bot/internal/feed"
	"github.com/quantavn/ai-futures-bot/internal/killswitch"
	"github.com/quantavn/ai-futures-bot/internal/logger"
	"github.com/quantavn/ai-futures-bot/internal/monitoring"
	"github.com/quantavn/ai-futures-bot/internal/policy"
	"github.com/quantavn/ai-futures-bot/internal/predictor"
	"github.com/quantavn/ai-futures-bot/internal/risk"
	"github.com/quantavn/ai-futures-bot/internal/tradelog"
)

// --- fakes -----------------------------------------------------------------

type fakeFeed struct {
	mu      sync.Mutex
	kline   exchange.Kline
	hasData bool
	funding feed.Funding
}

func (f *fakeFeed) LatestKline(string) (exchange.Kline, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kline, f.hasData
}

func (f *fakeFeed) LatestFunding(string) (feed.Funding, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.funding, true
}

func (f *fakeFeed) setPrice(price float64, start time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasData = true
	f.kline = exchange.Kline{
		StartTime: start,
		Open:      price, High: price + 1, Low: price - 1, Close: price,
		Volume: 1000, Closed: true,
	}
}

type fakeExecutor struct {
	placed  []string // recorded sides
	fill    executor.Result
	balance exchange.AccountSnapshot
}

func (f *fakeExecutor) PlaceMarketOrder(_ context.Context, _, side string, _ float64) executor.Result {
	f.placed = append(f.placed, side)
	return f.fill
}

func (f *fakeExecutor) AccountInfo(context.Context) exchange.AccountSnapshot { return f.balance }
func (f *fakeExecutor) SetLeverage(context.Context, string, int) {}
func (f *fakeExecutor) OpenInterest(context.Context, string, string, int) ([]exchange.OpenInterest, error) {
	return []exchange.OpenInterest{{OpenInterest: 5000}}, nil
}

// scriptedPolicy returns its actions in order, then holds.
type scriptedPolicy struct {
	actions []policy.Action
	calls   int
	lastVec []float64
}

func (p *scriptedPolicy) Decide(vec []float64) (policy.Action, error) {
	p.lastVec = append([]float64(nil), vec...)
	action := policy.ActionHold
	if p.calls < len(p.actions) {
		action = p.actions[p.calls]
	}
	p.calls++
	return action, nil
}

type fixedPredictor struct{ pred predictor.Prediction }

func (f fixedPredictor) Predict(map[string]float64) (predictor.Prediction, error) {
	return f.pred, nil
}

type fakeHalt struct {
	marker killswitch.Marker
	active bool
}

func (f *fakeHalt) Status(context.Context) (killswitch.Marker, bool, error) {
	return f.marker, f.active, nil
}

type memoryTradeLog struct {
	entries []tradelog.Trade
	exits   []tradelog.Trade
	equity  []tradelog.EquityPoint
}

func (m *memoryTradeLog) LogEntry(t tradelog.Trade) { m.entries = append(m.entries, t) }
func (m *memoryTradeLog) LogExit(t tradelog.Trade)  { m.exits = append(m.exits, t) }
func (m *memoryTradeLog) LogEquity(p tradelog.EquityPoint) {
	m.equity = append(m.equity, p)
}
func (m *memoryTradeLog) Close() error { return nil }

type recordingNotifier struct{ msgs []string }

func (r *recordingNotifier) Send(s string)           { r.msgs = append(r.msgs, s) }
func (r *recordingNotifier) SendTradeAlert(s string) { r.msgs = append(r.msgs, s) }
func (r *recordingNotifier) SendError(s string)      { r.msgs = append(r.msgs, s) }

// --- harness ---------------------------------------------------------------

type harness struct {
	ctrl     *Controller
	feed     *fakeFeed
	exec     *fakeExecutor
	policy   *scriptedPolicy
	halt     *fakeHalt
	trades   *memoryTradeLog
	notifier *recordingNotifier
}

func newHarness(t *testing.T, actions ...policy.Action) *harness {
	t.Helper()

	botCfg := config.BotConfig{
		Symbol: "SOLUSDT", Leverage: 5, CheckInterval: config.Duration(time.Millisecond),
		InitialBalance: 10000, Simulation: true,
	}
	riskCfg := config.RiskConfig{
		MaxPositionSize: 0.2, RiskPerTrade: 0.02, MaxDailyLoss: 0.03,
		MaxTradesPerDay: 20, MaxConsecutiveLosses: 5, MinNotional: 10,
	}

	h := &harness{
		feed:     &fakeFeed{},
		exec:     &fakeExecutor{fill: executor.Result{Status: executor.StatusFilled, AvgPrice: 100}},
		policy:   &scriptedPolicy{actions: actions},
		halt:     &fakeHalt{},
		trades:   &memoryTradeLog{},
		notifier: &recordingNotifier{},
	}

	engine := features.NewEngine()
	engine.Warmup(historyKlines(30))

	h.ctrl = New(botCfg, riskCfg, config.FeedConfig{OIPeriod: "5min"}, Deps{
		Feed:      h.feed,
		Features:  engine,
		Predictor: fixedPredictor{predictor.Prediction{Signal: predictor.SignalLong, Confidence: 0.8, Target: 0.02}},
		Policy:    h.policy,
		Risk:      risk.NewManager(riskCfg, logger.NewNop()),
		Executor:  h.exec,
		Halt:      h.halt,
		Notifier:  h.notifier,
		TradeLog:  h.trades,
		Metrics:   monitoring.NewMetrics(),
		Health:    monitoring.NewHealthChecker(time.Minute),
		Logger:    logger.NewNop(),
	})
	h.ctrl.currentDay = dateOnly(time.Now())
	return h
}

func historyKlines(n int) []exchange.Kline {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	klines := make([]exchange.Kline, n)
	for i := range klines {
		price := 100.0
		klines[i] = exchange.Kline{
			StartTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price, High: price + 1, Low: price - 1, Close: price,
			Volume: 1000, Closed: true,
		}
	}
	return klines
}

func (h *harness) runCycle(t *testing.T) int {
	t.Helper()
	units, halt, err := h.ctrl.cycle(context.Background())
	require.NoError(t, err)
	require.False(t, halt)
	return units
}

var cycleTime = time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)

// --- tests -----------------------------------------------------------------

// TestCycle_NoMarketData verifies an empty feed backs off one unit without
// touching state.
func TestCycle_NoMarketData(t *testing.T) {
	h := newHarness(t)

	units := h.runCycle(t)

	assert.Equal(t, unitsNoMarketData, units)
	assert.Nil(t, h.ctrl.position)
	assert.Empty(t, h.trades.equity)
}

// TestCycle_OpenAndCloseLong walks scenario B: enter long at 100, exit at
// 110, realized pnl 100 lands in the daily counters and the losing streak
// stays clear.
func TestCycle_OpenAndCloseLong(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong, policy.ActionExit)

	h.feed.setPrice(100, cycleTime)
	units := h.runCycle(t)
	assert.Equal(t, unitsNormal, units)

	require.NotNil(t, h.ctrl.position)
	assert.Equal(t, DirectionLong, h.ctrl.position.Direction)
	assert.InDelta(t, 100.0, h.ctrl.position.EntryPrice, 1e-9)
	assert.Greater(t, h.ctrl.position.Size, 0.0)
	require.Len(t, h.trades.entries, 1)

	h.feed.setPrice(110, cycleTime.Add(5*time.Minute))
	h.runCycle(t)

	assert.Nil(t, h.ctrl.position)
	require.Len(t, h.trades.exits, 1)
	size := h.trades.exits[0].Size
	assert.InDelta(t, 10*size, h.trades.exits[0].PnL, 1e-9)
	assert.InDelta(t, 10*size, h.ctrl.dailyPnL, 1e-9)
	assert.Equal(t, 1, h.ctrl.tradesToday)
	assert.Equal(t, 0, h.ctrl.risk.Snapshot().ConsecutiveLosses)
	assert.InDelta(t, 10000+10*size, h.ctrl.simEquity, 1e-9)
}

// TestCycle_EntryCountsTowardDailyThrottle verifies the daily trade counter
// advances when a position opens, not when it closes, so the throttle and the
// state vector see the entry immediately.
func TestCycle_EntryCountsTowardDailyThrottle(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong, policy.ActionHold)

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)

	require.NotNil(t, h.ctrl.position)
	assert.Equal(t, 1, h.ctrl.tradesToday, "counter bumps at entry")

	h.feed.setPrice(101, cycleTime.Add(5*time.Minute))
	h.runCycle(t)

	assert.Equal(t, 1, h.ctrl.risk.Snapshot().TradesToday)
	assert.InDelta(t, 1.0/20.0, h.policy.lastVec[19], 1e-9,
		"open trade counts in the normalized trades-today slot")
}

// TestCycle_SinglePositionInvariant verifies a second entry while one is
// open is skipped.
func TestCycle_SinglePositionInvariant(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong, policy.ActionEnterLong)

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)
	require.NotNil(t, h.ctrl.position)
	first := *h.ctrl.position

	h.feed.setPrice(101, cycleTime.Add(5*time.Minute))
	h.runCycle(t)

	require.NotNil(t, h.ctrl.position)
	assert.Equal(t, first.EntryPrice, h.ctrl.position.EntryPrice, "second entry must not replace the position")
	assert.Len(t, h.trades.entries, 1)
}

// TestCycle_PauseBlocksEntries verifies a pause marker suppresses entries
// while leaving the loop running.
func TestCycle_PauseBlocksEntries(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong)
	h.halt.active = true
	h.halt.marker = killswitch.Marker{Mode: killswitch.ModePause, Reason: "anomaly"}

	h.feed.setPrice(100, cycleTime)
	units := h.runCycle(t)

	assert.Equal(t, unitsNormal, units)
	assert.Nil(t, h.ctrl.position)
	assert.Empty(t, h.trades.entries)
}

// TestCycle_PauseAllowsExit verifies pause only gates entries: an open
// position can still be closed by the policy.
func TestCycle_PauseAllowsExit(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong, policy.ActionExit)

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)
	require.NotNil(t, h.ctrl.position)

	h.halt.active = true
	h.halt.marker = killswitch.Marker{Mode: killswitch.ModePause, Reason: "anomaly"}
	h.feed.setPrice(102, cycleTime.Add(5*time.Minute))
	h.runCycle(t)

	assert.Nil(t, h.ctrl.position)
	assert.Len(t, h.trades.exits, 1)
}

// TestCycle_GracefulHaltClosesPosition verifies a graceful marker closes the
// open position and stops the loop.
func TestCycle_GracefulHaltClosesPosition(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong)

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)
	require.NotNil(t, h.ctrl.position)

	h.halt.active = true
	h.halt.marker = killswitch.Marker{Mode: killswitch.ModeGraceful, Reason: "deploy"}
	_, halt, err := h.ctrl.cycle(context.Background())
	require.NoError(t, err)

	assert.True(t, halt)
	assert.Nil(t, h.ctrl.position)
	assert.Len(t, h.trades.exits, 1)
	assert.Equal(t, StatusStopping, h.ctrl.Status())
}

// TestCycle_RiskBlockBacksOff verifies a risk refusal suspends five units
// without acting.
func TestCycle_RiskBlockBacksOff(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong)
	for i := 0; i < 5; i++ {
		h.ctrl.risk.RecordTrade(-10)
	}

	h.feed.setPrice(100, cycleTime)
	units := h.runCycle(t)

	assert.Equal(t, unitsRiskBlocked, units)
	assert.Nil(t, h.ctrl.position)
}

// TestCycle_UnknownEquityBlocksEntry verifies a live-mode zero account
// snapshot (degraded fetch) aborts position opening.
func TestCycle_UnknownEquityBlocksEntry(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong)
	h.ctrl.cfg.Simulation = false
	h.exec.balance = exchange.AccountSnapshot{} // all zero: unknown

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)

	assert.Nil(t, h.ctrl.position)
	assert.Empty(t, h.exec.placed, "no order may be sized from unknown equity")
}

// TestCycle_LiveEntryUsesFillPrice verifies live mode records the position
// only on a FILLED result, at the fill's average price.
func TestCycle_LiveEntryUsesFillPrice(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong)
	h.ctrl.cfg.Simulation = false
	h.exec.balance = exchange.AccountSnapshot{TotalBalance: 10000, AvailableBalance: 9000}
	h.exec.fill = executor.Result{Status: executor.StatusFilled, AvgPrice: 100.35}

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)

	require.NotNil(t, h.ctrl.position)
	assert.InDelta(t, 100.35, h.ctrl.position.EntryPrice, 1e-9)
	assert.Equal(t, []string{"LONG"}, h.exec.placed)
}

// TestCycle_LiveEntryFailedOrder verifies a FAILED order leaves the bot
// flat.
func TestCycle_LiveEntryFailedOrder(t *testing.T) {
	h := newHarness(t, policy.ActionEnterLong)
	h.ctrl.cfg.Simulation = false
	h.exec.balance = exchange.AccountSnapshot{TotalBalance: 10000, AvailableBalance: 9000}
	h.exec.fill = executor.Result{Status: executor.StatusFailed, Error: "rate limited"}

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)

	assert.Nil(t, h.ctrl.position)
	assert.Empty(t, h.trades.entries)
}

// TestLiquidationDistance covers scenario C and the flat default.
func TestLiquidationDistance(t *testing.T) {
	h := newHarness(t)
	h.ctrl.cfg.Leverage = 10

	assert.InDelta(t, 1.0, h.ctrl.liquidationDistance(95), 1e-9, "flat position reads 1.0")

	h.ctrl.position = &Position{Direction: DirectionLong, EntryPrice: 100, Size: 1}
	// Liquidation at 100*(1-0.09)=91; distance (95-91)/95.
	assert.InDelta(t, 4.0/95.0, h.ctrl.liquidationDistance(95), 1e-9)

	// Below liquidation clamps to 0.
	assert.InDelta(t, 0.0, h.ctrl.liquidationDistance(90), 1e-9)

	h.ctrl.position = &Position{Direction: DirectionShort, EntryPrice: 100, Size: 1}
	// Liquidation at 109; distance (109-105)/105.
	assert.InDelta(t, 4.0/105.0, h.ctrl.liquidationDistance(105), 1e-9)
}

// TestShortTakeProfitUnsignedFormula documents the inherited take-profit
// formula: it adds the target without branching on direction, so a short
// with a positive target gets a take-profit above entry, which is
// economically inverted. Kept as-is deliberately.
func TestShortTakeProfitUnsignedFormula(t *testing.T) {
	h := newHarness(t, policy.ActionEnterShort)

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)

	require.NotNil(t, h.ctrl.position)
	assert.Equal(t, DirectionShort, h.ctrl.position.Direction)
	assert.InDelta(t, 102.0, h.ctrl.position.TakeProfit, 1e-9,
		"short TP sits above entry under the unsigned formula")
	assert.InDelta(t, 100+1.5*2, h.ctrl.position.StopLoss, 1e-9,
		"short stop sits above entry by 1.5x ATR")
}

// TestStateVectorShape verifies the policy receives the fixed-size vector
// with the prediction fields in their slots.
func TestStateVectorShape(t *testing.T) {
	h := newHarness(t)

	h.feed.setPrice(100, cycleTime)
	h.runCycle(t)

	require.Len(t, h.policy.lastVec, 20)
	assert.InDelta(t, 1.0, h.policy.lastVec[3], 1e-9, "centered long signal")
	assert.InDelta(t, 0.8, h.policy.lastVec[4], 1e-9, "confidence")
	assert.InDelta(t, 1.0, h.policy.lastVec[18], 1e-9, "flat liquidation distance")
}

// TestStop_ClosesOpenPosition verifies Stop halts the loop and closes the
// position synchronously.
func TestStop_ClosesOpenPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	h.ctrl.position = &Position{Direction: DirectionLong, EntryPrice: 100, Size: 5}
	h.ctrl.lastPrice = 104

	h.ctrl.Stop(ctx)

	assert.Equal(t, StatusStopped, h.ctrl.Status())
	assert.Nil(t, h.ctrl.position)
	require.Len(t, h.trades.exits, 1)
	assert.InDelta(t, 20.0, h.trades.exits[0].PnL, 1e-9)

	select {
	case <-h.ctrl.Done():
	default:
		t.Fatal("Done channel must be closed after Stop")
	}
}

// TestStop_TimeoutLeavesLoopStateAlone verifies that when the loop fails to
// wind down in time, Stop does not touch the position or send the shutdown
// summary; the loop goroutine may still own that state.
func TestStop_TimeoutLeavesLoopStateAlone(t *testing.T) {
	h := newHarness(t)
	h.ctrl.stopTimeout = 5 * time.Millisecond

	// A running status without a loop goroutine: doneCh never closes.
	h.ctrl.mu.Lock()
	h.ctrl.status = StatusRunning
	h.ctrl.mu.Unlock()
	h.ctrl.position = &Position{Direction: DirectionLong, EntryPrice: 100, Size: 5}
	h.ctrl.lastPrice = 104

	h.ctrl.Stop(context.Background())

	assert.NotNil(t, h.ctrl.position, "position must not be closed while the loop may run")
	assert.Empty(t, h.trades.exits)
	assert.Empty(t, h.notifier.msgs, "no shutdown summary on timeout")
}
