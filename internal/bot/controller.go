// Package bot orchestrates the trading loop: one decision cycle at a time,
// strictly sequential, with every failure contained inside the cycle so the
// loop itself never dies.
package bot

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quantavn/ai-futures-bot/internal/bot/state"
	"github.com/quantavn/ai-futures-bot/internal/config"
	"github.com/quantavn/ai-futures-bot/internal/exchange"
	"github.com/quantavn/ai-futures-bot/internal/executor"
	"github.com/quantavn/ai-futures-bot/internal/features"
	"github.com/quantavn/ai-futures-bot/internal/feed"
	"github.com/quantavn/ai-futures-bot/internal/killswitch"
	"github.com/quantavn/ai-futures-bot/internal/logger"
	"github.com/quantavn/ai-futures-bot/internal/monitoring"
	"github.com/quantavn/ai-futures-bot/internal/notify"
	"github.com/quantavn/ai-futures-bot/internal/policy"
	"github.com/quantavn/ai-futures-bot/internal/predictor"
	"github.com/quantavn/ai-futures-bot/internal/risk"
	"github.com/quantavn/ai-futures-bot/internal/tradelog"
)

// Status is the controller lifecycle state.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	StatusStopped  Status = "STOPPED"
)

// Suspension lengths in check-interval units.
const (
	unitsNormal        = 1
	unitsNoMarketData  = 1
	unitsEmptyFeatures = 5
	unitsRiskBlocked   = 5
	unitsCycleFailure  = 10
)

// defaultStopTimeout bounds how long Stop waits for the loop to wind down.
const defaultStopTimeout = 30 * time.Second

// OrderExecutor is the venue surface the controller needs. Satisfied by
// executor.Executor; tests substitute a fake.
type OrderExecutor interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) executor.Result
	AccountInfo(ctx context.Context) exchange.AccountSnapshot
	SetLeverage(ctx context.Context, symbol string, leverage int)
	OpenInterest(ctx context.Context, symbol, period string, limit int) ([]exchange.OpenInterest, error)
}

// HaltChecker is the kill switch surface the controller polls each cycle.
type HaltChecker interface {
	Status(ctx context.Context) (killswitch.Marker, bool, error)
}

// Controller runs the decision cycle. All mutable trading state (position,
// daily counters) is owned by the loop goroutine; only the status field is
// shared and it is mutex-guarded.
type Controller struct {
	cfg     config.BotConfig
	riskCfg config.RiskConfig
	oiCfg   config.FeedConfig

	feed       feed.Feed
	features   *features.Engine
	predictor  predictor.Predictor
	policy     policy.Policy
	risk       *risk.Manager
	exec       OrderExecutor
	halt       HaltChecker
	notifier   notify.Notifier
	trades     tradelog.Store
	metrics    *monitoring.Metrics
	health     *monitoring.HealthChecker
	log        *logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	status Status

	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	stopTimeout time.Duration

	// Loop-owned state below; never touched outside the loop goroutine
	// except in Stop after the loop has exited.
	position      *Position
	dailyPnL      float64
	tradesToday   int
	currentDay    time.Time
	simEquity     float64
	initialEquity float64
	lastPrice     float64
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Feed      feed.Feed
	Features  *features.Engine
	Predictor predictor.Predictor
	Policy    policy.Policy
	Risk      *risk.Manager
	Executor  OrderExecutor
	Halt      HaltChecker
	Notifier  notify.Notifier
	TradeLog  tradelog.Store
	Metrics   *monitoring.Metrics
	Health    *monitoring.HealthChecker
	Logger    *logger.Logger
}

// New creates a controller in the STOPPED state.
func New(cfg config.BotConfig, riskCfg config.RiskConfig, oiCfg config.FeedConfig, d Deps) *Controller {
	return &Controller{
		cfg:       cfg,
		riskCfg:   riskCfg,
		oiCfg:     oiCfg,
		feed:      d.Feed,
		features:  d.Features,
		predictor: d.Predictor,
		policy:    d.Policy,
		risk:      d.Risk,
		exec:      d.Executor,
		halt:      d.Halt,
		notifier:  d.Notifier,
		trades:    d.TradeLog,
		metrics:   d.Metrics,
		health:    d.Health,
		log:       d.Logger.Named("bot"),
		now:       time.Now,
		status:      StatusStopped,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		stopTimeout: defaultStopTimeout,
		simEquity:   cfg.InitialBalance,
	}
}

// Status returns the lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Done is closed when the trading loop has exited, whether from Stop or a
// kill-switch halt.
func (c *Controller) Done() <-chan struct{} { return c.doneCh }

// Start sets leverage best-effort and launches the trading loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusStopped {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	c.status = StatusRunning
	c.mu.Unlock()

	if !c.cfg.Simulation {
		c.exec.SetLeverage(ctx, c.cfg.Symbol, c.cfg.Leverage)
	}
	c.currentDay = dateOnly(c.now())
	c.health.SetRunning(true)
	c.log.Infof("trading loop starting: symbol=%s leverage=%dx interval=%s simulation=%v",
		c.cfg.Symbol, c.cfg.Leverage, c.cfg.CheckInterval, c.cfg.Simulation)

	go c.loop(ctx)
	return nil
}

// Stop halts the loop and synchronously closes any open position. Safe to
// call more than once and after a kill-switch initiated halt.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.status == StatusStopped {
		c.mu.Unlock()
		return
	}
	c.status = StatusStopping
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		// The loop has exited; loop-owned state is safe to touch.
		if c.position != nil {
			c.log.Infof("closing open position on shutdown")
			c.closePosition(ctx, "shutdown")
		}
		c.notifier.Send(fmt.Sprintf("Bot stopped. Daily PnL: %.2f, trades today: %d",
			c.dailyPnL, c.tradesToday))
	case <-time.After(c.stopTimeout):
		// The loop may still be running; leave its state alone.
		c.log.Errorf("trading loop did not stop within %s", c.stopTimeout)
	}

	c.mu.Lock()
	c.status = StatusStopped
	c.mu.Unlock()
	c.health.SetRunning(false)
	c.log.Infof("trading loop stopped")
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		units, halt := c.safeCycle(ctx)
		if halt {
			return
		}
		if !c.suspend(units) {
			return
		}
	}
}

// safeCycle runs one cycle with panic containment. A panicking cycle is
// reported and followed by the failure backoff; the loop lives on.
func (c *Controller) safeCycle(ctx context.Context) (units int, halt bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("cycle panic: %v", r)
			c.metrics.ErrorsTotal.WithLabelValues("panic").Inc()
			c.health.RecordError(fmt.Sprintf("panic: %v", r))
			c.notifier.SendError(fmt.Sprintf("Trading cycle panic: %v", r))
			units, halt = unitsCycleFailure, false
		}
	}()

	started := c.now()
	units, halt, err := c.cycle(ctx)
	if err != nil {
		c.log.Errorf("cycle failed: %v", err)
		c.metrics.ErrorsTotal.WithLabelValues("cycle").Inc()
		c.health.RecordError(err.Error())
		c.notifier.SendError(fmt.Sprintf("Trading cycle error: %v", err))
		return unitsCycleFailure, false
	}
	c.metrics.CyclesTotal.Inc()
	c.metrics.CycleDuration.Observe(c.now().Sub(started).Seconds())
	c.health.RecordCycle()
	return units, halt
}

// cycle is one pass of the decision sequence. It returns how many
// check-interval units to suspend before the next cycle, and whether the
// kill switch demands a full halt.
func (c *Controller) cycle(ctx context.Context) (int, bool, error) {
	c.maybeResetDaily()

	// Kill switch gates everything else.
	pauseEntries, halt := c.checkKillSwitch(ctx)
	if halt {
		return 0, true, nil
	}

	// 1. Market snapshot.
	kline, ok := c.feed.LatestKline(c.cfg.Symbol)
	if !ok {
		c.log.Debugf("no market data yet")
		return unitsNoMarketData, false, nil
	}
	funding, _ := c.feed.LatestFunding(c.cfg.Symbol)
	c.lastPrice = kline.Close
	c.metrics.Price.Set(kline.Close)

	// 2. Features.
	snap := features.Snapshot{
		Kline:        kline,
		FundingRate:  funding.FundingRate,
		OpenInterest: c.latestOpenInterest(ctx),
	}
	feats := c.features.Compute(snap)
	if len(feats) == 0 {
		c.log.Debugf("feature engine still warming up")
		return unitsEmptyFeatures, false, nil
	}

	// 3. Prediction.
	pred, err := c.predictor.Predict(feats)
	if err != nil {
		return 0, false, fmt.Errorf("prediction failed: %w", err)
	}

	// 4. Account state and state vector.
	equity, available := c.accountEquity(ctx)
	if equity > 0 {
		if c.initialEquity == 0 {
			c.initialEquity = equity
		}
		c.risk.Update(equity, c.dailyPnL, c.tradesToday)
	}
	stateVec := c.buildStateVector(kline.Close, equity, available, pred, feats)

	// 5. Policy decision.
	action, err := c.policy.Decide(stateVec)
	if err != nil {
		return 0, false, fmt.Errorf("policy decision failed: %w", err)
	}
	c.log.Debugf("cycle: price=%.4f signal=%d conf=%.2f action=%s",
		kline.Close, pred.Signal, pred.Confidence, action)

	// 6. Risk gate.
	if ok, reason := c.risk.CanTrade(); !ok {
		c.log.Warnf("risk manager blocked trading: %s", reason)
		return unitsRiskBlocked, false, nil
	}

	// 7. Act.
	c.execute(ctx, action, kline.Close, equity, pred, feats, pauseEntries)

	// 8. Monitoring update.
	c.updateMonitoring(equity)

	return unitsNormal, false, nil
}

// checkKillSwitch polls the halt marker. immediate and graceful close the
// position and stop the loop; pause only blocks new entries.
func (c *Controller) checkKillSwitch(ctx context.Context) (pauseEntries, halt bool) {
	marker, active, err := c.halt.Status(ctx)
	if err != nil {
		c.log.Warnf("kill switch status check failed: %v", err)
		return false, false
	}
	if !active {
		return false, false
	}

	switch marker.Mode {
	case killswitch.ModePause:
		c.log.Warnf("kill switch pause active (%s): entries blocked", marker.Reason)
		return true, false
	default:
		c.log.Warnf("kill switch %s active (%s): halting", marker.Mode, marker.Reason)
		c.notifier.SendError(fmt.Sprintf("Kill switch %s activated: %s", marker.Mode, marker.Reason))
		if c.position != nil {
			c.closePosition(ctx, "kill_switch")
		}
		c.mu.Lock()
		c.status = StatusStopping
		c.mu.Unlock()
		return false, true
	}
}

// execute performs the policy's action subject to position and entry gates.
func (c *Controller) execute(ctx context.Context, action policy.Action, price, equity float64,
	pred predictor.Prediction, feats map[string]float64, pauseEntries bool) {

	switch action {
	case policy.ActionEnterLong, policy.ActionEnterShort:
		if c.position != nil {
			c.log.Debugf("entry skipped: position already open")
			return
		}
		if pauseEntries {
			c.log.Warnf("entry skipped: kill switch pause active")
			return
		}
		if equity <= 0 {
			c.log.Warnf("entry skipped: account equity unknown")
			return
		}
		direction := DirectionLong
		if action == policy.ActionEnterShort {
			direction = DirectionShort
		}
		c.openPosition(ctx, direction, price, equity, pred, feats)

	case policy.ActionExit:
		if c.position == nil {
			c.log.Debugf("exit skipped: no open position")
			return
		}
		c.closePosition(ctx, "policy_exit")

	case policy.ActionScaleIn, policy.ActionScaleOut:
		c.log.Infof("action %s not implemented, holding", action)

	case policy.ActionHold:
	}
}

// openPosition sizes, validates and opens a position in the given direction.
func (c *Controller) openPosition(ctx context.Context, direction int, price, equity float64,
	pred predictor.Prediction, feats map[string]float64) {

	stopDistance := 1.5 * feats["atr_14"]
	if stopDistance <= 0 {
		stopDistance = 0.02 * price
	}

	size := c.risk.CalculatePositionSize(equity, c.riskCfg.RiskPerTrade, stopDistance, price, c.cfg.Leverage)
	if err := c.risk.ValidatePosition(size, price, c.cfg.Leverage); err != nil {
		c.log.Warnf("position rejected: %v", err)
		return
	}

	entryPrice := price
	if !c.cfg.Simulation {
		side := "LONG"
		if direction == DirectionShort {
			side = "SHORT"
		}
		res := c.exec.PlaceMarketOrder(ctx, c.cfg.Symbol, side, size)
		if res.Status != executor.StatusFilled {
			c.log.Errorf("entry order failed: %s", res.Error)
			c.metrics.ErrorsTotal.WithLabelValues("order").Inc()
			return
		}
		if res.AvgPrice > 0 {
			entryPrice = res.AvgPrice
		}
	}

	stopLoss := entryPrice - float64(direction)*stopDistance
	// Take-profit mirrors the model's target off the entry without branching
	// on direction; for shorts with a positive target this lands below entry.
	takeProfit := entryPrice + pred.Target*entryPrice

	c.position = &Position{
		Direction:  direction,
		EntryPrice: entryPrice,
		Size:       size,
		EntryTime:  c.now(),
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Confidence: pred.Confidence,
	}
	c.tradesToday++

	c.trades.LogEntry(tradelog.Trade{
		Timestamp:  c.now(),
		Symbol:     c.cfg.Symbol,
		Direction:  c.position.DirectionLabel(),
		Price:      entryPrice,
		Size:       size,
		Confidence: pred.Confidence,
	})
	c.metrics.TradesTotal.WithLabelValues(c.position.DirectionLabel()).Inc()
	c.metrics.PositionSize.Set(size)
	c.notifier.SendTradeAlert(fmt.Sprintf("%s %s: size=%.4f entry=%.4f stop=%.4f",
		c.position.DirectionLabel(), c.cfg.Symbol, size, entryPrice, stopLoss))
	c.log.Infof("opened %s position: size=%.4f entry=%.4f stop=%.4f tp=%.4f",
		c.position.DirectionLabel(), size, entryPrice, stopLoss, takeProfit)
}

// closePosition exits the open position at market and settles the realized
// pnl into the daily counters and the risk manager.
func (c *Controller) closePosition(ctx context.Context, reason string) {
	pos := c.position
	if pos == nil {
		return
	}

	exitPrice := c.lastPrice
	if !c.cfg.Simulation {
		side := "SELL"
		if pos.Direction == DirectionShort {
			side = "BUY"
		}
		res := c.exec.PlaceMarketOrder(ctx, c.cfg.Symbol, side, pos.Size)
		if res.Status != executor.StatusFilled {
			c.log.Errorf("exit order failed (%s), position remains open: %s", reason, res.Error)
			c.metrics.ErrorsTotal.WithLabelValues("order").Inc()
			return
		}
		if res.AvgPrice > 0 {
			exitPrice = res.AvgPrice
		}
	}

	pnl := (exitPrice - pos.EntryPrice) * pos.Size * float64(pos.Direction)
	c.dailyPnL += pnl
	c.simEquity += pnl
	c.risk.RecordTrade(pnl)

	c.trades.LogExit(tradelog.Trade{
		Timestamp:  c.now(),
		Symbol:     c.cfg.Symbol,
		Direction:  pos.DirectionLabel(),
		Price:      exitPrice,
		Size:       pos.Size,
		PnL:        pnl,
		Confidence: pos.Confidence,
	})
	c.metrics.PositionSize.Set(0)
	c.notifier.SendTradeAlert(fmt.Sprintf("Closed %s %s (%s): exit=%.4f pnl=%.2f",
		pos.DirectionLabel(), c.cfg.Symbol, reason, exitPrice, pnl))
	c.log.Infof("closed %s position (%s): exit=%.4f pnl=%.2f daily_pnl=%.2f",
		pos.DirectionLabel(), reason, exitPrice, pnl, c.dailyPnL)

	c.position = nil
}

// buildStateVector assembles the fixed-order policy input.
func (c *Controller) buildStateVector(price, equity, available float64,
	pred predictor.Prediction, feats map[string]float64) []float64 {

	v := make([]float64, state.VectorSize)

	if c.position != nil {
		v[state.IdxPosition] = float64(c.position.Direction)
		if equity > 0 {
			v[state.IdxPnL] = c.position.UnrealizedPnL / equity
		}
		v[state.IdxDuration] = math.Min(float64(c.position.Duration)/100, 1)
	}

	v[state.IdxSignal] = float64(pred.Signal - 1)
	v[state.IdxConfidence] = pred.Confidence
	v[state.IdxTarget] = pred.Target

	v[state.IdxReturn20] = feats["return_20"]
	v[state.IdxNATR] = feats["natr"]
	v[state.IdxRSI] = feats["rsi_14"] / 100
	v[state.IdxOIDivergence] = feats["oi_price_divergence_20"]
	v[state.IdxOIChange] = feats["oi_change_20"]
	v[state.IdxFunding] = feats["funding_rate"] * 100
	v[state.IdxVolumeRatio] = feats["volume_ratio"]
	v[state.IdxBBPosition] = feats["bb_position"]

	if c.initialEquity > 0 {
		v[state.IdxEquityRatio] = equity / c.initialEquity
	}
	riskSnap := c.risk.Snapshot()
	v[state.IdxDrawdown] = riskSnap.Drawdown
	if equity > 0 {
		v[state.IdxBalanceRatio] = available / equity
	}
	v[state.IdxSharpe] = c.risk.RecentSharpe()
	v[state.IdxLiqDistance] = c.liquidationDistance(price)
	v[state.IdxTradesToday] = float64(c.tradesToday) / 20

	return v
}

// liquidationDistance is the normalized distance from the current price to
// the forced-closure price, clamped to [0,1]. 1.0 when flat.
func (c *Controller) liquidationDistance(price float64) float64 {
	if c.position == nil || price <= 0 {
		return 1
	}

	margin := 0.9 / float64(c.cfg.Leverage)
	var dist float64
	if c.position.Direction == DirectionLong {
		liq := c.position.EntryPrice * (1 - margin)
		dist = (price - liq) / price
	} else {
		liq := c.position.EntryPrice * (1 + margin)
		dist = (liq - price) / price
	}

	if dist < 0 {
		return 0
	}
	if dist > 1 {
		return 1
	}
	return dist
}

// accountEquity returns (total equity, available balance). Simulation mode
// tracks equity internally; live mode reads the venue and degrades to zero
// ("unknown") on failure.
func (c *Controller) accountEquity(ctx context.Context) (float64, float64) {
	if c.cfg.Simulation {
		return c.simEquity, c.simEquity
	}
	snap := c.exec.AccountInfo(ctx)
	return snap.TotalBalance, snap.AvailableBalance
}

// latestOpenInterest fetches the newest open-interest value, 0 on failure.
func (c *Controller) latestOpenInterest(ctx context.Context) float64 {
	points, err := c.exec.OpenInterest(ctx, c.cfg.Symbol, c.oiCfg.OIPeriod, 1)
	if err != nil || len(points) == 0 {
		return 0
	}
	return points[len(points)-1].OpenInterest
}

// updateMonitoring refreshes position marks, gauges and the equity log.
func (c *Controller) updateMonitoring(equity float64) {
	if c.position != nil {
		c.position.Duration++
		c.position.MarkToMarket(c.lastPrice)
	}

	if equity > 0 {
		c.metrics.Equity.Set(equity)
	}
	c.metrics.Drawdown.Set(c.risk.Snapshot().Drawdown)
	c.trades.LogEquity(tradelog.EquityPoint{
		Timestamp: c.now(),
		Equity:    equity,
		DailyPnL:  c.dailyPnL,
	})
}

// maybeResetDaily clears the controller's daily counters when the date
// advances. The risk manager performs its own matching reset.
func (c *Controller) maybeResetDaily() {
	today := dateOnly(c.now())
	if today.After(c.currentDay) {
		c.log.Infof("new trading day: daily_pnl=%.2f trades=%d reset", c.dailyPnL, c.tradesToday)
		c.dailyPnL = 0
		c.tradesToday = 0
		c.currentDay = today
	}
}

// suspend sleeps for the given number of check-interval units. Returns false
// when interrupted by Stop.
func (c *Controller) suspend(units int) bool {
	if units <= 0 {
		units = 1
	}
	timer := time.NewTimer(time.Duration(units) * c.cfg.CheckInterval.Std())
	defer timer.Stop()
	select {
	case <-c.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func dateOnly(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}
