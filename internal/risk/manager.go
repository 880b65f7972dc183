// Package risk implements the quantitative safety gate for the trading loop:
// position sizing, loss limits, trade throttling and performance tracking.
// It is pure state plus arithmetic; it performs no I/O.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/quantavn/ai-futures-bot/internal/config"
	"github.com/quantavn/ai-futures-bot/internal/logger"
)

// returnWindow is the capacity of the trade-return ring buffer.
const returnWindow = 50

// minSharpeSamples is the minimum number of recorded returns before the
// Sharpe estimate is considered meaningful.
const minSharpeSamples = 5

// Manager tracks account risk state and answers sizing and permission
// questions for the controller. It is not safe for concurrent use; the
// trading loop is its sole caller.
type Manager struct {
	cfg config.RiskConfig
	log *logger.Logger
	now func() time.Time

	initialEquity  float64 // first equity ever observed
	dayStartEquity float64 // equity at the start of the current trading day
	peakEquity     float64
	currentEquity  float64
	dailyPnL       float64
	drawdown       float64

	consecutiveLosses int
	tradesToday       int
	totalTrades       int
	lastResetDate     time.Time

	returns []float64
}

// Metrics is a point-in-time snapshot of the risk state, consumed by the
// health endpoint and the Prometheus gauges.
type Metrics struct {
	CurrentEquity     float64
	PeakEquity        float64
	DailyPnL          float64
	Drawdown          float64
	ConsecutiveLosses int
	TradesToday       int
	TotalTrades       int
	RecentSharpe      float64
}

// NewManager creates a risk manager with the given limits.
func NewManager(cfg config.RiskConfig, log *logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log.Named("risk"),
		now:     time.Now,
		returns: make([]float64, 0, returnWindow),
	}
}

// SetClock overrides the wall clock. Tests use this to drive daily resets.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CanTrade reports whether a new trade is permitted right now. Checks run in
// order and the first failure wins; the returned reason is empty when trading
// is allowed. A daily reset is applied first when the date has advanced.
func (m *Manager) CanTrade() (bool, string) {
	m.maybeResetDaily()

	if m.dayStartEquity > 0 {
		lossFraction := m.dailyPnL / m.dayStartEquity
		if lossFraction <= -m.cfg.MaxDailyLoss {
			return false, fmt.Sprintf("daily loss limit reached: %.2f%% of day-start equity",
				lossFraction*100)
		}
	}
	if m.tradesToday >= m.cfg.MaxTradesPerDay {
		return false, fmt.Sprintf("max trades per day reached: %d", m.tradesToday)
	}
	if m.consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached: %d", m.consecutiveLosses)
	}
	return true, ""
}

// CalculatePositionSize returns the position size in base units for the given
// account equity and stop distance. When the stop distance or price is not
// usable it falls back to a conservative tenth of equity at leverage. The
// result never exceeds the max-position-size cap.
func (m *Manager) CalculatePositionSize(equity, riskPerTrade, stopDistance, price float64, leverage int) float64 {
	if equity <= 0 || price <= 0 {
		return 0
	}

	var size float64
	if stopDistance > 0 {
		size = (equity * riskPerTrade) / stopDistance
	} else {
		size = (equity * 0.1 * float64(leverage)) / price
	}

	maxSize := (equity * m.cfg.MaxPositionSize * float64(leverage)) / price
	if size > maxSize {
		size = maxSize
	}
	return size
}

// ValidatePosition checks a proposed position against the notional cap and
// the minimum notional floor.
func (m *Manager) ValidatePosition(size, price float64, leverage int) error {
	notional := size * price
	maxNotional := m.currentEquity * m.cfg.MaxPositionSize * float64(leverage)
	if notional > maxNotional {
		return fmt.Errorf("position notional %.2f exceeds limit %.2f", notional, maxNotional)
	}
	if notional < m.cfg.MinNotional {
		return fmt.Errorf("position notional %.2f below minimum %.2f", notional, m.cfg.MinNotional)
	}
	return nil
}

// Update refreshes the equity-derived state. The first call seeds the
// initial, day-start and peak equity; afterwards the peak only ratchets up.
func (m *Manager) Update(equity, dailyPnL float64, tradesToday int) {
	if m.initialEquity == 0 && equity > 0 {
		m.initialEquity = equity
		m.dayStartEquity = equity
		m.peakEquity = equity
		m.lastResetDate = dateOnly(m.now())
	}

	m.currentEquity = equity
	m.dailyPnL = dailyPnL
	m.tradesToday = tradesToday

	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.peakEquity > 0 {
		m.drawdown = (m.peakEquity - m.currentEquity) / m.peakEquity
	}
	if m.drawdown < 0 {
		m.drawdown = 0
	}
}

// RecordTrade registers a closed trade's realized pnl: it maintains the
// losing streak and appends the trade's return to the ring buffer. The daily
// trade count is owned by the controller and arrives through Update.
func (m *Manager) RecordTrade(pnl float64) {
	m.totalTrades++

	if pnl < 0 {
		m.consecutiveLosses++
		m.log.Warnf("losing trade recorded: pnl=%.2f streak=%d", pnl, m.consecutiveLosses)
	} else {
		m.consecutiveLosses = 0
	}

	if m.currentEquity > 0 {
		m.returns = append(m.returns, pnl/m.currentEquity)
		if len(m.returns) > returnWindow {
			m.returns = m.returns[len(m.returns)-returnWindow:]
		}
	}
}

// RecentSharpe estimates the Sharpe ratio over the return window, scaled by
// sqrt(100). Returns 0 with fewer than 5 samples or a zero-variance sample.
func (m *Manager) RecentSharpe() float64 {
	if len(m.returns) < minSharpeSamples {
		return 0
	}

	var sum float64
	for _, r := range m.returns {
		sum += r
	}
	mean := sum / float64(len(m.returns))

	var sqSum float64
	for _, r := range m.returns {
		d := r - mean
		sqSum += d * d
	}
	std := math.Sqrt(sqSum / float64(len(m.returns)))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(100)
}

// Snapshot returns the current risk metrics.
func (m *Manager) Snapshot() Metrics {
	return Metrics{
		CurrentEquity:     m.currentEquity,
		PeakEquity:        m.peakEquity,
		DailyPnL:          m.dailyPnL,
		Drawdown:          m.drawdown,
		ConsecutiveLosses: m.consecutiveLosses,
		TradesToday:       m.tradesToday,
		TotalTrades:       m.totalTrades,
		RecentSharpe:      m.RecentSharpe(),
	}
}

// maybeResetDaily clears the daily counters once the wall-clock date has
// advanced past the last reset.
func (m *Manager) maybeResetDaily() {
	today := dateOnly(m.now())
	if m.lastResetDate.IsZero() {
		m.lastResetDate = today
		return
	}
	if today.After(m.lastResetDate) {
		m.log.Infof("daily risk reset: pnl=%.2f trades=%d", m.dailyPnL, m.tradesToday)
		m.dailyPnL = 0
		m.tradesToday = 0
		m.dayStartEquity = m.currentEquity
		m.lastResetDate = today
	}
}

func dateOnly(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}
