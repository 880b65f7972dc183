// Package monitoring exposes the bot's operational state: Prometheus metrics
// and a JSON health endpoint. Collectors live on an injected registry so
// tests and multiple bot instances never fight over process-wide state.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal   prometheus.Counter
	TradesTotal   *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	Equity        prometheus.Gauge
	Drawdown      prometheus.Gauge
	Price         prometheus.Gauge
	PositionSize  prometheus.Gauge
	CycleDuration prometheus.Histogram
}

// NewMetrics creates and registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Completed trading cycles.",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Executed trades by direction.",
		}, []string{"direction"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_errors_total",
			Help: "Errors by kind.",
		}, []string{"kind"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Current account equity.",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_drawdown_fraction",
			Help: "Fractional drawdown from peak equity.",
		}),
		Price: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_last_price",
			Help: "Last observed close price.",
		}),
		PositionSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_position_size",
			Help: "Open position size in base units, 0 when flat.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_cycle_duration_seconds",
			Help:    "Trading cycle wall time.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.CyclesTotal, m.TradesTotal, m.ErrorsTotal,
		m.Equity, m.Drawdown, m.Price, m.PositionSize, m.CycleDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
