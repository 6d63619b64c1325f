// Package metrics exposes the bot's Prometheus instrumentation. Collectors
// are registered at init time and shared process-wide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_signals_total",
		Help: "Entry signals emitted by the recognizer.",
	}, []string{"symbol", "direction"})

	RejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_risk_rejections_total",
		Help: "Signals rejected by the risk gate.",
	}, []string{"reason"})

	OrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_orders_total",
		Help: "Bracket order submissions by terminal status.",
	}, []string{"status"})

	ClosedTradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_closed_trades_total",
		Help: "Trades closed, by outcome leg.",
	}, []string{"outcome"})

	AccountEquity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_account_equity_dollars",
		Help: "Last observed account equity.",
	})

	OpenTrades = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_open_trades",
		Help: "Trades currently holding a risk slot.",
	})

	TradingHalted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_trading_halted",
		Help: "1 while the daily loss limit halt is latched.",
	})

	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bot_scan_duration_seconds",
		Help:    "Wall time of one full symbol scan cycle.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		SignalsTotal,
		RejectionsTotal,
		OrdersTotal,
		ClosedTradesTotal,
		AccountEquity,
		OpenTrades,
		TradingHalted,
		ScanDuration,
	)
}

// Handler returns the HTTP handler serving the registered collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}
