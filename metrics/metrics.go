// Package metrics instruments the engine with Prometheus, grounded on
// poorman-SynapseStrike/SynapseStrike/metrics/metrics.go's
// promauto.With(Registry) idiom.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is a dedicated registry rather than the global default, so
// /metrics only ever exposes this engine's own series.
var Registry = prometheus.NewRegistry()

var (
	TicksReceived = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortbreak",
		Subsystem: "feed",
		Name:      "ticks_received_total",
		Help:      "Ticks received from the market-data feed, per token.",
	}, []string{"token"})

	FeedReconnects = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "shortbreak",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Tick session reconnect attempts.",
	})

	EligibilityRuns = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortbreak",
		Subsystem: "eligibility",
		Name:      "runs_total",
		Help:      "Eligibility classification runs, by outcome.",
	}, []string{"outcome"})

	EligibleStocks = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "shortbreak",
		Subsystem: "eligibility",
		Name:      "eligible_stocks",
		Help:      "Count of eligible stocks from the last classification run.",
	})

	OrdersPlaced = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "shortbreak",
		Subsystem: "trading",
		Name:      "orders_placed_total",
		Help:      "Orders placed, by transaction type and reason.",
	}, []string{"transaction_type", "reason"})

	PositionPnL = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "shortbreak",
		Subsystem: "trading",
		Name:      "position_pnl",
		Help:      "Unrealized PnL of the current open position.",
	})

	EngineStatus = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shortbreak",
		Subsystem: "engine",
		Name:      "status",
		Help:      "1 for the current engine status, 0 otherwise.",
	}, []string{"status"})
)
