// Package metrics registers the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsEvaluated counts gauntlet entries that produced an audit
	// outcome, labelled fired or rejected. Silent skips are not counted.
	SignalsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "signals_evaluated_total",
		Help:      "Gauntlet outcomes by result.",
	}, []string{"outcome"})

	// SignalRejections counts rejections by stable reason code.
	SignalRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "signal_rejections_total",
		Help:      "Gauntlet rejections by reason code.",
	}, []string{"reason"})

	// OrdersPlaced counts entry orders submitted to the broker.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "orders_placed_total",
		Help:      "Entry orders submitted, by trade mode.",
	}, []string{"mode", "side"})

	// PositionsClosed counts closed positions by exit reason.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "positions_closed_total",
		Help:      "Positions closed, by exit reason.",
	}, []string{"reason"})

	// OpenPositions is the monitor's current tracked-position count.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalystbot",
		Name:      "open_positions",
		Help:      "Positions currently under monitor management.",
	})

	// RealizedPnLToday mirrors today's realized P&L as reported by status.
	RealizedPnLToday = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalystbot",
		Name:      "realized_pnl_today_usd",
		Help:      "Realized P&L since local midnight in USD.",
	})

	// StrategyRecomputes counts strategy engine recompute runs.
	StrategyRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "strategy_recomputes_total",
		Help:      "Strategy recompute runs.",
	})

	// StreamReconnects counts upstream stream reconnects by stream name.
	StreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "stream_reconnects_total",
		Help:      "Upstream stream reconnect events.",
	}, []string{"stream"})
)
