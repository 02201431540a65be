// Package metrics registers the Prometheus series the engine exposes on
// /metrics. Adapted from the teacher's metrics.go (package-level
// prometheus.New*Vec declarations, registered in init(), with small setter
// helpers) from the spot-bot's order/decision counters to this module's
// running-trade/balance/sync-lag domain.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RunningTrades = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_running_trades",
			Help: "Currently running trades by side.",
		},
		[]string{"side"},
	)

	BalanceSats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_balance_sats",
			Help: "Current session balance in satoshis.",
		},
	)

	RealizedPLSats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_realized_pl_sats",
			Help: "Cumulative realized PnL in satoshis.",
		},
	)

	FundingFeesSats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_funding_fees_sats",
			Help: "Cumulative funding fees paid (positive) or received (negative), in satoshis.",
		},
	)

	TradesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Trades closed, split by side and result.",
		},
		[]string{"side", "result"}, // result: win|loss
	)

	// SyncLagSeconds reports the gap since the last observed price tick,
	// for alerting ahead of the sync engine's own staleness failure.
	SyncLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_sync_lag_seconds",
			Help: "Seconds since the last price tick observed by the sync engine.",
		},
	)

	// SyncStatus mirrors sync.StatusKind as a labeled indicator series
	// (one gauge per status, flipped 0/1), the same pattern the teacher
	// uses for bot_model_mode.
	SyncStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_sync_status",
			Help: "Sync engine status indicator (one labeled series per status, set to 1 when active).",
		},
		[]string{"status"},
	)

	// ExecutorStatus mirrors executor.LiveStatus the same way.
	ExecutorStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_executor_status",
			Help: "Live trade executor status indicator (one labeled series per status, set to 1 when active).",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		RunningTrades,
		BalanceSats,
		RealizedPLSats,
		FundingFeesSats,
		TradesClosedTotal,
		SyncLagSeconds,
		SyncStatus,
		ExecutorStatus,
	)
}

// SetSyncStatus flips the labeled series for name to 1 and every other
// known status to 0, mirroring the teacher's SetModelModeMetric.
func SetSyncStatus(active string, known []string) {
	for _, s := range known {
		if s == active {
			SyncStatus.WithLabelValues(s).Set(1)
		} else {
			SyncStatus.WithLabelValues(s).Set(0)
		}
	}
}

// SetExecutorStatus flips the labeled series the same way.
func SetExecutorStatus(active string, known []string) {
	for _, s := range known {
		if s == active {
			ExecutorStatus.WithLabelValues(s).Set(1)
		} else {
			ExecutorStatus.WithLabelValues(s).Set(0)
		}
	}
}

// RecordTradeClosed increments the closed-trade counter for side/result
// and updates the balance/PL/funding gauges in one call, so a caller
// doesn't have to touch four metrics individually.
func RecordTradeClosed(side, result string, balanceSats uint64, realizedPL, fundingFees int64) {
	TradesClosedTotal.WithLabelValues(side, result).Inc()
	BalanceSats.Set(float64(balanceSats))
	RealizedPLSats.Set(float64(realizedPL))
	FundingFeesSats.Set(float64(fundingFees))
}
