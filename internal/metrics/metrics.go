// Package metrics registers the engine's Prometheus collectors on the default
// registry. Collectors are package-level so any component can record without
// plumbing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flasharb_cycles_total",
			Help: "Monitoring cycles by outcome (ok, snapshot_error, oracle_error)",
		},
		[]string{"outcome"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flasharb_cycle_duration_seconds",
			Help:    "Wall-clock duration of a monitoring cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	PoolsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flasharb_pools_skipped_total",
			Help: "Snapshot pools rejected during price extraction, by reason",
		},
		[]string{"reason"},
	)

	PricePoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flasharb_price_points",
			Help: "Price points extracted in the last cycle",
		},
	)

	Opportunities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flasharb_opportunities",
			Help: "Opportunities found in the last cycle",
		},
	)

	BestNetProfitUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flasharb_best_net_profit_usd",
			Help: "Net profit of the top-ranked opportunity in the last cycle",
		},
	)

	GasCostUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flasharb_gas_cost_usd",
			Help: "Estimated gas cost of one execution at the last cycle's gas price",
		},
	)

	OracleFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flasharb_oracle_fallbacks_total",
			Help: "Cost oracle fallbacks by input (gas, native_price)",
		},
		[]string{"input"},
	)

	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flasharb_gate_decisions_total",
			Help: "Execution gate decisions by verdict and reason",
		},
		[]string{"verdict", "reason"},
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flasharb_dispatch_outcomes_total",
			Help: "Dispatch terminal states by status",
		},
		[]string{"status"},
	)

	ChannelSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flasharb_channel_submissions_total",
			Help: "Broadcast attempts by channel and result (accepted, duplicate, error)",
		},
		[]string{"channel", "result"},
	)

	IngestPools = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flasharb_ingest_pools",
			Help: "Pools fetched per venue in the last ingestion run",
		},
		[]string{"venue"},
	)
)
