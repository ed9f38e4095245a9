package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockrun_requests_total",
			Help: "Total chat completion requests by outcome",
		},
		[]string{"outcome"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockrun_routing_decisions_total",
			Help: "Routing decisions by tier and profile",
		},
		[]string{"tier", "profile"},
	)

	DedupEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockrun_dedup_events_total",
			Help: "Dedup cache events by state",
		},
		[]string{"state"},
	)

	FallbackAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockrun_fallback_attempts",
			Help:    "Upstream attempts used per dispatched request",
			Buckets: prometheus.LinearBuckets(1, 1, 5),
		},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "blockrun_upstream_latency_seconds",
			Help: "Upstream request latency in seconds",
		},
		[]string{"model"},
	)

	CompressionSavedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockrun_compression_saved_bytes_total",
			Help: "Total request bytes removed by compression",
		},
	)

	EstimatedCost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockrun_cost_estimated_usd_total",
			Help: "Total estimated upstream cost in USD",
		},
	)

	PaymentsSigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockrun_payments_signed_total",
			Help: "Total payment headers signed",
		},
	)
)
