// Package metrics exposes the gateway's Prometheus metrics. Collectors are
// registered once at init and shared by all components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AdmissionsTotal counts admission outcomes by result and denial reason.
	// Approved admissions carry an empty reason.
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_admissions_total",
			Help: "Order admissions by outcome and denial reason.",
		},
		[]string{"outcome", "reason"},
	)

	// RateLimitDecisions counts rate limiter verdicts by scope.
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_decisions_total",
			Help: "Rate limiter decisions by scope and verdict.",
		},
		[]string{"scope", "verdict"},
	)

	// DedupReservations counts fingerprint reservation outcomes.
	DedupReservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_dedup_reservations_total",
			Help: "Fingerprint reservation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// StoreDegraded is 1 while a shared store is unreachable and the named
	// component is serving from its local fallback.
	StoreDegraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_store_degraded",
			Help: "Whether a component is running on its in-memory fallback store.",
		},
		[]string{"component"},
	)

	// BrokerSubmissions counts broker submission results.
	BrokerSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_broker_submissions_total",
			Help: "Broker submissions by result.",
		},
		[]string{"result"},
	)

	// BrokerLatency observes broker round-trip time in seconds.
	BrokerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_broker_latency_seconds",
			Help:    "Broker submission round-trip latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(
		AdmissionsTotal,
		RateLimitDecisions,
		DedupReservations,
		StoreDegraded,
		BrokerSubmissions,
		BrokerLatency,
	)
}
