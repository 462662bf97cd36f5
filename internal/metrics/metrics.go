package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the dispatcher core. promauto registers them on the
// default registry; the admin service exposes that registry on /metrics.
var (
	RequestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_submitted_total",
			Help: "Requests accepted into the priority queue.",
		},
		[]string{"priority"},
	)

	RequestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_completed_total",
			Help: "Requests that reached the completed state.",
		},
		[]string{"provider"},
	)

	RequestsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_failed_total",
			Help: "Requests that failed terminally (retry budget exhausted or marked no-retry).",
		},
		[]string{"provider"},
	)

	RequestsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_requests_cancelled_total",
			Help: "Requests cancelled by external callers.",
		},
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_retries_total",
			Help: "Requeue transitions after a failed attempt.",
		},
		[]string{"provider"},
	)

	NoProvider = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_no_provider_total",
			Help: "Dispatch attempts that found no provider candidate.",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Requests waiting in the priority queue.",
		},
		[]string{"priority"},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_inflight",
			Help: "Requests currently processing (admitted, not yet released).",
		},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_provider_latency_seconds",
			Help:    "Observed latency of successful provider calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ProviderSuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_provider_success_rate",
			Help: "Rolling success rate per provider, in [0,1].",
		},
		[]string{"provider"},
	)

	Evicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_requests_evicted_total",
			Help: "Terminal requests evicted from tracking by retention.",
		},
	)
)
