package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recserve_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// products returned per list (fbt, also_like)
	RecommendationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_recommendations_total",
			Help: "Total products recommended per list",
		},
		[]string{"list"},
	)

	// products added by backfill per list
	BackfillCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_backfill_products_total",
			Help: "Total products added by random backfill per list",
		},
		[]string{"list"},
	)

	// gift card pinning outcomes (pinned, reclaimed, missing)
	GiftCardPins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_gift_card_pins_total",
			Help: "Gift card pinning outcomes",
		},
		[]string{"outcome"},
	)

	// anchors whose category has no FBT policy
	UnknownCategoryCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recserve_unknown_category_total",
			Help: "Requests whose anchor category has no FBT policy",
		},
	)

	// number of events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_events_total",
			Help: "Total events recorded",
		},
		[]string{"type"},
	)

	// catalog query latency per operation and outcome
	CatalogQueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recserve_catalog_query_duration_seconds",
			Help:    "Duration of catalog queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	// catalog reloads by status
	CatalogReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_catalog_reloads_total",
			Help: "Total catalog reloads",
		},
		[]string{"status"},
	)

	// products held by the in-memory catalog
	CatalogSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recserve_catalog_products",
			Help: "Number of products in the loaded catalog",
		},
	)

	// circuit breaker state (0 closed, 1 half-open, 2 open)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recserve_circuit_breaker_state",
			Help: "Circuit breaker state per breaker",
		},
		[]string{"name"},
	)

	// rate limit hits per endpoint
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_ratelimit_hits_total",
			Help: "Total rate limited requests per endpoint",
		},
		[]string{"endpoint"},
	)

	// rate limit checks per endpoint
	RateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_ratelimit_requests_total",
			Help: "Total rate limit checks per endpoint",
		},
		[]string{"endpoint"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		RecommendationCount,
		BackfillCount,
		GiftCardPins,
		UnknownCategoryCount,
		EventCount,
		CatalogQueryLatency,
		CatalogReloads,
		CatalogSize,
		CircuitBreakerState,
		RateLimitHits,
		RateLimitRequests,
	)
}
