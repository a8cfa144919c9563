package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// so components never touch the global Prometheus collectors directly.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Recommendation metrics
	AddRecommendations(list string, count int)
	AddBackfill(list string, count int)
	IncrementGiftCardPins(outcome string)
	IncrementUnknownCategory()

	// Event tracking metrics
	IncrementEvent(eventType string)

	// Catalog metrics
	RecordCatalogQuery(operation, outcome string, duration time.Duration)
	IncrementCatalogReloads(status string)
	SetCatalogSize(products int)
	SetCircuitBreakerState(name string, state int)

	// Rate limiting metrics
	IncrementRateLimitRequests(endpoint string)
	IncrementRateLimitHits(endpoint string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Recommendation metrics
func (r *PrometheusRegistry) AddRecommendations(list string, count int) {
	RecommendationCount.WithLabelValues(list).Add(float64(count))
}

func (r *PrometheusRegistry) AddBackfill(list string, count int) {
	BackfillCount.WithLabelValues(list).Add(float64(count))
}

func (r *PrometheusRegistry) IncrementGiftCardPins(outcome string) {
	GiftCardPins.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementUnknownCategory() {
	UnknownCategoryCount.Inc()
}

// Event tracking metrics
func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

// Catalog metrics
func (r *PrometheusRegistry) RecordCatalogQuery(operation, outcome string, duration time.Duration) {
	CatalogQueryLatency.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementCatalogReloads(status string) {
	CatalogReloads.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) SetCatalogSize(products int) {
	CatalogSize.Set(float64(products))
}

func (r *PrometheusRegistry) SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitRequests(endpoint string) {
	RateLimitRequests.WithLabelValues(endpoint).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(endpoint string) {
	RateLimitHits.WithLabelValues(endpoint).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

// HTTP Request metrics
func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

// Recommendation metrics
func (r *NoOpRegistry) AddRecommendations(list string, count int) {}
func (r *NoOpRegistry) AddBackfill(list string, count int)        {}
func (r *NoOpRegistry) IncrementGiftCardPins(outcome string)      {}
func (r *NoOpRegistry) IncrementUnknownCategory()                 {}

// Event tracking metrics
func (r *NoOpRegistry) IncrementEvent(eventType string) {}

// Catalog metrics
func (r *NoOpRegistry) RecordCatalogQuery(operation, outcome string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementCatalogReloads(status string)                                 {}
func (r *NoOpRegistry) SetCatalogSize(products int)                                           {}
func (r *NoOpRegistry) SetCircuitBreakerState(name string, state int)                         {}

// Rate limiting metrics
func (r *NoOpRegistry) IncrementRateLimitRequests(endpoint string) {}
func (r *NoOpRegistry) IncrementRateLimitHits(endpoint string)     {}
