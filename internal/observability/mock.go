package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry is a MetricsRegistry for tests. It records counters
// keyed by "metric:label" so assertions can inspect what was emitted.
type MockMetricsRegistry struct {
	mu       sync.Mutex
	Counters map[string]int
	Gauges   map[string]int
}

// NewMockMetricsRegistry returns an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{Counters: map[string]int{}, Gauges: map[string]int{}}
}

func (m *MockMetricsRegistry) add(key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Counters == nil {
		m.Counters = map[string]int{}
	}
	m.Counters[key] += n
}

func (m *MockMetricsRegistry) set(key string, v int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Gauges == nil {
		m.Gauges = map[string]int{}
	}
	m.Gauges[key] = v
}

// Counter returns the recorded value of a counter.
func (m *MockMetricsRegistry) Counter(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[key]
}

// Gauge returns the last value set on a gauge.
func (m *MockMetricsRegistry) Gauge(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Gauges[key]
}

// HTTP Request metrics
func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.add("requests:"+endpoint+":"+status, 1)
}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

// Recommendation metrics
func (m *MockMetricsRegistry) AddRecommendations(list string, count int) {
	m.add("recommendations:"+list, count)
}
func (m *MockMetricsRegistry) AddBackfill(list string, count int) { m.add("backfill:"+list, count) }
func (m *MockMetricsRegistry) IncrementGiftCardPins(outcome string) {
	m.add("gift_card:"+outcome, 1)
}
func (m *MockMetricsRegistry) IncrementUnknownCategory() { m.add("unknown_category", 1) }

// Event tracking metrics
func (m *MockMetricsRegistry) IncrementEvent(eventType string) { m.add("event:"+eventType, 1) }

// Catalog metrics
func (m *MockMetricsRegistry) RecordCatalogQuery(operation, outcome string, duration time.Duration) {
	m.add("catalog_query:"+operation+":"+outcome, 1)
}
func (m *MockMetricsRegistry) IncrementCatalogReloads(status string) {
	m.add("catalog_reload:"+status, 1)
}
func (m *MockMetricsRegistry) SetCatalogSize(products int) { m.set("catalog_size", products) }
func (m *MockMetricsRegistry) SetCircuitBreakerState(name string, state int) {
	m.set("breaker:"+name, state)
}

// Rate limiting metrics
func (m *MockMetricsRegistry) IncrementRateLimitRequests(endpoint string) {
	m.add("ratelimit_requests:"+endpoint, 1)
}
func (m *MockMetricsRegistry) IncrementRateLimitHits(endpoint string) {
	m.add("ratelimit_hits:"+endpoint, 1)
}
