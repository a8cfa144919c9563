// Package ratelimit implements per-client rate limiting for the
// recommendation endpoints.
//
// Each client gets its own golang.org/x/time/rate limiter, which allows
// bursts up to Capacity while holding the client to RefillRate requests per
// second.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/patrickwarner/recserve/internal/observability"
)

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int  // burst allowance
	RefillRate int  // sustained requests per second
	Enabled    bool // whether rate limiting is active
}

// clientEntry wraps a client's limiter with its last access time and counters.
type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	hits       int64 // requests rejected
	total      int64 // requests checked
}

// ClientLimiter keeps one rate.Limiter per client key, created lazily on
// first access.
//
//	limiter := NewClientLimiter(Config{Capacity: 100, RefillRate: 10, Enabled: true}, metrics)
//	if !limiter.Allow("203.0.113.7", "fbt_also_like") {
//	    // reply 429
//	}
type ClientLimiter struct {
	clients map[string]*clientEntry
	mu      sync.Mutex
	config  Config
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewClientLimiter creates a limiter with the given configuration.
func NewClientLimiter(config Config, metrics observability.MetricsRegistry) *ClientLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &ClientLimiter{
		clients: make(map[string]*clientEntry),
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// Enabled reports whether requests are being limited.
func (l *ClientLimiter) Enabled() bool {
	return l != nil && l.config.Enabled
}

// Allow reports whether the client may make another request. endpoint only
// labels metrics. A disabled limiter allows everything.
func (l *ClientLimiter) Allow(clientKey, endpoint string) bool {
	if !l.Enabled() {
		return true
	}
	l.metrics.IncrementRateLimitRequests(endpoint)

	now := l.now()
	l.mu.Lock()
	entry, exists := l.clients[clientKey]
	if !exists {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(l.config.RefillRate), l.config.Capacity),
		}
		l.clients[clientKey] = entry
	}
	entry.lastAccess = now
	entry.total++
	allowed := entry.limiter.AllowN(now, 1)
	if !allowed {
		entry.hits++
	}
	l.mu.Unlock()

	if !allowed {
		l.metrics.IncrementRateLimitHits(endpoint)
	}
	return allowed
}

// Sweep drops clients idle for longer than maxIdle and returns how many were
// removed. The server calls it periodically so one-off clients do not
// accumulate.
func (l *ClientLimiter) Sweep(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, entry := range l.clients {
		if entry.lastAccess.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// GetStats returns a snapshot of per-client statistics.
func (l *ClientLimiter) GetStats() map[string]RateLimitStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := make(map[string]RateLimitStats, len(l.clients))
	for key, entry := range l.clients {
		hitRate := 0.0
		if entry.total > 0 {
			hitRate = float64(entry.hits) / float64(entry.total)
		}
		stats[key] = RateLimitStats{Client: key, Hits: entry.hits, Total: entry.total, HitRate: hitRate}
	}
	return stats
}

// RateLimitStats contains rate limiting statistics for one client.
type RateLimitStats struct {
	Client  string  `json:"client"`
	Hits    int64   `json:"hits"`     // rejected requests
	Total   int64   `json:"total"`    // checked requests
	HitRate float64 `json:"hit_rate"` // 0.0-1.0
}

func (s RateLimitStats) String() string {
	return fmt.Sprintf("client %s: %d/%d hits (%.2f%%)", s.Client, s.Hits, s.Total, s.HitRate*100)
}
