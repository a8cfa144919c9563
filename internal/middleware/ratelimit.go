package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/ratelimit"
)

// ClientKeyFunc derives the rate limit key for a request.
type ClientKeyFunc func(r *http.Request) string

// ClientKeys returns a ClientKeyFunc keyed on the remote IP. X-Forwarded-For
// is only honoured when the connection comes from a trusted proxy; the key is
// then the right-most forwarded address that is not itself a trusted proxy.
func ClientKeys(trustedProxies []string) ClientKeyFunc {
	trusted := make(map[string]bool, len(trustedProxies))
	for _, p := range trustedProxies {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			trusted[ip.String()] = true
		}
	}
	return func(r *http.Request) string {
		remote := remoteIP(r)
		if !trusted[remote] {
			return remote
		}
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			if !trusted[ip.String()] {
				return ip.String()
			}
		}
		return remote
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// RateLimit rejects requests with 429 once the client's bucket is empty.
func RateLimit(limiter *ratelimit.ClientLimiter, endpoint string, clientKey ClientKeyFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !limiter.Allow(key, endpoint) {
				LoggerFromRequest(r, logger).Debug("rate limited",
					zap.String("client", key),
					zap.String("endpoint", endpoint))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"status":  "fail",
					"message": "rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
