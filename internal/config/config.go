package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Catalog backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds application configuration derived from environment variables.
type Config struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	// Upper bound on recording served items after a response is computed
	RecordTimeout  time.Duration
	Env            string
	LogLevel       string
	ServiceName    string
	DebugTrace     bool

	PostgresDSN      string
	RedisAddr        string
	ClickHouseDSN    string
	AnalyticsEnabled bool

	// Catalog serving
	CatalogBackend string
	ReloadInterval time.Duration

	// Per-client rate limiting
	RateLimitEnabled    bool
	RateLimitCapacity   int
	RateLimitRefillRate int
	// Proxies whose X-Forwarded-For header is believed
	TrustedProxies []string

	// Catalog circuit breaker
	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
	BreakerInterval         time.Duration
	BreakerHalfOpenRequests int

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// ClickHouse connection pooling configuration
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.RequestTimeout = envDuration("REQUEST_TIMEOUT", 2*time.Second)
	cfg.RecordTimeout = envDuration("RECORD_TIMEOUT", 250*time.Millisecond)
	cfg.Env = getenv("ENV", "production")
	cfg.LogLevel = getenv("LOG_LEVEL", "")
	cfg.ServiceName = getenv("SERVICE_NAME", "recserve")
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)

	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.AnalyticsEnabled = envBool("ANALYTICS_ENABLED", false)

	cfg.CatalogBackend = getenv("CATALOG_BACKEND", BackendMemory)
	// default to 30 seconds between automatic reloads
	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitCapacity = envInt("RATE_LIMIT_CAPACITY", 100)
	cfg.RateLimitRefillRate = envInt("RATE_LIMIT_REFILL_RATE", 10)
	cfg.TrustedProxies = envList("TRUSTED_PROXIES")

	cfg.BreakerEnabled = envBool("BREAKER_ENABLED", true)
	cfg.BreakerFailureThreshold = envInt("BREAKER_FAILURE_THRESHOLD", 5)
	cfg.BreakerTimeout = envDuration("BREAKER_TIMEOUT", 30*time.Second)
	cfg.BreakerInterval = envDuration("BREAKER_INTERVAL", time.Minute)
	cfg.BreakerHalfOpenRequests = envInt("BREAKER_HALF_OPEN_REQUESTS", 1)

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 20)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 5)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.CatalogBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("%w: CATALOG_BACKEND %q (want %s or %s)", ErrInvalidConfig, c.CatalogBackend, BackendMemory, BackendPostgres)
	}
	if c.RateLimitEnabled && (c.RateLimitCapacity <= 0 || c.RateLimitRefillRate <= 0) {
		return fmt.Errorf("%w: rate limit capacity and refill rate must be positive", ErrInvalidConfig)
	}
	if c.BreakerEnabled && c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("%w: BREAKER_FAILURE_THRESHOLD must be positive", ErrInvalidConfig)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: REQUEST_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.RecordTimeout <= 0 {
		return fmt.Errorf("%w: RECORD_TIMEOUT must be positive", ErrInvalidConfig)
	}
	return nil
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	if i, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}

// envList splits a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(item); v != "" {
			out = append(out, v)
		}
	}
	return out
}
