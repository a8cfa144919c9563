package observability

import (
	"math/rand"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultServiceName names the logger and traces when no override is configured.
const DefaultServiceName = "recserve"

// InitLogger constructs a production zap.Logger for the service at the level
// derived from env and logLevel. The logger is installed as the global logger.
func InitLogger(serviceName, env, logLevel string) (*zap.Logger, error) {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return InitLoggerWithLevel(ParseLogLevel(env, logLevel), serviceName)
}

// InitLoggerWithLevel constructs a zap.Logger at the provided level.
// The returned logger is named with the service name and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	// Field names match what the log shipper expects
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// ParseLogLevel resolves the log level. An explicit level wins; otherwise
// development environments log at debug and everything else at info.
func ParseLogLevel(env, logLevel string) zapcore.Level {
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		return zap.DebugLevel
	case "INFO":
		return zap.InfoLevel
	case "WARN":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	}
	switch strings.ToLower(env) {
	case "development", "dev":
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}

var (
	samplingMutex sync.Mutex
	samplingStats = make(map[float64]SamplingStats)
)

type SamplingStats struct {
	Total   int64
	Sampled int64
}

// ShouldSample reports whether a high-volume log line should be emitted at
// the given rate (0.0 to 1.0) and tracks how many lines were kept.
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}

	sampled := rand.Float64() < rate

	samplingMutex.Lock()
	stats := samplingStats[rate]
	stats.Total++
	if sampled {
		stats.Sampled++
	}
	samplingStats[rate] = stats
	samplingMutex.Unlock()

	return sampled
}

// SamplingRateFor returns the request log sampling rate for an environment.
func SamplingRateFor(env string) float64 {
	switch strings.ToLower(env) {
	case "development", "dev":
		return 1.0
	case "staging", "test":
		return 0.5
	default:
		return 0.1
	}
}

// GetSamplingStats returns a copy of the sampling statistics.
func GetSamplingStats() map[float64]SamplingStats {
	samplingMutex.Lock()
	defer samplingMutex.Unlock()

	result := make(map[float64]SamplingStats, len(samplingStats))
	for rate, stats := range samplingStats {
		result[rate] = stats
	}
	return result
}

// LogSamplingStats logs the current sampling statistics and resets them.
func LogSamplingStats(logger *zap.Logger) {
	samplingMutex.Lock()
	stats := samplingStats
	samplingStats = make(map[float64]SamplingStats)
	samplingMutex.Unlock()

	for rate, stat := range stats {
		if stat.Total == 0 {
			continue
		}
		logger.Info("sampling stats",
			zap.Float64("target_rate", rate),
			zap.Float64("actual_rate", float64(stat.Sampled)/float64(stat.Total)),
			zap.Int64("total_logs", stat.Total),
			zap.Int64("sampled_logs", stat.Sampled),
		)
	}
}
