package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
)

// ErrCatalogUnavailable is returned while the circuit breaker is open and
// catalog queries are being shed.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// BreakerConfig configures the catalog circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests allowed while half-open
	Interval         time.Duration // closed-state count reset period
	Timeout          time.Duration // open duration before probing
	FailureThreshold uint32        // consecutive failures that open the circuit
}

// BreakerService guards a QueryService with a circuit breaker so a failing
// backend is shed quickly instead of timing out every request.
type BreakerService struct {
	next QueryService
	cb   *gobreaker.CircuitBreaker[any]
}

var _ QueryService = (*BreakerService)(nil)

// NewBreakerService wraps next. State transitions are logged and exported
// through metrics.
func NewBreakerService(next QueryService, cfg BreakerConfig, logger *zap.Logger, metrics observability.MetricsRegistry) *BreakerService {
	if cfg.Name == "" {
		cfg.Name = "catalog"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	metrics.SetCircuitBreakerState(cfg.Name, int(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("catalog circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetCircuitBreakerState(name, int(to))
		},
		// A caller giving up is not a backend failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerService{next: next, cb: cb}
}

// State returns the current breaker state.
func (b *BreakerService) State() gobreaker.State {
	return b.cb.State()
}

func guarded[T any](b *BreakerService, fn func() (T, error)) (T, error) {
	var zero T
	v, err := b.cb.Execute(func() (any, error) {
		res, err := fn()
		return res, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

func (b *BreakerService) QueryBySuperCategory(ctx context.Context, brand, category string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	return guarded(b, func() (*models.Product, error) {
		return b.next.QueryBySuperCategory(ctx, brand, category, exclude, poolSize)
	})
}

func (b *BreakerService) QueryBySuperAndCategory(ctx context.Context, brand, category, subCategory string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	return guarded(b, func() (*models.Product, error) {
		return b.next.QueryBySuperAndCategory(ctx, brand, category, subCategory, exclude, poolSize)
	})
}

func (b *BreakerService) QueryRandomProducts(ctx context.Context, brand string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error) {
	return guarded(b, func() ([]models.Product, error) {
		return b.next.QueryRandomProducts(ctx, brand, sampleSize, exclude)
	})
}

func (b *BreakerService) QueryRandomProductsInCategory(ctx context.Context, brand, category string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error) {
	return guarded(b, func() ([]models.Product, error) {
		return b.next.QueryRandomProductsInCategory(ctx, brand, category, sampleSize, exclude)
	})
}

func (b *BreakerService) QueryGiftCardProduct(ctx context.Context, brand string, exclude *models.ExclusionSet) (*models.Product, error) {
	return guarded(b, func() (*models.Product, error) {
		return b.next.QueryGiftCardProduct(ctx, brand, exclude)
	})
}
