package catalog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
)

// Operation names used in metrics and span names.
const (
	OpBySuperCategory        = "by_super_category"
	OpBySuperAndCategory     = "by_super_and_category"
	OpRandomProducts         = "random_products"
	OpRandomProductsCategory = "random_products_in_category"
	OpGiftCard               = "gift_card"
)

// InstrumentedService records latency metrics and a span for every query.
type InstrumentedService struct {
	next    QueryService
	metrics observability.MetricsRegistry
	tracer  trace.Tracer
}

var _ QueryService = (*InstrumentedService)(nil)

func NewInstrumentedService(next QueryService, metrics observability.MetricsRegistry) *InstrumentedService {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &InstrumentedService{next: next, metrics: metrics, tracer: observability.Tracer("catalog")}
}

// observe runs fn inside a span. empty reports whether the result carried no
// candidate so "hit" and "empty" outcomes can be told apart.
func observe[T any](ctx context.Context, s *InstrumentedService, op string, attrs []attribute.KeyValue, empty func(T) bool, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, "catalog."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	outcome := "hit"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case empty(v):
		outcome = "empty"
	}
	span.SetAttributes(attribute.String("catalog.outcome", outcome))
	s.metrics.RecordCatalogQuery(op, outcome, time.Since(start))
	return v, err
}

func noProduct(p *models.Product) bool     { return p == nil }
func noProducts(ps []models.Product) bool { return len(ps) == 0 }

func (s *InstrumentedService) QueryBySuperCategory(ctx context.Context, brand, category string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	attrs := []attribute.KeyValue{
		attribute.String("catalog.brand", brand),
		attribute.String("catalog.category", category),
		attribute.Int("catalog.pool_size", poolSize),
		attribute.Int("catalog.excluded", exclude.Len()),
	}
	return observe(ctx, s, OpBySuperCategory, attrs, noProduct, func(ctx context.Context) (*models.Product, error) {
		return s.next.QueryBySuperCategory(ctx, brand, category, exclude, poolSize)
	})
}

func (s *InstrumentedService) QueryBySuperAndCategory(ctx context.Context, brand, category, subCategory string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	attrs := []attribute.KeyValue{
		attribute.String("catalog.brand", brand),
		attribute.String("catalog.category", category),
		attribute.String("catalog.sub_category", subCategory),
		attribute.Int("catalog.pool_size", poolSize),
		attribute.Int("catalog.excluded", exclude.Len()),
	}
	return observe(ctx, s, OpBySuperAndCategory, attrs, noProduct, func(ctx context.Context) (*models.Product, error) {
		return s.next.QueryBySuperAndCategory(ctx, brand, category, subCategory, exclude, poolSize)
	})
}

func (s *InstrumentedService) QueryRandomProducts(ctx context.Context, brand string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error) {
	attrs := []attribute.KeyValue{
		attribute.String("catalog.brand", brand),
		attribute.Int("catalog.sample_size", sampleSize),
		attribute.Int("catalog.excluded", exclude.Len()),
	}
	return observe(ctx, s, OpRandomProducts, attrs, noProducts, func(ctx context.Context) ([]models.Product, error) {
		return s.next.QueryRandomProducts(ctx, brand, sampleSize, exclude)
	})
}

func (s *InstrumentedService) QueryRandomProductsInCategory(ctx context.Context, brand, category string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error) {
	attrs := []attribute.KeyValue{
		attribute.String("catalog.brand", brand),
		attribute.String("catalog.category", category),
		attribute.Int("catalog.sample_size", sampleSize),
		attribute.Int("catalog.excluded", exclude.Len()),
	}
	return observe(ctx, s, OpRandomProductsCategory, attrs, noProducts, func(ctx context.Context) ([]models.Product, error) {
		return s.next.QueryRandomProductsInCategory(ctx, brand, category, sampleSize, exclude)
	})
}

func (s *InstrumentedService) QueryGiftCardProduct(ctx context.Context, brand string, exclude *models.ExclusionSet) (*models.Product, error) {
	attrs := []attribute.KeyValue{
		attribute.String("catalog.brand", brand),
		attribute.Int("catalog.excluded", exclude.Len()),
	}
	return observe(ctx, s, OpGiftCard, attrs, noProduct, func(ctx context.Context) (*models.Product, error) {
		return s.next.QueryGiftCardProduct(ctx, brand, exclude)
	})
}
