package catalog

import (
	"context"

	"github.com/patrickwarner/recserve/internal/models"
)

// ProductQuerier runs filtered product queries against the catalog database.
// *db.Postgres implements it.
type ProductQuerier interface {
	TopProducts(ctx context.Context, filter models.ProductFilter, limit int) ([]models.Product, error)
	RandomProducts(ctx context.Context, filter models.ProductFilter, limit int) ([]models.Product, error)
}

// PostgresService answers catalog queries with SQL. The popularity pool is
// selected by the database; the uniform draw from it happens here so the
// random source stays injectable.
type PostgresService struct {
	q   ProductQuerier
	rnd Rand
}

var _ QueryService = (*PostgresService)(nil)

// NewPostgresService returns a PostgresService. A nil rnd uses DefaultRand.
func NewPostgresService(q ProductQuerier, rnd Rand) *PostgresService {
	if rnd == nil {
		rnd = DefaultRand()
	}
	return &PostgresService{q: q, rnd: rnd}
}

func (s *PostgresService) drawPopular(ctx context.Context, filter models.ProductFilter, poolSize int) (*models.Product, error) {
	pool, err := s.q.TopProducts(ctx, filter, poolSize)
	if err != nil {
		return nil, err
	}
	return drawFromPool(pool, poolSize, s.rnd), nil
}

func (s *PostgresService) QueryBySuperCategory(ctx context.Context, brand, category string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	return s.drawPopular(ctx, models.ProductFilter{Brand: brand, SuperCategory: category, ExcludeIDs: exclude.IDs()}, poolSize)
}

func (s *PostgresService) QueryBySuperAndCategory(ctx context.Context, brand, category, subCategory string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	return s.drawPopular(ctx, models.ProductFilter{Brand: brand, SuperCategory: category, Category: subCategory, ExcludeIDs: exclude.IDs()}, poolSize)
}

func (s *PostgresService) QueryRandomProducts(ctx context.Context, brand string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error) {
	if sampleSize <= 0 {
		return nil, nil
	}
	return s.q.RandomProducts(ctx, models.ProductFilter{Brand: brand, ExcludeIDs: exclude.IDs()}, sampleSize)
}

func (s *PostgresService) QueryRandomProductsInCategory(ctx context.Context, brand, category string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error) {
	if sampleSize <= 0 {
		return nil, nil
	}
	return s.q.RandomProducts(ctx, models.ProductFilter{Brand: brand, SuperCategory: category, ExcludeIDs: exclude.IDs()}, sampleSize)
}

func (s *PostgresService) QueryGiftCardProduct(ctx context.Context, brand string, exclude *models.ExclusionSet) (*models.Product, error) {
	rows, err := s.q.TopProducts(ctx, models.ProductFilter{Brand: brand, NameContains: GiftCardName, ExcludeIDs: exclude.IDs()}, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}
