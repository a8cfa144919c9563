package catalog

import (
	"context"

	"github.com/patrickwarner/recserve/internal/models"
)

// MemoryService answers catalog queries from an in-memory catalog snapshot.
type MemoryService struct {
	store models.CatalogStore
	rnd   Rand
}

var _ QueryService = (*MemoryService)(nil)

// NewMemoryService returns a MemoryService over store. A nil rnd uses DefaultRand.
func NewMemoryService(store models.CatalogStore, rnd Rand) *MemoryService {
	if rnd == nil {
		rnd = DefaultRand()
	}
	return &MemoryService{store: store, rnd: rnd}
}

// candidates returns every product of the brand matching the filter and not
// excluded. The returned slice is owned by the caller.
func (m *MemoryService) candidates(ctx context.Context, filter models.ProductFilter, exclude *models.ExclusionSet) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Product
	for _, p := range m.store.GetProductsByBrand(filter.Brand) {
		if filter.Matches(p, exclude) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryService) QueryBySuperCategory(ctx context.Context, brand, category string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	cands, err := m.candidates(ctx, models.ProductFilter{Brand: brand, SuperCategory: category}, exclude)
	if err != nil {
		return nil, err
	}
	return drawFromPool(cands, poolSize, m.rnd), nil
}

func (m *MemoryService) QueryBySuperAndCategory(ctx context.Context, brand, category, subCategory string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	cands, err := m.candidates(ctx, models.ProductFilter{Brand: brand, SuperCategory: category, Category: subCategory}, exclude)
	if err != nil {
		return nil, err
	}
	return drawFromPool(cands, poolSize, m.rnd), nil
}

func (m *MemoryService) QueryRandomProducts(ctx context.Context, brand string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error) {
	cands, err := m.candidates(ctx, models.ProductFilter{Brand: brand}, exclude)
	if err != nil {
		return nil, err
	}
	return sampleProducts(cands, sampleSize, m.rnd), nil
}

func (m *MemoryService) QueryRandomProductsInCategory(ctx context.Context, brand, category string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error) {
	cands, err := m.candidates(ctx, models.ProductFilter{Brand: brand, SuperCategory: category}, exclude)
	if err != nil {
		return nil, err
	}
	return sampleProducts(cands, sampleSize, m.rnd), nil
}

// QueryGiftCardProduct returns the most sold matching gift card.
func (m *MemoryService) QueryGiftCardProduct(ctx context.Context, brand string, exclude *models.ExclusionSet) (*models.Product, error) {
	cands, err := m.candidates(ctx, models.ProductFilter{Brand: brand, NameContains: GiftCardName}, exclude)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}
	rankByPopularity(cands)
	return &cands[0], nil
}
