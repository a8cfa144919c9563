package recommend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/recserve/internal/models"
)

const testBrand = "bakery"

func prod(id, super, category string) models.Product {
	p := models.Product{ID: id, Brand: testBrand, Name: "Item " + id, Active: true, Available: true}
	if super != "" {
		p.SuperCategories = []string{super}
	}
	if category != "" {
		p.Categories = []string{category}
	}
	return p
}

func giftCard(id string) models.Product {
	p := prod(id, models.CategoryAccessories, "Gift Cards")
	p.Name = "Gift Card — SGD 50"
	return p
}

func ptr(p models.Product) *models.Product { return &p }

type call struct {
	op       string
	brand    string
	category string
	sub      string
	pool     int
	n        int
	excluded []string
}

// fakeCatalog records every query with a snapshot of the exclusion set and
// answers from the configured functions. Unset functions return nothing.
type fakeCatalog struct {
	calls      []call
	bySuper    func(category string, exclude *models.ExclusionSet) *models.Product
	bySuperAnd func(category, sub string, exclude *models.ExclusionSet) *models.Product
	random     func(n int, exclude *models.ExclusionSet) []models.Product
	randomIn   func(category string, n int, exclude *models.ExclusionSet) []models.Product
	gift       func(exclude *models.ExclusionSet) *models.Product
	failOp     string
	failAfter  int
	err        error
}

func (f *fakeCatalog) record(c call, exclude *models.ExclusionSet) error {
	c.excluded = exclude.IDs()
	f.calls = append(f.calls, c)
	if f.failOp == c.op || f.failOp == "*" {
		if f.failAfter > 0 {
			f.failAfter--
			return nil
		}
		return f.err
	}
	return nil
}

func (f *fakeCatalog) QueryBySuperCategory(_ context.Context, brand, category string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	if err := f.record(call{op: "super", brand: brand, category: category, pool: poolSize}, exclude); err != nil {
		return nil, err
	}
	if f.bySuper == nil {
		return nil, nil
	}
	return f.bySuper(category, exclude), nil
}

func (f *fakeCatalog) QueryBySuperAndCategory(_ context.Context, brand, category, sub string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error) {
	if err := f.record(call{op: "super_and", brand: brand, category: category, sub: sub, pool: poolSize}, exclude); err != nil {
		return nil, err
	}
	if f.bySuperAnd == nil {
		return nil, nil
	}
	return f.bySuperAnd(category, sub, exclude), nil
}

func (f *fakeCatalog) QueryRandomProducts(_ context.Context, brand string, n int, exclude *models.ExclusionSet) ([]models.Product, error) {
	if err := f.record(call{op: "random", brand: brand, n: n}, exclude); err != nil {
		return nil, err
	}
	if f.random == nil {
		return nil, nil
	}
	return f.random(n, exclude), nil
}

func (f *fakeCatalog) QueryRandomProductsInCategory(_ context.Context, brand, category string, n int, exclude *models.ExclusionSet) ([]models.Product, error) {
	if err := f.record(call{op: "random_in", brand: brand, category: category, n: n}, exclude); err != nil {
		return nil, err
	}
	if f.randomIn == nil {
		return nil, nil
	}
	return f.randomIn(category, n, exclude), nil
}

func (f *fakeCatalog) QueryGiftCardProduct(_ context.Context, brand string, exclude *models.ExclusionSet) (*models.Product, error) {
	if err := f.record(call{op: "gift", brand: brand}, exclude); err != nil {
		return nil, err
	}
	if f.gift == nil {
		return nil, nil
	}
	return f.gift(exclude), nil
}

func (f *fakeCatalog) ops() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return out
}

func (f *fakeCatalog) callsOf(op string) []call {
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// firstFree returns the first product of list that is not excluded.
func firstFree(list []models.Product, exclude *models.ExclusionSet) *models.Product {
	for _, p := range list {
		if !exclude.Contains(p.ID) {
			return ptr(p)
		}
	}
	return nil
}

// freeProducts returns up to n products of list that are not excluded.
func freeProducts(list []models.Product, n int, exclude *models.ExclusionSet) []models.Product {
	var out []models.Product
	for _, p := range list {
		if len(out) == n {
			break
		}
		if !exclude.Contains(p.ID) {
			out = append(out, p)
		}
	}
	return out
}

func ids(list []models.Product) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}

// requireInvariants checks the properties every result must satisfy.
func requireInvariants(t *testing.T, anchorID string, res *Result) {
	t.Helper()
	require.NotNil(t, res)
	assert.LessOrEqual(t, len(res.FBT), FBTTarget)
	assert.LessOrEqual(t, len(res.AlsoLike), AlsoLikeTarget)

	seen := map[string]string{}
	for list, products := range map[string][]models.Product{ListFBT: res.FBT, ListAlsoLike: res.AlsoLike} {
		for _, p := range products {
			assert.NotEqual(t, anchorID, p.ID, "anchor in %s", list)
			if prev, ok := seen[p.ID]; ok {
				t.Errorf("product %s appears in %s and %s", p.ID, prev, list)
			}
			seen[p.ID] = list
		}
	}
}
