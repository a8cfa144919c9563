package recommend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/recserve/internal/models"
)

func TestDefaultPolicies(t *testing.T) {
	table := DefaultPolicies()

	assert.Equal(t, []string{
		models.CategoryAccessories, models.CategoryClassicCakes, models.CategoryCustomised,
		models.CategoryPastries, models.CategorySeasonal,
	}, table.Categories())

	for _, category := range table.Categories() {
		p, ok := table.Lookup(category)
		require.True(t, ok, category)
		assert.Len(t, p.FBT, 3, category)
		assert.Equal(t, AlsoLikeTarget, p.AlsoLikeSampleSize, category)
	}

	p, ok := table.Lookup("classic cakes")
	assert.True(t, ok, "lookup is case-insensitive")
	assert.Len(t, p.FBT, 3)

	p, ok = table.Lookup("Gift Hampers")
	assert.False(t, ok)
	assert.Empty(t, p.FBT)
	assert.Equal(t, AlsoLikeTarget, p.AlsoLikeSampleSize)
}

func TestPolicyTable_Describe(t *testing.T) {
	desc := DefaultPolicies().Describe()
	assert.Equal(t, []string{
		"1: super(Seasonal)/<anchor>",
		"2: super(Seasonal)/<anchor>",
		"3: super(Pastries)",
	}, desc[models.CategorySeasonal])
	assert.Equal(t,
		"3: super(Pastries) | super(Accessories)/Fondant | super(Accessories)/Candles",
		desc[models.CategoryCustomised][2])
}

func TestFallbackChain_StopsAtFirstHit(t *testing.T) {
	q := &fakeCatalog{
		bySuperAnd: func(_, sub string, _ *models.ExclusionSet) *models.Product {
			if sub == SubCategoryFondant {
				return ptr(prod("fondant", models.CategoryAccessories, sub))
			}
			return nil
		},
	}
	chain := FallbackChain{
		Primary: BySuperCategory{models.CategoryPastries},
		Fallbacks: []Step{
			BySuperAndCategory{models.CategoryAccessories, SubCategoryFondant},
			BySuperAndCategory{models.CategoryAccessories, SubCategoryCandles},
		},
	}

	p, err := chain.Run(context.Background(), q, StepInput{Brand: testBrand, Exclude: models.NewExclusionSet("anchor")})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "fondant", p.ID)
	assert.Equal(t, []string{"super", "super_and"}, q.ops())
}

func TestTryCategoryListInOrder_Exhausted(t *testing.T) {
	q := &fakeCatalog{}
	step := TryCategoryListInOrder{models.CategoryCustomised, []string{"A", "B"}}

	p, err := step.Run(context.Background(), q, StepInput{Brand: testBrand})
	require.NoError(t, err)
	assert.Nil(t, p)
	require.Len(t, q.calls, 2)
	assert.Equal(t, "A", q.calls[0].sub)
	assert.Equal(t, "B", q.calls[1].sub)
}
