package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
)

func newTestEngine(q *fakeCatalog, products ...models.Product) *Engine {
	store := models.NewTestCatalogStore(products...)
	return NewEngine(q, StoreAnchors{Store: store}, nil, nil, nil)
}

func TestRecommend_AnchorNotFoundIssuesNoQueries(t *testing.T) {
	q := &fakeCatalog{}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	res, err := e.Recommend(context.Background(), Request{ProductID: "missing"})
	assert.ErrorIs(t, err, ErrAnchorNotFound)
	assert.Nil(t, res)
	assert.Empty(t, q.calls)

	_, err = e.Recommend(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrAnchorNotFound)
	assert.Empty(t, q.calls)
}

type brokenAnchors struct{}

func (brokenAnchors) GetProduct(context.Context, string) (*models.Product, error) {
	return nil, errors.New("connection refused")
}

func TestRecommend_AnchorLookupFailure(t *testing.T) {
	q := &fakeCatalog{}
	e := NewEngine(q, brokenAnchors{}, nil, nil, nil)

	_, err := e.Recommend(context.Background(), Request{ProductID: "cake"})
	assert.ErrorIs(t, err, ErrCatalogQuery)
	assert.NotErrorIs(t, err, ErrAnchorNotFound)
	assert.Empty(t, q.calls)
}

func TestRecommend_PipelineOrder(t *testing.T) {
	pastries := []models.Product{prod("p1", models.CategoryPastries, ""), prod("p2", models.CategoryPastries, ""), prod("p3", models.CategoryPastries, "")}
	q := &fakeCatalog{
		bySuper: func(_ string, ex *models.ExclusionSet) *models.Product { return firstFree(pastries, ex) },
	}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	_, err := e.Recommend(context.Background(), Request{ProductID: "cake"})
	require.NoError(t, err)
	// FBT is full so FBT backfill issues no query
	assert.Equal(t, []string{"super", "super", "super", "random_in", "gift", "random"}, q.ops())
}

func TestRecommend_StepsSeeEarlierPicks(t *testing.T) {
	pastries := []models.Product{prod("p1", models.CategoryPastries, ""), prod("p2", models.CategoryPastries, ""), prod("p3", models.CategoryPastries, "")}
	q := &fakeCatalog{
		bySuper: func(_ string, ex *models.ExclusionSet) *models.Product { return firstFree(pastries, ex) },
	}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	res, err := e.Recommend(context.Background(), Request{ProductID: "cake"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids(res.FBT))

	steps := q.callsOf("super")
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"cake"}, steps[0].excluded)
	assert.Equal(t, []string{"cake", "p1"}, steps[1].excluded)
	assert.Equal(t, []string{"cake", "p1", "p2"}, steps[2].excluded)
	for _, c := range steps {
		assert.Equal(t, models.CategoryPastries, c.category)
		assert.Equal(t, 20, c.pool)
	}
}

func TestRecommend_EmptyStepIsNotRetried(t *testing.T) {
	calls := 0
	q := &fakeCatalog{
		bySuper: func(_ string, _ *models.ExclusionSet) *models.Product {
			calls++
			if calls == 1 {
				return ptr(prod("p1", models.CategoryPastries, ""))
			}
			return nil
		},
		random: func(n int, ex *models.ExclusionSet) []models.Product {
			return freeProducts([]models.Product{prod("r1", "", ""), prod("r2", "", ""), prod("r3", "", "")}, n, ex)
		},
	}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	res, err := e.Recommend(context.Background(), Request{ProductID: "cake"})
	require.NoError(t, err)
	assert.Len(t, q.callsOf("super"), 3, "loop runs exactly len(steps) times")
	assert.Equal(t, []string{"p1", "r1", "r2"}, ids(res.FBT))

	backfill := q.callsOf("random")[0]
	assert.Equal(t, 2, backfill.n)
	assert.Equal(t, []string{"cake", "p1"}, backfill.excluded)
}

func TestRecommend_DuplicateStepResultSkipped(t *testing.T) {
	// a misbehaving catalog returning the same product every time
	q := &fakeCatalog{
		bySuper: func(string, *models.ExclusionSet) *models.Product { return ptr(prod("p1", models.CategoryPastries, "")) },
	}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	res, tr, err := e.RecommendWithTrace(context.Background(), Request{ProductID: "cake"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids(res.FBT))

	steps := tr.Stage(StageFBTStep)
	require.Len(t, steps, 3)
	assert.Equal(t, "hit", steps[0].Details["outcome"])
	assert.Equal(t, "duplicate", steps[1].Details["outcome"])
	assert.Equal(t, "duplicate", steps[2].Details["outcome"])
}

func TestRecommend_CustomisedPolicy(t *testing.T) {
	q := &fakeCatalog{
		bySuperAnd: func(category, sub string, ex *models.ExclusionSet) *models.Product {
			if category == models.CategoryCustomised && sub == SubCategoryMiniCustomised && !ex.Contains("mini") {
				return ptr(prod("mini", models.CategoryCustomised, sub))
			}
			if category == models.CategoryAccessories && sub == SubCategoryCandles {
				return ptr(prod("candle", models.CategoryAccessories, sub))
			}
			return nil
		},
	}
	e := newTestEngine(q, prod("custom", models.CategoryCustomised, "Tiered"))

	res, err := e.Recommend(context.Background(), Request{ProductID: "custom"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mini", "candle"}, ids(res.FBT))

	var subs []string
	for _, c := range q.calls {
		switch c.op {
		case "super_and":
			subs = append(subs, c.category+"/"+c.sub)
			if c.category == models.CategoryCustomised {
				assert.Equal(t, 40, c.pool)
			} else {
				assert.Equal(t, 20, c.pool)
			}
		case "super":
			subs = append(subs, c.category)
		}
	}
	assert.Equal(t, []string{
		// slot 1 stops at the first hit
		"Customised/Bento", "Customised/Mini Customised",
		// slot 2 walks the rotated list
		"Customised/Mini Customised", "Customised/Customised Cupcakes", "Customised/Bento",
		// slot 3 fallback chain
		"Pastries", "Accessories/Fondant", "Accessories/Candles",
	}, subs)
}

func TestRecommend_SeasonalUsesAnchorSubCategory(t *testing.T) {
	q := &fakeCatalog{}
	e := newTestEngine(q, prod("yule", models.CategorySeasonal, "Christmas"))

	_, err := e.Recommend(context.Background(), Request{ProductID: "yule"})
	require.NoError(t, err)

	steps := q.callsOf("super_and")
	require.Len(t, steps, 2)
	for _, c := range steps {
		assert.Equal(t, models.CategorySeasonal, c.category)
		assert.Equal(t, "Christmas", c.sub)
	}
	require.Len(t, q.callsOf("super"), 1)
	assert.Equal(t, models.CategoryPastries, q.callsOf("super")[0].category)
}

func TestRecommend_SeasonalWithoutSubCategory(t *testing.T) {
	q := &fakeCatalog{}
	e := newTestEngine(q, prod("yule", models.CategorySeasonal, ""))

	_, err := e.Recommend(context.Background(), Request{ProductID: "yule"})
	require.NoError(t, err)
	assert.Empty(t, q.callsOf("super_and"))
	assert.Len(t, q.callsOf("super"), 1)
}

func TestRecommend_UnknownCategory(t *testing.T) {
	tests := []struct {
		name      string
		anchor    models.Product
		wantSeeds int
	}{
		{"unrecognized category", prod("mug", "Merchandise", ""), 1},
		{"no category", prod("mystery", "", ""), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeCatalog{
				random: func(n int, ex *models.ExclusionSet) []models.Product {
					return freeProducts([]models.Product{prod("r1", "", ""), prod("r2", "", ""), prod("r3", "", "")}, n, ex)
				},
			}
			metrics := observability.NewMockMetricsRegistry()
			e := NewEngine(q, StoreAnchors{Store: models.NewTestCatalogStore(tt.anchor)}, nil, nil, metrics)

			res, err := e.Recommend(context.Background(), Request{ProductID: tt.anchor.ID})
			require.NoError(t, err)
			assert.Empty(t, q.callsOf("super"))
			assert.Empty(t, q.callsOf("super_and"))
			assert.Len(t, q.callsOf("random_in"), tt.wantSeeds)
			assert.Equal(t, []string{"r1", "r2", "r3"}, ids(res.FBT))
			assert.Equal(t, 1, metrics.Counter("unknown_category"))
		})
	}
}

func TestRecommend_CatalogErrorAbortsRequest(t *testing.T) {
	boom := errors.New("statement timeout")
	for _, op := range []string{"super", "random_in", "gift", "random"} {
		t.Run(op, func(t *testing.T) {
			pastries := []models.Product{prod("p1", models.CategoryPastries, "")}
			q := &fakeCatalog{
				bySuper: func(_ string, ex *models.ExclusionSet) *models.Product { return firstFree(pastries, ex) },
				failOp:  op,
				err:     boom,
			}
			e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

			res, err := e.Recommend(context.Background(), Request{ProductID: "cake"})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrCatalogQuery)
			assert.ErrorIs(t, err, boom)
			assert.NotErrorIs(t, err, ErrAnchorNotFound)
		})
	}
}

func TestRecommend_FailureInLaterFBTStep(t *testing.T) {
	boom := errors.New("deadline exceeded")
	pastries := []models.Product{prod("p1", models.CategoryPastries, ""), prod("p2", models.CategoryPastries, "")}
	q := &fakeCatalog{
		bySuper:   func(_ string, ex *models.ExclusionSet) *models.Product { return firstFree(pastries, ex) },
		failOp:    "super",
		failAfter: 1,
		err:       boom,
	}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	res, err := e.Recommend(context.Background(), Request{ProductID: "cake"})
	assert.Nil(t, res, "no partial results")
	assert.ErrorIs(t, err, boom)
	assert.Len(t, q.calls, 2)
}

func TestRecommend_BrandOverride(t *testing.T) {
	q := &fakeCatalog{}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	res, err := e.Recommend(context.Background(), Request{ProductID: "cake", Brand: "patisserie"})
	require.NoError(t, err)
	assert.Equal(t, "patisserie", res.Brand)
	require.NotEmpty(t, q.calls)
	for _, c := range q.calls {
		assert.Equal(t, "patisserie", c.brand)
	}

	q.calls = nil
	res, err = e.Recommend(context.Background(), Request{ProductID: "cake"})
	require.NoError(t, err)
	assert.Equal(t, testBrand, res.Brand)
	for _, c := range q.calls {
		assert.Equal(t, testBrand, c.brand)
	}
}

func TestRecommend_GiftCardPinnedFirst(t *testing.T) {
	gc := giftCard("gc")
	q := &fakeCatalog{
		randomIn: func(_ string, n int, ex *models.ExclusionSet) []models.Product {
			return freeProducts([]models.Product{prod("c2", models.CategoryClassicCakes, ""), prod("c3", models.CategoryClassicCakes, "")}, n, ex)
		},
		gift: func(ex *models.ExclusionSet) *models.Product { return firstFree([]models.Product{gc}, ex) },
	}
	metrics := observability.NewMockMetricsRegistry()
	e := NewEngine(q, StoreAnchors{Store: models.NewTestCatalogStore(prod("cake", models.CategoryClassicCakes, ""))}, nil, nil, metrics)

	res, err := e.Recommend(context.Background(), Request{ProductID: "cake"})
	require.NoError(t, err)
	// c3 is borrowed into the empty FBT list, the pinned card stays put
	assert.Equal(t, "gc", res.AlsoLike[0].ID)
	assert.Equal(t, 1, metrics.Counter("gift_card:"+GiftCardPinned))

	// gift card is excluded for every later query
	for _, c := range q.callsOf("random") {
		assert.Contains(t, c.excluded, "gc")
	}
}

func TestRecommend_GiftCardReclaimedFromSeed(t *testing.T) {
	gc := giftCard("gc")
	seed := []models.Product{prod("a1", models.CategoryAccessories, ""), prod("a2", models.CategoryAccessories, ""), gc}
	q := &fakeCatalog{
		randomIn: func(_ string, n int, ex *models.ExclusionSet) []models.Product { return freeProducts(seed, n, ex) },
		gift:     func(ex *models.ExclusionSet) *models.Product { return firstFree([]models.Product{gc}, ex) },
		random: func(n int, ex *models.ExclusionSet) []models.Product {
			return freeProducts([]models.Product{prod("r1", "", ""), prod("r2", "", ""), prod("r3", "", ""), prod("r4", "", "")}, n, ex)
		},
	}
	metrics := observability.NewMockMetricsRegistry()
	e := NewEngine(q, StoreAnchors{Store: models.NewTestCatalogStore(prod("bow", models.CategoryAccessories, ""))}, nil, nil, metrics)

	res, err := e.Recommend(context.Background(), Request{ProductID: "bow"})
	require.NoError(t, err)
	requireInvariants(t, "bow", res)
	assert.Equal(t, "gc", res.AlsoLike[0].ID)
	assert.Equal(t, []string{"gc", "a1", "a2", "r4"}, ids(res.AlsoLike))
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(res.FBT))
	assert.Equal(t, 1, metrics.Counter("gift_card:"+GiftCardReclaimed))
}

func TestRecommend_GiftCardReclaimedFromFBT(t *testing.T) {
	gc := giftCard("gc")
	q := &fakeCatalog{
		// the Accessories step draws the gift card
		bySuper: func(category string, ex *models.ExclusionSet) *models.Product {
			if category == models.CategoryAccessories {
				return firstFree([]models.Product{gc}, ex)
			}
			return nil
		},
		gift: func(ex *models.ExclusionSet) *models.Product { return firstFree([]models.Product{gc}, ex) },
		random: func(n int, ex *models.ExclusionSet) []models.Product {
			return freeProducts([]models.Product{prod("r1", "", ""), prod("r2", "", ""), prod("r3", "", "")}, n, ex)
		},
	}
	e := newTestEngine(q, prod("bow", models.CategoryAccessories, ""))

	res, err := e.Recommend(context.Background(), Request{ProductID: "bow"})
	require.NoError(t, err)
	requireInvariants(t, "bow", res)
	assert.Equal(t, "gc", res.AlsoLike[0].ID)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(res.FBT))
}

func TestRecommend_GiftCardAnchorNotPinned(t *testing.T) {
	gc := giftCard("gc")
	q := &fakeCatalog{
		gift: func(ex *models.ExclusionSet) *models.Product { return firstFree([]models.Product{gc}, ex) },
	}
	e := newTestEngine(q, gc)

	res, err := e.Recommend(context.Background(), Request{ProductID: "gc"})
	require.NoError(t, err)
	requireInvariants(t, "gc", res)
	assert.Empty(t, res.AlsoLike)
}

func TestRecommend_AlsoLikeCappedAfterPin(t *testing.T) {
	var seed []models.Product
	for _, id := range []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9"} {
		seed = append(seed, prod(id, models.CategoryClassicCakes, ""))
	}
	pastries := []models.Product{prod("p1", models.CategoryPastries, ""), prod("p2", models.CategoryPastries, ""), prod("p3", models.CategoryPastries, "")}
	gc := giftCard("gc")
	q := &fakeCatalog{
		bySuper:  func(_ string, ex *models.ExclusionSet) *models.Product { return firstFree(pastries, ex) },
		randomIn: func(_ string, n int, ex *models.ExclusionSet) []models.Product { return freeProducts(seed, n, ex) },
		gift:     func(ex *models.ExclusionSet) *models.Product { return firstFree([]models.Product{gc}, ex) },
	}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	res, tr, err := e.RecommendWithTrace(context.Background(), Request{ProductID: "cake"})
	require.NoError(t, err)
	requireInvariants(t, "cake", res)
	assert.Len(t, res.AlsoLike, AlsoLikeTarget)
	assert.Equal(t, "gc", res.AlsoLike[0].ID)
	assert.Equal(t, "s8", res.AlsoLike[9].ID)
	assert.Empty(t, q.callsOf("random"), "full lists need no backfill")

	caps := tr.Stage(StageCap)
	require.Len(t, caps, 1)
	assert.Equal(t, "1", caps[0].Details["dropped"])
}

func TestRecommendWithTrace_Stages(t *testing.T) {
	q := &fakeCatalog{}
	e := newTestEngine(q, prod("cake", models.CategoryClassicCakes, ""))

	_, tr, err := e.RecommendWithTrace(context.Background(), Request{ProductID: "cake"})
	require.NoError(t, err)

	var stages []string
	for _, s := range tr.Steps {
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []string{
		StageAnchor, StageFBTStep, StageFBTStep, StageFBTStep,
		StageAlsoLikeSeed, StageGiftCard, StageFBTBackfill, StageAlsoLikeBackfill, StageCap,
	}, stages)
	assert.Equal(t, GiftCardMissing, tr.Stage(StageGiftCard)[0].Details["outcome"])
}
