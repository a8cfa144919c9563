package recommend

import (
	"context"
	"fmt"
	"strconv"

	"github.com/patrickwarner/recserve/internal/models"
)

// sampler returns up to n random products not in the exclusion set.
type sampler func(ctx context.Context, n int, exclude *models.ExclusionSet) ([]models.Product, error)

// topUp appends sampled products until list reaches target or the sampler
// runs dry. Every added product is recorded in the exclusion set.
func topUp(ctx context.Context, list []models.Product, target int, exclude *models.ExclusionSet, sample sampler) ([]models.Product, int, error) {
	added := 0
	for len(list) < target {
		need := target - len(list)
		got, err := sample(ctx, need, exclude)
		if err != nil {
			return list, added, err
		}
		round := 0
		for i := range got {
			if len(list) >= target {
				break
			}
			var ok bool
			if list, ok = accept(list, &got[i], exclude); ok {
				round++
			}
		}
		added += round
		// a short or fully rejected sample means the catalog is exhausted
		if round == 0 || len(got) < need {
			break
		}
	}
	return list, added, nil
}

// seedAlsoLike draws the same-category random sample that starts the
// also-like list. Anchors without a top-level category get no seed.
func (e *Engine) seedAlsoLike(ctx context.Context, brand, category string, size int, exclude *models.ExclusionSet, tr *Trace) ([]models.Product, error) {
	if category == "" || size <= 0 {
		tr.AddStepWithDetails(StageAlsoLikeSeed, nil, map[string]string{"skipped": "no category"})
		return nil, nil
	}
	sample, err := e.catalog.QueryRandomProductsInCategory(ctx, brand, category, size, exclude)
	if err != nil {
		return nil, fmt.Errorf("%w: also-like seed: %w", ErrCatalogQuery, err)
	}
	var seed []models.Product
	for i := range sample {
		if len(seed) >= size {
			break
		}
		seed, _ = accept(seed, &sample[i], exclude)
	}
	tr.AddStepWithDetails(StageAlsoLikeSeed, seed, map[string]string{"category": category})
	return seed, nil
}

// backfillFBT fills missing FBT slots from the whole brand catalog. When the
// catalog is exhausted, products are moved over from the tail of also-like so
// FBT stays full; a pinned gift card at alsoLike[0] is never taken.
func (e *Engine) backfillFBT(ctx context.Context, brand string, fbt, alsoLike []models.Product, exclude *models.ExclusionSet, tr *Trace) ([]models.Product, []models.Product, error) {
	fbt, added, err := topUp(ctx, fbt, FBTTarget, exclude, e.catalogWide(brand))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fbt backfill: %w", ErrCatalogQuery, err)
	}
	borrowed := 0
	for len(fbt) < FBTTarget && len(alsoLike) > 0 {
		last := len(alsoLike) - 1
		if last == 0 && alsoLike[0].IsGiftCard() {
			break
		}
		fbt = append(fbt, alsoLike[last])
		alsoLike = alsoLike[:last]
		borrowed++
	}
	if added > 0 {
		e.metrics.AddBackfill(ListFBT, added)
	}
	tr.AddStepWithDetails(StageFBTBackfill, fbt, map[string]string{
		"added":    strconv.Itoa(added),
		"borrowed": strconv.Itoa(borrowed),
	})
	return fbt, alsoLike, nil
}

// backfillAlsoLike tops up also-like from the whole brand catalog.
func (e *Engine) backfillAlsoLike(ctx context.Context, brand string, alsoLike []models.Product, exclude *models.ExclusionSet, tr *Trace) ([]models.Product, error) {
	alsoLike, added, err := topUp(ctx, alsoLike, AlsoLikeTarget, exclude, e.catalogWide(brand))
	if err != nil {
		return nil, fmt.Errorf("%w: also-like backfill: %w", ErrCatalogQuery, err)
	}
	if added > 0 {
		e.metrics.AddBackfill(ListAlsoLike, added)
	}
	tr.AddStepWithDetails(StageAlsoLikeBackfill, alsoLike, map[string]string{"added": strconv.Itoa(added)})
	return alsoLike, nil
}

func (e *Engine) catalogWide(brand string) sampler {
	return func(ctx context.Context, n int, exclude *models.ExclusionSet) ([]models.Product, error) {
		return e.catalog.QueryRandomProducts(ctx, brand, n, exclude)
	}
}
