package recommend

import (
	"context"
	"fmt"

	"github.com/patrickwarner/recserve/internal/models"
)

// Gift card pinning outcomes.
const (
	GiftCardPinned    = "pinned"
	GiftCardReclaimed = "reclaimed"
	GiftCardMissing   = "missing"
)

// pinGiftCard puts a gift card at alsoLike[0]. When the catalog has no
// unexcluded gift card, one already placed by the seed or by an FBT step is
// moved to the front instead; a slot freed in FBT is refilled by backfill.
func (e *Engine) pinGiftCard(ctx context.Context, brand string, fbt, alsoLike []models.Product, exclude *models.ExclusionSet, tr *Trace) ([]models.Product, []models.Product, error) {
	gc, err := e.catalog.QueryGiftCardProduct(ctx, brand, exclude)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: gift card: %w", ErrCatalogQuery, err)
	}

	outcome := GiftCardMissing
	var pinned []models.Product
	switch {
	case gc != nil && !exclude.Contains(gc.ID):
		if i := indexOf(alsoLike, gc.ID); i >= 0 {
			alsoLike = removeAt(alsoLike, i)
		}
		alsoLike = prepend(alsoLike, *gc)
		exclude.Add(gc.ID)
		outcome = GiftCardPinned
		pinned = alsoLike[:1]
	default:
		if i := indexGiftCard(alsoLike); i >= 0 {
			p := alsoLike[i]
			alsoLike = prepend(removeAt(alsoLike, i), p)
			outcome = GiftCardReclaimed
			pinned = alsoLike[:1]
		} else if i := indexGiftCard(fbt); i >= 0 {
			p := fbt[i]
			fbt = removeAt(fbt, i)
			alsoLike = prepend(alsoLike, p)
			outcome = GiftCardReclaimed
			pinned = alsoLike[:1]
		}
	}

	e.metrics.IncrementGiftCardPins(outcome)
	tr.AddStepWithDetails(StageGiftCard, pinned, map[string]string{"outcome": outcome})
	return fbt, alsoLike, nil
}

func indexGiftCard(list []models.Product) int {
	for i, p := range list {
		if p.IsGiftCard() {
			return i
		}
	}
	return -1
}
