package recommend

import (
	"strconv"

	"github.com/patrickwarner/recserve/internal/models"
)

// List sizes.
const (
	FBTTarget      = 3
	AlsoLikeTarget = 10
)

// List names used in metrics, analytics and counters.
const (
	ListFBT      = "fbt"
	ListAlsoLike = "also_like"
)

// Result is the recommendation for one anchor. Both lists are in assignment
// order, never contain the anchor and never share a product.
type Result struct {
	FBT      []models.Product `json:"fbt"`
	AlsoLike []models.Product `json:"alsoLike"`
	// Brand is the brand filter the lists were drawn from.
	Brand string `json:"-"`
}

// assemble caps also-like at its target size. FBT is bounded by
// construction and never truncated.
func assemble(fbt, alsoLike []models.Product, tr *Trace) *Result {
	dropped := 0
	if len(alsoLike) > AlsoLikeTarget {
		dropped = len(alsoLike) - AlsoLikeTarget
		alsoLike = alsoLike[:AlsoLikeTarget]
	}
	if fbt == nil {
		fbt = []models.Product{}
	}
	if alsoLike == nil {
		alsoLike = []models.Product{}
	}
	tr.AddStepWithDetails(StageCap, alsoLike, map[string]string{
		"fbt":       strconv.Itoa(len(fbt)),
		"also_like": strconv.Itoa(len(alsoLike)),
		"dropped":   strconv.Itoa(dropped),
	})
	return &Result{FBT: fbt, AlsoLike: alsoLike}
}

// accept appends p when it is not excluded and records it in the exclusion
// set. It reports whether p was added.
func accept(list []models.Product, p *models.Product, exclude *models.ExclusionSet) ([]models.Product, bool) {
	if p == nil || exclude.Contains(p.ID) {
		return list, false
	}
	exclude.Add(p.ID)
	return append(list, *p), true
}

func indexOf(list []models.Product, id string) int {
	for i, p := range list {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(list []models.Product, i int) []models.Product {
	out := make([]models.Product, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}

func prepend(list []models.Product, p models.Product) []models.Product {
	out := make([]models.Product, 0, len(list)+1)
	out = append(out, p)
	return append(out, list...)
}
