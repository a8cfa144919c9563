package catalog

import (
	"sort"

	"github.com/patrickwarner/recserve/internal/models"
)

// rankByPopularity sorts products by Sold descending. Ties are broken by id so
// the filter/sort/limit part of a draw stays deterministic.
func rankByPopularity(products []models.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Sold != products[j].Sold {
			return products[i].Sold > products[j].Sold
		}
		return products[i].ID < products[j].ID
	})
}

// drawFromPool ranks candidates, keeps the poolSize most popular and returns
// one of them uniformly at random. nil is returned for an empty candidate set.
func drawFromPool(candidates []models.Product, poolSize int, rnd Rand) *models.Product {
	if len(candidates) == 0 {
		return nil
	}
	rankByPopularity(candidates)
	if poolSize > 0 && len(candidates) > poolSize {
		candidates = candidates[:poolSize]
	}
	p := candidates[rnd.Intn(len(candidates))]
	return &p
}

// sampleProducts returns up to n distinct products in random order.
func sampleProducts(candidates []models.Product, n int, rnd Rand) []models.Product {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	rnd.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}
