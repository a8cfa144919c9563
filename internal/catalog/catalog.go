// Package catalog answers the bounded, filtered, randomly sampled candidate
// lookups the recommender issues against the product catalog.
//
// Every lookup is implicitly restricted to active, available products of one
// brand and never returns a product whose id is in the caller's exclusion set.
package catalog

import (
	"context"
	"math/rand"

	"github.com/patrickwarner/recserve/internal/models"
)

// Pool sizes used by the popularity-bounded draws.
const (
	DefaultPoolSize = 20
	WidePoolSize    = 40
)

// GiftCardName is the case-insensitive name fragment identifying gift cards.
const GiftCardName = "gift card"

// QueryService is the read-only catalog surface consumed by the recommender.
// Implementations must be safe for concurrent use by independent requests.
// A nil product or empty slice with a nil error means "no candidate".
type QueryService interface {
	// QueryBySuperCategory draws one product from the poolSize most sold
	// products of a top-level category.
	QueryBySuperCategory(ctx context.Context, brand, category string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error)
	// QueryBySuperAndCategory is QueryBySuperCategory further restricted to a
	// sub-category.
	QueryBySuperAndCategory(ctx context.Context, brand, category, subCategory string, exclude *models.ExclusionSet, poolSize int) (*models.Product, error)
	// QueryRandomProducts returns up to sampleSize distinct random products
	// from the whole brand catalog.
	QueryRandomProducts(ctx context.Context, brand string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error)
	// QueryRandomProductsInCategory returns up to sampleSize distinct random
	// products of a top-level category.
	QueryRandomProductsInCategory(ctx context.Context, brand, category string, sampleSize int, exclude *models.ExclusionSet) ([]models.Product, error)
	// QueryGiftCardProduct returns one product whose name contains "gift card".
	QueryGiftCardProduct(ctx context.Context, brand string, exclude *models.ExclusionSet) (*models.Product, error)
}

// Rand is the random source used for pool draws and samples. *rand.Rand
// satisfies it; tests inject a seeded one.
type Rand interface {
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

// globalRand uses the goroutine-safe top-level math/rand functions.
type globalRand struct{}

func (globalRand) Intn(n int) int                     { return rand.Intn(n) }
func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// DefaultRand returns a random source that is safe for concurrent use.
func DefaultRand() Rand {
	return globalRand{}
}
