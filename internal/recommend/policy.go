package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/patrickwarner/recserve/internal/catalog"
	"github.com/patrickwarner/recserve/internal/models"
)

// Sub-categories referenced by the merchandising rules.
const (
	SubCategoryBento              = "Bento"
	SubCategoryMiniCustomised     = "Mini Customised"
	SubCategoryCustomisedCupcakes = "Customised Cupcakes"
	SubCategoryFondant            = "Fondant"
	SubCategoryCandles            = "Candles"
)

// StepInput is what a step may read while it runs. Exclude is the live
// exclusion set of the request.
type StepInput struct {
	Anchor  models.Product
	Brand   string
	Exclude *models.ExclusionSet
}

// Step produces at most one FBT candidate. A nil product with a nil error
// means the step found nothing.
type Step interface {
	Run(ctx context.Context, q catalog.QueryService, in StepInput) (*models.Product, error)
	String() string
}

// BySuperCategory draws from the popularity pool of a top-level category.
type BySuperCategory struct {
	Category string
}

func (s BySuperCategory) Run(ctx context.Context, q catalog.QueryService, in StepInput) (*models.Product, error) {
	return q.QueryBySuperCategory(ctx, in.Brand, s.Category, in.Exclude, catalog.DefaultPoolSize)
}

func (s BySuperCategory) String() string {
	return "super(" + s.Category + ")"
}

// BySuperAndCategory draws from the popularity pool of one sub-category of a
// top-level category.
type BySuperAndCategory struct {
	Category    string
	SubCategory string
}

func (s BySuperAndCategory) Run(ctx context.Context, q catalog.QueryService, in StepInput) (*models.Product, error) {
	return q.QueryBySuperAndCategory(ctx, in.Brand, s.Category, s.SubCategory, in.Exclude, catalog.DefaultPoolSize)
}

func (s BySuperAndCategory) String() string {
	return "super(" + s.Category + ")/" + s.SubCategory
}

// BySuperAndAnchorCategory is BySuperAndCategory bound to the anchor's own
// sub-category. An anchor without a sub-category yields nothing and issues no
// query.
type BySuperAndAnchorCategory struct {
	Category string
}

func (s BySuperAndAnchorCategory) Run(ctx context.Context, q catalog.QueryService, in StepInput) (*models.Product, error) {
	sub := in.Anchor.PrimaryCategory()
	if sub == "" {
		return nil, nil
	}
	return q.QueryBySuperAndCategory(ctx, in.Brand, s.Category, sub, in.Exclude, catalog.DefaultPoolSize)
}

func (s BySuperAndAnchorCategory) String() string {
	return "super(" + s.Category + ")/<anchor>"
}

// TryCategoryListInOrder queries each sub-category in order against the wide
// pool and returns the first hit.
type TryCategoryListInOrder struct {
	Category      string
	SubCategories []string
}

func (s TryCategoryListInOrder) Run(ctx context.Context, q catalog.QueryService, in StepInput) (*models.Product, error) {
	for _, sub := range s.SubCategories {
		p, err := q.QueryBySuperAndCategory(ctx, in.Brand, s.Category, sub, in.Exclude, catalog.WidePoolSize)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

func (s TryCategoryListInOrder) String() string {
	return "super(" + s.Category + ")/[" + strings.Join(s.SubCategories, ",") + "]"
}

// FallbackChain runs Primary and then each fallback until one finds a product.
type FallbackChain struct {
	Primary   Step
	Fallbacks []Step
}

func (s FallbackChain) Run(ctx context.Context, q catalog.QueryService, in StepInput) (*models.Product, error) {
	p, err := s.Primary.Run(ctx, q, in)
	if err != nil || p != nil {
		return p, err
	}
	for _, fb := range s.Fallbacks {
		p, err := fb.Run(ctx, q, in)
		if err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}

func (s FallbackChain) String() string {
	parts := []string{s.Primary.String()}
	for _, fb := range s.Fallbacks {
		parts = append(parts, fb.String())
	}
	return strings.Join(parts, " | ")
}

// Policy is the merchandising rule set of one top-level category.
type Policy struct {
	FBT                []Step
	AlsoLikeSampleSize int
}

// PolicyTable maps top-level category names to policies. Lookups are
// case-insensitive. A table is built once and never mutated.
type PolicyTable struct {
	policies map[string]Policy
	order    []string
}

// NewPolicyTable builds a table from category/policy pairs.
func NewPolicyTable(policies map[string]Policy) *PolicyTable {
	t := &PolicyTable{policies: make(map[string]Policy, len(policies))}
	for category, p := range policies {
		t.policies[strings.ToLower(category)] = p
		t.order = append(t.order, category)
	}
	sort.Strings(t.order)
	return t
}

// Lookup returns the policy of category. Unknown categories get a policy
// without FBT steps and ok is false.
func (t *PolicyTable) Lookup(category string) (Policy, bool) {
	p, ok := t.policies[strings.ToLower(category)]
	if !ok {
		return Policy{AlsoLikeSampleSize: AlsoLikeTarget}, false
	}
	return p, true
}

// Categories returns the configured category names in sorted order.
func (t *PolicyTable) Categories() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Describe renders each category's FBT steps, used by diagnostics.
func (t *PolicyTable) Describe() map[string][]string {
	out := make(map[string][]string, len(t.order))
	for _, category := range t.order {
		p := t.policies[strings.ToLower(category)]
		steps := make([]string, 0, len(p.FBT))
		for i, s := range p.FBT {
			steps = append(steps, fmt.Sprintf("%d: %s", i+1, s))
		}
		out[category] = steps
	}
	return out
}

// DefaultPolicies returns the storefront merchandising rules.
func DefaultPolicies() *PolicyTable {
	customised := []string{SubCategoryBento, SubCategoryMiniCustomised, SubCategoryCustomisedCupcakes}
	rotated := []string{SubCategoryMiniCustomised, SubCategoryCustomisedCupcakes, SubCategoryBento}

	return NewPolicyTable(map[string]Policy{
		models.CategoryClassicCakes: {
			FBT: []Step{
				BySuperCategory{models.CategoryPastries},
				BySuperCategory{models.CategoryPastries},
				BySuperCategory{models.CategoryPastries},
			},
			AlsoLikeSampleSize: AlsoLikeTarget,
		},
		models.CategoryCustomised: {
			FBT: []Step{
				TryCategoryListInOrder{models.CategoryCustomised, customised},
				TryCategoryListInOrder{models.CategoryCustomised, rotated},
				FallbackChain{
					Primary: BySuperCategory{models.CategoryPastries},
					Fallbacks: []Step{
						BySuperAndCategory{models.CategoryAccessories, SubCategoryFondant},
						BySuperAndCategory{models.CategoryAccessories, SubCategoryCandles},
					},
				},
			},
			AlsoLikeSampleSize: AlsoLikeTarget,
		},
		models.CategoryPastries: {
			FBT: []Step{
				BySuperCategory{models.CategoryClassicCakes},
				BySuperCategory{models.CategorySeasonal},
				BySuperCategory{models.CategorySeasonal},
			},
			AlsoLikeSampleSize: AlsoLikeTarget,
		},
		models.CategorySeasonal: {
			FBT: []Step{
				BySuperAndAnchorCategory{models.CategorySeasonal},
				BySuperAndAnchorCategory{models.CategorySeasonal},
				BySuperCategory{models.CategoryPastries},
			},
			AlsoLikeSampleSize: AlsoLikeTarget,
		},
		models.CategoryAccessories: {
			FBT: []Step{
				BySuperCategory{models.CategoryPastries},
				BySuperCategory{models.CategoryPastries},
				BySuperCategory{models.CategoryAccessories},
			},
			AlsoLikeSampleSize: AlsoLikeTarget,
		},
	})
}
