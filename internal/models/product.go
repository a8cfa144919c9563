package models

import "strings"

// Top-level catalog categories with their own merchandising rules.
const (
	CategoryClassicCakes = "Classic Cakes"
	CategoryCustomised   = "Customised"
	CategoryPastries     = "Pastries"
	CategorySeasonal     = "Seasonal"
	CategoryAccessories  = "Accessories"
)

// giftCardMarker is matched case-insensitively against product names.
const giftCardMarker = "gift card"

// Product is a storefront catalog item. The recommender only reads products;
// the catalog store owns them.
type Product struct {
	ID              string   `json:"id"`
	Brand           string   `json:"brand"`
	Name            string   `json:"name"`
	Price           float64  `json:"price"`
	Images          []string `json:"images,omitempty"`
	SuperCategories []string `json:"superCategories,omitempty"` // top-level, e.g. "Pastries"
	Categories      []string `json:"categories,omitempty"`      // sub-category, e.g. "Bento"
	SubCategories   []string `json:"subCategories,omitempty"`   // leaf category
	Active          bool     `json:"active"`
	Available       bool     `json:"available"`
	Sold            int      `json:"sold"` // popularity counter used to rank candidate pools
}

// PrimarySuperCategory returns the first top-level category or "" when the
// product has none.
func (p Product) PrimarySuperCategory() string {
	if len(p.SuperCategories) == 0 {
		return ""
	}
	return p.SuperCategories[0]
}

// PrimaryCategory returns the first sub-category or "" when the product has none.
func (p Product) PrimaryCategory() string {
	if len(p.Categories) == 0 {
		return ""
	}
	return p.Categories[0]
}

// InSuperCategory reports whether the product belongs to the top-level category.
func (p Product) InSuperCategory(category string) bool {
	return containsFold(p.SuperCategories, category)
}

// InCategory reports whether the product belongs to the sub-category.
func (p Product) InCategory(category string) bool {
	return containsFold(p.Categories, category)
}

// Eligible reports whether the product may be recommended for the brand.
func (p Product) Eligible(brand string) bool {
	return p.Active && p.Available && p.Brand == brand
}

// IsGiftCard reports whether the product name looks like a gift card.
func (p Product) IsGiftCard() bool {
	return strings.Contains(strings.ToLower(p.Name), giftCardMarker)
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
