package models

import "strings"

// ProductFilter describes the candidate set of one catalog query. Every query
// is implicitly limited to active, available products of Brand.
type ProductFilter struct {
	Brand         string
	SuperCategory string   // optional top-level category
	Category      string   // optional sub-category
	NameContains  string   // optional case-insensitive name fragment
	ExcludeIDs    []string // ids that must not be returned
}

// Matches reports whether p satisfies the filter. excluded is consulted in
// addition to ExcludeIDs so callers can pass an ExclusionSet without copying.
func (f ProductFilter) Matches(p Product, excluded *ExclusionSet) bool {
	if !p.Eligible(f.Brand) {
		return false
	}
	if f.SuperCategory != "" && !p.InSuperCategory(f.SuperCategory) {
		return false
	}
	if f.Category != "" && !p.InCategory(f.Category) {
		return false
	}
	if f.NameContains != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if excluded.Contains(p.ID) {
		return false
	}
	for _, id := range f.ExcludeIDs {
		if id == p.ID {
			return false
		}
	}
	return true
}
