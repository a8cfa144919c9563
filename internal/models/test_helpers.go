package models

// NewTestCatalogStore creates a new in-memory catalog store for testing
func NewTestCatalogStore(products ...Product) CatalogStore {
	store := NewInMemoryCatalogStore()
	_ = store.ReloadAll(products)
	return store
}
