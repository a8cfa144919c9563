package models

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrNotFound is returned when an entity is not found in the data store
var ErrNotFound = errors.New("entity not found")

// CatalogStore provides thread-safe access to the product catalog without
// global variables. Readers always see a consistent snapshot; writers swap in
// a new snapshot atomically.
type CatalogStore interface {
	// Read operations (hot path)
	GetProduct(productID string) *Product
	GetProductsByBrand(brand string) []Product
	GetAllProducts() []Product
	GetAllBrands() []string

	// Atomic bulk operations
	ReloadAll(products []Product) error

	// CRUD operations for real-time updates
	UpsertProduct(product Product) error
	DeleteProduct(productID string) error
}

// catalogSnapshot represents an immutable snapshot of the catalog
type catalogSnapshot struct {
	products     []Product
	productIndex map[string]*Product
	byBrand      map[string][]Product
}

// InMemoryCatalogStore implements CatalogStore with atomic snapshot updates.
// Writers are serialized; readers never block.
type InMemoryCatalogStore struct {
	// Atomic pointer to current catalog snapshot
	data    atomic.Pointer[catalogSnapshot]
	writeMu sync.Mutex
}

// NewInMemoryCatalogStore creates a new CatalogStore instance
func NewInMemoryCatalogStore() *InMemoryCatalogStore {
	store := &InMemoryCatalogStore{}
	store.data.Store(buildCatalogSnapshot(nil))
	return store
}

// GetProduct retrieves a product by ID
func (s *InMemoryCatalogStore) GetProduct(productID string) *Product {
	data := s.data.Load()
	if p, ok := data.productIndex[productID]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// GetProductsByBrand returns all products of a brand, eligible or not
func (s *InMemoryCatalogStore) GetProductsByBrand(brand string) []Product {
	data := s.data.Load()
	items, ok := data.byBrand[brand]
	if !ok {
		return nil
	}
	// Return a copy to prevent external modification
	result := make([]Product, len(items))
	copy(result, items)
	return result
}

// GetAllProducts returns all products
func (s *InMemoryCatalogStore) GetAllProducts() []Product {
	data := s.data.Load()
	result := make([]Product, len(data.products))
	copy(result, data.products)
	return result
}

// GetAllBrands returns every brand that has at least one product
func (s *InMemoryCatalogStore) GetAllBrands() []string {
	data := s.data.Load()
	brands := make([]string, 0, len(data.byBrand))
	for b := range data.byBrand {
		brands = append(brands, b)
	}
	return brands
}

// ReloadAll atomically replaces the catalog
func (s *InMemoryCatalogStore) ReloadAll(products []Product) error {
	own := make([]Product, len(products))
	copy(own, products)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.data.Store(buildCatalogSnapshot(own))
	return nil
}

// UpsertProduct inserts a product or replaces the one with the same ID
func (s *InMemoryCatalogStore) UpsertProduct(product Product) error {
	if product.ID == "" {
		return errors.New("product id required")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	current := s.data.Load()
	products := make([]Product, 0, len(current.products)+1)
	replaced := false
	for _, p := range current.products {
		if p.ID == product.ID {
			products = append(products, product)
			replaced = true
			continue
		}
		products = append(products, p)
	}
	if !replaced {
		products = append(products, product)
	}
	s.data.Store(buildCatalogSnapshot(products))
	return nil
}

// DeleteProduct removes a product from the catalog
func (s *InMemoryCatalogStore) DeleteProduct(productID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	current := s.data.Load()
	if _, ok := current.productIndex[productID]; !ok {
		return ErrNotFound
	}
	products := make([]Product, 0, len(current.products))
	for _, p := range current.products {
		if p.ID != productID {
			products = append(products, p)
		}
	}
	s.data.Store(buildCatalogSnapshot(products))
	return nil
}

// buildCatalogSnapshot indexes products by ID and brand
func buildCatalogSnapshot(products []Product) *catalogSnapshot {
	if products == nil {
		products = make([]Product, 0)
	}
	snap := &catalogSnapshot{
		products:     products,
		productIndex: make(map[string]*Product, len(products)),
		byBrand:      make(map[string][]Product),
	}
	for i := range products {
		snap.productIndex[products[i].ID] = &products[i]
		snap.byBrand[products[i].Brand] = append(snap.byBrand[products[i].Brand], products[i])
	}
	return snap
}
