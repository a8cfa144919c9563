package db

import (
	"context"
	"fmt"

	"github.com/patrickwarner/recserve/internal/models"
)

// ProductLoader loads the full product catalog. *Postgres implements it.
type ProductLoader interface {
	LoadProducts(ctx context.Context) ([]models.Product, error)
}

// ProductRepository reads and writes single products. *Postgres implements it.
type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	SaveProduct(ctx context.Context, prod *models.Product) error
	DeleteProduct(ctx context.Context, id string) error
}

// SyncCatalog loads products from the loader, validates them and atomically
// replaces the contents of store. The number of products loaded is returned.
// On error the store is left untouched.
func SyncCatalog(ctx context.Context, loader ProductLoader, store models.CatalogStore) (int, error) {
	products, err := loader.LoadProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load products: %w", err)
	}

	seen := make(map[string]struct{}, len(products))
	for _, p := range products {
		if p.ID == "" {
			return 0, fmt.Errorf("product %q has empty id", p.Name)
		}
		if p.Brand == "" {
			return 0, fmt.Errorf("product %s has empty brand", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return 0, fmt.Errorf("duplicate product id %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	if err := store.ReloadAll(products); err != nil {
		return 0, fmt.Errorf("reload catalog: %w", err)
	}
	return len(products), nil
}
