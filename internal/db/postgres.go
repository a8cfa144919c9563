package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    brand TEXT NOT NULL,
    name TEXT NOT NULL,
    price DOUBLE PRECISION NOT NULL DEFAULT 0,
    images TEXT[] NOT NULL DEFAULT '{}',
    super_categories TEXT[] NOT NULL DEFAULT '{}',
    categories TEXT[] NOT NULL DEFAULT '{}',
    sub_categories TEXT[] NOT NULL DEFAULT '{}',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    available BOOLEAN NOT NULL DEFAULT TRUE,
    sold INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Candidate lookups always filter on brand + active + available
CREATE INDEX IF NOT EXISTS idx_products_brand_eligible ON products (brand, sold DESC) WHERE active AND available;
CREATE INDEX IF NOT EXISTS idx_products_super_categories ON products USING GIN (super_categories);
CREATE INDEX IF NOT EXISTS idx_products_categories ON products USING GIN (categories);
`

// productColumns is the column list scanned by scanProduct.
const productColumns = `id, brand, name, price, images, super_categories, categories, sub_categories, active, available, sold`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	ctx := context.Background()
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Brand, &p.Name, &p.Price,
		pq.Array(&p.Images), pq.Array(&p.SuperCategories), pq.Array(&p.Categories), pq.Array(&p.SubCategories),
		&p.Active, &p.Available, &p.Sold)
	return p, err
}

// LoadProducts retrieves every product, eligible or not. The in-memory catalog
// applies eligibility per query.
func (p *Postgres) LoadProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var products []models.Product
	for rows.Next() {
		prod, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, prod)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return products, nil
}

// GetProduct returns the product with the given id or models.ErrNotFound.
func (p *Postgres) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	prod, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &prod, nil
}

// SaveProduct inserts a product or replaces the row with the same id. A UUID
// is assigned when ID is empty.
func (p *Postgres) SaveProduct(ctx context.Context, prod *models.Product) error {
	if prod.ID == "" {
		prod.ID = uuid.New().String()
	}
	_, err := p.DB.ExecContext(ctx, `INSERT INTO products (`+productColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET brand=EXCLUDED.brand, name=EXCLUDED.name, price=EXCLUDED.price,
			images=EXCLUDED.images, super_categories=EXCLUDED.super_categories, categories=EXCLUDED.categories,
			sub_categories=EXCLUDED.sub_categories, active=EXCLUDED.active, available=EXCLUDED.available, sold=EXCLUDED.sold`,
		prod.ID, prod.Brand, prod.Name, prod.Price,
		pq.Array(nonNil(prod.Images)), pq.Array(nonNil(prod.SuperCategories)), pq.Array(nonNil(prod.Categories)), pq.Array(nonNil(prod.SubCategories)),
		prod.Active, prod.Available, prod.Sold)
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

// DeleteProduct removes one product. models.ErrNotFound is returned when no
// row matched.
func (p *Postgres) DeleteProduct(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteProducts removes every product of a brand. Used by the seeding tool.
func (p *Postgres) DeleteProducts(ctx context.Context, brand string) error {
	if _, err := p.DB.ExecContext(ctx, `DELETE FROM products WHERE brand=$1`, brand); err != nil {
		return fmt.Errorf("delete products: %w", err)
	}
	return nil
}

// TopProducts returns up to limit products matching the filter, most sold first.
func (p *Postgres) TopProducts(ctx context.Context, filter models.ProductFilter, limit int) ([]models.Product, error) {
	query, args := buildProductQuery(filter, "sold DESC, id", limit)
	return p.queryProducts(ctx, query, args)
}

// RandomProducts returns up to limit distinct products matching the filter in
// random order.
func (p *Postgres) RandomProducts(ctx context.Context, filter models.ProductFilter, limit int) ([]models.Product, error) {
	query, args := buildProductQuery(filter, "random()", limit)
	return p.queryProducts(ctx, query, args)
}

func (p *Postgres) queryProducts(ctx context.Context, query string, args []any) ([]models.Product, error) {
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var products []models.Product
	for rows.Next() {
		prod, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, prod)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return products, nil
}

// buildProductQuery renders a filtered product SELECT. Category comparisons
// are case-insensitive to match the in-memory catalog.
func buildProductQuery(f models.ProductFilter, orderBy string, limit int) (string, []any) {
	args := []any{f.Brand}
	where := []string{"active", "available", "brand = $1"}

	if f.SuperCategory != "" {
		args = append(args, f.SuperCategory)
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(super_categories) c WHERE lower(c) = lower($%d))", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(categories) c WHERE lower(c) = lower($%d))", len(args)))
	}
	if f.NameContains != "" {
		args = append(args, f.NameContains)
		where = append(where, fmt.Sprintf("name ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if len(f.ExcludeIDs) > 0 {
		args = append(args, pq.Array(f.ExcludeIDs))
		where = append(where, fmt.Sprintf("NOT (id = ANY($%d))", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY %s LIMIT $%d`,
		productColumns, strings.Join(where, " AND "), orderBy, len(args))
	return query, args
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
