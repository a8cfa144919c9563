package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/config"
	"github.com/patrickwarner/recserve/internal/db"
	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
)

var (
	brand      = flag.String("brand", "demo-bakery", "brand to seed")
	perSub     = flag.Int("per-category", 4, "products per sub-category")
	seed       = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	replace    = flag.Bool("replace", true, "delete the brand's existing products first")
	skipReload = flag.Bool("skip-reload", false, "skip automatic reload after data insertion")
)

// catalogLayout lists the sub-categories seeded under each top-level category.
var catalogLayout = []struct {
	super string
	subs  []string
}{
	{models.CategoryClassicCakes, []string{"Sponge", "Chiffon", "Cheesecake"}},
	{models.CategoryCustomised, []string{"Bento", "Mini Customised", "Customised Cupcakes"}},
	{models.CategoryPastries, []string{"Croissants", "Tarts", "Puffs"}},
	{models.CategorySeasonal, []string{"Christmas", "Mooncakes", "Valentine's"}},
	{models.CategoryAccessories, []string{"Fondant", "Candles", "Cake Toppers"}},
}

var adjectives = []string{"Classic", "Double", "Signature", "Mini", "Golden", "Velvet", "Rustic", "Deluxe"}

func main() {
	flag.Parse()

	logger, err := observability.InitLogger("seed-catalog", "development", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx := context.Background()
	if *replace {
		if err := pg.DeleteProducts(ctx, *brand); err != nil {
			logger.Fatal("delete existing products", zap.Error(err))
		}
	}

	products := demoCatalog(rand.New(rand.NewSource(*seed)), *brand, *perSub)
	for i := range products {
		if err := pg.SaveProduct(ctx, &products[i]); err != nil {
			logger.Fatal("save product", zap.Error(err), zap.String("name", products[i].Name))
		}
	}
	logger.Info("catalog seeded", zap.String("brand", *brand), zap.Int("products", len(products)))

	if !*skipReload {
		if err := callReloadEndpoint(&cfg); err != nil {
			logger.Warn("reload endpoint", zap.Error(err))
		}
	}
}

// demoCatalog builds perSub products for every sub-category of the layout
// plus a single gift card. IDs are left empty so Postgres assigns UUIDs.
func demoCatalog(r *rand.Rand, brand string, perSub int) []models.Product {
	var out []models.Product
	for _, group := range catalogLayout {
		for _, sub := range group.subs {
			for i := 0; i < perSub; i++ {
				out = append(out, models.Product{
					Brand:           brand,
					Name:            fmt.Sprintf("%s %s #%d", adjectives[r.Intn(len(adjectives))], sub, i+1),
					Price:           float64(5+r.Intn(80)) + 0.9,
					SuperCategories: []string{group.super},
					Categories:      []string{sub},
					Active:          true,
					// roughly one in ten products is sold out
					Available: r.Intn(10) > 0,
					Sold:      r.Intn(500),
				})
			}
		}
	}
	return append(out, models.Product{
		Brand:           brand,
		Name:            "Digital Gift Card",
		Price:           50,
		SuperCategories: []string{models.CategoryAccessories},
		Categories:      []string{"Gift Cards"},
		Active:          true,
		Available:       true,
		Sold:            r.Intn(500),
	})
}

func callReloadEndpoint(cfg *config.Config) error {
	reloadURL := fmt.Sprintf("http://localhost:%s/reload", cfg.Port)
	req, err := http.NewRequest("POST", reloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
