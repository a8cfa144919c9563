package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/analytics"
	"github.com/patrickwarner/recserve/internal/api"
	"github.com/patrickwarner/recserve/internal/catalog"
	"github.com/patrickwarner/recserve/internal/config"
	"github.com/patrickwarner/recserve/internal/db"
	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
	"github.com/patrickwarner/recserve/internal/ratelimit"
	"github.com/patrickwarner/recserve/internal/recommend"
)

// Per-client rate limiters idle longer than this are dropped by the housekeeping loop.
const limiterIdleTTL = 10 * time.Minute

func main() {
	cfg := config.Load()

	logger, err := observability.InitLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.Env, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	metricsRegistry := observability.NewPrometheusRegistry()

	var recorder analytics.Recorder
	if cfg.AnalyticsEnabled {
		analyticsSvc, err := analytics.InitClickHouse(cfg.ClickHouseDSN, metricsRegistry, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer analyticsSvc.Close()
		recorder = analyticsSvc
	}

	// The memory backend serves from a snapshot that is reloaded from
	// Postgres; the postgres backend answers every query with SQL.
	var (
		query        catalog.QueryService
		anchors      recommend.AnchorSource
		catalogStore models.CatalogStore
		loader       db.ProductLoader
	)
	switch cfg.CatalogBackend {
	case config.BackendPostgres:
		query = catalog.NewPostgresService(pg, catalog.DefaultRand())
		anchors = pg
	default:
		memStore := models.NewInMemoryCatalogStore()
		n, err := db.SyncCatalog(ctx, pg, memStore)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		metricsRegistry.SetCatalogSize(n)
		logger.Info("catalog loaded", zap.Int("products", n))
		query = catalog.NewMemoryService(memStore, catalog.DefaultRand())
		anchors = recommend.StoreAnchors{Store: memStore}
		catalogStore = memStore
		loader = pg
	}

	if cfg.BreakerEnabled {
		query = catalog.NewBreakerService(query, catalog.BreakerConfig{
			Name:             "catalog_" + cfg.CatalogBackend,
			MaxRequests:      uint32(cfg.BreakerHalfOpenRequests),
			Interval:         cfg.BreakerInterval,
			Timeout:          cfg.BreakerTimeout,
			FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		}, logger, metricsRegistry)
	}
	query = catalog.NewInstrumentedService(query, metricsRegistry)

	engine := recommend.NewEngine(query, anchors, recommend.DefaultPolicies(), logger, metricsRegistry)

	limiter := ratelimit.NewClientLimiter(ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillRate,
		Enabled:    cfg.RateLimitEnabled,
	}, metricsRegistry)

	srvDeps := api.NewServer(logger, engine, catalogStore, loader, pg, store, recorder, limiter, metricsRegistry, cfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      srvDeps.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Recommendation server running",
		zap.String("addr", addr),
		zap.String("backend", cfg.CatalogBackend))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if catalogStore != nil {
		if cfg.ReloadInterval > 0 {
			ticker := time.NewTicker(cfg.ReloadInterval)
			go func() {
				for {
					select {
					case <-ticker.C:
						if _, err := srvDeps.Reload(ctx); err != nil {
							logger.Error("auto reload", zap.Error(err))
						}
					case <-ctx.Done():
						ticker.Stop()
						return
					}
				}
			}()
		}

		go func() {
			if err := store.SubscribeCatalogUpdates(ctx, srvDeps.HandleCatalogUpdate); err != nil {
				logger.Error("catalog update subscription", zap.Error(err))
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, st := range limiter.GetStats() {
					if st.Hits > 0 {
						logger.Info("client rate limited", zap.Stringer("stats", st))
					}
				}
				if n := limiter.Sweep(limiterIdleTTL); n > 0 {
					logger.Debug("idle rate limiters swept", zap.Int("removed", n))
				}
				observability.LogSamplingStats(logger)
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
