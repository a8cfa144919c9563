package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/analytics"
	"github.com/patrickwarner/recserve/internal/config"
	"github.com/patrickwarner/recserve/internal/db"
	"github.com/patrickwarner/recserve/internal/middleware"
	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
	"github.com/patrickwarner/recserve/internal/ratelimit"
	"github.com/patrickwarner/recserve/internal/recommend"
)

// Rate limit and metrics label for the recommendation endpoint.
const recommendEndpoint = "fbtAlsoLike"

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger *zap.Logger
	Engine *recommend.Engine
	// Catalog and Loader are nil when queries go straight to Postgres;
	// reloads are then unavailable.
	Catalog   models.CatalogStore
	Loader    db.ProductLoader
	// Products backs the product write endpoints; nil disables them.
	Products  db.ProductRepository
	Store     *db.RedisStore
	Analytics analytics.Recorder
	Limiter   *ratelimit.ClientLimiter
	Metrics   observability.MetricsRegistry
	Config    config.Config
	reloadMu  sync.Mutex
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, engine *recommend.Engine, catalog models.CatalogStore, loader db.ProductLoader, products db.ProductRepository, store *db.RedisStore, recorder analytics.Recorder, limiter *ratelimit.ClientLimiter, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:    logger,
		Engine:    engine,
		Catalog:   catalog,
		Loader:    loader,
		Products:  products,
		Store:     store,
		Analytics: recorder,
		Limiter:   limiter,
		Metrics:   metrics,
		Config:    cfg,
	}
}

// Router returns the mux router with every route registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger), middleware.Metrics(s.Metrics))

	recs := middleware.RateLimit(s.Limiter, recommendEndpoint, middleware.ClientKeys(s.Config.TrustedProxies), s.Logger)(http.HandlerFunc(s.FBTAlsoLikeHandler))
	r.Handle("/fbtAlsoLike/{id}", recs).Methods("GET")
	r.HandleFunc("/policies", s.PoliciesHandler).Methods("GET")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.HandleFunc("/reload", s.ReloadHandler).Methods("POST")
	r.HandleFunc("/products/{id}", s.SaveProductHandler).Methods("PUT")
	r.HandleFunc("/products/{id}", s.DeleteProductHandler).Methods("DELETE")

	// metrics endpoint (includes rate limiting and breaker metrics)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler is Router wrapped in OpenTelemetry HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), s.Config.ServiceName)
}
