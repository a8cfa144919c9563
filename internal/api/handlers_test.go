package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/analytics"
	"github.com/patrickwarner/recserve/internal/catalog"
	"github.com/patrickwarner/recserve/internal/config"
	"github.com/patrickwarner/recserve/internal/db"
	"github.com/patrickwarner/recserve/internal/middleware"
	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
	"github.com/patrickwarner/recserve/internal/ratelimit"
	"github.com/patrickwarner/recserve/internal/recommend"
)

const brand = "bakery"

func product(id, super string) models.Product {
	return models.Product{
		ID: id, Brand: brand, Name: "Item " + id,
		SuperCategories: []string{super},
		Active:          true, Available: true,
	}
}

func testCatalog() []models.Product {
	var out []models.Product
	for i := 1; i <= 6; i++ {
		out = append(out, product(fmt.Sprintf("cake-%d", i), models.CategoryClassicCakes))
	}
	for i := 1; i <= 5; i++ {
		out = append(out, product(fmt.Sprintf("pastry-%d", i), models.CategoryPastries))
	}
	for i := 1; i <= 4; i++ {
		out = append(out, product(fmt.Sprintf("candle-%d", i), models.CategoryAccessories))
	}
	gift := product("gift-50", models.CategoryAccessories)
	gift.Name = "Gift Card 50"
	return append(out, gift)
}

type testEnv struct {
	srv       *Server
	store     models.CatalogStore
	redis     *miniredis.Miniredis
	analytics *analytics.MockAnalytics
	metrics   *observability.MockMetricsRegistry
}

func newTestEnv(t *testing.T, q catalog.QueryService, products ...models.Product) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rs := &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Ctx:    context.Background(),
	}
	t.Cleanup(rs.Close)

	store := models.NewTestCatalogStore(products...)
	if q == nil {
		q = catalog.NewMemoryService(store, nil)
	}
	metrics := observability.NewMockMetricsRegistry()
	engine := recommend.NewEngine(q, recommend.StoreAnchors{Store: store}, nil, zap.NewNop(), metrics)
	rec := analytics.NewMockAnalytics()
	cfg := config.Load()
	cfg.Env = "development"

	srv := NewServer(zap.NewNop(), engine, store, nil, nil, rs, rec, nil, metrics, cfg)
	return &testEnv{srv: srv, store: store, redis: mr, analytics: rec, metrics: metrics}
}

type testResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		FBT      []models.Product `json:"fbt"`
		AlsoLike []models.Product `json:"alsoLike"`
		Debug    *struct {
			Trace recommend.Trace `json:"trace"`
		} `json:"debug"`
	} `json:"data"`
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestFBTAlsoLike_Success(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)

	rec, body := get(t, env.srv.Router(), "/fbtAlsoLike/cake-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, statusSuccess, body.Status)

	require.Len(t, body.Data.FBT, recommend.FBTTarget)
	for _, p := range body.Data.FBT {
		assert.True(t, p.InSuperCategory(models.CategoryPastries), p.ID)
	}
	require.Len(t, body.Data.AlsoLike, recommend.AlsoLikeTarget)
	assert.Equal(t, "gift-50", body.Data.AlsoLike[0].ID)
	assert.Nil(t, body.Data.Debug)

	events := env.analytics.Events()
	assert.Len(t, events, len(body.Data.FBT)+len(body.Data.AlsoLike))
	for _, ev := range events {
		assert.Equal(t, "cake-1", ev.AnchorID)
		assert.Equal(t, brand, ev.Brand)
		assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), ev.RequestID)
	}

	counts, err := env.srv.Store.GetRecommendationServeCounts(context.Background(), recommend.ListFBT, []string{body.Data.FBT[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[body.Data.FBT[0].ID])
	counts, err = env.srv.Store.GetRecommendationServeCounts(context.Background(), recommend.ListAlsoLike, []string{"gift-50"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["gift-50"])
	assert.Equal(t, 1, env.metrics.Counter("requests:/fbtAlsoLike/{id}:200"))
}

func TestFBTAlsoLike_UnknownProduct(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)

	rec, body := get(t, env.srv.Router(), "/fbtAlsoLike/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, statusFail, body.Status)
	assert.Contains(t, body.Message, "nope")
	assert.Empty(t, env.analytics.Events())
}

type brokenCatalog struct{ err error }

func (b brokenCatalog) QueryBySuperCategory(context.Context, string, string, *models.ExclusionSet, int) (*models.Product, error) {
	return nil, b.err
}

func (b brokenCatalog) QueryBySuperAndCategory(context.Context, string, string, string, *models.ExclusionSet, int) (*models.Product, error) {
	return nil, b.err
}

func (b brokenCatalog) QueryRandomProducts(context.Context, string, int, *models.ExclusionSet) ([]models.Product, error) {
	return nil, b.err
}

func (b brokenCatalog) QueryRandomProductsInCategory(context.Context, string, string, int, *models.ExclusionSet) ([]models.Product, error) {
	return nil, b.err
}

func (b brokenCatalog) QueryGiftCardProduct(context.Context, string, *models.ExclusionSet) (*models.Product, error) {
	return nil, b.err
}

func TestFBTAlsoLike_CatalogFailure(t *testing.T) {
	env := newTestEnv(t, brokenCatalog{err: errors.New("connection refused")}, testCatalog()...)

	rec, body := get(t, env.srv.Router(), "/fbtAlsoLike/cake-1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, statusError, body.Status)
	assert.NotContains(t, body.Message, "connection refused")
	assert.Empty(t, env.analytics.Events())
}

func TestFBTAlsoLike_DebugTrace(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)

	rec, body := get(t, env.srv.Router(), "/fbtAlsoLike/cake-1?debug=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, body.Data.Debug)
	require.NotEmpty(t, body.Data.Debug.Trace.Steps)
	assert.Equal(t, recommend.StageAnchor, body.Data.Debug.Trace.Steps[0].Stage)
	last := body.Data.Debug.Trace.Steps[len(body.Data.Debug.Trace.Steps)-1]
	assert.Equal(t, recommend.StageCap, last.Stage)

	env.srv.Config.DebugTrace = true
	_, body = get(t, env.srv.Router(), "/fbtAlsoLike/cake-1")
	assert.NotNil(t, body.Data.Debug)
}

func TestFBTAlsoLike_BrandOverride(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fbtAlsoLike/cake-1?brand=patisserie", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fbt":[]`)
	assert.Contains(t, rec.Body.String(), `"alsoLike":[]`)
}

func TestFBTAlsoLike_AnalyticsFailureIgnored(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)
	env.analytics.Err = errors.New("clickhouse down")
	env.redis.SetError("ERR injected failure")

	rec, body := get(t, env.srv.Router(), "/fbtAlsoLike/cake-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Data.FBT, recommend.FBTTarget)
}

func TestFBTAlsoLike_RateLimited(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)
	env.srv.Limiter = ratelimit.NewClientLimiter(ratelimit.Config{Enabled: true, Capacity: 1, RefillRate: 1}, env.metrics)
	env.srv.Config.TrustedProxies = []string{"192.0.2.10"}
	h := env.srv.Router()

	req := func(remote, fwd string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/fbtAlsoLike/cake-1", nil)
		r.RemoteAddr = remote + ":4000"
		if fwd != "" {
			r.Header.Set("X-Forwarded-For", fwd)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, req("198.51.100.9", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, req("198.51.100.9", "10.0.0.7").Code, "untrusted peers cannot pick their key")

	// behind the trusted proxy each forwarded client has its own limit
	assert.Equal(t, http.StatusOK, req("192.0.2.10", "203.0.113.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, req("192.0.2.10", "203.0.113.1").Code)
	assert.Equal(t, http.StatusOK, req("192.0.2.10", "203.0.113.2").Code)
	assert.Equal(t, 2, env.metrics.Counter("ratelimit_hits:"+recommendEndpoint))
}

type slowRecorder struct {
	deadline chan bool
}

func (s slowRecorder) RecordServed(ctx context.Context, _ []analytics.Event) error {
	_, ok := ctx.Deadline()
	s.deadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestFBTAlsoLike_RecordingIsBounded(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)
	rec := slowRecorder{deadline: make(chan bool, 1)}
	env.srv.Analytics = rec
	env.srv.Config.RecordTimeout = 20 * time.Millisecond

	start := time.Now()
	resp, body := get(t, env.srv.Router(), "/fbtAlsoLike/cake-1")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, body.Data.FBT, recommend.FBTTarget)
	assert.True(t, <-rec.deadline, "recording runs under a deadline")
	assert.Less(t, time.Since(start), time.Second)
}

type fakeLoader struct {
	products []models.Product
	err      error
}

func (f fakeLoader) LoadProducts(context.Context) ([]models.Product, error) {
	return f.products, f.err
}

func TestReloadHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.Loader = fakeLoader{products: testCatalog()}
	h := env.srv.Router()

	rec, _ := get(t, h, "/fbtAlsoLike/cake-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"status":"success","data":{"products":%d}}`, len(testCatalog())), rec.Body.String())
	assert.Equal(t, 1, env.metrics.Counter("catalog_reload:ok"))
	assert.Equal(t, len(testCatalog()), env.metrics.Gauge("catalog_size"))

	rec, _ = get(t, h, "/fbtAlsoLike/cake-1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReloadHandler_Failure(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)
	env.srv.Loader = fakeLoader{err: errors.New("postgres down")}

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, env.metrics.Counter("catalog_reload:error"))
	assert.Len(t, env.store.GetAllProducts(), len(testCatalog()), "failed reload keeps the old snapshot")
}

func TestReloadHandler_Unavailable(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)
	env.srv.Catalog = nil

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type fakeProducts struct {
	rows map[string]models.Product
	err  error
}

func newFakeProducts(products ...models.Product) *fakeProducts {
	f := &fakeProducts{rows: make(map[string]models.Product)}
	for _, p := range products {
		f.rows[p.ID] = p
	}
	return f
}

func (f *fakeProducts) GetProduct(_ context.Context, id string) (*models.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProducts) SaveProduct(_ context.Context, p *models.Product) error {
	if f.err != nil {
		return f.err
	}
	f.rows[p.ID] = *p
	return nil
}

func (f *fakeProducts) DeleteProduct(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.rows[id]; !ok {
		return models.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func TestHandleCatalogUpdate_Product(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)
	repo := newFakeProducts(testCatalog()...)
	env.srv.Products = repo
	env.srv.Loader = fakeLoader{err: errors.New("full reload not expected")}

	renamed := repo.rows["cake-1"]
	renamed.Name = "Black Forest"
	repo.rows["cake-1"] = renamed
	repo.rows["cake-7"] = product("cake-7", models.CategoryClassicCakes)

	env.srv.HandleCatalogUpdate(db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionUpsert, ID: "cake-1"})
	env.srv.HandleCatalogUpdate(db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionUpsert, ID: "cake-7"})
	env.srv.HandleCatalogUpdate(db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionDelete, ID: "candle-1"})
	env.srv.HandleCatalogUpdate(db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionDelete, ID: "never-existed"})

	assert.Equal(t, "Black Forest", env.store.GetProduct("cake-1").Name)
	assert.NotNil(t, env.store.GetProduct("cake-7"))
	assert.Nil(t, env.store.GetProduct("candle-1"))
	assert.Len(t, env.store.GetAllProducts(), len(testCatalog()))
	assert.Equal(t, 0, env.metrics.Counter("catalog_reload:error"), "no full reload")

	// an upsert for a row deleted in the meantime removes it locally
	delete(repo.rows, "cake-7")
	env.srv.HandleCatalogUpdate(db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionUpsert, ID: "cake-7"})
	assert.Nil(t, env.store.GetProduct("cake-7"))
}

func TestHandleCatalogUpdate_FallsBackToReload(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.Loader = fakeLoader{products: testCatalog()}
	env.srv.Products = &fakeProducts{err: errors.New("postgres down")}

	env.srv.HandleCatalogUpdate(db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionUpsert, ID: "cake-1"})
	assert.NotNil(t, env.store.GetProduct("cake-1"))
	assert.Len(t, env.store.GetAllProducts(), len(testCatalog()))

	require.NoError(t, env.store.ReloadAll(nil))
	env.srv.HandleCatalogUpdate(db.CatalogUpdate{Entity: db.EntityCatalog, Action: db.ActionReload})
	assert.Len(t, env.store.GetAllProducts(), len(testCatalog()))
}

func TestHandleCatalogUpdate_NoSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.Catalog = nil
	env.srv.Products = newFakeProducts()

	env.srv.HandleCatalogUpdate(db.CatalogUpdate{Entity: db.EntityProduct, Action: db.ActionUpsert, ID: "cake-1"})
	assert.Equal(t, 0, env.metrics.Counter("catalog_reload:error"))
	assert.Equal(t, 0, env.metrics.Counter("catalog_reload:ok"))
}

func TestSaveProductHandler(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)
	repo := newFakeProducts(testCatalog()...)
	env.srv.Products = repo
	h := env.srv.Router()

	sub := env.redis.NewSubscriber()
	defer sub.Close()
	sub.Subscribe(db.CatalogUpdateChannel)

	put := func(id, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/products/"+id, strings.NewReader(body)))
		return rec
	}

	rec := put("tart-1", `{"brand":"bakery","name":"Lemon Tart","superCategories":["Pastries"],"active":true,"available":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Lemon Tart", repo.rows["tart-1"].Name)
	require.NotNil(t, env.store.GetProduct("tart-1"))
	assert.True(t, env.store.GetProduct("tart-1").InSuperCategory(models.CategoryPastries))

	select {
	case msg := <-sub.Messages():
		assert.JSONEq(t, `{"entity":"product","action":"upsert","id":"tart-1"}`, msg.Message)
	case <-time.After(time.Second):
		t.Fatal("no catalog update published")
	}

	assert.Equal(t, http.StatusBadRequest, put("tart-2", `{"brand":"bakery"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put("tart-2", `not json`).Code)

	repo.err = errors.New("postgres down")
	assert.Equal(t, http.StatusInternalServerError, put("tart-3", `{"brand":"bakery","name":"Tart"}`).Code)
	assert.Nil(t, env.store.GetProduct("tart-3"))

	env.srv.Products = nil
	assert.Equal(t, http.StatusConflict, put("tart-4", `{"brand":"bakery","name":"Tart"}`).Code)
}

func TestDeleteProductHandler(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)
	repo := newFakeProducts(testCatalog()...)
	env.srv.Products = repo
	h := env.srv.Router()

	del := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/products/"+id, nil))
		return rec
	}

	assert.Equal(t, http.StatusNoContent, del("candle-1").Code)
	assert.NotContains(t, repo.rows, "candle-1")
	assert.Nil(t, env.store.GetProduct("candle-1"))
	assert.Len(t, env.store.GetAllProducts(), len(testCatalog())-1)

	rec := del("candle-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "candle-1")

	repo.err = errors.New("postgres down")
	assert.Equal(t, http.StatusInternalServerError, del("candle-2").Code)
	assert.NotNil(t, env.store.GetProduct("candle-2"))
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"status":"ok","products":%d,"brands":1}`, len(testCatalog())), rec.Body.String())
}

func TestPoliciesHandler(t *testing.T) {
	env := newTestEnv(t, nil, testCatalog()...)

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policies", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Classic Cakes":["1: super(Pastries)"`)
}
