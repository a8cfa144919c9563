// Package recommend builds the "frequently bought together" and "you may
// also like" lists for an anchor product.
//
// One recommendation is a single sequential pass: FBT steps from the anchor
// category's policy, the also-like seed, gift card pinning, FBT backfill,
// also-like backfill and the final cap. Every stage reads and extends the
// same per-request exclusion set, so stages must never run concurrently.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/catalog"
	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
)

// AnchorSource resolves anchor products. Missing products are reported as
// models.ErrNotFound or a nil product. *db.Postgres implements it.
type AnchorSource interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

// StoreAnchors resolves anchors from an in-memory catalog store.
type StoreAnchors struct {
	Store models.CatalogStore
}

func (s StoreAnchors) GetProduct(_ context.Context, id string) (*models.Product, error) {
	if p := s.Store.GetProduct(id); p != nil {
		return p, nil
	}
	return nil, models.ErrNotFound
}

// Request identifies the anchor. Brand overrides the anchor's own brand when set.
type Request struct {
	ProductID string
	Brand     string
}

// Engine runs the recommendation pipeline. It holds no per-request state and
// is safe for concurrent use.
type Engine struct {
	catalog  catalog.QueryService
	anchors  AnchorSource
	policies *PolicyTable
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	tracer   trace.Tracer
}

// NewEngine returns an Engine. nil policies, logger or metrics fall back to
// DefaultPolicies, a no-op logger and a no-op registry.
func NewEngine(q catalog.QueryService, anchors AnchorSource, policies *PolicyTable, logger *zap.Logger, metrics observability.MetricsRegistry) *Engine {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Engine{
		catalog:  q,
		anchors:  anchors,
		policies: policies,
		logger:   logger,
		metrics:  metrics,
		tracer:   observability.Tracer("recommend"),
	}
}

// Policies returns the engine's policy table.
func (e *Engine) Policies() *PolicyTable {
	return e.policies
}

// Recommend computes both lists for the anchor.
func (e *Engine) Recommend(ctx context.Context, req Request) (*Result, error) {
	return e.recommend(ctx, req, nil)
}

// RecommendWithTrace is Recommend that also returns the stage-by-stage trace.
func (e *Engine) RecommendWithTrace(ctx context.Context, req Request) (*Result, *Trace, error) {
	tr := &Trace{}
	res, err := e.recommend(ctx, req, tr)
	return res, tr, err
}

func (e *Engine) recommend(ctx context.Context, req Request, tr *Trace) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "recommend.Recommend",
		trace.WithAttributes(attribute.String("recommend.product_id", req.ProductID)))
	defer span.End()

	res, err := e.run(ctx, req, tr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("recommend.fbt", len(res.FBT)),
		attribute.Int("recommend.also_like", len(res.AlsoLike)),
	)
	e.metrics.AddRecommendations(ListFBT, len(res.FBT))
	e.metrics.AddRecommendations(ListAlsoLike, len(res.AlsoLike))
	return res, nil
}

func (e *Engine) run(ctx context.Context, req Request, tr *Trace) (*Result, error) {
	anchor, err := e.lookupAnchor(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	brand := req.Brand
	if brand == "" {
		brand = anchor.Brand
	}
	category := anchor.PrimarySuperCategory()
	policy, known := e.policies.Lookup(category)
	if !known {
		e.metrics.IncrementUnknownCategory()
		e.logger.Debug("no FBT policy for category",
			zap.String("product_id", anchor.ID),
			zap.String("category", category))
	}
	tr.AddStepWithDetails(StageAnchor, []models.Product{*anchor}, map[string]string{
		"brand":    brand,
		"category": category,
		"policy":   strconv.FormatBool(known),
	})

	exclude := models.NewExclusionSet(anchor.ID)

	fbt, err := e.assign(ctx, *anchor, brand, policy, exclude, tr)
	if err != nil {
		return nil, err
	}
	alsoLike, err := e.seedAlsoLike(ctx, brand, category, policy.AlsoLikeSampleSize, exclude, tr)
	if err != nil {
		return nil, err
	}
	fbt, alsoLike, err = e.pinGiftCard(ctx, brand, fbt, alsoLike, exclude, tr)
	if err != nil {
		return nil, err
	}
	fbt, alsoLike, err = e.backfillFBT(ctx, brand, fbt, alsoLike, exclude, tr)
	if err != nil {
		return nil, err
	}
	alsoLike, err = e.backfillAlsoLike(ctx, brand, alsoLike, exclude, tr)
	if err != nil {
		return nil, err
	}
	res := assemble(fbt, alsoLike, tr)
	res.Brand = brand
	return res, nil
}

func (e *Engine) lookupAnchor(ctx context.Context, id string) (*models.Product, error) {
	if id == "" {
		return nil, ErrAnchorNotFound
	}
	p, err := e.anchors.GetProduct(ctx, id)
	if errors.Is(err, models.ErrNotFound) || (err == nil && p == nil) {
		return nil, fmt.Errorf("%w: %s", ErrAnchorNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: anchor %s: %w", ErrCatalogQuery, id, err)
	}
	return p, nil
}

// assign runs every FBT step exactly once, in order, against the current
// exclusion set. A step that finds nothing, or finds an excluded product, is
// skipped and never retried.
func (e *Engine) assign(ctx context.Context, anchor models.Product, brand string, policy Policy, exclude *models.ExclusionSet, tr *Trace) ([]models.Product, error) {
	in := StepInput{Anchor: anchor, Brand: brand, Exclude: exclude}
	fbt := make([]models.Product, 0, FBTTarget)
	for i, step := range policy.FBT {
		p, err := step.Run(ctx, e.catalog, in)
		if err != nil {
			return nil, fmt.Errorf("%w: fbt step %d %s: %w", ErrCatalogQuery, i+1, step, err)
		}
		var added bool
		fbt, added = accept(fbt, p, exclude)

		outcome := "empty"
		var picked []models.Product
		switch {
		case added:
			outcome = "hit"
			picked = fbt[len(fbt)-1:]
		case p != nil:
			outcome = "duplicate"
		}
		tr.AddStepWithDetails(StageFBTStep, picked, map[string]string{
			"step":    strconv.Itoa(i + 1),
			"rule":    step.String(),
			"outcome": outcome,
		})
	}
	return fbt, nil
}
