package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/analytics"
	"github.com/patrickwarner/recserve/internal/middleware"
	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
	"github.com/patrickwarner/recserve/internal/recommend"
)

type recommendation struct {
	*recommend.Result
	Debug *debugInfo `json:"debug,omitempty"`
}

type debugInfo struct {
	Trace *recommend.Trace `json:"trace"`
}

// FBTAlsoLikeHandler serves GET /fbtAlsoLike/{id}. The optional brand query
// parameter overrides the anchor's brand; debug=1 adds the pipeline trace.
func (s *Server) FBTAlsoLikeHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	id := mux.Vars(r)["id"]
	req := recommend.Request{
		ProductID: id,
		Brand:     strings.TrimSpace(r.URL.Query().Get("brand")),
	}
	debug := s.Config.DebugTrace
	if v, err := strconv.ParseBool(r.URL.Query().Get("debug")); err == nil {
		debug = debug || v
	}

	ctx := r.Context()
	if s.Config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.RequestTimeout)
		defer cancel()
	}

	var (
		res *recommend.Result
		tr  *recommend.Trace
		err error
	)
	if debug {
		res, tr, err = s.Engine.RecommendWithTrace(ctx, req)
	} else {
		res, err = s.Engine.Recommend(ctx, req)
	}
	if err != nil {
		if errors.Is(err, recommend.ErrAnchorNotFound) {
			logger.Debug("unknown anchor", zap.String("product_id", id))
			writeFail(w, logger, http.StatusNotFound, fmt.Sprintf("product %s not found", id))
			return
		}
		logger.Error("recommend failed", zap.Error(err), zap.String("product_id", id))
		writeError(w, logger, http.StatusInternalServerError, "failed to compute recommendations")
		return
	}

	// recording outlives a cancelled request but never holds the response long
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(r.Context()), s.Config.RecordTimeout)
	s.recordServed(recordCtx, logger, id, res)
	cancelRecord()

	if observability.ShouldSample(observability.SamplingRateFor(s.Config.Env)) {
		logger.Info("recommendation served",
			zap.String("product_id", id),
			zap.String("brand", res.Brand),
			zap.Int("fbt", len(res.FBT)),
			zap.Int("also_like", len(res.AlsoLike)),
			zap.Duration("elapsed", time.Since(start)))
	}

	out := recommendation{Result: res}
	if debug {
		out.Debug = &debugInfo{Trace: tr}
	}
	writeSuccess(w, logger, out)
}

// recordServed updates the Redis serve counters and analytics within ctx's
// deadline. Failures are logged and never affect the response.
func (s *Server) recordServed(ctx context.Context, logger *zap.Logger, anchorID string, res *recommend.Result) {
	lists := []struct {
		name     string
		products []models.Product
	}{
		{recommend.ListFBT, res.FBT},
		{recommend.ListAlsoLike, res.AlsoLike},
	}

	if s.Store != nil && s.Store.Client != nil {
		for _, l := range lists {
			ids := make([]string, len(l.products))
			for i, p := range l.products {
				ids[i] = p.ID
			}
			if err := s.Store.IncrementRecommendationServes(ctx, l.name, ids); err != nil {
				logger.Warn("serve counters", zap.Error(err), zap.String("list", l.name))
			}
		}
	}

	if s.Analytics == nil {
		return
	}
	now := time.Now().UTC()
	requestID := middleware.RequestIDFromContext(ctx)
	var events []analytics.Event
	for _, l := range lists {
		events = append(events, analytics.ServedEvents(now, requestID, anchorID, res.Brand, l.name, l.products)...)
	}
	if err := s.Analytics.RecordServed(ctx, events); err != nil && !errors.Is(err, analytics.ErrUnavailable) {
		logger.Error("analytics record", zap.Error(err))
	}
}
