package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/recserve/internal/analytics"
	"github.com/patrickwarner/recserve/internal/catalog"
	"github.com/patrickwarner/recserve/internal/config"
	"github.com/patrickwarner/recserve/internal/db"
	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/recommend"
)

type RecommendProductsInput struct {
	ProductID string `json:"product_id"`
	Brand     string `json:"brand,omitempty"`
}

type RecommendProductsOutput struct {
	ProductID string           `json:"product_id"`
	Brand     string           `json:"brand"`
	FBT       []models.Product `json:"fbt"`
	AlsoLike  []models.Product `json:"also_like"`
}

type ListCategoryPoliciesInput struct{}

type ListCategoryPoliciesOutput struct {
	Categories []string            `json:"categories"`
	Policies   map[string][]string `json:"policies"`
}

type GetServeCountsInput struct {
	List       string   `json:"list"`
	ProductIDs []string `json:"product_ids"`
}

type GetServeCountsOutput struct {
	List   string           `json:"list"`
	Counts map[string]int64 `json:"counts"`
}

type GetRequestEventsInput struct {
	RequestID string `json:"request_id"`
}

type ServedEvent struct {
	Timestamp string `json:"timestamp"`
	AnchorID  string `json:"anchor_id"`
	Brand     string `json:"brand"`
	List      string `json:"list"`
	Position  int    `json:"position"`
	ProductID string `json:"product_id"`
}

type GetRequestEventsOutput struct {
	RequestID string        `json:"request_id"`
	Events    []ServedEvent `json:"events"`
}

// ServeCounter reads today's serve counters. *db.RedisStore implements it.
type ServeCounter interface {
	GetRecommendationServeCounts(ctx context.Context, list string, productIDs []string) (map[string]int64, error)
}

// EventSource looks up recorded recommendation events.
// *analytics.Analytics implements it.
type EventSource interface {
	GetEventsByRequestID(ctx context.Context, id string) ([]analytics.Event, error)
}

// RecServer exposes the recommendation engine as MCP tools. counters and
// events are optional; their tools report an error when unset.
type RecServer struct {
	engine   *recommend.Engine
	counters ServeCounter
	events   EventSource
	logger   *zap.Logger
	timeout  time.Duration
}

// RecommendProducts implements the recommend_products tool.
func (s *RecServer) RecommendProducts(ctx context.Context, req *mcp.CallToolRequest, input RecommendProductsInput) (*mcp.CallToolResult, RecommendProductsOutput, error) {
	id := strings.TrimSpace(input.ProductID)
	if id == "" {
		return nil, RecommendProductsOutput{}, fmt.Errorf("product_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.engine.Recommend(ctx, recommend.Request{ProductID: id, Brand: strings.TrimSpace(input.Brand)})
	if errors.Is(err, recommend.ErrAnchorNotFound) {
		return nil, RecommendProductsOutput{}, fmt.Errorf("product %s not found", id)
	}
	if err != nil {
		s.logger.Error("recommend failed", zap.Error(err), zap.String("product_id", id))
		return nil, RecommendProductsOutput{}, fmt.Errorf("failed to compute recommendations: %w", err)
	}

	s.logger.Info("recommendations served",
		zap.String("product_id", id),
		zap.Int("fbt", len(res.FBT)),
		zap.Int("also_like", len(res.AlsoLike)))

	return nil, RecommendProductsOutput{
		ProductID: id,
		Brand:     res.Brand,
		FBT:       res.FBT,
		AlsoLike:  res.AlsoLike,
	}, nil
}

// ListCategoryPolicies implements the list_category_policies tool.
func (s *RecServer) ListCategoryPolicies(ctx context.Context, req *mcp.CallToolRequest, input ListCategoryPoliciesInput) (*mcp.CallToolResult, ListCategoryPoliciesOutput, error) {
	table := s.engine.Policies()
	return nil, ListCategoryPoliciesOutput{
		Categories: table.Categories(),
		Policies:   table.Describe(),
	}, nil
}

// GetServeCounts implements the get_serve_counts tool.
func (s *RecServer) GetServeCounts(ctx context.Context, req *mcp.CallToolRequest, input GetServeCountsInput) (*mcp.CallToolResult, GetServeCountsOutput, error) {
	if s.counters == nil {
		return nil, GetServeCountsOutput{}, fmt.Errorf("serve counters unavailable: redis not configured")
	}
	list := strings.TrimSpace(input.List)
	if list != recommend.ListFBT && list != recommend.ListAlsoLike {
		return nil, GetServeCountsOutput{}, fmt.Errorf("list must be %q or %q", recommend.ListFBT, recommend.ListAlsoLike)
	}
	if len(input.ProductIDs) == 0 {
		return nil, GetServeCountsOutput{}, fmt.Errorf("product_ids is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	counts, err := s.counters.GetRecommendationServeCounts(ctx, list, input.ProductIDs)
	if err != nil {
		s.logger.Error("serve counts", zap.Error(err), zap.String("list", list))
		return nil, GetServeCountsOutput{}, fmt.Errorf("failed to read serve counts: %w", err)
	}
	return nil, GetServeCountsOutput{List: list, Counts: counts}, nil
}

// GetRequestEvents implements the get_request_events tool.
func (s *RecServer) GetRequestEvents(ctx context.Context, req *mcp.CallToolRequest, input GetRequestEventsInput) (*mcp.CallToolResult, GetRequestEventsOutput, error) {
	if s.events == nil {
		return nil, GetRequestEventsOutput{}, fmt.Errorf("analytics unavailable: clickhouse not configured")
	}
	id := strings.TrimSpace(input.RequestID)
	if id == "" {
		return nil, GetRequestEventsOutput{}, fmt.Errorf("request_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	events, err := s.events.GetEventsByRequestID(ctx, id)
	if err != nil {
		s.logger.Error("request events", zap.Error(err), zap.String("request_id", id))
		return nil, GetRequestEventsOutput{}, fmt.Errorf("failed to read events: %w", err)
	}

	out := GetRequestEventsOutput{RequestID: id, Events: make([]ServedEvent, 0, len(events))}
	for _, ev := range events {
		out.Events = append(out.Events, ServedEvent{
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			AnchorID:  ev.AnchorID,
			Brand:     ev.Brand,
			List:      ev.List,
			Position:  ev.Position,
			ProductID: ev.ProductID,
		})
	}
	return nil, out, nil
}

func newMCPServer(rs *RecServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "recserve",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recommend_products",
		Description: "Get frequently-bought-together and you-may-also-like recommendations for a product",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"product_id": map[string]interface{}{
					"type":        "string",
					"description": "Anchor product ID",
				},
				"brand": map[string]interface{}{
					"type":        "string",
					"description": "Brand to recommend from (optional, defaults to the product's brand)",
				},
			},
			"required": []string{"product_id"},
		},
	}, rs.RecommendProducts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_category_policies",
		Description: "List the frequently-bought-together steps configured for each top-level category",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, rs.ListCategoryPolicies)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_serve_counts",
		Description: "Get today's serve counts for products in a recommendation list",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"list": map[string]interface{}{
					"type":        "string",
					"enum":        []string{recommend.ListFBT, recommend.ListAlsoLike},
					"description": "Recommendation list",
				},
				"product_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Products to report on",
				},
			},
			"required": []string{"list", "product_ids"},
		},
	}, rs.GetServeCounts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_request_events",
		Description: "Get the recommendations recorded for a request id, in list order",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"request_id": map[string]interface{}{
					"type":        "string",
					"description": "X-Request-ID of the recommendation request",
				},
			},
			"required": []string{"request_id"},
		},
	}, rs.GetRequestEvents)

	return server
}

func newLogger() (*zap.Logger, error) {
	// stdout carries the MCP protocol, so logs go to stderr
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("recserve-mcp").With(zap.String("service", "recserve-mcp")), nil
}

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load()
	logger.Info("Starting recserve MCP server")

	pg, err := db.InitPostgres(cfg.PostgresDSN, 10, 5, 30*time.Minute, 5*time.Minute)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()

	query := catalog.NewBreakerService(
		catalog.NewPostgresService(pg, catalog.DefaultRand()),
		catalog.BreakerConfig{
			Name:             "mcp_catalog",
			MaxRequests:      uint32(cfg.BreakerHalfOpenRequests),
			Interval:         cfg.BreakerInterval,
			Timeout:          cfg.BreakerTimeout,
			FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		}, logger, nil)

	rs := &RecServer{
		engine:  recommend.NewEngine(query, pg, nil, logger, nil),
		logger:  logger,
		timeout: 10 * time.Second,
	}

	if store, err := db.InitRedis(cfg.RedisAddr); err != nil {
		logger.Warn("Redis unavailable, serve counts disabled", zap.Error(err))
	} else {
		defer store.Close()
		rs.counters = store
	}

	if cfg.AnalyticsEnabled {
		analyticsSvc, err := analytics.InitClickHouse(cfg.ClickHouseDSN, nil, 2, 1, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime)
		if err != nil {
			logger.Warn("ClickHouse unavailable, request events disabled", zap.Error(err))
		} else {
			defer analyticsSvc.Close()
			rs.events = analyticsSvc
		}
	}
	server := newMCPServer(rs)

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio")
	if err := server.Run(context.Background(), transport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
