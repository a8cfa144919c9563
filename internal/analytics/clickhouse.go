package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/recserve/internal/models"
	"github.com/patrickwarner/recserve/internal/observability"
)

// EventServed is the event type counted for every recommended product.
const EventServed = "served"

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// Recorder persists served recommendations. Implementations return
// ErrUnavailable when their storage is not configured.
type Recorder interface {
	RecordServed(ctx context.Context, events []Event) error
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

// Event mirrors a row in the recommendation_events table.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	AnchorID  string    `json:"anchor_id"`
	Brand     string    `json:"brand"`
	List      string    `json:"list"`
	Position  int       `json:"position"`
	ProductID string    `json:"product_id"`
}

// ServedEvents turns one list of a response into rows, positions starting at 0.
func ServedEvents(at time.Time, requestID, anchorID, brand, list string, products []models.Product) []Event {
	events := make([]Event, 0, len(products))
	for i, p := range products {
		events = append(events, Event{
			Timestamp: at,
			RequestID: requestID,
			AnchorID:  anchorID,
			Brand:     brand,
			List:      list,
			Position:  i,
			ProductID: p.ID,
		})
	}
	return events
}

// InitClickHouse connects to ClickHouse and ensures the recommendation_events table exists.
func InitClickHouse(dsn string, metrics observability.MetricsRegistry, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS recommendation_events (
       timestamp  DateTime,
       request_id String,
       anchor_id  String,
       brand      String,
       list       LowCardinality(String),
       position   UInt8,
       product_id String
   ) ENGINE=MergeTree() ORDER BY (brand, anchor_id, timestamp)`
	if _, err := db.ExecContext(ctx, create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db, Metrics: metrics}, nil
}

// RecordServed inserts the events as one batch.
func (a *Analytics) RecordServed(ctx context.Context, events []Event) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO recommendation_events (timestamp, request_id, anchor_id, brand, list, position, product_id)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, ev.Timestamp, ev.RequestID, ev.AnchorID, ev.Brand, ev.List, uint8(ev.Position), ev.ProductID); err != nil {
			_ = tx.Rollback()
			zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("request_id", ev.RequestID))
			return fmt.Errorf("append event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	for range events {
		a.Metrics.IncrementEvent(EventServed)
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// GetEventsByRequestID returns all events for a given request ID in list order.
func (a *Analytics) GetEventsByRequestID(ctx context.Context, id string) ([]Event, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, request_id, anchor_id, brand, list, position, product_id FROM recommendation_events WHERE request_id=? ORDER BY list, position`
	rows, err := a.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []Event
	for rows.Next() {
		var ev Event
		var pos uint8
		if err := rows.Scan(&ev.Timestamp, &ev.RequestID, &ev.AnchorID, &ev.Brand, &ev.List, &pos, &ev.ProductID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Position = int(pos)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
