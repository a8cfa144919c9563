package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CatalogUpdateChannel is the pub/sub channel used to tell every instance that
// the product catalog changed.
const CatalogUpdateChannel = "catalog-updates"

// Catalog update entities and actions.
const (
	EntityCatalog = "catalog"
	EntityProduct = "product"

	ActionReload = "reload"
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// CatalogUpdate describes one catalog change. Product updates carry the
// product id.
type CatalogUpdate struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// RedisStore wraps a redis client and context for operations.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func servedKey(list, productID string, day time.Time) string {
	return fmt.Sprintf("recs:served:%s:%s:%s", list, productID, day.Format("2006-01-02"))
}

// PublishCatalogUpdate notifies all subscribers that the catalog changed.
func (r *RedisStore) PublishCatalogUpdate(ctx context.Context, msg CatalogUpdate) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal catalog update: %w", err)
	}
	if err := r.Client.Publish(ctx, CatalogUpdateChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish catalog update: %w", err)
	}
	return nil
}

// SubscribeCatalogUpdates calls handle for every catalog update until ctx is
// cancelled. Malformed messages are logged and skipped.
func (r *RedisStore) SubscribeCatalogUpdates(ctx context.Context, handle func(CatalogUpdate)) error {
	sub := r.Client.Subscribe(ctx, CatalogUpdateChannel)
	defer func() {
		_ = sub.Close()
	}()

	// Wait for the subscription to be confirmed before consuming
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", CatalogUpdateChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var upd CatalogUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				zap.L().Warn("invalid catalog update", zap.Error(err), zap.String("payload", msg.Payload))
				continue
			}
			handle(upd)
		}
	}
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
