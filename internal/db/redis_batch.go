package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNilRedisStore is returned by batch operations on an unconfigured store.
var ErrNilRedisStore = errors.New("redis store is nil")

// IncrementRecommendationServes increments today's counter of how often each
// product was served in the given list ("fbt" or "also_like"), in one
// pipeline round trip. Keys created by this call expire after 24h.
func (r *RedisStore) IncrementRecommendationServes(ctx context.Context, list string, productIDs []string) error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}
	if len(productIDs) == 0 {
		return nil
	}

	now := time.Now()
	pipe := r.Client.Pipeline()
	keys := make([]string, len(productIDs))
	cmds := make([]*redis.IntCmd, len(productIDs))
	for i, id := range productIDs {
		keys[i] = servedKey(list, id, now)
		cmds[i] = pipe.Incr(ctx, keys[i])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("serve counter pipeline: %w", err)
	}

	// Only keys this call created need a TTL
	expire := r.Client.Pipeline()
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			expire.Expire(ctx, keys[i], 24*time.Hour)
		}
	}
	if expire.Len() == 0 {
		return nil
	}
	if _, err := expire.Exec(ctx); err != nil {
		return fmt.Errorf("serve counter ttl pipeline: %w", err)
	}
	return nil
}

// GetRecommendationServeCounts returns today's serve counts for the products
// in one round trip. Products never served report 0.
func (r *RedisStore) GetRecommendationServeCounts(ctx context.Context, list string, productIDs []string) (map[string]int64, error) {
	if r == nil || r.Client == nil {
		return nil, ErrNilRedisStore
	}
	counts := make(map[string]int64, len(productIDs))
	if len(productIDs) == 0 {
		return counts, nil
	}

	now := time.Now()
	pipe := r.Client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(productIDs))
	for _, id := range productIDs {
		cmds[id] = pipe.Get(ctx, servedKey(list, id, now))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("serve count pipeline: %w", err)
	}

	for id, cmd := range cmds {
		n, err := cmd.Int64()
		if err != nil {
			// missing keys read as zero
			n = 0
		}
		counts[id] = n
	}
	return counts, nil
}
