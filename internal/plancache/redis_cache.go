// Package plancache caches planner output per questionnaire. A cached plan
// is a point-in-time view; every successful builder write must invalidate
// the questionnaire's entry.
package plancache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stepform/api/internal/compose"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores marshalled plans in Redis with a bounded TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: client,
		prefix: "plan:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(questionnaireID int64) string {
	return fmt.Sprintf("%s%d", c.prefix, questionnaireID)
}

// Get returns the cached plan for a questionnaire, or found=false on a miss.
func (c *RedisCache) Get(ctx context.Context, questionnaireID int64) (compose.Plan, bool, error) {
	raw, err := c.client.Get(ctx, c.key(questionnaireID)).Result()
	if err == redis.Nil {
		return compose.Plan{}, false, nil
	}
	if err != nil {
		return compose.Plan{}, false, fmt.Errorf("get plan: %w", err)
	}

	var plan compose.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return compose.Plan{}, false, fmt.Errorf("unmarshal plan: %w", err)
	}
	return plan, true, nil
}

// Set stores a plan under the questionnaire's key.
func (c *RedisCache) Set(ctx context.Context, plan compose.Plan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := c.client.Set(ctx, c.key(plan.QuestionnaireID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}

// Invalidate drops the cached plan after a builder mutation.
func (c *RedisCache) Invalidate(ctx context.Context, questionnaireID int64) error {
	if err := c.client.Del(ctx, c.key(questionnaireID)).Err(); err != nil {
		return fmt.Errorf("invalidate plan: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
