package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores computed vectors keyed by model and input text. A cache is
// optional; the service recomputes on every call without one.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// CacheKey derives a stable key from the model and input text. Keying on
// content (not article ID) means edited articles re-embed automatically.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "intel:embedding:" + hex.EncodeToString(sum[:])
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a vector cache backed by Redis with the given TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) Cache {
	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached vector: %w", err)
	}

	var vector []float32
	if err := json.Unmarshal(payload, &vector); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached vector: %w", err)
	}
	return vector, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, vector []float32) error {
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache vector: %w", err)
	}
	return nil
}

var _ Cache = (*redisCache)(nil)
