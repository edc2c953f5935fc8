package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key is not cached.
var ErrMiss = errors.New("cache miss")

// Cache is the read-through store in front of the ad repository. Values are
// JSON documents.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type redisCache struct {
	client    *redis.Client
	namespace string
}

// NewRedisCache stores entries under namespace + ":" + key so several
// deployments can share one Redis database.
func NewRedisCache(client *redis.Client, namespace string) Cache {
	return &redisCache{
		client:    client,
		namespace: namespace,
	}
}

func (r *redisCache) key(key string) string {
	if r.namespace == "" {
		return key
	}
	return r.namespace + ":" + key
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return value, err
}

func (r *redisCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, expiration).Err()
}

// Delete removes all keys in a single round trip.
func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = r.key(key)
	}
	return r.client.Del(ctx, namespaced...).Err()
}

type noopCache struct{}

// NewNoopCache returns a Cache that never stores anything, for deployments
// running without Redis.
func NewNoopCache() Cache {
	return noopCache{}
}

func (noopCache) Get(context.Context, string) (string, error) { return "", ErrMiss }

func (noopCache) Set(context.Context, string, string, time.Duration) error { return nil }

func (noopCache) Delete(context.Context, ...string) error { return nil }
