package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	valuePrefix = "gantry:cache:"
	tagPrefix   = "gantry:tag:"
)

// Redis is the shared-cache implementation. Values live under TTL'd keys;
// each tag is a set of member keys. Tag sets outlive expired members, so
// invalidation deletes members that may already be gone; that is harmless.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, valuePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, valuePrefix+key, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagPrefix+tag, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *Redis) InvalidateKey(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, valuePrefix+key).Err(); err != nil {
		return fmt.Errorf("cache invalidate key: %w", err)
	}
	return nil
}

func (r *Redis) InvalidateByTag(ctx context.Context, tagPattern string) error {
	iter := r.client.Scan(ctx, 0, tagPrefix+tagPattern, 0).Iterator()
	for iter.Next(ctx) {
		tagKey := iter.Val()
		members, err := r.client.SMembers(ctx, tagKey).Result()
		if err != nil {
			return fmt.Errorf("cache tag members: %w", err)
		}

		pipe := r.client.Pipeline()
		for _, member := range members {
			pipe.Del(ctx, valuePrefix+member)
		}
		pipe.Del(ctx, tagKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("cache invalidate tag: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache tag scan: %w", err)
	}
	return nil
}
