// Package analytics counts function errors per alarm window.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps error counts in Redis so several serve processes
// evaluating the same alarms agree on the totals.
type RedisCounter struct {
	client    *redis.Client
	retention time.Duration
}

// Connect builds a client from a redis:// URL or a host:port address.
func Connect(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// NewRedisCounter returns a counter whose buckets expire after retention.
func NewRedisCounter(client *redis.Client, retention time.Duration) *RedisCounter {
	if retention <= 0 {
		retention = time.Hour
	}
	return &RedisCounter{client: client, retention: retention}
}

func (c *RedisCounter) Add(ctx context.Context, function string, at time.Time, window time.Duration) error {
	key := buildKey(function, at, window)

	pipe := c.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func (c *RedisCounter) Sum(ctx context.Context, function string, windowStart time.Time, window time.Duration) (float64, error) {
	v, err := c.client.Get(ctx, buildKey(function, windowStart, window)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("redis value %q: %w", v, err)
	}
	return n, nil
}

func buildKey(function string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("f:%s:errors:%s", function, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		if window > 0 {
			t = t.Truncate(window)
		}
		return t.Format("200601021504")
	}
}
