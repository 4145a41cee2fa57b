package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateToBucket(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 27, 45, 0, time.UTC)

	tests := []struct {
		window time.Duration
		want   string
	}{
		{time.Minute, "202603140927"},
		{5 * time.Minute, "202603140925"},
		{time.Hour, "2026031409"},
		{15 * time.Minute, "202603140915"},
	}
	for _, tt := range tests {
		t.Run(tt.window.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, truncateToBucket(at, tt.window))
		})
	}
}

func TestTruncateToBucket_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2026, 3, 14, 10, 27, 0, 0, loc)
	assert.Equal(t, "202603140925", truncateToBucket(at, 5*time.Minute))
}

func TestBuildKey(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 3, 0, 0, time.UTC)
	assert.Equal(t, "f:ynab-sync-otp:errors:202603140900", buildKey("ynab-sync-otp", at, 5*time.Minute))
}

func TestMemoryCounter(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()
	window := 5 * time.Minute
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, c.Add(ctx, "fn", start.Add(time.Minute), window))
	require.NoError(t, c.Add(ctx, "fn", start.Add(4*time.Minute), window))
	require.NoError(t, c.Add(ctx, "fn", start.Add(6*time.Minute), window))
	require.NoError(t, c.Add(ctx, "other", start, window))

	sum, err := c.Sum(ctx, "fn", start, window)
	require.NoError(t, err)
	assert.Equal(t, 2.0, sum)

	sum, err = c.Sum(ctx, "fn", start.Add(window), window)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sum)

	sum, err = c.Sum(ctx, "fn", start.Add(-window), window)
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestConnect(t *testing.T) {
	client, err := Connect("redis://:secret@localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Options().DB)
	assert.Equal(t, "secret", client.Options().Password)
	_ = client.Close()

	client, err = Connect("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", client.Options().Addr)
	_ = client.Close()

	_, err = Connect("redis://localhost:notaport/x")
	assert.Error(t, err)
}

func newTestRedisCounter(t *testing.T, retention time.Duration) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounter(client, retention), mr
}

func TestRedisCounter_AddAndSum(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCounter(t, 30*time.Minute)
	window := 5 * time.Minute
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, c.Add(ctx, "fn", start.Add(time.Minute), window))
	require.NoError(t, c.Add(ctx, "fn", start.Add(4*time.Minute), window))
	require.NoError(t, c.Add(ctx, "fn", start.Add(6*time.Minute), window))

	sum, err := c.Sum(ctx, "fn", start, window)
	require.NoError(t, err)
	assert.Equal(t, 2.0, sum)

	sum, err = c.Sum(ctx, "fn", start.Add(window), window)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sum)

	key := buildKey("fn", start, window)
	assert.Equal(t, 30*time.Minute, mr.TTL(key))
}

func TestRedisCounter_MissingKeyIsZero(t *testing.T) {
	c, _ := newTestRedisCounter(t, 0)

	sum, err := c.Sum(context.Background(), "fn", time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestRedisCounter_BucketsExpire(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCounter(t, 0)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, c.Add(ctx, "fn", start, 5*time.Minute))
	mr.FastForward(2 * time.Hour)

	sum, err := c.Sum(ctx, "fn", start, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestRedisCounter_Errors(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCounter(t, 0)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, mr.Set(buildKey("fn", start, 5*time.Minute), "many"))
	_, err := c.Sum(ctx, "fn", start, 5*time.Minute)
	assert.ErrorContains(t, err, `redis value "many"`)

	mr.Close()
	assert.ErrorContains(t, c.Add(ctx, "fn", start, 5*time.Minute), "redis pipeline")
	_, err = c.Sum(ctx, "other", start, 5*time.Minute)
	assert.ErrorContains(t, err, "redis get")
}
