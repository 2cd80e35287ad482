package services

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"nexus/backend/pkg/models"
)

func TestPlanCacheKey(t *testing.T) {
	assert.Equal(t, planCacheKey("Electric Cars"), planCacheKey("  electric\tcars "))
	assert.NotEqual(t, planCacheKey("electric cars"), planCacheKey("electric trucks"))
}

func TestRedisPlanCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(connStr)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	cache := NewRedisPlanCache(client, time.Minute)

	_, ok, err := cache.Get(ctx, "tesla")
	require.NoError(t, err)
	assert.False(t, ok)

	plan := []models.Task{{Role: "a", Description: "1"}, {Role: "b", Description: "2"}}
	require.NoError(t, cache.Put(ctx, "tesla", plan))

	got, ok, err := cache.Get(ctx, "TESLA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, plan, got)

	ttl, err := client.TTL(ctx, planCacheKey("tesla")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
