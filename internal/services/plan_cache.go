package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"nexus/backend/pkg/models"
)

// PlanCache stores plans by topic so repeated topics skip the planning call.
type PlanCache interface {
	Get(ctx context.Context, topic string) ([]models.Task, bool, error)
	Put(ctx context.Context, topic string, tasks []models.Task) error
}

// RedisPlanCache is a Redis implementation of PlanCache.
type RedisPlanCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPlanCache creates a RedisPlanCache. A zero ttl keeps entries until
// evicted.
func NewRedisPlanCache(client *redis.Client, ttl time.Duration) *RedisPlanCache {
	return &RedisPlanCache{client: client, ttl: ttl}
}

// planCacheKey normalizes case and whitespace so trivially different
// spellings of a topic share an entry.
func planCacheKey(topic string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(topic), " "))
	sum := sha256.Sum256([]byte(normalized))
	return "nexus:plan:" + hex.EncodeToString(sum[:])
}

// Get returns the cached plan for topic.
func (c *RedisPlanCache) Get(ctx context.Context, topic string) ([]models.Task, bool, error) {
	raw, err := c.client.Get(ctx, planCacheKey(topic)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get plan: %w", err)
	}

	var tasks []models.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, false, fmt.Errorf("decode cached plan: %w", err)
	}
	return tasks, len(tasks) > 0, nil
}

// Put stores a plan for topic.
func (c *RedisPlanCache) Put(ctx context.Context, topic string, tasks []models.Task) error {
	raw, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := c.client.Set(ctx, planCacheKey(topic), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set plan: %w", err)
	}
	return nil
}
