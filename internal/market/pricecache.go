package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syntropism/backend/internal/domain"
)

const priceCacheKey = "market:prices"

// PriceCache keeps the latest discovered prices in Redis so agents can poll
// them without touching the relational store. The cache is refreshed after
// every committed cycle; the store stays the source of truth.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache connects to Redis and verifies connectivity.
func NewPriceCache(addr, password string, db int) (*PriceCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}
	return &PriceCache{rdb: rdb}, nil
}

// Put replaces the cached snapshot.
func (c *PriceCache) Put(ctx context.Context, prices map[domain.ResourceType]float64) error {
	payload, err := json.Marshal(prices)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, priceCacheKey, payload, 0).Err()
}

// Get returns the cached snapshot, or ErrNotFound when no cycle has run yet.
func (c *PriceCache) Get(ctx context.Context) (map[domain.ResourceType]float64, error) {
	val, err := c.rdb.Get(ctx, priceCacheKey).Bytes()
	if err == redis.Nil {
		return nil, domain.NotFound("price snapshot", priceCacheKey)
	}
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ResourceType]float64)
	if err := json.Unmarshal(val, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close shuts down the redis client.
func (c *PriceCache) Close() error { return c.rdb.Close() }
