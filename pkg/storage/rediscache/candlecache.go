// Package rediscache shares fetched candle series between processes
// through Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"athsync/config"
	"athsync/internal/model"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type CandleCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New dials Redis and pings it before returning.
func New(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, logger *zap.Logger) (*CandleCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(rdb, cfg.Prefix, ttl, logger), nil
}

func NewWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *CandleCache {
	if prefix == "" {
		prefix = "athsync:candles:"
	}
	return &CandleCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Get treats every Redis failure as a miss; the caller falls through to
// the provider.
func (c *CandleCache) Get(ctx context.Context, key string) (*model.CandleSeries, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("candle cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var series model.CandleSeries
	if err := json.Unmarshal(raw, &series); err != nil {
		c.logger.Warn("discarding corrupt candle cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &series, true
}

func (c *CandleCache) Put(ctx context.Context, key string, series model.CandleSeries) error {
	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encode candle series: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *CandleCache) Close() error {
	return c.client.Close()
}
