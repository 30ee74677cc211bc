// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/missionops/voicesync/internal/metrics"
)

// RedisStore is a Redis-backed implementation of Store.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
	stats  struct {
		hits   atomic.Int64
		misses atomic.Int64
		sets   atomic.Int64
	}
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// NewRedisStore creates a Redis-backed cache and verifies connectivity.
func NewRedisStore(config RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis cache")

	return &RedisStore{
		client: client,
		logger: logger,
	}, nil
}

// newRedisStoreFromClient wires an existing client; used by tests.
func newRedisStoreFromClient(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.stats.misses.Add(1)
		metrics.RecordCacheOp("get", "miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheOp("get", "error")
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	s.stats.hits.Add(1)
	metrics.RecordCacheOp("get", "hit")
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		metrics.RecordCacheOp("set", "error")
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	s.stats.sets.Add(1)
	metrics.RecordCacheOp("set", "ok")
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) PushList(ctx context.Context, key string, ttl time.Duration, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	// RPUSH and EXPIRE travel in one pipeline so the queue TTL is always
	// refreshed alongside the append.
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, args...)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordCacheOp("push", "error")
		return fmt.Errorf("redis rpush %s: %w", key, err)
	}
	metrics.RecordCacheOp("push", "ok")
	return nil
}

func (s *RedisStore) DrainList(ctx context.Context, key string) ([][]byte, error) {
	// LRANGE + DEL inside MULTI/EXEC: concurrent RPUSHes serialize either
	// before the whole transaction or after it, never in between.
	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordCacheOp("drain", "error")
		return nil, fmt.Errorf("redis drain %s: %w", key, err)
	}
	items, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	metrics.RecordCacheOp("drain", "ok")
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Stats() Stats {
	return Stats{
		Hits:   s.stats.hits.Load(),
		Misses: s.stats.misses.Load(),
		Sets:   s.stats.sets.Load(),
	}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
