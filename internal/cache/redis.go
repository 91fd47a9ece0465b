// Package cache wraps the shared go-redis client. Despite the name it is
// the system's authoritative store: page trees, users, indexes, sessions,
// locks, and the pub/sub bus all live behind this client.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/threadkit/threadkit/internal/logger"
	"go.uber.org/zap"
)

// RedisClient wraps the redis.Client with centralized connection pooling
type RedisClient struct {
	client *redis.Client
}

// Singleton instance (package-level)
var globalRedis *RedisClient

// NewRedisClient creates and initializes a Redis client with connection
// pooling. url is a redis:// URL (REDIS_URL); empty defaults to localhost.
func NewRedisClient(url string) (*RedisClient, error) {
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.MaxRetries = 3
	opts.PoolSize = 64
	opts.MinIdleConns = 8
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.ErrorWithFields("Failed to connect to Redis", err)
		return nil, err
	}

	rc := &RedisClient{client: client}
	globalRedis = rc

	logger.Log.Info("Redis client connected",
		zap.String("address", opts.Addr),
	)
	return rc, nil
}

// NewRedisClientFromExisting wraps an already constructed client. Tests use
// this to point the package at a miniredis instance.
func NewRedisClientFromExisting(client *redis.Client) *RedisClient {
	rc := &RedisClient{client: client}
	globalRedis = rc
	return rc
}

// GetRedisClient returns the global Redis client instance
func GetRedisClient() *RedisClient {
	return globalRedis
}

// Close closes the Redis connection gracefully
func (rc *RedisClient) Close() error {
	if rc == nil || rc.client == nil {
		return nil
	}
	return rc.client.Close()
}

// Raw exposes the underlying client for pipelines and pub/sub, which need
// more than the wrapper surface.
func (rc *RedisClient) Raw() *redis.Client {
	return rc.client
}

// Ping tests the Redis connection
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Strings

// Get retrieves a value; returns ("", false, nil) when the key is absent.
func (rc *RedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores a value with no expiration
func (rc *RedisClient) Set(ctx context.Context, key string, value any) error {
	return rc.client.Set(ctx, key, value, 0).Err()
}

// SetEx stores a value with expiration
func (rc *RedisClient) SetEx(ctx context.Context, key string, value any, ttl time.Duration) error {
	return rc.client.Set(ctx, key, value, ttl).Err()
}

// SetNX sets a key only if absent; reports whether it was set. Lock
// acquisition is built on this.
func (rc *RedisClient) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return rc.client.SetNX(ctx, key, value, ttl).Result()
}

// GetDel atomically reads and deletes a key (single-use codes).
func (rc *RedisClient) GetDel(ctx context.Context, key string) (string, bool, error) {
	val, err := rc.client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Del deletes one or more keys
func (rc *RedisClient) Del(ctx context.Context, keys ...string) error {
	return rc.client.Del(ctx, keys...).Err()
}

// Exists checks if one or more keys exist
func (rc *RedisClient) Exists(ctx context.Context, keys ...string) (int64, error) {
	return rc.client.Exists(ctx, keys...).Result()
}

// Expire sets an expiration timeout on a key
func (rc *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return rc.client.Expire(ctx, key, ttl).Err()
}

// IncrBy increments a key by a value
func (rc *RedisClient) IncrBy(ctx context.Context, key string, increment int64) (int64, error) {
	return rc.client.IncrBy(ctx, key, increment).Result()
}

// Hashes

// HSet sets fields in a hash
func (rc *RedisClient) HSet(ctx context.Context, key string, values map[string]any) error {
	return rc.client.HSet(ctx, key, values).Err()
}

// HGet gets a field from a hash; ("", false, nil) when absent.
func (rc *RedisClient) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := rc.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// HGetAll gets all fields from a hash (empty map when the key is absent)
func (rc *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return rc.client.HGetAll(ctx, key).Result()
}

// HIncrBy increments a hash field
func (rc *RedisClient) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return rc.client.HIncrBy(ctx, key, field, incr).Result()
}

// HDel removes hash fields
func (rc *RedisClient) HDel(ctx context.Context, key string, fields ...string) error {
	return rc.client.HDel(ctx, key, fields...).Err()
}

// Sets

// SAdd adds members to a set
func (rc *RedisClient) SAdd(ctx context.Context, key string, members ...any) error {
	return rc.client.SAdd(ctx, key, members...).Err()
}

// SRem removes members from a set
func (rc *RedisClient) SRem(ctx context.Context, key string, members ...any) error {
	return rc.client.SRem(ctx, key, members...).Err()
}

// SMembers returns all members of a set
func (rc *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return rc.client.SMembers(ctx, key).Result()
}

// SIsMember checks set membership
func (rc *RedisClient) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	return rc.client.SIsMember(ctx, key, member).Result()
}

// SCard returns the set cardinality
func (rc *RedisClient) SCard(ctx context.Context, key string) (int64, error) {
	return rc.client.SCard(ctx, key).Result()
}

// Sorted sets

// ZAdd adds a scored member
func (rc *RedisClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return rc.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRem removes members from a sorted set
func (rc *RedisClient) ZRem(ctx context.Context, key string, members ...any) error {
	return rc.client.ZRem(ctx, key, members...).Err()
}

// ZRangeByScore returns members with scores in [min, max]
func (rc *RedisClient) ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error) {
	return rc.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
}

// ZRangeWithScores returns a rank range with scores
func (rc *RedisClient) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]redis.Z, error) {
	return rc.client.ZRangeWithScores(ctx, key, start, stop).Result()
}

// ZRemRangeByScore removes members with scores in [min, max]
func (rc *RedisClient) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	return rc.client.ZRemRangeByScore(ctx, key, min, max).Err()
}

// ZCard returns the sorted-set cardinality
func (rc *RedisClient) ZCard(ctx context.Context, key string) (int64, error) {
	return rc.client.ZCard(ctx, key).Result()
}

// Scripting, pipelines, pub/sub

// Eval runs a Lua script
func (rc *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return rc.client.Eval(ctx, script, keys, args...).Result()
}

// Pipeline returns a fresh pipeline; the batcher issues one per flush.
func (rc *RedisClient) Pipeline() redis.Pipeliner {
	return rc.client.Pipeline()
}

// Publish sends a payload on a pub/sub channel
func (rc *RedisClient) Publish(ctx context.Context, channel string, payload any) error {
	return rc.client.Publish(ctx, channel, payload).Err()
}

// PSubscribe opens a pattern subscription. The returned PubSub owns a
// dedicated connection; callers must Close it.
func (rc *RedisClient) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return rc.client.PSubscribe(ctx, patterns...)
}
