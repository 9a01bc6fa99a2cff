// Package redis wraps the go-redis client with the typed collection
// operations the cache layer uses: hash, set, sorted-set, string, and
// scan, plus pipelined transactions and named distributed locks.
package redis

import (
	"context"
	"errors"
	"strconv"

	"talkroom_server/internal/config"
	"talkroom_server/pkg/errorx"

	"github.com/redis/go-redis/v9"
)

// Cache is the typed cache adapter over one shared client. The client is
// safe for concurrent use; pipelines multiplex it.
type Cache struct {
	rdb *redis.Client
}

// Init connects using the application config.
func Init() *Cache {
	conf := config.GetConfig()
	addr := conf.RedisConfig.Host + ":" + strconv.Itoa(conf.RedisConfig.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     conf.RedisConfig.Password,
		DB:           conf.RedisConfig.Db,
		PoolSize:     50,
		MinIdleConns: 15,
	})
	return NewCache(client)
}

// NewCache wraps an existing client (tests pass a miniredis-backed one).
func NewCache(client *redis.Client) *Cache {
	return &Cache{rdb: client}
}

// Client exposes the underlying client for pub/sub subscriptions.
func (c *Cache) Client() *redis.Client {
	return c.rdb
}

// Pipeline starts a MULTI/EXEC transaction.
func (c *Cache) Pipeline() redis.Pipeliner {
	return c.rdb.TxPipeline()
}

func wrapCacheError(err error, op, key string) error {
	return errorx.Wrapf(err, errorx.CodeInternalServerError, "redis %s key %s", op, key)
}

// ==================== String ====================

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", wrapCacheError(err, "get", key)
	}
	return value, nil
}

func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return wrapCacheError(err, "set", key)
	}
	return nil
}

// ==================== Hash ====================

func (c *Cache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapCacheError(err, "hgetall", key)
	}
	return fields, nil
}

func (c *Cache) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	if err := c.rdb.HSet(ctx, key, args...).Err(); err != nil {
		return wrapCacheError(err, "hset", key)
	}
	return nil
}

// ==================== Set ====================

func (c *Cache) SAdd(ctx context.Context, key string, members ...interface{}) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.rdb.SAdd(ctx, key, members...).Err(); err != nil {
		return wrapCacheError(err, "sadd", key)
	}
	return nil
}

func (c *Cache) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapCacheError(err, "smembers", key)
	}
	return members, nil
}

func (c *Cache) SRem(ctx context.Context, key string, members ...interface{}) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.rdb.SRem(ctx, key, members...).Err(); err != nil {
		return wrapCacheError(err, "srem", key)
	}
	return nil
}

func (c *Cache) SCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrapCacheError(err, "scard", key)
	}
	return n, nil
}

// ==================== Sorted set ====================

func (c *Cache) ZAdd(ctx context.Context, key string, members ...redis.Z) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.rdb.ZAdd(ctx, key, members...).Err(); err != nil {
		return wrapCacheError(err, "zadd", key)
	}
	return nil
}

func (c *Cache) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := c.rdb.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapCacheError(err, "zrange", key)
	}
	return values, nil
}

func (c *Cache) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := c.rdb.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapCacheError(err, "zrevrange", key)
	}
	return values, nil
}

func (c *Cache) ZRem(ctx context.Context, key string, members ...interface{}) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.rdb.ZRem(ctx, key, members...).Err(); err != nil {
		return wrapCacheError(err, "zrem", key)
	}
	return nil
}

func (c *Cache) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapCacheError(err, "zcard", key)
	}
	return n, nil
}

// ==================== Key / scan ====================

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return wrapCacheError(err, "del", keys[0])
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapCacheError(err, "exists", key)
	}
	return n == 1, nil
}

// ScanKeys walks the keyspace with SCAN, never KEYS.
func (c *Cache) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var found []string
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, wrapCacheError(err, "scan", pattern)
		}
		found = append(found, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return found, nil
}
