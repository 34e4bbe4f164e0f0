package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const dirtySetKey = "balance:dirty"

// addDeltaScript: delta += ARGV[1]; watermark = max(watermark, ARGV[2]);
// refresh TTL (ARGV[3] seconds, 0 = no expiry).
var addDeltaScript = redis.NewScript(`
local delta = redis.call('HINCRBY', KEYS[1], 'delta', ARGV[1])
local current = tonumber(redis.call('HGET', KEYS[1], 'watermark') or '0')
if tonumber(ARGV[2]) > current then
  redis.call('HSET', KEYS[1], 'watermark', ARGV[2])
end
if tonumber(ARGV[3]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// getAndResetScript returns {delta, watermark} as strings and zeroes delta.
// The values never pass through a Lua number, which is a double. The
// watermark and the key TTL are left untouched.
var getAndResetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'0', '0'}
end
local v = redis.call('HMGET', KEYS[1], 'delta', 'watermark')
redis.call('HSET', KEYS[1], 'delta', '0')
return {v[1] or '0', v[2] or '0'}
`)

// RedisBalanceCache implements BalanceCache on Redis. The keyspace is shared
// by every instance; all writes go through server-side scripts, never
// GET+SET pairs.
type RedisBalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisBalanceCache creates a cache whose delta keys expire after ttl
// without writes. A zero ttl disables expiry.
func NewRedisBalanceCache(rdb *redis.Client, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{rdb: rdb, ttl: ttl}
}

func (c *RedisBalanceCache) AddDeltaAndWatermark(ctx context.Context, code string, delta, watermark int64) error {
	ttlSeconds := int64(c.ttl / time.Second)
	err := addDeltaScript.Run(ctx, c.rdb, []string{deltaKey(code)}, delta, watermark, ttlSeconds).Err()
	if err != nil {
		return fmt.Errorf("add delta for %s: %w", code, err)
	}
	return nil
}

func (c *RedisBalanceCache) GetAndResetDeltaWithWatermark(ctx context.Context, code string) (int64, int64, error) {
	vals, err := getAndResetScript.Run(ctx, c.rdb, []string{deltaKey(code)}).StringSlice()
	if err != nil {
		return 0, 0, fmt.Errorf("get and reset delta for %s: %w", code, err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("get and reset delta for %s: unexpected reply %v", code, vals)
	}
	delta, err := strconv.ParseInt(vals[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("get and reset delta for %s: %w", code, err)
	}
	watermark, err := strconv.ParseInt(vals[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("get and reset watermark for %s: %w", code, err)
	}
	return delta, watermark, nil
}

func (c *RedisBalanceCache) MarkDirty(ctx context.Context, code string) error {
	return c.rdb.SAdd(ctx, dirtySetKey, code).Err()
}

func (c *RedisBalanceCache) ClearDirty(ctx context.Context, code string) error {
	return c.rdb.SRem(ctx, dirtySetKey, code).Err()
}

func (c *RedisBalanceCache) GetDirtyAccounts(ctx context.Context) ([]string, error) {
	codes, err := c.rdb.SMembers(ctx, dirtySetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(codes)
	return codes, nil
}

func (c *RedisBalanceCache) GetRealTimeBalance(ctx context.Context, code string, snapshotBalance int64) (int64, error) {
	delta, err := c.rdb.HGet(ctx, deltaKey(code), "delta").Int64()
	if errors.Is(err, redis.Nil) {
		return snapshotBalance, nil
	}
	if err != nil {
		return 0, err
	}
	return snapshotBalance + delta, nil
}

func deltaKey(code string) string { return fmt.Sprintf("balance:delta:%s", code) }
