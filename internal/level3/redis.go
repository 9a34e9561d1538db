package level3

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAPI is the subset of the Redis client the cache uses. Tests
// stub it.
type redisAPI interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisCache shares the digest table between decoder processes through
// Redis, so several radios feeding one curator deduplicate against
// each other. Values pack the digest with the last forward time; the
// key TTL plays the idle-expiry role the in-memory sweep plays.
type RedisCache struct {
	client redisAPI
	floor  time.Duration
}

// NewRedisCache connects to Redis at addr and verifies the connection.
func NewRedisCache(addr string, floor time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, floor: floor}, nil
}

// NewRedisCacheWithClient wraps an existing client (useful for testing).
func NewRedisCacheWithClient(client redisAPI, floor time.Duration) *RedisCache {
	return &RedisCache{client: client, floor: floor}
}

// Check implements Cache.
func (c *RedisCache) Check(ctx context.Context, key, digest string, now time.Time) (bool, error) {
	rkey := "fisb:digest:" + key

	val, err := c.client.Get(ctx, rkey).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to read digest entry: %w", err)
	}
	if err == nil {
		if prev, lastForward, ok := splitEntry(val); ok {
			if prev == digest && now.Sub(lastForward) < c.floor {
				// Suppressed. Refresh the idle TTL without moving
				// the forward time.
				if err := c.client.Set(ctx, rkey, val, idleTTL).Err(); err != nil {
					return false, fmt.Errorf("failed to refresh digest entry: %w", err)
				}
				return false, nil
			}
		}
	}

	packed := digest + "|" + strconv.FormatInt(now.UnixNano(), 10)
	if err := c.client.Set(ctx, rkey, packed, idleTTL).Err(); err != nil {
		return false, fmt.Errorf("failed to store digest entry: %w", err)
	}
	return true, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func splitEntry(val string) (digest string, lastForward time.Time, ok bool) {
	i := strings.IndexByte(val, '|')
	if i < 0 {
		return "", time.Time{}, false
	}
	ns, err := strconv.ParseInt(val[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return val[:i], time.Unix(0, ns).UTC(), true
}
