package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still belongs to the caller,
// so a run that outlived its TTL cannot free a lock someone else now holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClient wraps go-redis to satisfy LockClient.
type RedisClient struct {
	rdb *redis.Client
}

var _ LockClient = (*RedisClient)(nil)

func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Fail fast if connection is bad
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{rdb: rdb}, nil
}

func (c *RedisClient) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, owner, ttl).Result()
}

func (c *RedisClient) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, c.rdb, []string{key}, owner).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
