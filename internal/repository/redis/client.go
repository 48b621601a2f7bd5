package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Cache holds live battle state in Redis: positions, action locks and
// turn deadlines. It implements repository.BattleCache.
type Cache struct {
	rdb *redis.Client
}

// Dial parses redisURL, connects and pings.
func Dial(ctx context.Context, redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

// Wrap uses an existing connection.
func Wrap(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// NotifyExpiry turns on expired-key events, which drive forced turns when a
// deadline key lapses. Managed Redis often refuses CONFIG SET; callers then
// rely on polling.
func (c *Cache) NotifyExpiry(ctx context.Context) error {
	return c.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
}

// Conn is the connection, for pub/sub listeners.
func (c *Cache) Conn() *redis.Client {
	return c.rdb
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
