package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Options mirrors the subset of connection settings the service exposes.
type Options struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(o Options) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
}

func Ping(ctx context.Context, client *goredis.Client) error {
	return client.Ping(ctx).Err()
}

// Counter is a fixed-window counter store. Each Increment bumps the key and
// refreshes its expiry inside one MULTI/EXEC, so concurrent callers on any
// number of server replicas see a consistent count.
type Counter struct {
	client *goredis.Client
	prefix string
}

func NewCounter(client *goredis.Client, prefix string) *Counter {
	return &Counter{client: client, prefix: prefix}
}

func (c *Counter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, c.prefix+key)
		p.Expire(ctx, c.prefix+key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rate counter %s: %w", key, err)
	}
	return incr.Val(), nil
}
