package sequence

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// counterTTL outlives the business day so late retries still see the key.
const counterTTL = 7 * 24 * time.Hour

// RedisCounter increments counters with INCR. Uniqueness of the rendered
// numbers is still backed by the unique columns in the record store.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, prefix: "seq:"}
}

func (c *RedisCounter) Next(ctx context.Context, key string) (int64, error) {
	fullKey := c.prefix + key
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
