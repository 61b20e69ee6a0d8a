package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/domain"
)

// NewRedisClient builds the client shared by the report cache, the redis
// sequence counter and the accrual queue.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisReportCache struct {
	client *redis.Client
}

func NewRedisReportCache(client *redis.Client) *RedisReportCache {
	return &RedisReportCache{client: client}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Get(ctx context.Context, date string) (*domain.DailyReport, bool, error) {
	val, err := c.client.Get(ctx, reportKey(date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.DailyReport
	if err := json.Unmarshal(val, &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, report *domain.DailyReport, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, reportKey(report.Date), payload, ttl).Err()
}
