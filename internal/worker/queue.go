// Package worker retries loyalty accruals that could not be applied inline
// with the sale.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/domain"
)

const (
	QueueAccrual = "jobs:loyalty_accrual"
	DLQPrefix    = "dlq:"
)

// ErrQueueFull is returned when the in-process queue has no free slot.
var ErrQueueFull = errors.New("accrual queue is full")

// dequeueWait bounds a blocking pop so workers notice shutdown.
const dequeueWait = 5 * time.Second

// Queue carries accrual jobs between the sale path and the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, job domain.AccrualJob) error
	// Dequeue blocks for a short while; ok is false when nothing arrived.
	Dequeue(ctx context.Context) (job domain.AccrualJob, ok bool, err error)
	DeadLetter(ctx context.Context, job domain.AccrualJob, reason string) error
}

// DLQEntry records a job that exhausted its retries.
type DLQEntry struct {
	OriginalQueue string            `json:"originalQueue"`
	Job           domain.AccrualJob `json:"job"`
	Reason        string            `json:"reason"`
	FailedAt      time.Time         `json:"failedAt"`
}

// Stats is a point-in-time view of the accrual backlog.
type Stats struct {
	Pending      int64 `json:"pending"`
	DeadLettered int64 `json:"deadLettered"`
}

type MemoryQueue struct {
	jobs chan domain.AccrualJob
	wait time.Duration

	mu   sync.Mutex
	dead []DLQEntry
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity < 1 {
		capacity = 1024
	}
	return &MemoryQueue{jobs: make(chan domain.AccrualJob, capacity), wait: dequeueWait}
}

// Enqueue never waits for room.
func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.AccrualJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (domain.AccrualJob, bool, error) {
	timer := time.NewTimer(q.wait)
	defer timer.Stop()
	select {
	case job := <-q.jobs:
		return job, true, nil
	case <-timer.C:
		return domain.AccrualJob{}, false, nil
	case <-ctx.Done():
		return domain.AccrualJob{}, false, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job domain.AccrualJob, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DLQEntry{
		OriginalQueue: QueueAccrual,
		Job:           job,
		Reason:        reason,
		FailedAt:      time.Now().UTC(),
	})
	return nil
}

func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	dead := len(q.dead)
	q.mu.Unlock()
	return Stats{Pending: int64(len(q.jobs)), DeadLettered: int64(dead)}, nil
}

func (q *MemoryQueue) DeadLetters() []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DLQEntry(nil), q.dead...)
}

// RedisQueue pushes with LPUSH and pops with BRPOP, so jobs survive a
// restart of the API process.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: QueueAccrual}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.AccrualJob) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.name, encoded).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (domain.AccrualJob, bool, error) {
	result, err := q.rdb.BRPop(ctx, dequeueWait, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return domain.AccrualJob{}, false, nil
	}
	if err != nil {
		return domain.AccrualJob{}, false, err
	}
	if len(result) < 2 {
		return domain.AccrualJob{}, false, nil
	}

	var job domain.AccrualJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return domain.AccrualJob{}, false, err
	}
	return job, true, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job domain.AccrualJob, reason string) error {
	entry := DLQEntry{
		OriginalQueue: q.name,
		Job:           job,
		Reason:        reason,
		FailedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, DLQPrefix+q.name, data).Err()
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	pending := pipe.LLen(ctx, q.name)
	dead := pipe.LLen(ctx, DLQPrefix+q.name)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{Pending: pending.Val(), DeadLettered: dead.Val()}, nil
}
