package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue stores jobs in a Redis list so several agent processes can
// share one backlog. Producers LPUSH, workers BRPOP.
type RedisQueue struct {
	client      *redis.Client
	key         string
	maxLen      int
	pollTimeout time.Duration
}

// RedisQueueOption configures a RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithMaxLen rejects Enqueue once the list holds n jobs. Zero means no cap.
func WithMaxLen(n int) RedisQueueOption {
	return func(q *RedisQueue) { q.maxLen = n }
}

// WithPollTimeout bounds each BRPOP so Dequeue notices cancellation.
func WithPollTimeout(d time.Duration) RedisQueueOption {
	return func(q *RedisQueue) { q.pollTimeout = d }
}

// NewRedisQueue uses the list at key.
func NewRedisQueue(client *redis.Client, key string, opts ...RedisQueueOption) *RedisQueue {
	q := &RedisQueue{client: client, key: key, pollTimeout: 2 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if q.maxLen > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("redis queue length: %w", err)
		}
		if n >= int64(q.maxLen) {
			return ErrQueueFull
		}
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	return nil
}

// Dequeue implements Queue.
func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("redis dequeue: %w", err)
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			return Job{}, fmt.Errorf("redis dequeue: unexpected reply %v", res)
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

// Len implements Queue. Errors read as an empty queue.
func (q *RedisQueue) Len(ctx context.Context) int {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close is a no-op; the client lifecycle is managed by the caller.
func (q *RedisQueue) Close() error { return nil }
