// Package matchqueue is the best-effort job queue behind peer recalculation.
//
// When a user's availability changes, their affected peers are enqueued here
// as independent recalculation jobs instead of being recalculated inline.
// Jobs are keyed by user id in a Redis sorted set, so a peer queued twice
// before being processed collapses into a single job.
package matchqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Queue enqueues and drains pending recalculation jobs.
type Queue interface {
	// Enqueue schedules a match recalculation for userID.
	Enqueue(ctx context.Context, userID string) error

	// Dequeue atomically pops up to limit user ids in FIFO order.
	Dequeue(ctx context.Context, limit int) ([]string, error)

	// Pending returns the number of queued jobs.
	Pending(ctx context.Context) (int64, error)

	// Close closes the queue connection.
	Close() error
}

const keyRecalcQueue = "matches:recalc:pending"

// RedisQueue implements Queue on a Redis sorted set.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a queue from a connection URL.
// URL format: redis://[:password@]host:port[/db]
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{client: client}, nil
}

// NewRedisQueueFromClient creates a RedisQueue from an existing client.
func NewRedisQueueFromClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue schedules a recalculation job. The score is the enqueue timestamp;
// ZAddNX keeps the original position when the same user is queued again
// before being processed.
func (q *RedisQueue) Enqueue(ctx context.Context, userID string) error {
	err := q.client.ZAddNX(ctx, keyRecalcQueue, &redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue recalculation for %s: %w", userID, err)
	}
	return nil
}

// Dequeue pops the oldest jobs. ZPOPMIN is atomic, so concurrent workers
// never receive the same job.
func (q *RedisQueue) Dequeue(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	items, err := q.client.ZPopMin(ctx, keyRecalcQueue, int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue recalculation jobs: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item.Member.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Pending returns the queue depth.
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, keyRecalcQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
