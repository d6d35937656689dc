package matchqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memQueue is an in-memory FIFO Queue for tests.
type memQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *memQueue) Enqueue(ctx context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.ids {
		if id == userID {
			return nil // coalesce like ZADD NX
		}
	}
	q.ids = append(q.ids, userID)
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit > len(q.ids) {
		limit = len(q.ids)
	}
	out := q.ids[:limit]
	q.ids = q.ids[limit:]
	return out, nil
}

func (q *memQueue) Pending(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ids)), nil
}

func (q *memQueue) Close() error { return nil }

type fakeCalculator struct {
	mu      sync.Mutex
	seen    []string
	failFor map[string]bool
}

func (c *fakeCalculator) CalculateMatches(ctx context.Context, userID string) (int, error) {
	c.mu.Lock()
	c.seen = append(c.seen, userID)
	c.mu.Unlock()
	if c.failFor[userID] {
		return 0, errors.New("recalc failed")
	}
	return 1, nil
}

func (c *fakeCalculator) processed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.seen))
	copy(out, c.seen)
	return out
}

func TestWorker_ProcessesQueuedJobs(t *testing.T) {
	q := &memQueue{}
	calc := &fakeCalculator{}
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "u1"))
	require.NoError(t, q.Enqueue(ctx, "u2"))
	require.NoError(t, q.Enqueue(ctx, "u1")) // duplicate, coalesced

	w := NewWorker(calc, q, WorkerConfig{Concurrency: 2, BatchSize: 5, PollInterval: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		n, _ := q.Pending(ctx)
		return n == 0 && len(calc.processed()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	require.NoError(t, <-done)
	assert.ElementsMatch(t, []string{"u1", "u2"}, calc.processed())
}

func TestWorker_JobFailureDoesNotHaltOthers(t *testing.T) {
	q := &memQueue{}
	calc := &fakeCalculator{failFor: map[string]bool{"bad": true}}
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "bad"))
	require.NoError(t, q.Enqueue(ctx, "good"))

	w := NewWorker(calc, q, WorkerConfig{Concurrency: 1, BatchSize: 5, PollInterval: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		seen := calc.processed()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	require.NoError(t, <-done)
}

func TestWorker_DoubleStart(t *testing.T) {
	q := &memQueue{}
	w := NewWorker(&fakeCalculator{}, q, DefaultWorkerConfig())

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	// Give the first Start a moment to register as running.
	assert.Eventually(t, func() bool {
		return w.Start(context.Background()) != nil
	}, time.Second, 10*time.Millisecond)

	w.Stop()
	require.NoError(t, <-done)
}
