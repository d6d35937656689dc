package matchqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dadmatch/dadmatch/internal/telemetry"
)

// Calculator recalculates the stored matches for one user.
// Implemented by the matching service.
type Calculator interface {
	CalculateMatches(ctx context.Context, userID string) (int, error)
}

// WorkerConfig tunes the polling worker.
type WorkerConfig struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
}

// DefaultWorkerConfig returns sensible defaults for one API instance.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  2,
		BatchSize:    10,
		PollInterval: 250 * time.Millisecond,
	}
}

// Worker drains the recalculation queue. Each job failure is logged and the
// worker moves on; recalculations run by the worker do not enqueue further
// fan-out, keeping the cascade one hop deep.
type Worker struct {
	calc     Calculator
	queue    Queue
	config   WorkerConfig
	workerID string

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewWorker creates a recalculation worker.
func NewWorker(calc Calculator, queue Queue, config WorkerConfig) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}

	return &Worker{
		calc:     calc,
		queue:    queue,
		config:   config,
		workerID: "recalc-" + uuid.New().String()[:8],
		stopCh:   make(chan struct{}),
	}
}

// Start begins draining the queue. Blocking; run in a goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.isRunning = true
	w.mu.Unlock()

	logger := telemetry.LogFromContext(ctx).WithFields(logrus.Fields{
		"worker_id":   w.workerID,
		"concurrency": w.config.Concurrency,
	})
	logger.Info("Starting match recalculation worker")

	jobs := make(chan string, w.config.BatchSize*2)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, jobs)
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			close(jobs)
			w.wg.Wait()
			return ctx.Err()
		case <-w.stopCh:
			close(jobs)
			w.wg.Wait()
			return nil
		case <-ticker.C:
			ids, err := w.queue.Dequeue(ctx, w.config.BatchSize)
			if err != nil {
				logger.WithError(err).Warn("Failed to fetch recalculation jobs")
				continue
			}
			for _, id := range ids {
				select {
				case jobs <- id:
				case <-w.stopCh:
					close(jobs)
					w.wg.Wait()
					return nil
				}
			}
		}
	}
}

// Stop signals the worker to drain and exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *Worker) processLoop(ctx context.Context, jobs <-chan string) {
	defer w.wg.Done()

	for userID := range jobs {
		jobCtx := telemetry.WithCorrelationID(ctx, telemetry.NewCorrelationID())
		logger := telemetry.LogFromContext(jobCtx).WithFields(logrus.Fields{
			"worker_id": w.workerID,
			"user_id":   userID,
		})

		count, err := w.calc.CalculateMatches(jobCtx, userID)
		if err != nil {
			logger.WithError(err).Warn("Peer match recalculation failed")
			continue
		}
		logger.WithField("matches", count).Debug("Peer matches recalculated")
	}
}
