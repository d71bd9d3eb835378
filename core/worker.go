package core

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	"github.com/TITAN-Softwork-Solutions/Vigil/util/goroutine"
	"go.uber.org/zap"
)

var poolTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// WorkerPool runs submitted tasks on a fixed set of goroutines fed by a
// bounded queue. Submit never blocks; Stop drains whatever is queued.
type WorkerPool struct {
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	stopped   bool
	mu        sync.RWMutex
	poolType  string // metrics label
}

// NewWorkerPool creates a pool with a background parent context
func NewWorkerPool(workers int, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), workers, queueSize, poolType, logger)
}

// NewWorkerPoolWithContext creates a pool whose tasks observe ctx through Context().
// Workers are not started until Start is called.
func NewWorkerPoolWithContext(parentCtx context.Context, workers int, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if poolType == "" {
		poolType = "default"
	}
	if !poolTypePattern.MatchString(poolType) {
		logger.Warnw("Invalid poolType, using default", "poolType", poolType)
		poolType = "default"
	}

	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		poolType:  poolType,
	}
}

// Context is cancelled when the pool is stopped or its parent is cancelled.
// Long running tasks should pass it to blocking calls.
func (wp *WorkerPool) Context() context.Context {
	return wp.ctx
}

// Start begins processing tasks with the worker pool
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped {
		return ErrWorkerPoolStopped
	}
	if wp.running {
		return nil
	}

	wp.running = true
	wp.logger.Infow("Starting worker pool", "pool_type", wp.poolType, "workers", wp.workers, "queue_size", wp.queueSize)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return nil
}

// Stop refuses new tasks, lets the workers finish everything already queued
// and waits for them. If ctx expires first the pool context is cancelled and
// ctx.Err() is returned; tasks still queued at that point are abandoned.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.stopped = true
		wp.mu.Unlock()
		wp.cancel()
		return nil
	}
	wp.running = false
	wp.stopped = true
	close(wp.taskCh)
	wp.mu.Unlock()

	wp.logger.Infow("Stopping worker pool", "pool_type", wp.poolType, "queued", len(wp.taskCh))

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(0)
		wp.logger.Infow("Worker pool stopped", "pool_type", wp.poolType)
		return nil
	case <-ctx.Done():
		wp.cancel()
		wp.logger.Errorw("Worker pool drain timed out",
			"pool_type", wp.poolType,
			"abandoned", len(wp.taskCh))
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolType).Set(-1)
		return ctx.Err()
	}
}

// Submit adds a task to the queue without blocking
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Workers:     wp.workers,
		QueueSize:   wp.queueSize,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.poolType, wp.logger)

	wp.logger.Debugw("Worker started", "pool_type", wp.poolType, "worker_id", id)

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debugw("Worker stopping due to context cancellation", "worker_id", id)
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			wp.run(id, task)
		}
	}
}

func (wp *WorkerPool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Task panicked in worker", "pool_type", wp.poolType, "worker_id", id, "panic", r)
		}
	}()
	task()
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolType).Inc()
	metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
}

// WorkerPoolStats contains statistics about the worker pool
type WorkerPoolStats struct {
	Workers     int  `json:"workers"`
	QueueSize   int  `json:"queue_size"`
	Running     bool `json:"running"`
	QueuedTasks int  `json:"queued_tasks"`
}

// Errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
	ErrWorkerPoolStopped    = errors.New("worker pool has been stopped")
)
