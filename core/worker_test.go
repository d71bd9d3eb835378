package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestWorkerPool_StartStop(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(2, 10, "test", logger)

	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}

	stats := wp.GetStats()
	if !stats.Running {
		t.Error("Worker pool should be running")
	}
	if stats.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", stats.Workers)
	}

	if err := wp.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if wp.GetStats().Running {
		t.Error("Worker pool should not be running after stop")
	}
	if err := wp.Start(); err != ErrWorkerPoolStopped {
		t.Errorf("Expected ErrWorkerPoolStopped on restart, got %v", err)
	}
}

func TestWorkerPool_SubmitTasks(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(2, 10, "test", logger)

	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}
	defer wp.Stop(context.Background())

	var counter int64
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		err := wp.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		})
		if err != nil {
			t.Fatalf("Failed to submit task: %v", err)
		}
	}

	wg.Wait()

	if atomic.LoadInt64(&counter) != 5 {
		t.Errorf("Expected counter to be 5, got %d", counter)
	}
}

func TestWorkerPool_QueueFull(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(1, 1, "test", logger)

	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	if err := wp.Submit(func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Failed to submit blocking task: %v", err)
	}
	<-started

	// occupies the single queue slot
	if err := wp.Submit(func() {}); err != nil {
		t.Fatalf("Failed to submit queued task: %v", err)
	}

	if err := wp.Submit(func() {}); err != ErrWorkerPoolQueueFull {
		t.Errorf("Expected ErrWorkerPoolQueueFull, got %v", err)
	}

	close(release)
	if err := wp.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}

func TestWorkerPool_StopDrainsQueue(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(1, 100, "test", logger)

	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}

	var done int64
	for i := 0; i < 50; i++ {
		if err := wp.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&done, 1)
		}); err != nil {
			t.Fatalf("Failed to submit task: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wp.Stop(ctx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if got := atomic.LoadInt64(&done); got != 50 {
		t.Errorf("Expected all 50 queued tasks to run before Stop returned, got %d", got)
	}
	if err := wp.Submit(func() {}); err != ErrWorkerPoolNotRunning {
		t.Errorf("Expected ErrWorkerPoolNotRunning after stop, got %v", err)
	}
}

func TestWorkerPool_StopTimeout(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(1, 4, "test", logger)

	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}

	release := make(chan struct{})
	defer close(release)
	_ = wp.Submit(func() {
		select {
		case <-release:
		case <-wp.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := wp.Stop(ctx); err != context.DeadlineExceeded {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if wp.Context().Err() == nil {
		t.Error("Pool context should be cancelled after a timed out stop")
	}
}

func TestWorkerPool_TaskPanicRecovered(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(1, 4, "test", logger)

	if err := wp.Start(); err != nil {
		t.Fatalf("Failed to start worker pool: %v", err)
	}

	var ran int64
	_ = wp.Submit(func() { panic("boom") })
	_ = wp.Submit(func() { atomic.AddInt64(&ran, 1) })

	if err := wp.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if atomic.LoadInt64(&ran) != 1 {
		t.Error("Task after a panicking task should still run")
	}
}
