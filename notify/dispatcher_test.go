package notify

import (
	"context"
	"testing"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/util/goroutine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:     16,
		Workers:       1,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		Breaker:       core.DefaultCircuitBreakerConfig(),
	}
}

func startDispatcher(t *testing.T, cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(cfg, sinks, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.NoError(t, d.Start())
	return d
}

func stopDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcher_FansOutToEverySink(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	a := newRecordingSink("a")
	b := newRecordingSink("b")
	d := startDispatcher(t, testDispatcherConfig(), a, b)

	for pid := uint32(1); pid <= 5; pid++ {
		assert.True(t, d.Submit(testAlert(pid)))
	}
	stopDispatcher(t, d)

	for _, s := range []*recordingSink{a, b} {
		calls, alerts, closed := s.snapshot()
		assert.Equal(t, 5, calls)
		require.Len(t, alerts, 5)
		assert.Equal(t, uint32(1), alerts[0].PID)
		assert.True(t, closed)
	}

	stats := d.Stats()
	assert.Equal(t, uint64(5), stats.Submitted)
	assert.Equal(t, uint64(10), stats.Delivered)
	assert.Zero(t, stats.Failed)
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	flaky := newRecordingSink("flaky")
	flaky.failFirst = 2
	d := startDispatcher(t, testDispatcherConfig(), flaky)

	d.Submit(testAlert(1))
	stopDispatcher(t, d)

	calls, alerts, _ := flaky.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, alerts, 1)
	assert.Equal(t, uint64(1), d.Stats().Delivered)
}

func TestDispatcher_FailureDoesNotBlockOtherSinks(t *testing.T) {
	broken := newRecordingSink("broken")
	broken.failFirst = 1000
	healthy := newRecordingSink("healthy")

	cfg := testDispatcherConfig()
	cfg.RetryAttempts = 2
	d := startDispatcher(t, cfg, broken, healthy)

	d.Submit(testAlert(1))
	d.Submit(testAlert(2))
	stopDispatcher(t, d)

	_, delivered, _ := healthy.snapshot()
	assert.Len(t, delivered, 2)
	assert.Equal(t, uint64(2), d.Stats().Failed)
}

func TestDispatcher_CircuitBreakerSkipsDeadSink(t *testing.T) {
	broken := newRecordingSink("broken")
	broken.failFirst = 1000

	cfg := testDispatcherConfig()
	cfg.RetryAttempts = 1
	cfg.Breaker = core.CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour, MaxHalfOpenRequests: 1}
	d := startDispatcher(t, cfg, broken)

	for pid := uint32(1); pid <= 5; pid++ {
		d.Submit(testAlert(pid))
	}
	stopDispatcher(t, d)

	calls, _, _ := broken.snapshot()
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(5), d.Stats().Failed)
}

func TestDispatcher_QueueFullDrops(t *testing.T) {
	slow := newRecordingSink("slow")
	slow.block = make(chan struct{})
	slow.entered = make(chan struct{}, 1)

	cfg := testDispatcherConfig()
	cfg.QueueSize = 1
	d := startDispatcher(t, cfg, slow)

	require.True(t, d.Submit(testAlert(1)))
	select {
	case <-slow.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first alert")
	}
	require.True(t, d.Submit(testAlert(2)))
	assert.False(t, d.Submit(testAlert(3)))

	close(slow.block)
	stopDispatcher(t, d)

	_, alerts, _ := slow.snapshot()
	assert.Len(t, alerts, 2)
	assert.Equal(t, uint64(1), d.Stats().Dropped)
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	sink := newRecordingSink("a")
	d := startDispatcher(t, testDispatcherConfig(), sink)
	stopDispatcher(t, d)

	assert.False(t, d.Submit(testAlert(1)))
	d.Handle(testAlert(2))
	assert.Equal(t, uint64(2), d.Stats().Dropped)
}
