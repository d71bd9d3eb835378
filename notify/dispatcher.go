package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	"go.uber.org/zap"
)

// maxRetryBackoff caps the exponential backoff between attempts
const maxRetryBackoff = 5 * time.Second

// DispatcherConfig sizes the delivery queue and retry policy
type DispatcherConfig struct {
	QueueSize     int
	Workers       int
	RetryAttempts int
	RetryBackoff  time.Duration
	Breaker       core.CircuitBreakerConfig
}

// DispatcherConfigFrom reads the sinks section of cfg
func DispatcherConfigFrom(cfg *config.Config) DispatcherConfig {
	return DispatcherConfig{
		QueueSize:     cfg.Sinks.QueueSize,
		Workers:       cfg.Sinks.Workers,
		RetryAttempts: cfg.Sinks.RetryAttempts,
		RetryBackoff:  cfg.Sinks.RetryBackoff,
		Breaker:       core.DefaultCircuitBreakerConfig(),
	}
}

// DispatcherStats is a point-in-time copy of the dispatcher counters
type DispatcherStats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
}

type guardedSink struct {
	sink    Sink
	breaker *core.CircuitBreaker
}

// Dispatcher fans alerts out to every sink on a worker pool so the engine
// never waits on I/O. Sink failures are retried, counted and logged but
// never reach the caller.
type Dispatcher struct {
	sinks  []*guardedSink
	pool   *core.WorkerPool
	cfg    DispatcherConfig
	logger *zap.SugaredLogger

	submitted atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher creates a dispatcher over sinks. Call Start before Submit.
func NewDispatcher(cfg DispatcherConfig, sinks []Sink, logger *zap.SugaredLogger) (*Dispatcher, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	guarded := make([]*guardedSink, 0, len(sinks))
	for _, s := range sinks {
		cb, err := core.NewCircuitBreaker(cfg.Breaker)
		if err != nil {
			return nil, fmt.Errorf("failed to create circuit breaker for sink %s: %w", s.Name(), err)
		}
		guarded = append(guarded, &guardedSink{sink: s, breaker: cb})
		metrics.SinkCircuitState.WithLabelValues(s.Name()).Set(0)
	}

	return &Dispatcher{
		sinks:  guarded,
		pool:   core.NewWorkerPool(cfg.Workers, cfg.QueueSize, "sinks", logger),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Start launches the delivery workers
func (d *Dispatcher) Start() error {
	names := make([]string, len(d.sinks))
	for i, gs := range d.sinks {
		names[i] = gs.sink.Name()
	}
	d.logger.Infow("Starting alert dispatcher", "sinks", names, "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
	return d.pool.Start()
}

// Submit queues alert for delivery without blocking. It returns false when
// the queue is full or the dispatcher is stopped; the alert is dropped and
// counted.
func (d *Dispatcher) Submit(alert *core.AlertRecord) bool {
	d.submitted.Add(1)
	ctx := d.pool.Context()
	err := d.pool.Submit(func() {
		d.deliver(ctx, alert)
	})
	if err != nil {
		d.dropped.Add(1)
		metrics.AlertsDropped.Inc()
		d.logger.Warnw("Dropped alert", "pid", alert.PID, "rule", alert.RuleName, "error", err)
		return false
	}
	return true
}

// Handle adapts Submit to the engine's alert callback
func (d *Dispatcher) Handle(alert *core.AlertRecord) {
	d.Submit(alert)
}

// Stop delivers everything still queued, then closes every sink.
// If ctx expires first, queued alerts are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var errs []error
	if err := d.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain alert queue: %w", err))
	}
	for _, gs := range d.sinks {
		if err := gs.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sink %s: %w", gs.sink.Name(), err))
		}
	}

	stats := d.Stats()
	d.logger.Infow("Alert dispatcher stopped",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped)
	return errors.Join(errs...)
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Submitted: d.submitted.Load(),
		Dropped:   d.dropped.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Queued:    d.pool.GetStats().QueuedTasks,
	}
}

func (d *Dispatcher) deliver(ctx context.Context, alert *core.AlertRecord) {
	for _, gs := range d.sinks {
		name := gs.sink.Name()
		if err := d.write(ctx, gs, alert); err != nil {
			d.failed.Add(1)
			metrics.SinkFailures.WithLabelValues(name).Inc()
			d.logger.Errorw("Sink failed to deliver alert",
				"sink", name,
				"pid", alert.PID,
				"rule", alert.RuleName,
				"error", err)
			continue
		}
		d.delivered.Add(1)
		metrics.SinkDeliveries.WithLabelValues(name).Inc()
	}
}

func (d *Dispatcher) write(ctx context.Context, gs *guardedSink, alert *core.AlertRecord) error {
	backoff := d.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= d.cfg.RetryAttempts; attempt++ {
		err = gs.breaker.Execute(func() error {
			return gs.sink.Write(ctx, alert)
		})
		d.publishState(gs)
		if err == nil {
			return nil
		}
		if errors.Is(err, core.ErrCircuitBreakerOpen) || errors.Is(err, core.ErrTooManyRequests) || errors.Is(err, ErrSinkClosed) {
			return err
		}
		if attempt == d.cfg.RetryAttempts {
			break
		}

		d.logger.Debugw("Retrying sink write", "sink", gs.sink.Name(), "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", d.cfg.RetryAttempts, err)
}

func (d *Dispatcher) publishState(gs *guardedSink) {
	open := 0.0
	if gs.breaker.State() == core.CircuitBreakerStateOpen {
		open = 1
	}
	metrics.SinkCircuitState.WithLabelValues(gs.sink.Name()).Set(open)
}
