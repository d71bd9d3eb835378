package detect

import (
	"context"
	"sync"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	"github.com/TITAN-Softwork-Solutions/Vigil/util/goroutine"
	"go.uber.org/zap"
)

// batchSize bounds how many raw events the consumer takes per pass so the
// stop signal is checked regularly under load
const batchSize = 512

const defaultIdleFlush = 250 * time.Millisecond

// Stats combines the sequencer and engine counters
type Stats struct {
	Sequencer SequencerStats `json:"sequencer"`
	Engine    EngineStats    `json:"engine"`
}

// Detector owns the single consumer goroutine that moves events from the
// sequencer through the engine
type Detector struct {
	seq        *Sequencer
	engine     *Engine
	idleFlush  time.Duration
	drainLimit int
	logger     *zap.SugaredLogger

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// NewDetector wires a sequencer to an engine
func NewDetector(seq *Sequencer, engine *Engine, cfg *config.Config, logger *zap.SugaredLogger) *Detector {
	idleFlush := cfg.Engine.IdleFlushInterval
	if idleFlush <= 0 {
		idleFlush = defaultIdleFlush
	}
	return &Detector{
		seq:        seq,
		engine:     engine,
		idleFlush:  idleFlush,
		drainLimit: cfg.Engine.DrainLimit,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Sequencer returns the ingress side for event sources
func (d *Detector) Sequencer() *Sequencer {
	return d.seq
}

// Engine returns the correlation engine
func (d *Detector) Engine() *Engine {
	return d.engine
}

// Start launches the consumer goroutine. ctx bounds signature verification.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(ctx)
	go d.run()
}

// Stop closes the sequencer, lets the consumer drain up to the drain limit
// and flush the reorder window, then waits for it to exit or ctx to expire.
func (d *Detector) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.seq.Close()
		close(d.stopCh)
	})

	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-d.doneCh:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// Done is closed when the consumer goroutine has exited
func (d *Detector) Done() <-chan struct{} {
	return d.doneCh
}

// Stats returns a snapshot of all counters. Safe for concurrent use.
func (d *Detector) Stats() Stats {
	return Stats{
		Sequencer: d.seq.Stats(),
		Engine:    d.engine.Stats(),
	}
}

func (d *Detector) handle(ev core.Event) {
	d.engine.Handle(d.ctx, ev)
}

func (d *Detector) run() {
	defer close(d.doneCh)
	defer goroutine.Recover("detector", d.logger)

	d.logger.Infow("Detector started", "idle_flush", d.idleFlush)

	ticker := time.NewTicker(d.idleFlush)
	defer ticker.Stop()

	busy := false
	for {
		select {
		case <-d.stopCh:
			d.shutdown()
			return
		default:
		}

		if d.seq.Process(batchSize, d.handle) > 0 {
			busy = true
			continue
		}

		select {
		case <-d.stopCh:
			d.shutdown()
			return
		case <-d.seq.Notify():
		case <-ticker.C:
			// nothing arrived for a full interval: release the reorder window
			if !busy {
				d.seq.Flush(d.handle)
			}
			busy = false
		}
	}
}

func (d *Detector) shutdown() {
	drained := 0
	for d.drainLimit <= 0 || drained < d.drainLimit {
		limit := batchSize
		if d.drainLimit > 0 && d.drainLimit-drained < limit {
			limit = d.drainLimit - drained
		}
		n := d.seq.Process(limit, d.handle)
		if n == 0 {
			break
		}
		drained += n
	}
	d.seq.Flush(d.handle)

	abandoned := len(d.seq.Drain(0))
	if abandoned > 0 {
		metrics.EventsDropped.WithLabelValues("shutdown").Add(float64(abandoned))
	}
	stats := d.Stats()
	d.logger.Infow("Detector stopped",
		"drained", drained,
		"abandoned", abandoned,
		"events_handled", stats.Engine.EventsHandled,
		"alerts_emitted", stats.Engine.AlertsEmitted,
		"alerts_suppressed", stats.Engine.AlertsSuppressed,
		"ingress_dropped", stats.Sequencer.IngressDropped)
}
