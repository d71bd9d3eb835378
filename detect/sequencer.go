package detect

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	"go.uber.org/zap"
)

// DeadLetterSink records raw events the sequencer rejected
type DeadLetterSink interface {
	Add(raw core.RawEvent, reason string, cause error) error
}

// SequencerStats is a point-in-time copy of the sequencer counters
type SequencerStats struct {
	Accepted       uint64 `json:"accepted"`
	IngressDropped uint64 `json:"ingress_dropped"`
	Unsupported    uint64 `json:"unsupported"`
	Malformed      uint64 `json:"malformed"`
	Late           uint64 `json:"late"`
	Released       uint64 `json:"released"`
	Buffered       int    `json:"buffered"`
	Pending        int    `json:"pending"`
}

// Sequencer accepts raw events from any number of producers without ever
// blocking them and releases normalized events to a single consumer ordered
// by (Timestamp, Sequence).
//
// The producer side is a fixed ring buffer. When it is full the oldest
// buffered event is overwritten and IngressDropped is incremented.
//
// The consumer side holds admitted events in a min-heap until they are older
// than the newest timestamp seen minus the reorder window. A zero window
// releases every event as soon as it is admitted, i.e. in arrival order.
// Events older than the last released one are counted as late and released
// immediately; they are never dropped.
//
// Drain, Process and Flush must only be called from one goroutine.
type Sequencer struct {
	mu      sync.Mutex
	ring    []core.RawEvent
	head    int
	count   int
	closed  bool
	arrival uint64
	notify  chan struct{}

	window  time.Duration
	pending eventHeap
	order   uint64
	newest  time.Time
	last    releaseKey
	hasLast bool
	dlq     DeadLetterSink
	logger  *zap.SugaredLogger

	accepted    atomic.Uint64
	dropped     atomic.Uint64
	unsupported atomic.Uint64
	malformed   atomic.Uint64
	late        atomic.Uint64
	released    atomic.Uint64
	held        atomic.Int64
}

// NewSequencer creates a sequencer with a ring of the given capacity
func NewSequencer(capacity int, window time.Duration, logger *zap.SugaredLogger) *Sequencer {
	if capacity < 1 {
		capacity = 1
	}
	if window < 0 {
		window = 0
	}
	return &Sequencer{
		ring:   make([]core.RawEvent, capacity),
		notify: make(chan struct{}, 1),
		window: window,
		logger: logger,
	}
}

// SetDeadLetter attaches a store for rejected events. Must be called before
// the consumer starts.
func (s *Sequencer) SetDeadLetter(dlq DeadLetterSink) {
	s.dlq = dlq
}

// Push buffers a raw event. It never blocks and returns false only once the
// sequencer is closed. Events without a timestamp are stamped with the
// arrival time; events without a sequence number get an arrival counter.
func (s *Sequencer) Push(raw core.RawEvent) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.arrival++
	if raw.Sequence == 0 {
		raw.Sequence = s.arrival
	}
	if raw.Timestamp.IsZero() {
		raw.Timestamp = time.Now()
	}

	capacity := len(s.ring)
	overflow := false
	if s.count == capacity {
		s.ring[s.head] = raw
		s.head = (s.head + 1) % capacity
		overflow = true
	} else {
		s.ring[(s.head+s.count)%capacity] = raw
		s.count++
	}
	s.mu.Unlock()

	s.accepted.Add(1)
	if overflow {
		s.dropped.Add(1)
		metrics.EventsDropped.WithLabelValues("overflow").Inc()
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Notify is signalled after pushes; the consumer waits on it when idle
func (s *Sequencer) Notify() <-chan struct{} {
	return s.notify
}

// Close stops accepting pushes. Buffered events remain drainable.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called
func (s *Sequencer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Drain removes up to limit buffered raw events, oldest first.
// A limit <= 0 drains everything.
func (s *Sequencer) Drain(limit int) []core.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	out := make([]core.RawEvent, n)
	capacity := len(s.ring)
	for i := 0; i < n; i++ {
		idx := (s.head + i) % capacity
		out[i] = s.ring[idx]
		s.ring[idx] = core.RawEvent{}
	}
	s.head = (s.head + n) % capacity
	s.count -= n
	return out
}

// Process drains up to limit raw events, normalizes them and passes every
// event that is ready for release to emit. It returns the number of raw
// events taken from the ring.
func (s *Sequencer) Process(limit int, emit func(core.Event)) int {
	batch := s.Drain(limit)
	for _, raw := range batch {
		s.admit(raw, emit)
	}
	s.held.Store(int64(s.pending.Len()))
	metrics.IngressQueueDepth.Set(float64(s.buffered() + s.pending.Len()))
	return len(batch)
}

// Flush releases every event held in the reorder window
func (s *Sequencer) Flush(emit func(core.Event)) {
	for s.pending.Len() > 0 {
		s.release(heap.Pop(&s.pending).(*pendingEvent), emit)
	}
	s.held.Store(0)
}

// Stats returns a snapshot of the counters
func (s *Sequencer) Stats() SequencerStats {
	return SequencerStats{
		Accepted:       s.accepted.Load(),
		IngressDropped: s.dropped.Load(),
		Unsupported:    s.unsupported.Load(),
		Malformed:      s.malformed.Load(),
		Late:           s.late.Load(),
		Released:       s.released.Load(),
		Buffered:       s.buffered(),
		Pending:        int(s.held.Load()),
	}
}

func (s *Sequencer) buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Sequencer) admit(raw core.RawEvent, emit func(core.Event)) {
	ev, err := raw.Normalize()
	if err != nil {
		s.reject(raw, err)
		return
	}

	meta := ev.Meta()
	key := releaseKey{ts: meta.Timestamp, seq: meta.Sequence}
	if s.hasLast && key.less(s.last) {
		s.late.Add(1)
		metrics.EventsLate.Inc()
		s.emit(ev, emit)
		return
	}

	if meta.Timestamp.After(s.newest) {
		s.newest = meta.Timestamp
	}
	s.order++
	heap.Push(&s.pending, &pendingEvent{ev: ev, key: key, order: s.order})

	cutoff := s.newest.Add(-s.window)
	for s.pending.Len() > 0 && !s.pending[0].key.ts.After(cutoff) {
		s.release(heap.Pop(&s.pending).(*pendingEvent), emit)
	}
}

func (s *Sequencer) release(p *pendingEvent, emit func(core.Event)) {
	if !s.hasLast || s.last.less(p.key) {
		s.last = p.key
		s.hasLast = true
	}
	s.emit(p.ev, emit)
}

func (s *Sequencer) emit(ev core.Event, emit func(core.Event)) {
	s.released.Add(1)
	emit(ev)
}

func (s *Sequencer) reject(raw core.RawEvent, err error) {
	reason := core.RejectReason(err)
	switch reason {
	case "unsupported":
		s.unsupported.Add(1)
	default:
		s.malformed.Add(1)
	}
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	s.logger.Debugw("Rejected raw event", "kind", raw.Kind, "pid", raw.PID, "reason", reason, "error", err)

	if s.dlq != nil {
		if dlqErr := s.dlq.Add(raw, reason, err); dlqErr != nil {
			metrics.DeadLetterInsertFailures.Inc()
			s.logger.Warnw("Failed to record rejected event", "error", dlqErr)
		}
	}
}

type releaseKey struct {
	ts  time.Time
	seq uint64
}

func (k releaseKey) less(o releaseKey) bool {
	if !k.ts.Equal(o.ts) {
		return k.ts.Before(o.ts)
	}
	return k.seq < o.seq
}

type pendingEvent struct {
	ev    core.Event
	key   releaseKey
	order uint64
}

// eventHeap orders pending events by release key, then admission order
type eventHeap []*pendingEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].key.less(h[j].key) {
		return true
	}
	if h[j].key.less(h[i].key) {
		return false
	}
	return h[i].order < h[j].order
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*pendingEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
