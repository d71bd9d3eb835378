package detect

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type deadLetterRecorder struct {
	mu      sync.Mutex
	reasons []string
	fail    bool
}

func (d *deadLetterRecorder) Add(raw core.RawEvent, reason string, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("disk full")
	}
	d.reasons = append(d.reasons, reason)
	return nil
}

func newTestSequencer(t *testing.T, capacity int, window time.Duration) *Sequencer {
	t.Helper()
	return NewSequencer(capacity, window, zaptest.NewLogger(t).Sugar())
}

func collect(out *[]core.Event) func(core.Event) {
	return func(ev core.Event) { *out = append(*out, ev) }
}

func sequences(events []core.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, ev := range events {
		out[i] = ev.Meta().Sequence
	}
	return out
}

func withSeq(raw core.RawEvent, seq uint64) core.RawEvent {
	raw.Sequence = seq
	return raw
}

func TestSequencer_ReordersWithinWindow(t *testing.T) {
	seq := newTestSequencer(t, 16, 100*time.Millisecond)

	require.True(t, seq.Push(withSeq(fileRead(50, 1, 7), 3)))
	require.True(t, seq.Push(withSeq(fileRead(10, 1, 7), 1)))
	require.True(t, seq.Push(withSeq(fileRead(30, 1, 7), 2)))

	var got []core.Event
	assert.Equal(t, 3, seq.Process(0, collect(&got)))
	assert.Empty(t, got)
	assert.Equal(t, 3, seq.Stats().Pending)

	// advancing the newest timestamp past the window releases in order
	seq.Push(withSeq(fileRead(200, 1, 7), 4))
	seq.Process(0, collect(&got))
	assert.Equal(t, []uint64{1, 2, 3}, sequences(got))

	seq.Flush(collect(&got))
	assert.Equal(t, []uint64{1, 2, 3, 4}, sequences(got))
	assert.Equal(t, 0, seq.Stats().Pending)
}

func TestSequencer_TiesBreakOnSequence(t *testing.T) {
	seq := newTestSequencer(t, 16, time.Second)

	seq.Push(withSeq(fileRead(10, 1, 7), 9))
	seq.Push(withSeq(fileRead(10, 1, 7), 2))
	seq.Push(withSeq(fileRead(10, 1, 7), 5))

	var got []core.Event
	seq.Process(0, collect(&got))
	seq.Flush(collect(&got))
	assert.Equal(t, []uint64{2, 5, 9}, sequences(got))
}

func TestSequencer_ZeroWindowIsArrivalOrder(t *testing.T) {
	seq := newTestSequencer(t, 16, 0)

	seq.Push(withSeq(fileRead(50, 1, 7), 1))
	seq.Push(withSeq(fileRead(60, 1, 7), 2))

	var got []core.Event
	seq.Process(0, collect(&got))
	assert.Equal(t, []uint64{1, 2}, sequences(got))
}

func TestSequencer_LateEventsReleasedAndCounted(t *testing.T) {
	seq := newTestSequencer(t, 16, 0)

	seq.Push(withSeq(fileRead(100, 1, 7), 1))
	seq.Push(withSeq(fileRead(20, 1, 7), 2))

	var got []core.Event
	seq.Process(0, collect(&got))
	assert.Equal(t, []uint64{1, 2}, sequences(got))

	stats := seq.Stats()
	assert.Equal(t, uint64(1), stats.Late)
	assert.Equal(t, uint64(2), stats.Released)
}

func TestSequencer_OverflowDropsOldest(t *testing.T) {
	seq := newTestSequencer(t, 3, 0)

	for i := 1; i <= 5; i++ {
		require.True(t, seq.Push(withSeq(fileRead(i, 1, 7), uint64(i))))
	}

	stats := seq.Stats()
	assert.Equal(t, uint64(5), stats.Accepted)
	assert.Equal(t, uint64(2), stats.IngressDropped)
	assert.Equal(t, 3, stats.Buffered)

	raws := seq.Drain(0)
	require.Len(t, raws, 3)
	assert.Equal(t, uint64(3), raws[0].Sequence)
	assert.Equal(t, uint64(5), raws[2].Sequence)
}

func TestSequencer_StampsMissingFields(t *testing.T) {
	seq := newTestSequencer(t, 4, 0)

	seq.Push(core.RawEvent{Kind: core.KindFileRead, PID: 1, FileObject: 7})
	raws := seq.Drain(0)
	require.Len(t, raws, 1)
	assert.False(t, raws[0].Timestamp.IsZero())
	assert.Equal(t, uint64(1), raws[0].Sequence)
}

func TestSequencer_RejectsToDeadLetter(t *testing.T) {
	seq := newTestSequencer(t, 8, 0)
	dlq := &deadLetterRecorder{}
	seq.SetDeadLetter(dlq)

	seq.Push(core.RawEvent{Kind: "registry_set", Timestamp: at(0), PID: 1})
	seq.Push(core.RawEvent{Kind: core.KindFileRead, Timestamp: at(1), PID: 1})
	seq.Push(fileRead(2, 1, 7))

	var got []core.Event
	seq.Process(0, collect(&got))
	assert.Len(t, got, 1)
	assert.Equal(t, []string{"unsupported", "malformed"}, dlq.reasons)

	stats := seq.Stats()
	assert.Equal(t, uint64(1), stats.Unsupported)
	assert.Equal(t, uint64(1), stats.Malformed)

	dlq.fail = true
	seq.Push(core.RawEvent{Kind: "", Timestamp: at(3)})
	seq.Process(0, collect(&got))
	assert.Equal(t, uint64(2), seq.Stats().Unsupported)
}

func TestSequencer_DrainLimitAndClose(t *testing.T) {
	seq := newTestSequencer(t, 8, 0)
	for i := 1; i <= 5; i++ {
		seq.Push(fileRead(i, 1, 7))
	}

	assert.Len(t, seq.Drain(2), 2)
	assert.Len(t, seq.Drain(0), 3)
	assert.Nil(t, seq.Drain(0))

	seq.Close()
	assert.True(t, seq.Closed())
	assert.False(t, seq.Push(fileRead(9, 1, 7)))
}

func TestSequencer_ConcurrentProducers(t *testing.T) {
	seq := newTestSequencer(t, 10000, 0)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				seq.Push(fileRead(i, uint32(p+1), 7))
			}
		}(p)
	}
	wg.Wait()

	var got []core.Event
	seq.Process(0, collect(&got))
	seq.Flush(collect(&got))
	assert.Len(t, got, 4000)
	assert.Equal(t, uint64(0), seq.Stats().IngressDropped)

	select {
	case <-seq.Notify():
	default:
		t.Fatal("expected a pending notification")
	}
}
