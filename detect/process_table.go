package detect

import (
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ImageResolver looks up the executable path of a live process that the
// table has no start event for
type ImageResolver interface {
	ResolveImage(pid uint32) (string, bool)
}

type pendingExit struct {
	pid      uint32
	rec      *core.ProcessRecord
	deadline time.Time
}

// ProcessTable maps pids to process records. It is owned by the engine
// goroutine and not safe for concurrent use.
//
// Exited processes are kept for a grace period measured in event time so
// late file events can still be attributed. When the table is full the
// least recently upserted record is evicted; lookups do not refresh recency.
type ProcessTable struct {
	records  *lru.Cache[uint32, *core.ProcessRecord]
	exits    []pendingExit
	grace    time.Duration
	resolver ImageResolver
	evicted  uint64
}

// NewProcessTable creates a table bounded to capacity records.
// resolver may be nil.
func NewProcessTable(capacity int, grace time.Duration, resolver ImageResolver) (*ProcessTable, error) {
	records, err := lru.New[uint32, *core.ProcessRecord](capacity)
	if err != nil {
		return nil, err
	}
	return &ProcessTable{
		records:  records,
		grace:    grace,
		resolver: resolver,
	}, nil
}

// Upsert records a process start. A previous holder of the pid is replaced
// (pid reuse) and the new record starts Unverified.
func (t *ProcessTable) Upsert(pid, parentPID uint32, image string, at time.Time) *core.ProcessRecord {
	rec := &core.ProcessRecord{
		PID:       pid,
		ParentPID: parentPID,
		ImagePath: image,
		CreatedAt: at,
	}
	if core.IsKernelPID(pid) {
		markKernel(rec)
	}
	t.add(rec)
	return rec
}

// Lookup returns the live record for pid, or synthesizes an Unverified one
// when the pid is unknown or its record exited more than the grace period
// before at.
func (t *ProcessTable) Lookup(pid uint32, at time.Time) *core.ProcessRecord {
	if rec, ok := t.records.Peek(pid); ok {
		if !rec.Exited() || !at.After(rec.ExitedAt.Add(t.grace)) {
			return rec
		}
		t.records.Remove(pid)
	}
	return t.synthesize(pid, at)
}

// Peek returns the record for pid without synthesizing one
func (t *ProcessTable) Peek(pid uint32) (*core.ProcessRecord, bool) {
	return t.records.Peek(pid)
}

// MarkExited stamps the exit time. The record stays resolvable until the
// grace period passes in event time.
func (t *ProcessTable) MarkExited(pid uint32, at time.Time) {
	rec, ok := t.records.Peek(pid)
	if !ok || rec.Exited() {
		return
	}
	exitedAt := at
	rec.ExitedAt = &exitedAt
	t.exits = append(t.exits, pendingExit{pid: pid, rec: rec, deadline: at.Add(t.grace)})
}

// Sweep evicts exited records whose grace period ended before now
func (t *ProcessTable) Sweep(now time.Time) int {
	removed := 0
	for len(t.exits) > 0 && now.After(t.exits[0].deadline) {
		e := t.exits[0]
		t.exits[0] = pendingExit{}
		t.exits = t.exits[1:]
		// the pid may have been reused since the exit
		if cur, ok := t.records.Peek(e.pid); ok && cur == e.rec {
			t.records.Remove(e.pid)
			removed++
		}
	}
	if len(t.exits) == 0 {
		t.exits = nil
	}
	return removed
}

// Len returns the number of records held
func (t *ProcessTable) Len() int {
	return t.records.Len()
}

// Evicted returns how many records were dropped for capacity
func (t *ProcessTable) Evicted() uint64 {
	return t.evicted
}

func (t *ProcessTable) synthesize(pid uint32, at time.Time) *core.ProcessRecord {
	rec := &core.ProcessRecord{
		PID:         pid,
		CreatedAt:   at,
		Synthesized: true,
	}
	switch {
	case core.IsKernelPID(pid):
		markKernel(rec)
	case t.resolver != nil:
		if image, ok := t.resolver.ResolveImage(pid); ok {
			rec.ImagePath = image
		}
	}
	t.add(rec)
	return rec
}

func (t *ProcessTable) add(rec *core.ProcessRecord) {
	if t.records.Add(rec.PID, rec) {
		t.evicted++
		metrics.TableEvictions.WithLabelValues("process").Inc()
	}
}

func markKernel(rec *core.ProcessRecord) {
	rec.ImagePath = core.KernelImage
	rec.SetVerdict(core.VerdictTrusted, "", "kernel process")
}
