package detect

import (
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// FileObjectTable tracks kernel file objects: who opened them, which path
// they resolve to and which processes used them. It is owned by the engine
// goroutine and not safe for concurrent use.
//
// Close notifications are not reliable across providers, so the table is
// bounded by capacity and evicts the least recently used object. Eviction
// is a heuristic: an evicted object that is later used by another process
// looks freshly opened by that process, which can hide a duplicated handle.
//
// When procs is set every record pins its opener's process record, so the
// opener's identity survives its exit and eviction from the process table.
type FileObjectTable struct {
	objects *lru.Cache[uint64, *core.FileObjectRecord]
	procs   *ProcessTable
	evicted uint64
}

// NewFileObjectTable creates a table bounded to capacity objects. procs may
// be nil, in which case no opener records are pinned.
func NewFileObjectTable(capacity int, procs *ProcessTable) (*FileObjectTable, error) {
	objects, err := lru.New[uint64, *core.FileObjectRecord](capacity)
	if err != nil {
		return nil, err
	}
	return &FileObjectTable{objects: objects, procs: procs}, nil
}

// Open records a create/open by pid. A reused identifier replaces the
// previous record.
func (t *FileObjectTable) Open(id uint64, pid uint32, path string, at time.Time) *core.FileObjectRecord {
	rec := &core.FileObjectRecord{
		ID:            id,
		ResolvedPath:  path,
		OpeningPID:    pid,
		Opener:        t.process(pid, at),
		AccessHistory: []uint32{pid},
		OpenedAt:      at,
	}
	t.add(rec)
	return rec
}

// Resolve sets the path of id. Unknown identifiers get a pending record
// without an opener; the first process to touch it adopts it.
func (t *FileObjectTable) Resolve(id uint64, path string, at time.Time) *core.FileObjectRecord {
	if rec, ok := t.objects.Get(id); ok {
		if path != "" {
			rec.ResolvedPath = path
		}
		return rec
	}
	rec := &core.FileObjectRecord{
		ID:           id,
		ResolvedPath: path,
		OpenedAt:     at,
	}
	t.add(rec)
	return rec
}

// Access records that pid used id and classifies the access relative to the
// opener. A non-empty path fills in a pending resolution and is reported as
// the access path; otherwise the resolved path is used.
func (t *FileObjectTable) Access(id uint64, pid uint32, path string, op core.IOOp, at time.Time) core.Access {
	rec, ok := t.objects.Get(id)
	if !ok {
		rec = t.Open(id, pid, path, at)
	}
	if rec.OpeningPID == 0 {
		rec.OpeningPID = pid
		rec.Opener = t.process(pid, at)
	}
	if rec.ResolvedPath == "" && path != "" {
		rec.ResolvedPath = path
	}
	if !rec.Touched(pid) {
		rec.AccessHistory = append(rec.AccessHistory, pid)
	}

	kind := core.AccessDirect
	if pid != rec.OpeningPID {
		kind = core.AccessShared
	}
	target := path
	if target == "" {
		target = rec.ResolvedPath
	}
	return core.Access{
		FileObject: id,
		Kind:       kind,
		ActorPID:   pid,
		OpenerPID:  rec.OpeningPID,
		Path:       target,
		Op:         op,
		Opener:     rec.Opener,
	}
}

// Close forgets id
func (t *FileObjectTable) Close(id uint64) bool {
	return t.objects.Remove(id)
}

// SeedShared records an object that is already held by pids before tracing
// started. The first pid is treated as the opener.
func (t *FileObjectTable) SeedShared(id uint64, path string, pids []uint32, at time.Time) *core.FileObjectRecord {
	if len(pids) == 0 {
		return nil
	}
	history := make([]uint32, 0, len(pids))
	for _, pid := range pids {
		dup := false
		for _, seen := range history {
			if seen == pid {
				dup = true
				break
			}
		}
		if !dup {
			history = append(history, pid)
		}
	}
	rec := &core.FileObjectRecord{
		ID:            id,
		ResolvedPath:  path,
		OpeningPID:    history[0],
		Opener:        t.process(history[0], at),
		AccessHistory: history,
		OpenedAt:      at,
	}
	t.add(rec)
	return rec
}

// Peek returns the record for id without refreshing its recency
func (t *FileObjectTable) Peek(id uint64) (*core.FileObjectRecord, bool) {
	return t.objects.Peek(id)
}

// Len returns the number of tracked objects
func (t *FileObjectTable) Len() int {
	return t.objects.Len()
}

// Evicted returns how many objects were dropped for capacity
func (t *FileObjectTable) Evicted() uint64 {
	return t.evicted
}

func (t *FileObjectTable) process(pid uint32, at time.Time) *core.ProcessRecord {
	if t.procs == nil {
		return nil
	}
	return t.procs.Lookup(pid, at)
}

func (t *FileObjectTable) add(rec *core.FileObjectRecord) {
	if t.objects.Add(rec.ID, rec) {
		t.evicted++
		metrics.TableEvictions.WithLabelValues("file_object").Inc()
	}
}
