package detect

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	"go.uber.org/zap"
)

// ProcessSnapshot describes a process that was running before tracing started
type ProcessSnapshot struct {
	PID       uint32 `json:"pid" yaml:"pid"`
	ParentPID uint32 `json:"parent_pid,omitempty" yaml:"parent_pid"`
	ImagePath string `json:"image_path" yaml:"image_path"`
}

// HandleSnapshot describes a file object already held open by processes
type HandleSnapshot struct {
	FileObject uint64   `json:"file_object" yaml:"file_object"`
	Path       string   `json:"path,omitempty" yaml:"path"`
	PIDs       []uint32 `json:"pids" yaml:"pids"`
}

// Snapshot is the pre-trace state used to seed the engine
type Snapshot struct {
	TakenAt   time.Time         `json:"taken_at" yaml:"taken_at"`
	Processes []ProcessSnapshot `json:"processes" yaml:"processes"`
	Handles   []HandleSnapshot  `json:"handles" yaml:"handles"`
}

// EngineStats is a point-in-time copy of the engine counters
type EngineStats struct {
	EventsHandled    uint64 `json:"events_handled"`
	AccessesMatched  uint64 `json:"accesses_matched"`
	AlertsEmitted    uint64 `json:"alerts_emitted"`
	AlertsSuppressed uint64 `json:"alerts_suppressed"`
	Processes        int    `json:"processes"`
	FileObjects      int    `json:"file_objects"`
	SuppressionKeys  int    `json:"suppression_keys"`
	SignatureCache   int    `json:"signature_cache"`
	ProcessEvictions uint64 `json:"process_evictions"`
	ObjectEvictions  uint64 `json:"file_object_evictions"`
}

// Engine correlates normalized events into alerts. All state lives in the
// tables it owns; Handle must only be called from one goroutine.
type Engine struct {
	procs   *ProcessTable
	files   *FileObjectTable
	trust   *TrustEvaluator
	matcher *RuleMatcher
	alerts  *AlertEngine
	logger  *zap.SugaredLogger

	handled atomic.Uint64
	matched atomic.Uint64

	// table sizes published for concurrent Stats readers
	procLen  atomic.Int64
	fileLen  atomic.Int64
	suppLen  atomic.Int64
	sigLen   atomic.Int64
	procEvic atomic.Uint64
	fileEvic atomic.Uint64
}

// NewEngine builds an engine from cfg. verifier and resolver may be nil.
func NewEngine(cfg *config.Config, verifier SignatureVerifier, resolver ImageResolver, handler AlertHandler, logger *zap.SugaredLogger) (*Engine, error) {
	procs, err := NewProcessTable(cfg.Engine.ProcessCapacity, cfg.Engine.ProcessExitGrace, resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to create process table: %w", err)
	}
	files, err := NewFileObjectTable(cfg.Engine.FileObjectCapacity, procs)
	if err != nil {
		return nil, fmt.Errorf("failed to create file object table: %w", err)
	}
	trust, err := NewTrustEvaluator(cfg.Allow(), verifier, cfg.Engine.SignatureCacheSize, cfg.Engine.VerifyTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create trust evaluator: %w", err)
	}
	alerts, err := NewAlertEngine(cfg.General.SuppressWindow(), cfg.Engine.SuppressionCap, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert engine: %w", err)
	}

	return &Engine{
		procs:   procs,
		files:   files,
		trust:   trust,
		matcher: NewRuleMatcher(cfg.Rules()),
		alerts:  alerts,
		logger:  logger,
	}, nil
}

// Handle applies one event to the engine state and evaluates any file
// access it carries
func (e *Engine) Handle(ctx context.Context, ev core.Event) {
	start := time.Now()
	meta := ev.Meta()

	switch v := ev.(type) {
	case core.ProcessStart:
		e.procs.Upsert(v.PID, v.ParentPID, v.ImagePath, v.Timestamp)
		metrics.EventsProcessed.WithLabelValues("process_start").Inc()

	case core.ProcessStop:
		e.procs.MarkExited(v.PID, v.Timestamp)
		metrics.EventsProcessed.WithLabelValues("process_stop").Inc()

	case core.FileOpen:
		rec := e.files.Open(v.FileObject, v.PID, v.Path, v.Timestamp)
		access := core.Access{
			FileObject: v.FileObject,
			Kind:       core.AccessDirect,
			ActorPID:   v.PID,
			OpenerPID:  v.PID,
			Path:       rec.ResolvedPath,
			Op:         v.Op,
			Opener:     rec.Opener,
		}
		e.evaluateAccess(ctx, access, meta)
		metrics.EventsProcessed.WithLabelValues("file_open").Inc()

	case core.FileName:
		e.files.Resolve(v.FileObject, v.Path, v.Timestamp)
		metrics.EventsProcessed.WithLabelValues("file_name").Inc()

	case core.FileIO:
		access := e.files.Access(v.FileObject, v.PID, v.Path, v.Op, v.Timestamp)
		e.evaluateAccess(ctx, access, meta)
		metrics.EventsProcessed.WithLabelValues("file_io").Inc()

	case core.FileClose:
		e.files.Close(v.FileObject)
		metrics.EventsProcessed.WithLabelValues("file_close").Inc()
	}

	e.procs.Sweep(meta.Timestamp)
	e.handled.Add(1)
	e.publish()
	metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
}

// Seed loads pre-trace state: processes are upserted and every open file
// object held by at least one trusted process is recorded with that
// process as opener, so later use by an untrusted process is detected as a
// duplicated handle. It returns the number of seeded file objects.
func (e *Engine) Seed(ctx context.Context, snap Snapshot) int {
	at := snap.TakenAt
	if at.IsZero() {
		at = time.Now()
	}

	for _, p := range snap.Processes {
		e.procs.Upsert(p.PID, p.ParentPID, p.ImagePath, at)
	}

	seeded := 0
	for _, h := range snap.Handles {
		if h.FileObject == 0 || len(h.PIDs) == 0 {
			continue
		}
		opener := -1
		for i, pid := range h.PIDs {
			rec := e.procs.Lookup(pid, at)
			e.trust.Evaluate(ctx, rec)
			if rec.IsTrusted() {
				opener = i
				break
			}
		}
		if opener < 0 {
			continue
		}
		pids := make([]uint32, 0, len(h.PIDs))
		pids = append(pids, h.PIDs[opener])
		for i, pid := range h.PIDs {
			if i != opener {
				pids = append(pids, pid)
			}
		}
		e.files.SeedShared(h.FileObject, h.Path, pids, at)
		seeded++
	}

	e.publish()
	e.logger.Infow("Seeded engine from snapshot",
		"processes", len(snap.Processes),
		"handles", len(snap.Handles),
		"trusted_objects", seeded)
	return seeded
}

// Stats returns a snapshot of the engine counters. Safe for concurrent use.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		EventsHandled:    e.handled.Load(),
		AccessesMatched:  e.matched.Load(),
		AlertsEmitted:    e.alerts.Emitted(),
		AlertsSuppressed: e.alerts.Suppressed(),
		Processes:        int(e.procLen.Load()),
		FileObjects:      int(e.fileLen.Load()),
		SuppressionKeys:  int(e.suppLen.Load()),
		SignatureCache:   int(e.sigLen.Load()),
		ProcessEvictions: e.procEvic.Load(),
		ObjectEvictions:  e.fileEvic.Load(),
	}
}

// Rules returns the protected rules in match order
func (e *Engine) Rules() []core.ProtectedRule {
	return e.matcher.Rules()
}

func (e *Engine) evaluateAccess(ctx context.Context, access core.Access, meta core.EventMeta) {
	rule, ok := e.matcher.Match(access.Path)
	if !ok {
		return
	}
	e.matched.Add(1)

	actor := e.procs.Lookup(access.ActorPID, meta.Timestamp)
	e.trust.Evaluate(ctx, actor)
	if !actor.IsUntrusted() {
		return
	}

	var opener *core.ProcessRecord
	if access.Kind == core.AccessShared {
		// the pinned record still describes the opener after it exited
		opener = access.Opener
		if opener == nil {
			opener = e.procs.Lookup(access.OpenerPID, meta.Timestamp)
		}
		e.trust.Evaluate(ctx, opener)
	}

	rec, decision := e.alerts.Evaluate(actor, opener, access, rule, meta)
	if decision == DecisionEmit {
		e.logger.Infow("Alert raised",
			"kind", rec.Kind,
			"pid", rec.PID,
			"image", rec.ImagePath,
			"rule", rec.RuleName,
			"target", rec.TargetPath)
	}
}

func (e *Engine) publish() {
	e.procLen.Store(int64(e.procs.Len()))
	e.fileLen.Store(int64(e.files.Len()))
	e.suppLen.Store(int64(e.alerts.Len()))
	e.sigLen.Store(int64(e.trust.CacheLen()))
	e.procEvic.Store(e.procs.Evicted())
	e.fileEvic.Store(e.files.Evicted())

	metrics.TableSize.WithLabelValues("process").Set(float64(e.procs.Len()))
	metrics.TableSize.WithLabelValues("file_object").Set(float64(e.files.Len()))
	metrics.TableSize.WithLabelValues("suppression").Set(float64(e.alerts.Len()))
	metrics.TableSize.WithLabelValues("signature").Set(float64(e.trust.CacheLen()))
}
