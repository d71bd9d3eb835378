package detect

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// AlertHandler receives every emitted alert. It must not block.
type AlertHandler func(*core.AlertRecord)

// Decision is the outcome of evaluating one access
type Decision uint8

const (
	// DecisionNone means the access does not qualify for an alert
	DecisionNone Decision = iota
	// DecisionEmit means an alert was produced and handed off
	DecisionEmit
	// DecisionSuppressed means the access qualified but its key alerted
	// within the suppression window
	DecisionSuppressed
)

func (d Decision) String() string {
	switch d {
	case DecisionEmit:
		return "emit"
	case DecisionSuppressed:
		return "suppressed"
	default:
		return "none"
	}
}

const (
	noteDirect     = "untrusted process attempted access to protected resource"
	noteDuplicated = "untrusted process %d used a file object opened by trusted process %d"
)

// AlertEngine decides whether a matched access raises an alert and applies
// per-key suppression. Time is the event timestamp, so replaying the same
// events always produces the same alerts.
type AlertEngine struct {
	window  time.Duration
	last    *lru.Cache[core.AlertKey, time.Time]
	handler AlertHandler

	emitted    atomic.Uint64
	suppressed atomic.Uint64
}

// NewAlertEngine creates an engine with the given suppression window and
// state capacity. handler may be nil.
func NewAlertEngine(window time.Duration, capacity int, handler AlertHandler) (*AlertEngine, error) {
	last, err := lru.New[core.AlertKey, time.Time](capacity)
	if err != nil {
		return nil, err
	}
	return &AlertEngine{
		window:  window,
		last:    last,
		handler: handler,
	}, nil
}

// Evaluate applies the alert conditions to one access that matched rule.
// actor must already carry a verdict; opener is only consulted for shared
// accesses and may be nil.
func (a *AlertEngine) Evaluate(actor, opener *core.ProcessRecord, access core.Access, rule core.ProtectedRule, meta core.EventMeta) (*core.AlertRecord, Decision) {
	kind, note, ok := classifyAccess(actor, opener, access)
	if !ok {
		return nil, DecisionNone
	}

	key := core.AlertKey{PID: actor.PID, RuleName: rule.Name, Path: access.Path}
	now := meta.Timestamp
	if a.window > 0 {
		if prev, seen := a.last.Peek(key); seen && now.Sub(prev) < a.window {
			a.suppressed.Add(1)
			metrics.AlertsSuppressed.Inc()
			return nil, DecisionSuppressed
		}
	}
	if a.last.Add(key, now) {
		metrics.TableEvictions.WithLabelValues("suppression").Inc()
	}

	rec := &core.AlertRecord{
		Timestamp:  now,
		PID:        actor.PID,
		ImagePath:  actor.ImagePath,
		TargetPath: access.Path,
		RuleName:   rule.Name,
		EventID:    meta.EventID,
		Kind:       kind,
		Note:       note,
		Operation:  access.Op,
	}
	if kind == core.AlertAccessViaDuplicatedHandle {
		rec.OpenerPID = opener.PID
		rec.OpenerImage = opener.ImagePath
	}

	a.emitted.Add(1)
	metrics.AlertsGenerated.WithLabelValues(string(kind)).Inc()
	if a.handler != nil {
		a.handler(rec)
	}
	return rec, DecisionEmit
}

// Emitted returns the number of alerts produced
func (a *AlertEngine) Emitted() uint64 { return a.emitted.Load() }

// Suppressed returns the number of alerts withheld by the window
func (a *AlertEngine) Suppressed() uint64 { return a.suppressed.Load() }

// Len returns the number of keys in the suppression state
func (a *AlertEngine) Len() int { return a.last.Len() }

func classifyAccess(actor, opener *core.ProcessRecord, access core.Access) (core.AlertKind, string, bool) {
	if actor == nil || !actor.IsUntrusted() {
		return "", "", false
	}
	switch access.Kind {
	case core.AccessDirect:
		return core.AlertDirectUntrustedAccess, noteDirect, true
	case core.AccessShared:
		// an untrusted opener is already covered by its own direct access
		if opener == nil || !opener.IsTrusted() || opener.PID == actor.PID {
			return "", "", false
		}
		return core.AlertAccessViaDuplicatedHandle, fmt.Sprintf(noteDuplicated, actor.PID, opener.PID), true
	default:
		return "", "", false
	}
}
