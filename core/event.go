package core

import (
	"fmt"
	"strings"
	"time"
)

// EventKind identifies the raw notification a trace provider delivered
type EventKind string

const (
	KindProcessStart EventKind = "process_start"
	KindProcessStop  EventKind = "process_stop"
	KindFileCreate   EventKind = "file_create"
	KindFileOpen     EventKind = "file_open"
	KindFileClose    EventKind = "file_close"
	KindFileName     EventKind = "file_name"
	KindFileRead     EventKind = "file_read"
	KindFileWrite    EventKind = "file_write"
	KindFileQuery    EventKind = "file_query"
)

// Kernel file provider event ids. Sources that leave EventID unset get these
// filled in so alert records still carry a meaningful id.
const (
	EventIDProcStart  uint32 = 1
	EventIDProcStop   uint32 = 2
	EventIDFileName   uint32 = 0
	EventIDFileCreate uint32 = 12
	EventIDFileClose  uint32 = 65
	EventIDFileRead   uint32 = 15
	EventIDFileWrite  uint32 = 16
	EventIDFileQuery  uint32 = 22
)

// RawEvent is the flat record produced by event sources before normalization.
// FileObject == 0 and ParentPID == 0 mean "absent".
type RawEvent struct {
	Kind       EventKind `json:"kind" msgpack:"kind" yaml:"kind"`
	EventID    uint32    `json:"event_id,omitempty" msgpack:"event_id" yaml:"event_id"`
	Sequence   uint64    `json:"seq,omitempty" msgpack:"seq" yaml:"seq"`
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp" yaml:"timestamp"`
	PID        uint32    `json:"pid" msgpack:"pid" yaml:"pid"`
	FileObject uint64    `json:"file_object,omitempty" msgpack:"file_object" yaml:"file_object"`
	Path       string    `json:"path,omitempty" msgpack:"path" yaml:"path"`
	ImagePath  string    `json:"image_path,omitempty" msgpack:"image_path" yaml:"image_path"`
	ParentPID  uint32    `json:"parent_pid,omitempty" msgpack:"parent_pid" yaml:"parent_pid"`
}

// IOOp is the kind of operation a file access performed
type IOOp string

const (
	OpCreate IOOp = "create"
	OpOpen   IOOp = "open"
	OpRead   IOOp = "read"
	OpWrite  IOOp = "write"
	OpQuery  IOOp = "query"
)

// EventMeta carries the fields shared by every normalized event
type EventMeta struct {
	EventID   uint32
	Sequence  uint64
	Timestamp time.Time
	PID       uint32
}

// Meta returns the shared event header.
func (m EventMeta) Meta() EventMeta { return m }

// Event is the closed set of normalized events the engine consumes.
// Only types in this package implement it.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// ProcessStart reports a new process
type ProcessStart struct {
	EventMeta
	ParentPID uint32
	ImagePath string
}

// ProcessStop reports a process exit
type ProcessStop struct {
	EventMeta
}

// FileOpen reports a create/open of a file object by PID
type FileOpen struct {
	EventMeta
	FileObject uint64
	Path       string
	Op         IOOp
}

// FileClose reports that a file object is no longer in use
type FileClose struct {
	EventMeta
	FileObject uint64
}

// FileName reports path resolution for a file object
type FileName struct {
	EventMeta
	FileObject uint64
	Path       string
}

// FileIO reports a read, write or query against a file object
type FileIO struct {
	EventMeta
	FileObject uint64
	Path       string
	Op         IOOp
}

func (ProcessStart) isEvent() {}
func (ProcessStop) isEvent()  {}
func (FileOpen) isEvent()     {}
func (FileClose) isEvent()    {}
func (FileName) isEvent()     {}
func (FileIO) isEvent()       {}

// Normalize converts a raw record into its typed event. It returns an error
// wrapping ErrUnsupportedEvent for kinds the engine does not consume and
// ErrMalformedEvent when required fields are missing.
func (r RawEvent) Normalize() (Event, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	if r.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: %s without timestamp", ErrMalformedEvent, kind)
	}

	meta := EventMeta{
		EventID:   r.EventID,
		Sequence:  r.Sequence,
		Timestamp: r.Timestamp,
		PID:       r.PID,
	}

	switch kind {
	case KindProcessStart:
		if r.PID == 0 {
			return nil, fmt.Errorf("%w: process start without pid", ErrMalformedEvent)
		}
		if meta.EventID == 0 {
			meta.EventID = EventIDProcStart
		}
		return ProcessStart{EventMeta: meta, ParentPID: r.ParentPID, ImagePath: strings.TrimSpace(r.ImagePath)}, nil

	case KindProcessStop:
		if r.PID == 0 {
			return nil, fmt.Errorf("%w: process stop without pid", ErrMalformedEvent)
		}
		if meta.EventID == 0 {
			meta.EventID = EventIDProcStop
		}
		return ProcessStop{EventMeta: meta}, nil

	case KindFileCreate, KindFileOpen:
		if r.FileObject == 0 {
			return nil, fmt.Errorf("%w: %s without file object", ErrMalformedEvent, kind)
		}
		if meta.EventID == 0 {
			meta.EventID = EventIDFileCreate
		}
		op := OpOpen
		if kind == KindFileCreate {
			op = OpCreate
		}
		return FileOpen{EventMeta: meta, FileObject: r.FileObject, Path: r.Path, Op: op}, nil

	case KindFileClose:
		if r.FileObject == 0 {
			return nil, fmt.Errorf("%w: file close without file object", ErrMalformedEvent)
		}
		if meta.EventID == 0 {
			meta.EventID = EventIDFileClose
		}
		return FileClose{EventMeta: meta, FileObject: r.FileObject}, nil

	case KindFileName:
		if r.FileObject == 0 {
			return nil, fmt.Errorf("%w: file name without file object", ErrMalformedEvent)
		}
		if strings.TrimSpace(r.Path) == "" {
			return nil, fmt.Errorf("%w: file name without path", ErrMalformedEvent)
		}
		return FileName{EventMeta: meta, FileObject: r.FileObject, Path: r.Path}, nil

	case KindFileRead, KindFileWrite, KindFileQuery:
		if r.FileObject == 0 {
			return nil, fmt.Errorf("%w: %s without file object", ErrMalformedEvent, kind)
		}
		op := OpRead
		switch kind {
		case KindFileWrite:
			op = OpWrite
		case KindFileQuery:
			op = OpQuery
		}
		if meta.EventID == 0 {
			meta.EventID = defaultIOEventID(op)
		}
		return FileIO{EventMeta: meta, FileObject: r.FileObject, Path: r.Path, Op: op}, nil

	case "":
		return nil, fmt.Errorf("%w: missing kind", ErrUnsupportedEvent)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, kind)
	}
}

func defaultIOEventID(op IOOp) uint32 {
	switch op {
	case OpWrite:
		return EventIDFileWrite
	case OpQuery:
		return EventIDFileQuery
	default:
		return EventIDFileRead
	}
}
