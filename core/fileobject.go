package core

import "time"

// FileObjectRecord tracks one kernel file object identifier.
// OpeningPID == 0 means the opener is not known yet and the first process
// to touch the object adopts it.
//
// Opener is the opener's process record as it was when the object was
// opened. It outlives the opener's exit and pid reuse, so a handle used
// after its opener is gone is still judged against the original process.
type FileObjectRecord struct {
	ID            uint64         `json:"id"`
	ResolvedPath  string         `json:"resolved_path,omitempty"`
	OpeningPID    uint32         `json:"opening_pid"`
	Opener        *ProcessRecord `json:"-"`
	AccessHistory []uint32       `json:"access_history"`
	Closed        bool           `json:"closed,omitempty"`
	OpenedAt      time.Time      `json:"opened_at"`
}

// Pending reports whether the path has not been resolved yet
func (f *FileObjectRecord) Pending() bool {
	return f.ResolvedPath == ""
}

// Touched reports whether pid appears in the access history
func (f *FileObjectRecord) Touched(pid uint32) bool {
	for _, p := range f.AccessHistory {
		if p == pid {
			return true
		}
	}
	return false
}

// AccessKind classifies a file access relative to the opener
type AccessKind uint8

const (
	// AccessDirect means the acting process opened the object itself
	AccessDirect AccessKind = iota + 1
	// AccessShared means the acting process uses an object opened by another process
	AccessShared
)

func (k AccessKind) String() string {
	switch k {
	case AccessDirect:
		return "direct"
	case AccessShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Access is the classified result of one file access
type Access struct {
	FileObject uint64
	Kind       AccessKind
	ActorPID   uint32
	OpenerPID  uint32
	Path       string
	Op         IOOp

	// Opener is the pinned opener record, nil when the table has none
	Opener *ProcessRecord
}
