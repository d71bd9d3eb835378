package ingest

import (
	"fmt"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/detect"
	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// ProcSnapshotter lists running processes through procfs so the engine
// knows their images before the first event arrives. Open handles are not
// collected; they come from a snapshot file.
type ProcSnapshotter struct {
	fs     procfs.FS
	logger *zap.SugaredLogger
}

// NewProcSnapshotter opens the procfs mount at mountPoint, or the default
// mount when it is empty
func NewProcSnapshotter(mountPoint string, logger *zap.SugaredLogger) (*ProcSnapshotter, error) {
	var (
		fs  procfs.FS
		err error
	)
	if mountPoint == "" {
		fs, err = procfs.NewDefaultFS()
	} else {
		fs, err = procfs.NewFS(mountPoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &ProcSnapshotter{fs: fs, logger: logger}, nil
}

// Snapshot returns every process whose executable could be read.
// Processes that exit while being listed are skipped.
func (s *ProcSnapshotter) Snapshot() (*detect.Snapshot, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	snap := &detect.Snapshot{TakenAt: time.Now()}
	skipped := 0
	for _, p := range procs {
		exe, err := p.Executable()
		if err != nil || exe == "" {
			skipped++
			continue
		}
		ps := detect.ProcessSnapshot{PID: uint32(p.PID), ImagePath: exe}
		if stat, err := p.Stat(); err == nil && stat.PPID > 0 {
			ps.ParentPID = uint32(stat.PPID)
		}
		snap.Processes = append(snap.Processes, ps)
	}

	s.logger.Debugw("Process snapshot taken", "processes", len(snap.Processes), "skipped", skipped)
	return snap, nil
}

// Snapshotter produces the pre-trace state the engine is seeded with
type Snapshotter interface {
	Snapshot() (*detect.Snapshot, error)
}

// FileSnapshotter reads a snapshot recorded with LoadSnapshot's format
type FileSnapshotter struct {
	Path string
}

// Snapshot implements Snapshotter
func (f FileSnapshotter) Snapshot() (*detect.Snapshot, error) {
	return LoadSnapshot(f.Path)
}

// MergeSnapshots combines snapshots in order. A later process entry for the
// same pid replaces an earlier one; handles are concatenated. The earliest
// non-zero TakenAt wins.
func MergeSnapshots(snaps ...*detect.Snapshot) *detect.Snapshot {
	out := &detect.Snapshot{}
	index := make(map[uint32]int)
	for _, s := range snaps {
		if s == nil {
			continue
		}
		if !s.TakenAt.IsZero() && (out.TakenAt.IsZero() || s.TakenAt.Before(out.TakenAt)) {
			out.TakenAt = s.TakenAt
		}
		for _, p := range s.Processes {
			if i, ok := index[p.PID]; ok {
				out.Processes[i] = p
				continue
			}
			index[p.PID] = len(out.Processes)
			out.Processes = append(out.Processes, p)
		}
		out.Handles = append(out.Handles, s.Handles...)
	}
	return out
}
