package detect

import (
	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// ProcImageResolver resolves process images through procfs. On hosts
// without a /proc mount every lookup misses.
type ProcImageResolver struct {
	fs     procfs.FS
	ok     bool
	logger *zap.SugaredLogger
}

// NewProcImageResolver opens the default procfs mount
func NewProcImageResolver(logger *zap.SugaredLogger) *ProcImageResolver {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logger.Debugw("procfs unavailable, image resolution disabled", "error", err)
		return &ProcImageResolver{logger: logger}
	}
	return &ProcImageResolver{fs: fs, ok: true, logger: logger}
}

// ResolveImage implements ImageResolver
func (r *ProcImageResolver) ResolveImage(pid uint32) (string, bool) {
	if !r.ok {
		return "", false
	}
	proc, err := r.fs.Proc(int(pid))
	if err != nil {
		return "", false
	}
	exe, err := proc.Executable()
	if err != nil || exe == "" {
		return "", false
	}
	return exe, true
}

// StaticImageResolver answers from a fixed pid table
type StaticImageResolver map[uint32]string

// ResolveImage implements ImageResolver
func (r StaticImageResolver) ResolveImage(pid uint32) (string, bool) {
	image, ok := r[pid]
	return image, ok
}
