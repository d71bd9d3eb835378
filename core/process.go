package core

import (
	"path/filepath"
	"strings"
	"time"
)

// TrustVerdict is the trust classification of a process
type TrustVerdict uint8

const (
	// VerdictUnverified means trust has not been evaluated yet
	VerdictUnverified TrustVerdict = iota
	// VerdictTrusted is terminal for the lifetime of the record
	VerdictTrusted
	// VerdictUntrusted is terminal for the lifetime of the record
	VerdictUntrusted
)

func (v TrustVerdict) String() string {
	switch v {
	case VerdictTrusted:
		return "trusted"
	case VerdictUntrusted:
		return "untrusted"
	default:
		return "unverified"
	}
}

// MarshalText implements encoding.TextMarshaler
func (v TrustVerdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// KernelImage is the image name reported for the idle and system processes
const KernelImage = "SYSTEM"

// IsKernelPID reports whether pid belongs to the idle (0) or system (4) process
func IsKernelPID(pid uint32) bool {
	return pid == 0 || pid == 4
}

// ProcessRecord is the engine's view of one live (or recently exited) process
type ProcessRecord struct {
	PID           uint32       `json:"pid"`
	ParentPID     uint32       `json:"parent_pid,omitempty"`
	ImagePath     string       `json:"image_path"`
	Verdict       TrustVerdict `json:"verdict"`
	SignerSubject string       `json:"signer_subject,omitempty"`
	TrustReason   string       `json:"trust_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ExitedAt      *time.Time   `json:"exited_at,omitempty"`
	Synthesized   bool         `json:"synthesized,omitempty"`
}

// IsTrusted is shorthand for Verdict == VerdictTrusted
func (p *ProcessRecord) IsTrusted() bool {
	return p != nil && p.Verdict == VerdictTrusted
}

// IsUntrusted is shorthand for Verdict == VerdictUntrusted
func (p *ProcessRecord) IsUntrusted() bool {
	return p != nil && p.Verdict == VerdictUntrusted
}

// Exited reports whether a stop event was seen for this process
func (p *ProcessRecord) Exited() bool {
	return p.ExitedAt != nil
}

// SetVerdict records a terminal verdict. Once Trusted or Untrusted the
// record never changes again; later calls are ignored.
func (p *ProcessRecord) SetVerdict(v TrustVerdict, signer, reason string) bool {
	if p.Verdict != VerdictUnverified || v == VerdictUnverified {
		return false
	}
	p.Verdict = v
	p.SignerSubject = signer
	p.TrustReason = reason
	return true
}

// ImageBase returns the executable file name of the image path
func (p *ProcessRecord) ImageBase() string {
	return ImageBaseName(p.ImagePath)
}

// ImageBaseName returns the last path element, treating both slash styles as
// separators so Windows paths work on any host.
func ImageBaseName(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return filepath.Base(path)
}
