package core

import (
	"strings"
)

// ProtectedRule names a sensitive location. Substring is matched
// case-insensitively against resolved paths; declaration order is priority.
type ProtectedRule struct {
	Name      string `json:"name" mapstructure:"name" yaml:"name"`
	Substring string `json:"substring" mapstructure:"substring" yaml:"substring"`
}

// Allowlist holds the trust allowlists. Entries are stored lower-cased.
type Allowlist struct {
	SignerSubjects []string `json:"signer_subject_allow" yaml:"signer_subject_allow"`
	ProcessNames   []string `json:"process_name_allow" yaml:"process_name_allow"`
}

// NewAllowlist lower-cases and trims both lists, dropping empty entries
func NewAllowlist(signers, names []string) Allowlist {
	return Allowlist{
		SignerSubjects: normalizeList(signers),
		ProcessNames:   normalizeList(names),
	}
}

// MatchProcessName reports whether the image path ends with an allowlisted name
func (a Allowlist) MatchProcessName(imagePath string) (string, bool) {
	lower := strings.ToLower(imagePath)
	if lower == "" {
		return "", false
	}
	for _, name := range a.ProcessNames {
		if strings.HasSuffix(lower, name) {
			return name, true
		}
	}
	return "", false
}

// MatchSigner reports whether subject contains an allowlisted fragment.
// An empty signer list accepts every subject.
func (a Allowlist) MatchSigner(subject string) bool {
	if len(a.SignerSubjects) == 0 {
		return true
	}
	lower := strings.ToLower(subject)
	if lower == "" {
		return false
	}
	for _, frag := range a.SignerSubjects {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
