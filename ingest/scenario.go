package ingest

import (
	"fmt"
	"os"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/detect"
	"gopkg.in/yaml.v3"
)

// ScenarioEvent is a raw event whose timestamp may be given as an offset
// from the scenario start
type ScenarioEvent struct {
	core.RawEvent `yaml:",inline"`
	OffsetMS      int64 `yaml:"offset_ms"`
}

// ExpectedAlert describes an alert a scenario must produce
type ExpectedAlert struct {
	PID  uint32         `yaml:"pid"`
	Rule string         `yaml:"rule"`
	Kind core.AlertKind `yaml:"kind"`
}

// Matches reports whether alert satisfies the expectation. Zero fields
// match anything.
func (e ExpectedAlert) Matches(alert *core.AlertRecord) bool {
	if e.PID != 0 && e.PID != alert.PID {
		return false
	}
	if e.Rule != "" && e.Rule != alert.RuleName {
		return false
	}
	if e.Kind != "" && e.Kind != alert.Kind {
		return false
	}
	return true
}

// Scenario is a recorded or hand-written event trace with everything needed
// to replay it deterministically: signature results, pre-trace state, and
// optionally rules and expected alerts.
type Scenario struct {
	Name       string                            `yaml:"name"`
	Start      time.Time                         `yaml:"start"`
	Rules      []config.RuleConfig               `yaml:"rules"`
	Allowlist  *config.AllowlistConfig           `yaml:"allowlist"`
	SuppressMS *int64                            `yaml:"suppress_ms"`
	Signatures map[string]detect.SignatureResult `yaml:"signatures"`
	Snapshot   *detect.Snapshot                  `yaml:"snapshot"`
	Events     []ScenarioEvent                   `yaml:"events"`
	Expect     []ExpectedAlert                   `yaml:"expect"`
}

// LoadScenario reads a YAML scenario file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(sc.Events) == 0 {
		return nil, fmt.Errorf("scenario %q has no events", sc.Name)
	}
	for i, r := range sc.Rules {
		if r.Name == "" || r.Substring == "" {
			return nil, fmt.Errorf("scenario rule %d needs a name and a substring", i)
		}
	}
	if sc.Start.IsZero() {
		sc.Start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &sc, nil
}

// RawEvents returns the events with offsets resolved against Start and
// sequence numbers assigned in file order where missing
func (s *Scenario) RawEvents() []core.RawEvent {
	out := make([]core.RawEvent, len(s.Events))
	for i, ev := range s.Events {
		raw := ev.RawEvent
		if raw.Timestamp.IsZero() {
			raw.Timestamp = s.Start.Add(time.Duration(ev.OffsetMS) * time.Millisecond)
		}
		if raw.Sequence == 0 {
			raw.Sequence = uint64(i + 1)
		}
		out[i] = raw
	}
	return out
}

// Apply overlays the scenario's rules, allowlist and suppression window on
// a copy of cfg
func (s *Scenario) Apply(cfg *config.Config) *config.Config {
	out := *cfg
	if len(s.Rules) > 0 {
		out.Watch.Protected = append([]config.RuleConfig(nil), s.Rules...)
		out.Watch.ProtectedSubstrings = nil
	}
	if s.Allowlist != nil {
		out.Allowlist = *s.Allowlist
	}
	if s.SuppressMS != nil {
		out.General.SuppressMS = *s.SuppressMS
	}
	out.Normalize()
	return &out
}

// Verifier returns a verifier answering from the scenario's signature table
func (s *Scenario) Verifier() *detect.StaticVerifier {
	return detect.NewStaticVerifier(s.Signatures)
}

// Check compares produced alerts with the expectations in order. It
// returns one message per mismatch.
func (s *Scenario) Check(alerts []*core.AlertRecord) []string {
	if len(s.Expect) == 0 {
		return nil
	}
	var problems []string
	if len(alerts) != len(s.Expect) {
		problems = append(problems, fmt.Sprintf("expected %d alerts, got %d", len(s.Expect), len(alerts)))
	}
	for i, want := range s.Expect {
		if i >= len(alerts) {
			break
		}
		if !want.Matches(alerts[i]) {
			problems = append(problems, fmt.Sprintf("alert %d: expected pid=%d rule=%q kind=%s, got pid=%d rule=%q kind=%s",
				i, want.PID, want.Rule, want.Kind, alerts[i].PID, alerts[i].RuleName, alerts[i].Kind))
		}
	}
	return problems
}

// LoadSignatureTable reads a YAML (or JSON) map of image path to signature
// result
func LoadSignatureTable(path string) (map[string]detect.SignatureResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature table %s: %w", path, err)
	}
	table := make(map[string]detect.SignatureResult)
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse signature table %s: %w", path, err)
	}
	return table, nil
}

// LoadSnapshot reads a YAML (or JSON) pre-trace snapshot
func LoadSnapshot(path string) (*detect.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	var snap detect.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}
