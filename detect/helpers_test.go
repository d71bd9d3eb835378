package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	chromeImage   = `C:\Program Files\Google\Chrome\Application\chrome.exe`
	explorerImage = `C:\Windows\explorer.exe`
	evilImage     = `C:\Users\u\Downloads\evil.exe`
	loginData     = `C:\Users\u\AppData\Local\Google\Chrome\User Data\Default\Login Data`
	cookiesPath   = `C:\Users\u\AppData\Local\Google\Chrome\User Data\Default\Network\Cookies`
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []*core.AlertRecord
}

func (r *alertRecorder) handle(a *core.AlertRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) all() []*core.AlertRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*core.AlertRecord, len(r.alerts))
	copy(out, r.alerts)
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Watch.Protected = []config.RuleConfig{
		{Name: "Chrome Passwords", Substring: `\google\chrome\user data\default\login data`},
		{Name: "Chrome Cookies", Substring: `\google\chrome\user data\default\network\cookies`},
		{Name: "Token Store", Substring: "leveldb"},
	}
	cfg.Allowlist.SignerSubjectAllow = []string{"google llc"}
	cfg.Allowlist.ProcessNameAllow = []string{`\explorer.exe`}
	cfg.General.SuppressMS = 1500
	cfg.Engine.ProcessExitGrace = time.Second
	return cfg
}

func testVerifier() *StaticVerifier {
	return NewStaticVerifier(map[string]SignatureResult{
		chromeImage: {Signed: true, Trusted: true, Subject: "CN=Google LLC, O=Google LLC"},
	})
}

func newTestEngine(t *testing.T, cfg *config.Config, verifier SignatureVerifier) (*Engine, *alertRecorder) {
	t.Helper()
	rec := &alertRecorder{}
	engine, err := NewEngine(cfg, verifier, nil, rec.handle, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return engine, rec
}

// feed normalizes raw events and hands them to the engine in order
func feed(t *testing.T, engine *Engine, events ...core.RawEvent) {
	t.Helper()
	for i, raw := range events {
		if raw.Sequence == 0 {
			raw.Sequence = uint64(i + 1)
		}
		ev, err := raw.Normalize()
		require.NoError(t, err)
		engine.Handle(context.Background(), ev)
	}
}

func procStart(ms int, pid uint32, image string) core.RawEvent {
	return core.RawEvent{Kind: core.KindProcessStart, Timestamp: at(ms), PID: pid, ImagePath: image}
}

func procStop(ms int, pid uint32) core.RawEvent {
	return core.RawEvent{Kind: core.KindProcessStop, Timestamp: at(ms), PID: pid}
}

func fileCreate(ms int, pid uint32, obj uint64, path string) core.RawEvent {
	return core.RawEvent{Kind: core.KindFileCreate, Timestamp: at(ms), PID: pid, FileObject: obj, Path: path}
}

func fileRead(ms int, pid uint32, obj uint64) core.RawEvent {
	return core.RawEvent{Kind: core.KindFileRead, Timestamp: at(ms), PID: pid, FileObject: obj}
}

func fileName(ms int, obj uint64, path string) core.RawEvent {
	return core.RawEvent{Kind: core.KindFileName, Timestamp: at(ms), FileObject: obj, Path: path}
}

func fileClose(ms int, pid uint32, obj uint64) core.RawEvent {
	return core.RawEvent{Kind: core.KindFileClose, Timestamp: at(ms), PID: pid, FileObject: obj}
}
