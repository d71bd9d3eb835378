package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
)

var errSinkDown = errors.New("sink down")

func testAlert(pid uint32) *core.AlertRecord {
	return &core.AlertRecord{
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		PID:        pid,
		ImagePath:  `C:\Users\u\Downloads\evil.exe`,
		TargetPath: `C:\Users\u\AppData\Local\Google\Chrome\User Data\Default\Login Data`,
		RuleName:   "Chrome Passwords",
		EventID:    core.EventIDFileCreate,
		Kind:       core.AlertDirectUntrustedAccess,
		Note:       "untrusted process attempted access to protected resource",
		Operation:  core.OpCreate,
	}
}

// recordingSink captures writes and fails the first failFirst of them
type recordingSink struct {
	name      string
	failFirst int
	block     chan struct{}
	entered   chan struct{}

	mu     sync.Mutex
	calls  int
	alerts []*core.AlertRecord
	closed bool
}

func newRecordingSink(name string) *recordingSink {
	return &recordingSink{name: name}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(ctx context.Context, alert *core.AlertRecord) error {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errSinkDown
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() (calls int, alerts []*core.AlertRecord, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]*core.AlertRecord(nil), s.alerts...), s.closed
}
